package interfaces

import (
	"context"

	"trade-maestro/internal/types"
)

type Engine interface {
	Warmup(ctx context.Context) error
	Step(ctx context.Context) (*types.StepResult, error)
	Snapshot() types.Snapshot
}
