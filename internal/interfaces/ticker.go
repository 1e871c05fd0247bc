package interfaces

import (
	"context"

	"trade-maestro/internal/types"
)

// TickerManager streams quotes for subscribed symbols into a local cache.
type TickerManager interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	Subscribe(ctx context.Context, symbols []string) error
	Latest(symbol string) (types.Quote, bool)
	Connected() bool
}
