package interfaces

import (
	"context"

	"trade-maestro/internal/types"
)

// RecordSink persists performance records. Failures never affect order state.
type RecordSink interface {
	Name() string
	Write(ctx context.Context, rec types.PerformanceRecord) error
}

// SnapshotSink stores account and order snapshots as documents.
type SnapshotSink interface {
	SaveSnapshot(ctx context.Context, snap types.Snapshot) error
}

// Notifier delivers human-readable alerts about order activity.
type Notifier interface {
	NotifyClose(ctx context.Context, o types.Order) error
	NotifyRejection(ctx context.Context, intent types.OrderIntent, reason string) error
}
