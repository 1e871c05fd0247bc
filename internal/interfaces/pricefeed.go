package interfaces

import (
	"context"
	"iter"
	"time"

	"trade-maestro/internal/types"
)

// PriceFeed supplies current and historical quotes. Live and simulated
// variants share this contract; only live variants return ConnectionError.
type PriceFeed interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Quote(ctx context.Context, symbol string) (types.Quote, error)
	// History returns a lazy, finite sequence over r. Ranging over the
	// returned sequence again replays it from the start.
	History(ctx context.Context, symbol string, r types.TimeRange, granularity time.Duration) (iter.Seq2[types.Quote, error], error)
	Health(ctx context.Context) types.FeedHealth
	Symbols() []string
}
