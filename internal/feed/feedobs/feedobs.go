package feedobs

import (
	"context"
	"fmt"
	"iter"
	"time"

	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/logger"
	"trade-maestro/internal/trace"
	"trade-maestro/internal/types"
)

// observableFeed wraps a PriceFeed with logging and tracing
type observableFeed struct {
	feed interfaces.PriceFeed
}

var _ interfaces.PriceFeed = (*observableFeed)(nil)

func Wrap(feed interfaces.PriceFeed) interfaces.PriceFeed {
	return &observableFeed{
		feed: feed,
	}
}

func (of *observableFeed) Name() string { return of.feed.Name() }

func (of *observableFeed) Connect(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "feed.Connect")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Connecting price feed", "feed", of.feed.Name())

	if err := of.feed.Connect(ctx); err != nil {
		trace.RecordError(ctx, err)
		logger.ErrorWithErrSkip(ctx, 1, "Price feed connect failed", err,
			"feed", of.feed.Name(),
			"retryable", types.IsRetryable(err),
		)
		return fmt.Errorf("feed connect failed: %w", err)
	}

	logger.InfoSkip(ctx, 1, "Price feed connected", "feed", of.feed.Name(), "symbols", of.feed.Symbols())
	return nil
}

func (of *observableFeed) Disconnect(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "feed.Disconnect")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Disconnecting price feed", "feed", of.feed.Name())
	err := of.feed.Disconnect(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Price feed disconnect failed", err, "feed", of.feed.Name())
	}
	return err
}

func (of *observableFeed) Quote(ctx context.Context, symbol string) (types.Quote, error) {
	ctx, span := trace.StartSpan(ctx, "feed.Quote")
	defer span.End()

	q, err := of.feed.Quote(ctx, symbol)
	if err != nil {
		trace.RecordError(ctx, err)
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch quote", err, "feed", of.feed.Name(), "symbol", symbol)
		return types.Quote{}, err
	}

	logger.DebugSkip(ctx, 1, "Quote fetched", "symbol", symbol, "bid", q.Bid, "ask", q.Ask)
	return q, nil
}

func (of *observableFeed) History(ctx context.Context, symbol string, r types.TimeRange, granularity time.Duration) (iter.Seq2[types.Quote, error], error) {
	ctx, span := trace.StartSpan(ctx, "feed.History")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Preparing history",
		"symbol", symbol,
		"from", r.From,
		"to", r.To,
		"granularity", granularity,
	)

	seq, err := of.feed.History(ctx, symbol, r, granularity)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to prepare history", err, "symbol", symbol)
		return nil, err
	}
	return seq, nil
}

func (of *observableFeed) Health(ctx context.Context) types.FeedHealth {
	return of.feed.Health(ctx)
}

func (of *observableFeed) Symbols() []string { return of.feed.Symbols() }
