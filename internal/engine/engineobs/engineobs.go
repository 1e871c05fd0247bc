package engineobs

import (
	"context"
	"time"

	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/logger"
	"trade-maestro/internal/trace"
	"trade-maestro/internal/types"
)

type observableEngine struct {
	engine interfaces.Engine
}

var _ interfaces.Engine = (*observableEngine)(nil)

func Wrap(eng interfaces.Engine) interfaces.Engine {
	return &observableEngine{
		engine: eng,
	}
}

func (oe *observableEngine) Warmup(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "engine.Warmup")
	defer span.End()

	start := time.Now()
	logger.InfoSkip(ctx, 1, "Warming up strategies from history")

	if err := oe.engine.Warmup(ctx); err != nil {
		trace.RecordError(ctx, err)
		logger.ErrorWithErrSkip(ctx, 1, "Warmup failed", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return err
	}

	logger.InfoSkip(ctx, 1, "Warmup finished", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (oe *observableEngine) Step(ctx context.Context) (*types.StepResult, error) {
	ctx, span := trace.StartSpan(ctx, "engine.Step")
	defer span.End()

	start := time.Now()

	result, err := oe.engine.Step(ctx)
	if err != nil {
		trace.RecordError(ctx, err)
		logger.ErrorWithErrSkip(ctx, 1, "Tick skipped", err,
			"retryable", types.IsRetryable(err),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Tick completed",
		"quotes", len(result.Quotes),
		"intents", len(result.Intents),
		"opened", len(result.Opened),
		"rejected", len(result.Rejected),
		"closed", len(result.Closed),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if len(result.Opened) > 0 || len(result.Closed) > 0 {
		trace.AddEvent(ctx, "orders.changed", trace.Attributes(
			"opened", len(result.Opened),
			"closed", len(result.Closed),
		)...)
	}

	return result, nil
}

func (oe *observableEngine) Snapshot() types.Snapshot {
	return oe.engine.Snapshot()
}
