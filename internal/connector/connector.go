// Package connector is the facade external callers use to drive the engine:
// it owns the tick loop, the feed's connection lifecycle and the snapshot
// stream.
package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"trade-maestro/internal/backoff"
	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/logger"
	"trade-maestro/internal/types"
)

// ErrGaveUp is returned by Run once reconnection is exhausted or the feed
// reports a non-retryable failure. Health is terminal afterwards.
var ErrGaveUp = errors.New("connector gave up reconnecting")

type Config struct {
	TickInterval   time.Duration
	CallTimeout    time.Duration
	Backoff        backoff.Backoff
	SnapshotBuffer int
	// SnapshotEvery saves every n-th snapshot to the snapshot sink.
	SnapshotEvery int
}

type Connector struct {
	cfg    Config
	engine interfaces.Engine
	feed   interfaces.PriceFeed

	mu       sync.Mutex
	health   types.Health
	warmed   bool
	ticks    int
	sink     interfaces.SnapshotSink
	onStep   func(context.Context, *types.StepResult)
	dropped  int
	snapshot chan types.Snapshot
	pubMu    sync.Mutex
}

func New(cfg Config, eng interfaces.Engine, feed interfaces.PriceFeed) *Connector {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	if cfg.SnapshotBuffer <= 0 {
		cfg.SnapshotBuffer = 16
	}
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = 10
	}
	if cfg.Backoff.MaxAttempts < 1 {
		cfg.Backoff.MaxAttempts = backoff.Default().MaxAttempts
	}
	return &Connector{
		cfg:      cfg,
		engine:   eng,
		feed:     feed,
		health:   types.Health{State: types.FeedDisconnected},
		snapshot: make(chan types.Snapshot, cfg.SnapshotBuffer),
	}
}

// SetSnapshotSink stores every SnapshotEvery-th published snapshot in s.
func (c *Connector) SetSnapshotSink(s interfaces.SnapshotSink) {
	c.mu.Lock()
	c.sink = s
	c.mu.Unlock()
}

// OnStep registers fn to run after every successful tick.
func (c *Connector) OnStep(fn func(context.Context, *types.StepResult)) {
	c.mu.Lock()
	c.onStep = fn
	c.mu.Unlock()
}

// Snapshots is the stream of per-tick snapshots. When the consumer falls
// behind the oldest buffered snapshot is discarded.
func (c *Connector) Snapshots() <-chan types.Snapshot { return c.snapshot }

// Dropped counts snapshots discarded because the buffer was full.
func (c *Connector) Dropped() int {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	return c.dropped
}

// Connect opens the feed and, the first time it succeeds, warms the engine.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.health.Terminal {
		c.mu.Unlock()
		return ErrGaveUp
	}
	c.mu.Unlock()

	if err := c.connectFeed(ctx); err != nil {
		c.markDisconnected(err)
		return err
	}
	c.markConnected()

	c.mu.Lock()
	warmed := c.warmed
	c.mu.Unlock()
	if warmed {
		return nil
	}
	if err := c.engine.Warmup(ctx); err != nil {
		return fmt.Errorf("warmup: %w", err)
	}
	c.mu.Lock()
	c.warmed = true
	c.mu.Unlock()
	return nil
}

// Disconnect closes the feed. The connector can be connected again later.
func (c *Connector) Disconnect(ctx context.Context) error {
	err := c.feed.Disconnect(ctx)
	c.mu.Lock()
	c.health.State = types.FeedDisconnected
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("disconnect %s: %w", c.feed.Name(), err)
	}
	logger.Info(ctx, "Feed disconnected", "feed", c.feed.Name())
	return nil
}

func (c *Connector) Health() types.Health {
	c.mu.Lock()
	h := c.health
	c.mu.Unlock()
	h.Feed = c.feed.Health(context.Background())
	return h
}

// TickOnce runs a single engine step. A connection failure or deadline
// leaves the connector disconnected and is returned unchanged.
func (c *Connector) TickOnce(ctx context.Context) (*types.StepResult, error) {
	c.mu.Lock()
	h := c.health
	c.mu.Unlock()
	if h.Terminal {
		return nil, ErrGaveUp
	}
	if h.State != types.FeedConnected {
		return nil, types.NewConnectionError("tick", errors.New("feed not connected"), true)
	}

	tctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	res, err := c.engine.Step(tctx)
	if err != nil {
		if isConnectionFailure(err) {
			c.markDisconnected(err)
			logger.Warn(ctx, "Tick skipped", "error", err.Error(), "retryable", types.IsRetryable(err))
		}
		return nil, err
	}

	snap := c.engine.Snapshot()
	c.publish(snap)

	c.mu.Lock()
	c.ticks++
	save := c.sink != nil && c.ticks%c.cfg.SnapshotEvery == 0
	sink := c.sink
	onStep := c.onStep
	c.mu.Unlock()
	if onStep != nil {
		onStep(ctx, res)
	}
	if save {
		if err := sink.SaveSnapshot(ctx, snap); err != nil {
			logger.ErrorWithErr(ctx, "Failed to save snapshot", err)
		}
	}
	return res, nil
}

// Run ticks every TickInterval until ctx is done or reconnection gives up.
func (c *Connector) Run(ctx context.Context) error {
	if c.Health().State != types.FeedConnected {
		if err := c.Connect(ctx); err != nil && !errors.Is(err, ErrGaveUp) {
			if err := c.reconnect(ctx, err); err != nil {
				return err
			}
		}
	}

	tick := time.NewTicker(c.cfg.TickInterval)
	defer tick.Stop()

	logger.Info(ctx, "Tick loop started", "interval", c.cfg.TickInterval, "feed", c.feed.Name())
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Tick loop stopped")
			return ctx.Err()
		case <-tick.C:
		}

		_, err := c.TickOnce(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrGaveUp):
			return err
		case isConnectionFailure(err):
			if err := c.reconnect(ctx, err); err != nil {
				return err
			}
		default:
			logger.ErrorWithErr(ctx, "Tick failed", err)
		}
	}
}

// reconnect retries Connect with bounded exponential backoff. cause is the
// failure that triggered it.
func (c *Connector) reconnect(ctx context.Context, cause error) error {
	if !types.IsRetryable(cause) {
		return c.giveUp(ctx, cause)
	}
	for attempt := 1; ; attempt++ {
		if c.cfg.Backoff.Exhausted(attempt) {
			return c.giveUp(ctx, cause)
		}
		wait := c.cfg.Backoff.Next(attempt)
		c.mu.Lock()
		c.health.Attempts = attempt
		c.mu.Unlock()
		logger.Warn(ctx, "Reconnecting", "attempt", attempt, "wait", wait, "cause", cause.Error())

		if err := backoff.Sleep(ctx, wait); err != nil {
			return err
		}
		err := c.Connect(ctx)
		if err == nil {
			logger.Info(ctx, "Reconnected", "attempt", attempt, "feed", c.feed.Name())
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		cause = err
		if !types.IsRetryable(err) {
			return c.giveUp(ctx, err)
		}
	}
}

func (c *Connector) giveUp(ctx context.Context, cause error) error {
	c.mu.Lock()
	c.health.State = types.FeedDisconnected
	c.health.Terminal = true
	c.health.LastError = cause.Error()
	attempts := c.health.Attempts
	c.mu.Unlock()
	logger.ErrorWithErr(ctx, "Giving up on feed", cause, "attempts", attempts, "feed", c.feed.Name())
	return fmt.Errorf("%w after %d attempts: %w", ErrGaveUp, attempts, cause)
}

func (c *Connector) connectFeed(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	err := c.feed.Connect(cctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		var ce *types.ConnectionError
		if !errors.As(err, &ce) {
			err = types.NewConnectionError("connect", err, true)
		}
	}
	return err
}

func (c *Connector) markConnected() {
	c.mu.Lock()
	c.health.State = types.FeedConnected
	c.health.Attempts = 0
	c.health.LastError = ""
	c.mu.Unlock()
}

func (c *Connector) markDisconnected(err error) {
	c.mu.Lock()
	c.health.State = types.FeedDisconnected
	c.health.LastError = err.Error()
	c.mu.Unlock()
}

func (c *Connector) publish(s types.Snapshot) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	for {
		select {
		case c.snapshot <- s:
			return
		default:
		}
		select {
		case <-c.snapshot:
			c.dropped++
		default:
		}
	}
}

func isConnectionFailure(err error) bool {
	var ce *types.ConnectionError
	return errors.As(err, &ce) || errors.Is(err, context.DeadlineExceeded)
}
