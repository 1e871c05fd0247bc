package performance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"trade-maestro/internal/backoff"
	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/logger"
	"trade-maestro/internal/types"
)

var (
	ErrQueueFull  = errors.New("performance: sink queue full")
	ErrSinkClosed = errors.New("performance: sink closed")
)

// AsyncSink decouples a slow RecordSink from the tick loop. Records are
// queued and written by one worker, retried with backoff until the policy
// gives up. Write never blocks.
type AsyncSink struct {
	next  interfaces.RecordSink
	retry backoff.Backoff
	queue chan types.PerformanceRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	written atomic.Int64
	dropped atomic.Int64
}

var _ interfaces.RecordSink = (*AsyncSink)(nil)

func NewAsyncSink(next interfaces.RecordSink, size int, retry backoff.Backoff) *AsyncSink {
	if size <= 0 {
		size = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &AsyncSink{
		next:   next,
		retry:  retry,
		queue:  make(chan types.PerformanceRecord, size),
		ctx:    ctx,
		cancel: cancel,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncSink) Name() string { return "async:" + a.next.Name() }

func (a *AsyncSink) Write(ctx context.Context, rec types.PerformanceRecord) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrSinkClosed
	}
	select {
	case a.queue <- rec:
		return nil
	default:
		a.dropped.Add(1)
		return ErrQueueFull
	}
}

// Close stops accepting records and waits for the queue to drain. When ctx
// ends first, pending retries are abandoned.
func (a *AsyncSink) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.cancel()
		return nil
	case <-ctx.Done():
		a.cancel()
		<-done
		return ctx.Err()
	}
}

// Written and Dropped count delivered and abandoned records.
func (a *AsyncSink) Written() int64 { return a.written.Load() }
func (a *AsyncSink) Dropped() int64 { return a.dropped.Load() }

func (a *AsyncSink) loop() {
	defer a.wg.Done()
	for rec := range a.queue {
		a.deliver(rec)
	}
}

func (a *AsyncSink) deliver(rec types.PerformanceRecord) {
	for attempt := 1; ; attempt++ {
		err := a.next.Write(a.ctx, rec)
		if err == nil {
			a.written.Add(1)
			return
		}
		if a.retry.Exhausted(attempt) || a.ctx.Err() != nil {
			a.dropped.Add(1)
			logger.ErrorWithErr(a.ctx, "Giving up on performance record", err,
				"sink", a.next.Name(), "order_id", rec.OrderID, "attempts", attempt)
			return
		}
		logger.Warn(a.ctx, "Performance sink write failed, retrying",
			"sink", a.next.Name(), "order_id", rec.OrderID, "attempt", attempt, "error", err.Error())
		if backoff.Sleep(a.ctx, a.retry.Next(attempt)) != nil {
			a.dropped.Add(1)
			return
		}
	}
}
