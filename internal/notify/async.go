package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/logger"
	"trade-maestro/internal/types"
)

var ErrClosed = errors.New("notify: notifier closed")

type alert struct {
	order  types.Order
	intent types.OrderIntent
	reason string
	reject bool
}

// Async queues alerts for one worker that delivers them to next, so callers
// on the tick loop never wait on the network. Alerts arriving while the
// queue is full are dropped.
type Async struct {
	next  interfaces.Notifier
	queue chan alert

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	sent    atomic.Int64
	dropped atomic.Int64
}

var _ interfaces.Notifier = (*Async)(nil)

func NewAsync(next interfaces.Notifier, size int) *Async {
	if size <= 0 {
		size = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Async{
		next:   next,
		queue:  make(chan alert, size),
		ctx:    ctx,
		cancel: cancel,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *Async) NotifyClose(ctx context.Context, o types.Order) error {
	return a.enqueue(ctx, alert{order: o})
}

func (a *Async) NotifyRejection(ctx context.Context, intent types.OrderIntent, reason string) error {
	return a.enqueue(ctx, alert{intent: intent, reason: reason, reject: true})
}

func (a *Async) enqueue(ctx context.Context, al alert) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- al:
		return nil
	default:
		if a.dropped.Add(1)%50 == 1 {
			logger.Warn(ctx, "Notification queue full, dropping alerts", "dropped", a.dropped.Load())
		}
		return nil
	}
}

// Close stops accepting alerts and waits for queued ones until ctx ends.
func (a *Async) Close(ctx context.Context) error {
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

func (a *Async) Sent() int64    { return a.sent.Load() }
func (a *Async) Dropped() int64 { return a.dropped.Load() }

func (a *Async) loop() {
	defer a.wg.Done()
	for al := range a.queue {
		if a.ctx.Err() != nil {
			a.dropped.Add(1)
			continue
		}
		var err error
		if al.reject {
			err = a.next.NotifyRejection(a.ctx, al.intent, al.reason)
		} else {
			err = a.next.NotifyClose(a.ctx, al.order)
		}
		if err != nil {
			logger.ErrorWithErr(a.ctx, "Notification failed", err,
				"order_id", al.order.ID, "strategy_id", al.intent.StrategyID)
			continue
		}
		a.sent.Add(1)
	}
}
