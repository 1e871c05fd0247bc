// Package engine is the explicit context object that wires the price feed,
// strategies, risk-gated order manager and performance tracker into one tick.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/logger"
	"trade-maestro/internal/order"
	"trade-maestro/internal/performance"
	"trade-maestro/internal/strategy"
	"trade-maestro/internal/types"
)

type Config struct {
	Symbols     []string
	CallTimeout time.Duration
	// Lookback and Granularity drive the history used to warm indicators.
	Lookback    time.Duration
	Granularity time.Duration
	// Now is the end of the warmup range. Simulated feeds pass their start
	// time so history and live quotes line up.
	Now func() time.Time
	// MinWindow keeps at least this many quotes per symbol even when no
	// strategy asks for that many.
	MinWindow int
}

type Engine struct {
	cfg        Config
	feed       interfaces.PriceFeed
	orders     *order.Manager
	strategies *strategy.Manager
	tracker    *performance.Tracker
	notifier   interfaces.Notifier

	mu       sync.Mutex
	windows  map[string][]types.Quote
	lastStep time.Time
}

var _ interfaces.Engine = (*Engine)(nil)

func New(cfg Config, feed interfaces.PriceFeed, orders *order.Manager, strategies *strategy.Manager, tracker *performance.Tracker) *Engine {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	if cfg.Granularity <= 0 {
		cfg.Granularity = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = feed.Symbols()
	}
	e := &Engine{
		cfg:        cfg,
		feed:       feed,
		orders:     orders,
		strategies: strategies,
		tracker:    tracker,
		windows:    make(map[string][]types.Quote),
	}
	orders.OnClose(e.onClose)
	return e
}

// SetNotifier registers n for close and rejection alerts.
func (e *Engine) SetNotifier(n interfaces.Notifier) {
	e.mu.Lock()
	e.notifier = n
	e.mu.Unlock()
}

func (e *Engine) Feed() interfaces.PriceFeed    { return e.feed }
func (e *Engine) Orders() *order.Manager        { return e.orders }
func (e *Engine) Strategies() *strategy.Manager { return e.strategies }
func (e *Engine) Tracker() *performance.Tracker { return e.tracker }

// Warmup fills the quote windows from history and primes strategy
// indicators with it. Intents produced while priming are discarded.
func (e *Engine) Warmup(ctx context.Context) error {
	if e.cfg.Lookback <= 0 {
		return nil
	}
	end := e.cfg.Now()
	r := types.TimeRange{From: end.Add(-e.cfg.Lookback), To: end}

	loaded := make(map[string][]types.Quote, len(e.cfg.Symbols))
	for _, sym := range e.cfg.Symbols {
		seq, err := e.feed.History(ctx, sym, r, e.cfg.Granularity)
		if err != nil {
			return fmt.Errorf("warmup %s: %w", sym, err)
		}
		for q, err := range seq {
			if err != nil {
				return fmt.Errorf("warmup %s: %w", sym, err)
			}
			loaded[sym] = append(loaded[sym], q)
		}
	}

	e.mu.Lock()
	for sym, qs := range loaded {
		e.windows[sym] = e.trim(append(e.windows[sym], qs...))
	}
	windows := e.copyWindows()
	e.mu.Unlock()

	primed := e.strategies.EvaluateAll(ctx, windows)
	logger.Info(ctx, "Warmup complete",
		"symbols", len(loaded),
		"from", r.From,
		"to", r.To,
		"discarded_intents", len(primed),
	)
	return nil
}

// Step runs one tick. A feed failure skips the tick before any state is
// touched and is returned to the caller.
func (e *Engine) Step(ctx context.Context) (*types.StepResult, error) {
	quotes, err := e.snapshotQuotes(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	var latest time.Time
	for sym, q := range quotes {
		e.windows[sym] = e.trim(append(e.windows[sym], q))
		if q.Time.After(latest) {
			latest = q.Time
		}
	}
	e.lastStep = latest
	windows := e.copyWindows()
	notifier := e.notifier
	e.mu.Unlock()

	res := &types.StepResult{Time: latest, Quotes: quotes}
	res.Intents = e.strategies.EvaluateAll(ctx, windows)

	for _, r := range e.orders.SubmitBatch(ctx, res.Intents, quotes) {
		if r.Err != nil {
			res.Rejected = append(res.Rejected, types.RejectedIntent{Intent: r.Intent, Reason: r.Err.Error()})
			if notifier != nil {
				if err := notifier.NotifyRejection(ctx, r.Intent, r.Err.Error()); err != nil {
					logger.ErrorWithErr(ctx, "Rejection notification failed", err, "strategy_id", r.Intent.StrategyID)
				}
			}
			continue
		}
		res.Opened = append(res.Opened, r.Order)
	}

	res.Closed = e.orders.Tick(ctx, quotes)
	return res, nil
}

// Snapshot is a self-contained copy of the current account, orders and
// metrics.
func (e *Engine) Snapshot() types.Snapshot {
	e.mu.Lock()
	at := e.lastStep
	e.mu.Unlock()

	ctx := context.Background()
	feedHealth := e.feed.Health(ctx)
	return types.Snapshot{
		Time:        at,
		Account:     e.orders.Account(),
		OpenOrders:  e.orders.OpenOrders(),
		Metrics:     e.tracker.Metrics(""),
		PerStrategy: e.tracker.PerStrategy(),
		Health:      types.Health{State: feedHealth.State, Feed: feedHealth},
	}
}

// Window returns a copy of the quotes held for symbol.
func (e *Engine) Window(symbol string) []types.Quote {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]types.Quote(nil), e.windows[symbol]...)
}

func (e *Engine) snapshotQuotes(ctx context.Context) (map[string]types.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	symbols := append([]string(nil), e.cfg.Symbols...)
	sort.Strings(symbols)
	quotes := make(map[string]types.Quote, len(symbols))
	for _, sym := range symbols {
		q, err := e.feed.Quote(ctx, sym)
		if err != nil {
			var nf *types.NotFoundError
			if errors.As(err, &nf) {
				logger.Warn(ctx, "Skipping symbol without quotes", "symbol", sym)
				continue
			}
			if errors.Is(err, context.DeadlineExceeded) {
				var ce *types.ConnectionError
				if !errors.As(err, &ce) {
					err = types.NewConnectionError("quote", err, true)
				}
			}
			return nil, fmt.Errorf("quote snapshot: %w", err)
		}
		quotes[sym] = q
	}
	return quotes, nil
}

func (e *Engine) onClose(ctx context.Context, o types.Order) {
	if err := e.tracker.Record(ctx, o); err != nil {
		logger.ErrorWithErr(ctx, "Failed to record closed order", err, "order_id", o.ID)
	}
	e.mu.Lock()
	n := e.notifier
	e.mu.Unlock()
	if n != nil {
		if err := n.NotifyClose(ctx, o); err != nil {
			logger.ErrorWithErr(ctx, "Close notification failed", err, "order_id", o.ID)
		}
	}
}

func (e *Engine) trim(w []types.Quote) []types.Quote {
	n := max(e.strategies.Lookback(), e.cfg.MinWindow, 1)
	if len(w) <= n {
		return w
	}
	return append([]types.Quote(nil), w[len(w)-n:]...)
}

func (e *Engine) copyWindows() map[string][]types.Quote {
	out := make(map[string][]types.Quote, len(e.windows))
	for sym, w := range e.windows {
		out[sym] = append([]types.Quote(nil), w...)
	}
	return out
}
