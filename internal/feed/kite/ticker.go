package kite

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/logger"
	"trade-maestro/internal/types"
)

// tickerManager streams full-mode ticks over the Kite websocket into the
// quote cache. Subscriptions are replayed on every (re)connect.
type tickerManager struct {
	ticker      *kiteticker.Ticker
	apiKey      string
	accessToken string

	cache *quoteCache
	index *instrumentIndex

	mu        sync.Mutex
	tokens    []uint32
	connected atomic.Bool
	cancel    context.CancelFunc
}

var _ interfaces.TickerManager = (*tickerManager)(nil)

func newTickerManager(apiKey, accessToken string, cache *quoteCache, index *instrumentIndex) *tickerManager {
	return &tickerManager{
		apiKey:      apiKey,
		accessToken: accessToken,
		cache:       cache,
		index:       index,
	}
}

func (tm *tickerManager) Start(ctx context.Context) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.ticker != nil {
		return nil
	}

	tm.ticker = kiteticker.New(tm.apiKey, tm.accessToken)
	tm.setupEventHandlers()

	serveCtx, cancel := context.WithCancel(context.Background())
	tm.cancel = cancel
	go func() {
		logger.Info(ctx, "Starting Kite ticker")
		tm.ticker.ServeWithContext(serveCtx)
	}()
	return nil
}

func (tm *tickerManager) Stop(ctx context.Context) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.ticker == nil {
		return
	}
	tm.cancel()
	tm.ticker.Stop()
	tm.ticker = nil
	tm.connected.Store(false)
	logger.Info(ctx, "Kite ticker stopped")
}

// Subscribe records the symbols to stream and subscribes right away when the
// socket is up. Unmapped symbols are skipped.
func (tm *tickerManager) Subscribe(ctx context.Context, symbols []string) error {
	tokens := tm.index.tokens(symbols)
	if len(tokens) == 0 {
		return fmt.Errorf("no instrument tokens for %v", symbols)
	}

	tm.mu.Lock()
	tm.tokens = tokens
	t := tm.ticker
	tm.mu.Unlock()

	if t == nil || !tm.connected.Load() {
		logger.Debug(ctx, "Ticker not connected, subscription deferred", "tokens", len(tokens))
		return nil
	}
	return subscribe(t, tokens)
}

func (tm *tickerManager) Latest(symbol string) (types.Quote, bool) {
	q, _, ok := tm.cache.get(symbol)
	return q, ok
}

func (tm *tickerManager) Connected() bool { return tm.connected.Load() }

func subscribe(t *kiteticker.Ticker, tokens []uint32) error {
	if err := t.Subscribe(tokens); err != nil {
		return fmt.Errorf("failed to subscribe to tokens: %w", err)
	}
	if err := t.SetMode(kiteticker.ModeFull, tokens); err != nil {
		return fmt.Errorf("failed to set ticker mode: %w", err)
	}
	return nil
}
