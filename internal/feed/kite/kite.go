// Package kite implements a live PriceFeed on the Zerodha Kite Connect API,
// with an optional websocket stream that serves fresh quotes from memory.
package kite

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"sort"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/logger"
	"trade-maestro/internal/types"
)

const (
	Name = "kite"

	defaultTimeout = 10 * time.Second
	defaultMaxAge  = 5 * time.Second
	// Kite serves at most this many minute candles per historical request.
	maxMinuteSpan = 60 * 24 * time.Hour
)

type Config struct {
	APIKey      string
	AccessToken string
	Exchange    string
	Symbols     []string
	Timeout     time.Duration
	// Stream enables the websocket ticker. Cached quotes older than MaxAge
	// fall back to a REST quote.
	Stream bool
	MaxAge time.Duration
}

// client is the subset of *kiteconnect.Client the feed calls.
type client interface {
	GetUserProfile() (kiteconnect.UserProfile, error)
	GetInstrumentsByExchange(exchange string) (kiteconnect.Instruments, error)
	GetQuote(instruments ...string) (kiteconnect.Quote, error)
	GetHistoricalData(instrumentToken int, interval string, fromDate time.Time, toDate time.Time, continuous bool, OI bool) ([]kiteconnect.HistoricalData, error)
}

type Feed struct {
	cfg    Config
	kc     client
	index  *instrumentIndex
	cache  *quoteCache
	ticker interfaces.TickerManager

	mu        sync.Mutex
	connected bool
	last      map[string]time.Time
	lastQuote time.Time
	lastErr   error
}

var _ interfaces.PriceFeed = (*Feed)(nil)

func New(cfg Config) *Feed {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	kc := kiteconnect.New(cfg.APIKey)
	kc.SetAccessToken(cfg.AccessToken)
	kc.SetHTTPClient(&http.Client{Timeout: cfg.Timeout})

	f := newFeed(cfg, kc)
	if cfg.Stream {
		f.ticker = newTickerManager(cfg.APIKey, cfg.AccessToken, f.cache, f.index)
	}
	return f
}

func newFeed(cfg Config, kc client) *Feed {
	if cfg.Exchange == "" {
		cfg.Exchange = "NSE"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}
	return &Feed{
		cfg:   cfg,
		kc:    kc,
		index: newInstrumentIndex(),
		cache: newQuoteCache(),
		last:  make(map[string]time.Time),
	}
}

func (f *Feed) Name() string { return Name }

// Connect validates the session, loads instrument tokens for the configured
// symbols and starts the stream when enabled.
func (f *Feed) Connect(ctx context.Context) error {
	if _, err := call(ctx, f.cfg.Timeout, func() (kiteconnect.UserProfile, error) {
		return f.kc.GetUserProfile()
	}); err != nil {
		return f.fail(classify("connect", err))
	}

	instruments, err := call(ctx, f.cfg.Timeout, func() (kiteconnect.Instruments, error) {
		return f.kc.GetInstrumentsByExchange(f.cfg.Exchange)
	})
	if err != nil {
		return f.fail(classify("instruments", err))
	}

	for _, s := range f.index.load(instruments, f.cfg.Symbols) {
		logger.Warn(ctx, "Symbol not listed on exchange", "symbol", s, "exchange", f.cfg.Exchange)
	}

	if f.ticker != nil {
		if err := f.ticker.Start(ctx); err != nil {
			return f.fail(types.NewConnectionError("stream", err, true))
		}
		if err := f.ticker.Subscribe(ctx, f.cfg.Symbols); err != nil {
			logger.Warn(ctx, "Kite stream subscription failed, using REST quotes", "error", err.Error())
		}
	}

	f.mu.Lock()
	f.connected, f.lastErr = true, nil
	f.mu.Unlock()
	return nil
}

func (f *Feed) Disconnect(ctx context.Context) error {
	if f.ticker != nil {
		f.ticker.Stop(ctx)
	}
	f.cache.clear()
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

// Quote prefers a fresh streamed quote and otherwise asks the REST API for
// the best depth bid and ask.
func (f *Feed) Quote(ctx context.Context, symbol string) (types.Quote, error) {
	in, ok := f.index.lookup(symbol)
	if !ok {
		return types.Quote{}, types.UnknownSymbol(symbol)
	}
	if f.ticker != nil {
		if q, ok := f.cache.fresh(symbol, time.Now(), f.cfg.MaxAge); ok {
			return f.accept(q), nil
		}
	}

	key := in.exchange + ":" + symbol
	res, err := call(ctx, f.cfg.Timeout, func() (kiteconnect.Quote, error) {
		return f.kc.GetQuote(key)
	})
	if err != nil {
		return types.Quote{}, f.fail(classify("quote", err))
	}
	data, ok := res[key]
	if !ok {
		return types.Quote{}, types.UnknownSymbol(symbol)
	}
	q := makeQuote(symbol, data.Depth.Buy[0].Price, data.Depth.Sell[0].Price, data.LastPrice, data.Timestamp.Time)
	return f.accept(q), nil
}

// History pages through historical candles and yields one quote per candle
// close. The feed has no historical spread, so bid equals ask.
func (f *Feed) History(ctx context.Context, symbol string, r types.TimeRange, granularity time.Duration) (iter.Seq2[types.Quote, error], error) {
	in, ok := f.index.lookup(symbol)
	if !ok {
		return nil, types.UnknownSymbol(symbol)
	}
	interval, err := intervalFor(granularity)
	if err != nil {
		return nil, err
	}
	if !r.To.After(r.From) {
		return func(func(types.Quote, error) bool) {}, nil
	}

	return func(yield func(types.Quote, error) bool) {
		for from := r.From; from.Before(r.To); {
			to := from.Add(maxMinuteSpan)
			if to.After(r.To) {
				to = r.To
			}
			candles, err := call(ctx, f.cfg.Timeout, func() ([]kiteconnect.HistoricalData, error) {
				return f.kc.GetHistoricalData(int(in.token), interval, from, to, false, false)
			})
			if err != nil {
				yield(types.Quote{}, classify("history", err))
				return
			}
			for _, c := range candles {
				ts := c.Date.Time
				if ts.Before(r.From) || !ts.Before(r.To) {
					continue
				}
				q := types.Quote{Symbol: symbol, Bid: c.Close, Ask: c.Close, Time: ts.UTC()}
				if !yield(q, nil) {
					return
				}
			}
			from = to
		}
	}, nil
}

func (f *Feed) Health(ctx context.Context) types.FeedHealth {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := types.FeedHealth{Feed: Name, State: types.FeedDisconnected, LastQuote: f.lastQuote}
	if f.connected {
		h.State = types.FeedConnected
	}
	if f.lastErr != nil {
		h.LastError = f.lastErr.Error()
	}
	return h
}

func (f *Feed) Symbols() []string {
	out := append([]string(nil), f.cfg.Symbols...)
	sort.Strings(out)
	return out
}

// accept keeps quote timestamps non-decreasing per symbol.
func (f *Feed) accept(q types.Quote) types.Quote {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev := f.last[q.Symbol]; q.Time.Before(prev) {
		q.Time = prev
	}
	f.last[q.Symbol] = q.Time
	f.lastQuote = q.Time
	return q
}

func (f *Feed) fail(err error) error {
	f.mu.Lock()
	f.lastErr = err
	var ce *types.ConnectionError
	if errors.As(err, &ce) {
		f.connected = false
	}
	f.mu.Unlock()
	return err
}

// call runs fn bounded by ctx and timeout. The Kite client takes no context,
// so an abandoned call finishes in the background.
func call[T any](ctx context.Context, timeout time.Duration, fn func() (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// classify wraps err as a ConnectionError. Token and permission failures
// need new credentials, so they are not retryable.
func classify(op string, err error) error {
	var ke kiteconnect.Error
	if errors.As(err, &ke) {
		switch ke.ErrorType {
		case kiteconnect.TokenError, kiteconnect.PermissionError, kiteconnect.UserError:
			return types.NewConnectionError(op, err, false)
		case kiteconnect.InputError:
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return types.NewConnectionError(op, err, true)
}

func intervalFor(d time.Duration) (string, error) {
	switch d {
	case time.Minute:
		return "minute", nil
	case 3 * time.Minute:
		return "3minute", nil
	case 5 * time.Minute:
		return "5minute", nil
	case 10 * time.Minute:
		return "10minute", nil
	case 15 * time.Minute:
		return "15minute", nil
	case 30 * time.Minute:
		return "30minute", nil
	case time.Hour:
		return "60minute", nil
	case 24 * time.Hour:
		return "day", nil
	}
	return "", fmt.Errorf("unsupported kite granularity %s", d)
}
