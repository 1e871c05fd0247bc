// Package binance implements a live PriceFeed on the Binance spot REST API.
package binance

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/logger"
	"trade-maestro/internal/types"
)

const (
	Name = "binance"

	defaultTimeout = 10 * time.Second
	klineLimit     = 1000

	codeBadSymbol    = -1100
	codeInvalidSym   = -1121
	codeUnauthorized = -2015
)

type Config struct {
	APIKey    string
	SecretKey string
	Testnet   bool
	Symbols   []string
	Timeout   time.Duration
	// BaseURL overrides the REST endpoint.
	BaseURL string
}

type Feed struct {
	cfg    Config
	client *binance.Client

	mu        sync.Mutex
	listed    map[string]bool
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
	if cfg.Testnet {
		binance.UseTestnet = true
	}
	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	client.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	return &Feed{
		cfg:    cfg,
		client: client,
		listed: make(map[string]bool),
		last:   make(map[string]time.Time),
	}
}

func (f *Feed) Name() string { return Name }

// Connect pings the API and loads which configured symbols are trading.
func (f *Feed) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	if err := f.client.NewPingService().Do(ctx); err != nil {
		return f.fail(classify("connect", "", err))
	}
	info, err := f.client.NewExchangeInfoService().Symbols(f.cfg.Symbols...).Do(ctx)
	if err != nil {
		return f.fail(classify("exchange info", "", err))
	}

	listed := make(map[string]bool, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status == "TRADING" {
			listed[s.Symbol] = true
		}
	}
	for _, s := range f.cfg.Symbols {
		if !listed[s] {
			logger.Warn(ctx, "Symbol not trading on Binance", "symbol", s)
		}
	}

	f.mu.Lock()
	f.listed, f.connected, f.lastErr = listed, true, nil
	f.mu.Unlock()
	return nil
}

func (f *Feed) Disconnect(context.Context) error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *Feed) Quote(ctx context.Context, symbol string) (types.Quote, error) {
	if !f.known(symbol) {
		return types.Quote{}, types.UnknownSymbol(symbol)
	}
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	tickers, err := f.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return types.Quote{}, f.fail(classify("quote", symbol, err))
	}
	for _, t := range tickers {
		if t.Symbol != symbol {
			continue
		}
		bid, err1 := strconv.ParseFloat(t.BidPrice, 64)
		ask, err2 := strconv.ParseFloat(t.AskPrice, 64)
		if err := errors.Join(err1, err2); err != nil {
			return types.Quote{}, fmt.Errorf("parse book ticker %s: %w", symbol, err)
		}
		if bid <= 0 || ask < bid {
			return types.Quote{}, fmt.Errorf("book ticker %s: invalid bid %v ask %v", symbol, bid, ask)
		}
		return f.accept(types.Quote{Symbol: symbol, Bid: bid, Ask: ask, Time: time.Now().UTC()}), nil
	}
	return types.Quote{}, types.UnknownSymbol(symbol)
}

// History pages klines and yields one quote per candle close, stamped with
// the candle open time. Klines carry no spread, so bid equals ask.
func (f *Feed) History(ctx context.Context, symbol string, r types.TimeRange, granularity time.Duration) (iter.Seq2[types.Quote, error], error) {
	if !f.known(symbol) {
		return nil, types.UnknownSymbol(symbol)
	}
	interval, err := intervalFor(granularity)
	if err != nil {
		return nil, err
	}

	return func(yield func(types.Quote, error) bool) {
		start := r.From
		for start.Before(r.To) {
			callCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
			klines, err := f.client.NewKlinesService().
				Symbol(symbol).
				Interval(interval).
				StartTime(start.UnixMilli()).
				EndTime(r.To.UnixMilli() - 1).
				Limit(klineLimit).
				Do(callCtx)
			cancel()
			if err != nil {
				yield(types.Quote{}, classify("history", symbol, err))
				return
			}
			for _, k := range klines {
				ts := time.UnixMilli(k.OpenTime).UTC()
				if ts.Before(r.From) || !ts.Before(r.To) {
					continue
				}
				c, err := strconv.ParseFloat(k.Close, 64)
				if err != nil {
					yield(types.Quote{}, fmt.Errorf("parse kline close %s: %w", symbol, err))
					return
				}
				if !yield(types.Quote{Symbol: symbol, Bid: c, Ask: c, Time: ts}, nil) {
					return
				}
			}
			if len(klines) < klineLimit {
				return
			}
			start = time.UnixMilli(klines[len(klines)-1].OpenTime).Add(granularity)
		}
	}, nil
}

func (f *Feed) Health(context.Context) types.FeedHealth {
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

func (f *Feed) known(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listed[symbol]
}

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

// classify maps API errors: bad symbols become NotFoundError, rejected
// credentials a terminal ConnectionError, anything else a retryable one.
func classify(op, symbol string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeInvalidSym, codeBadSymbol:
			if symbol != "" {
				return types.UnknownSymbol(symbol)
			}
		case codeUnauthorized:
			return types.NewConnectionError(op, err, false)
		}
	}
	return types.NewConnectionError(op, err, true)
}

func intervalFor(d time.Duration) (string, error) {
	switch d {
	case time.Minute:
		return "1m", nil
	case 3 * time.Minute:
		return "3m", nil
	case 5 * time.Minute:
		return "5m", nil
	case 15 * time.Minute:
		return "15m", nil
	case 30 * time.Minute:
		return "30m", nil
	case time.Hour:
		return "1h", nil
	case 4 * time.Hour:
		return "4h", nil
	case 24 * time.Hour:
		return "1d", nil
	}
	return "", fmt.Errorf("unsupported binance granularity %s", d)
}
