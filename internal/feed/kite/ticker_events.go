package kite

import (
	"context"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"github.com/zerodha/gokiteconnect/v4/models"

	"trade-maestro/internal/logger"
	"trade-maestro/internal/types"
)

func (tm *tickerManager) setupEventHandlers() {
	tm.ticker.OnConnect(tm.onConnect)
	tm.ticker.OnError(tm.onError)
	tm.ticker.OnClose(tm.onClose)
	tm.ticker.OnReconnect(tm.onReconnect)
	tm.ticker.OnNoReconnect(tm.onNoReconnect)
	tm.ticker.OnTick(tm.onTick)
	tm.ticker.OnOrderUpdate(tm.onOrderUpdate)
}

func (tm *tickerManager) onConnect() {
	tm.connected.Store(true)
	logger.Info(context.Background(), "Kite ticker connected")

	tm.mu.Lock()
	t, tokens := tm.ticker, tm.tokens
	tm.mu.Unlock()
	if t == nil || len(tokens) == 0 {
		return
	}
	if err := subscribe(t, tokens); err != nil {
		logger.ErrorWithErr(context.Background(), "Kite ticker resubscribe failed", err, "tokens", len(tokens))
	}
}

func (tm *tickerManager) onError(err error) {
	logger.ErrorWithErr(context.Background(), "Kite ticker error", err)
}

func (tm *tickerManager) onClose(code int, reason string) {
	tm.connected.Store(false)
	logger.Warn(context.Background(), "Kite ticker closed",
		"code", code,
		"reason", reason,
	)
}

func (tm *tickerManager) onReconnect(attempt int, delay time.Duration) {
	logger.Info(context.Background(), "Kite ticker reconnecting",
		"attempt", attempt,
		"delay", delay,
	)
}

func (tm *tickerManager) onNoReconnect(attempt int) {
	tm.connected.Store(false)
	logger.Warn(context.Background(), "Kite ticker gave up reconnecting",
		"attempts", attempt,
	)
}

func (tm *tickerManager) onTick(tick models.Tick) {
	symbol := tm.index.symbolOf(tick.InstrumentToken)
	if symbol == "" {
		return
	}
	tm.cache.put(tickToQuote(symbol, tick), time.Now())
}

func (tm *tickerManager) onOrderUpdate(order kiteconnect.Order) {
	logger.Debug(context.Background(), "Order update ignored",
		"order_id", order.OrderID,
		"status", order.Status,
	)
}

// tickToQuote takes the best depth levels when present and the last traded
// price otherwise.
func tickToQuote(symbol string, tick models.Tick) types.Quote {
	bid, ask := tick.Depth.Buy[0].Price, tick.Depth.Sell[0].Price
	return makeQuote(symbol, bid, ask, tick.LastPrice, tick.Timestamp.Time)
}

func makeQuote(symbol string, bid, ask, last float64, ts time.Time) types.Quote {
	if bid <= 0 || ask <= 0 || bid > ask {
		bid, ask = last, last
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	return types.Quote{Symbol: symbol, Bid: bid, Ask: ask, Time: ts.UTC()}
}
