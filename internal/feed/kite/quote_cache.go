package kite

import (
	"sync"
	"time"

	"trade-maestro/internal/types"
)

// quoteCache holds the latest streamed quote per symbol along with the local
// time it arrived.
type quoteCache struct {
	entries map[string]cachedQuote
	mu      sync.RWMutex
}

type cachedQuote struct {
	quote    types.Quote
	received time.Time
}

func newQuoteCache() *quoteCache {
	return &quoteCache{entries: make(map[string]cachedQuote)}
}

func (qc *quoteCache) put(q types.Quote, received time.Time) {
	qc.mu.Lock()
	defer qc.mu.Unlock()

	if prev, ok := qc.entries[q.Symbol]; ok && q.Time.Before(prev.quote.Time) {
		return
	}
	qc.entries[q.Symbol] = cachedQuote{quote: q, received: received}
}

func (qc *quoteCache) get(symbol string) (types.Quote, time.Time, bool) {
	qc.mu.RLock()
	defer qc.mu.RUnlock()

	e, ok := qc.entries[symbol]
	return e.quote, e.received, ok
}

// fresh returns the cached quote when it arrived within maxAge of now.
func (qc *quoteCache) fresh(symbol string, now time.Time, maxAge time.Duration) (types.Quote, bool) {
	q, received, ok := qc.get(symbol)
	if !ok || now.Sub(received) > maxAge {
		return types.Quote{}, false
	}
	return q, true
}

func (qc *quoteCache) clear() {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	qc.entries = make(map[string]cachedQuote)
}
