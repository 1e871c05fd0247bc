package kite

import (
	"sort"
	"sync"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
)

type instrument struct {
	symbol   string
	token    uint32
	exchange string
}

// instrumentIndex resolves configured trading symbols to Kite instrument
// tokens and back. It is rebuilt on every Connect.
type instrumentIndex struct {
	mu       sync.RWMutex
	bySymbol map[string]instrument
	byToken  map[uint32]string
}

func newInstrumentIndex() *instrumentIndex {
	return &instrumentIndex{
		bySymbol: make(map[string]instrument),
		byToken:  make(map[uint32]string),
	}
}

// load replaces the index with the listed instruments among symbols and
// returns the symbols the exchange does not list.
func (ix *instrumentIndex) load(listed kiteconnect.Instruments, symbols []string) []string {
	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}

	bySymbol := make(map[string]instrument, len(wanted))
	byToken := make(map[uint32]string, len(wanted))
	for _, in := range listed {
		if !wanted[in.Tradingsymbol] {
			continue
		}
		tok := uint32(in.InstrumentToken)
		bySymbol[in.Tradingsymbol] = instrument{symbol: in.Tradingsymbol, token: tok, exchange: in.Exchange}
		byToken[tok] = in.Tradingsymbol
	}

	var missing []string
	for s := range wanted {
		if _, ok := bySymbol[s]; !ok {
			missing = append(missing, s)
		}
	}
	sort.Strings(missing)

	ix.mu.Lock()
	ix.bySymbol, ix.byToken = bySymbol, byToken
	ix.mu.Unlock()
	return missing
}

func (ix *instrumentIndex) put(in instrument) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.bySymbol[in.symbol] = in
	ix.byToken[in.token] = in.symbol
}

func (ix *instrumentIndex) lookup(symbol string) (instrument, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	in, ok := ix.bySymbol[symbol]
	return in, ok
}

func (ix *instrumentIndex) symbolOf(token uint32) string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.byToken[token]
}

// tokens returns the sorted tokens of the indexed symbols among symbols.
func (ix *instrumentIndex) tokens(symbols []string) []uint32 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]uint32, 0, len(symbols))
	for _, s := range symbols {
		if in, ok := ix.bySymbol[s]; ok {
			out = append(out, in.token)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
