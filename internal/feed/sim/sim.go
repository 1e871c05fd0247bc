// Package sim implements a deterministic simulated price feed. Each symbol
// follows its own bounded geometric random walk driven by a generator seeded
// from the feed seed and the symbol name.
package sim

import (
	"context"
	"hash/fnv"
	"iter"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/types"
)

const Name = "simulated"

// SymbolParams configures the walk of one symbol. Volatility and Drift are
// per-step fractions of price.
type SymbolParams struct {
	Price      float64
	Spread     float64
	Volatility float64
	Drift      float64
	// Floor and Ceil bound the mid price. Zero means half and one and a half
	// times the starting price.
	Floor float64
	Ceil  float64
}

type Config struct {
	Seed    int64
	Step    time.Duration
	Start   time.Time
	Symbols map[string]SymbolParams
}

// DefaultSymbols mirrors the demo account quotes of the desktop terminal.
func DefaultSymbols() map[string]SymbolParams {
	return map[string]SymbolParams{
		"EURUSD": {Price: 1.05215, Spread: 0.0003, Volatility: 0.0002},
		"GBPUSD": {Price: 1.26515, Spread: 0.0003, Volatility: 0.0002},
		"USDJPY": {Price: 149.215, Spread: 0.03, Volatility: 0.0002},
		"USDCHF": {Price: 0.88915, Spread: 0.0003, Volatility: 0.0002},
		"AUDUSD": {Price: 0.64215, Spread: 0.0003, Volatility: 0.0002},
		"USDCAD": {Price: 1.42515, Spread: 0.0003, Volatility: 0.0002},
	}
}

type walk struct {
	params SymbolParams
	rng    *rand.Rand
	mid    float64
	now    time.Time
}

type Feed struct {
	cfg       Config
	mu        sync.Mutex
	walks     map[string]*walk
	connected bool
	lastQuote time.Time
}

var _ interfaces.PriceFeed = (*Feed)(nil)

func New(cfg Config) *Feed {
	if cfg.Step <= 0 {
		cfg.Step = time.Second
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = DefaultSymbols()
	}
	f := &Feed{cfg: cfg, walks: make(map[string]*walk, len(cfg.Symbols))}
	for sym, p := range cfg.Symbols {
		p = normalize(p)
		f.walks[sym] = &walk{
			params: p,
			rng:    rand.New(rand.NewSource(symbolSeed(cfg.Seed, sym, 0))),
			mid:    p.Price,
			now:    cfg.Start,
		}
	}
	return f
}

func normalize(p SymbolParams) SymbolParams {
	if p.Floor <= 0 {
		p.Floor = p.Price * 0.5
	}
	if p.Ceil <= 0 || p.Ceil < p.Floor {
		p.Ceil = p.Price * 1.5
	}
	if p.Spread < 0 {
		p.Spread = 0
	}
	return p
}

func symbolSeed(seed int64, symbol string, salt int64) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	return seed ^ int64(h.Sum64()) ^ salt
}

func (f *Feed) Name() string { return Name }

// Start is the timestamp the walks begin from.
func (f *Feed) Start() time.Time { return f.cfg.Start }

func (f *Feed) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *Feed) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *Feed) Symbols() []string {
	out := make([]string, 0, len(f.walks))
	for s := range f.walks {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Quote advances the symbol's walk by one step and returns the new quote.
func (f *Feed) Quote(ctx context.Context, symbol string) (types.Quote, error) {
	if err := ctx.Err(); err != nil {
		return types.Quote{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.walks[symbol]
	if !ok {
		return types.Quote{}, types.UnknownSymbol(symbol)
	}
	w.mid = step(w.rng, w.params, w.mid)
	w.now = w.now.Add(f.cfg.Step)
	if w.now.After(f.lastQuote) {
		f.lastQuote = w.now
	}
	return makeQuote(symbol, w.params, w.mid, w.now), nil
}

// History replays a walk dedicated to r.From so repeated requests for the
// same range yield the same quotes regardless of live quote activity.
func (f *Feed) History(ctx context.Context, symbol string, r types.TimeRange, granularity time.Duration) (iter.Seq2[types.Quote, error], error) {
	w, ok := f.walks[symbol]
	if !ok {
		return nil, types.UnknownSymbol(symbol)
	}
	if granularity <= 0 {
		granularity = f.cfg.Step
	}
	params := w.params
	seed := symbolSeed(f.cfg.Seed, symbol, r.From.UnixNano())

	return func(yield func(types.Quote, error) bool) {
		rng := rand.New(rand.NewSource(seed))
		mid := params.Price
		for t := r.From; !t.After(r.To); t = t.Add(granularity) {
			if err := ctx.Err(); err != nil {
				yield(types.Quote{}, err)
				return
			}
			mid = step(rng, params, mid)
			if !yield(makeQuote(symbol, params, mid, t), nil) {
				return
			}
		}
	}, nil
}

func (f *Feed) Health(ctx context.Context) types.FeedHealth {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := types.FeedDisconnected
	if f.connected {
		state = types.FeedConnected
	}
	return types.FeedHealth{Feed: Name, State: state, LastQuote: f.lastQuote}
}

func step(rng *rand.Rand, p SymbolParams, mid float64) float64 {
	next := mid * math.Exp(p.Drift+p.Volatility*rng.NormFloat64())
	return math.Min(math.Max(next, p.Floor), p.Ceil)
}

func makeQuote(symbol string, p SymbolParams, mid float64, t time.Time) types.Quote {
	half := p.Spread / 2
	bid := mid - half
	if bid <= 0 {
		bid = mid
	}
	return types.Quote{Symbol: symbol, Bid: bid, Ask: mid + half, Time: t}
}
