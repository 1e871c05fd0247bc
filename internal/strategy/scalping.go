package strategy

import (
	"fmt"
	"math"
	"time"

	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/ta"
	"trade-maestro/internal/types"
)

// Scalping trades short-horizon momentum bursts that agree with the fast/slow
// EMA trend, with tight protective levels.
type Scalping struct {
	id       string
	lookback int

	fastPeriod    int
	slowPeriod    int
	window        int
	threshold     float64
	stopPct       float64
	takePct       float64
	size          float64
	minConfidence float64
	minRR         float64
	maxSpread     float64
	maxDuration   time.Duration

	state map[string]*scalpState
}

type scalpState struct {
	fast    *ta.EMA
	slow    *ta.EMA
	mids    *ta.Rolling
	mom     float64
	prevMom float64
	hasMom  bool
	hasPrev bool
	last    time.Time
}

var _ interfaces.Strategy = (*Scalping)(nil)

func NewScalping(cfg types.StrategyConfig) *Scalping {
	return &Scalping{
		id:            cfg.ID,
		lookback:      int(cfg.Param("lookback", 20)),
		fastPeriod:    int(cfg.Param("fast_period", 5)),
		slowPeriod:    int(cfg.Param("slow_period", 13)),
		window:        int(cfg.Param("momentum_window", 10)),
		threshold:     cfg.Param("momentum_threshold", 0.0005),
		stopPct:       cfg.Param("stop_pct", 0.0015),
		takePct:       cfg.Param("take_profit_pct", 0.0025),
		size:          cfg.Param("size", 1),
		minConfidence: cfg.Param("confidence_threshold", 0.65),
		minRR:         cfg.Param("min_risk_reward", 1.2),
		maxSpread:     cfg.Param("max_spread_pct", 0.0005),
		maxDuration:   time.Duration(cfg.Param("max_duration_minutes", 30)) * time.Minute,
		state:         make(map[string]*scalpState),
	}
}

func (s *Scalping) ID() string   { return s.id }
func (s *Scalping) Type() string { return TypeScalping }

func (s *Scalping) Lookback() int {
	return max(s.lookback, s.slowPeriod, s.window+1)
}

// tooWide reports whether q's spread, as a fraction of mid, is above the
// configured maximum. Zero disables the check.
func (s *Scalping) tooWide(q types.Quote) bool {
	mid := q.Mid()
	return s.maxSpread > 0 && mid > 0 && q.Spread()/mid > s.maxSpread
}

func (s *Scalping) Evaluate(symbol string, window []types.Quote) []types.OrderIntent {
	st := s.state[symbol]
	if st == nil {
		st = &scalpState{
			fast: ta.NewEMA(s.fastPeriod),
			slow: ta.NewEMA(s.slowPeriod),
			mids: ta.NewRolling(s.window + 1),
		}
		s.state[symbol] = st
	}

	quotes := fresh(window, st.last)
	if len(quotes) == 0 {
		return nil
	}
	for _, q := range quotes {
		st.ingest(q.Mid())
		st.last = q.Time
	}
	if !st.hasPrev || !st.slow.Ready() || s.takePct/s.stopPct < s.minRR {
		return nil
	}

	latest := quotes[len(quotes)-1]
	if s.tooWide(latest) {
		return nil
	}
	var dir types.Direction
	switch {
	case st.prevMom < s.threshold && st.mom >= s.threshold && st.fast.Value() > st.slow.Value():
		dir = types.Long
	case st.prevMom > -s.threshold && st.mom <= -s.threshold && st.fast.Value() < st.slow.Value():
		dir = types.Short
	default:
		return nil
	}

	confidence := math.Min(1, 0.6+0.1*math.Abs(st.mom)/s.threshold)
	if confidence < s.minConfidence {
		return nil
	}
	entry := dir.EntrySide(latest)
	stop, take := levels(dir, entry, s.stopPct, s.takePct)
	return []types.OrderIntent{{
		Symbol:        symbol,
		Direction:     dir,
		RequestedSize: s.size,
		StopLoss:      stop,
		TakeProfit:    take,
		StrategyID:    s.id,
		Confidence:    confidence,
		MaxDuration:   s.maxDuration,
		Reason:        fmt.Sprintf("momentum %.5f crossed %.5f with ema %d/%d trend", st.mom, s.threshold, s.fastPeriod, s.slowPeriod),
	}}
}

func (st *scalpState) ingest(mid float64) {
	st.fast.Update(mid)
	st.slow.Update(mid)
	st.mids.Push(mid)
	if !st.mids.Full() {
		return
	}
	old := st.mids.Oldest()
	if old == 0 {
		return
	}
	st.prevMom, st.hasPrev = st.mom, st.hasMom
	st.mom, st.hasMom = (mid-old)/old, true
}
