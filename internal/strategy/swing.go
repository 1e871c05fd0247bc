package strategy

import (
	"fmt"
	"time"

	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/ta"
	"trade-maestro/internal/types"
)

// Swing follows moving-average crossovers filtered by RSI, with wide levels.
type Swing struct {
	id       string
	lookback int

	fastPeriod    int
	slowPeriod    int
	rsiPeriod     int
	overbought    float64
	oversold      float64
	stopPct       float64
	takePct       float64
	size          float64
	minConfidence float64
	maxDuration   time.Duration

	state map[string]*swingState
}

type swingState struct {
	fast     *ta.Rolling
	slow     *ta.Rolling
	rsi      *ta.RSI
	diff     float64
	prevDiff float64
	hasDiff  bool
	hasPrev  bool
	last     time.Time
}

var _ interfaces.Strategy = (*Swing)(nil)

func NewSwing(cfg types.StrategyConfig) *Swing {
	return &Swing{
		id:            cfg.ID,
		lookback:      int(cfg.Param("lookback", 60)),
		fastPeriod:    int(cfg.Param("fast_period", 20)),
		slowPeriod:    int(cfg.Param("slow_period", 50)),
		rsiPeriod:     int(cfg.Param("rsi_period", 14)),
		overbought:    cfg.Param("rsi_overbought", 65),
		oversold:      cfg.Param("rsi_oversold", 35),
		stopPct:       cfg.Param("stop_pct", 0.008),
		takePct:       cfg.Param("take_profit_pct", 0.016),
		size:          cfg.Param("size", 1),
		minConfidence: cfg.Param("confidence_threshold", 0.6),
		maxDuration:   time.Duration(cfg.Param("max_duration_hours", 168)) * time.Hour,
		state:         make(map[string]*swingState),
	}
}

func (s *Swing) ID() string   { return s.id }
func (s *Swing) Type() string { return TypeSwing }

func (s *Swing) Lookback() int {
	return max(s.lookback, s.slowPeriod, s.rsiPeriod+1)
}

func (s *Swing) Evaluate(symbol string, window []types.Quote) []types.OrderIntent {
	st := s.state[symbol]
	if st == nil {
		st = &swingState{
			fast: ta.NewRolling(s.fastPeriod),
			slow: ta.NewRolling(s.slowPeriod),
			rsi:  ta.NewRSI(s.rsiPeriod),
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
	if !st.hasPrev || !st.rsi.Ready() {
		return nil
	}

	rsi := st.rsi.Value()
	var dir types.Direction
	var confidence float64
	band := s.overbought - s.oversold
	switch {
	case st.prevDiff <= 0 && st.diff > 0 && rsi < s.overbought:
		dir = types.Long
		confidence = 0.6 + 0.4*clamp01((s.overbought-rsi)/band)
	case st.prevDiff >= 0 && st.diff < 0 && rsi > s.oversold:
		dir = types.Short
		confidence = 0.6 + 0.4*clamp01((rsi-s.oversold)/band)
	default:
		return nil
	}
	if confidence < s.minConfidence {
		return nil
	}

	latest := quotes[len(quotes)-1]
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
		Reason:        fmt.Sprintf("sma %d/%d cross, rsi %.1f", s.fastPeriod, s.slowPeriod, rsi),
	}}
}

func (st *swingState) ingest(mid float64) {
	st.fast.Push(mid)
	st.slow.Push(mid)
	st.rsi.Update(mid)
	if !st.slow.Full() {
		return
	}
	st.prevDiff, st.hasPrev = st.diff, st.hasDiff
	st.diff, st.hasDiff = st.fast.Mean()-st.slow.Mean(), true
}
