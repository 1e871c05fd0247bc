// Package performance keeps the append-only record of closed trades and the
// metrics derived from it.
package performance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/logger"
	"trade-maestro/internal/types"
)

// Tracker records one PerformanceRecord per closed order. Metrics are always
// recomputed from the record slice, which readers copy before use.
type Tracker struct {
	initial float64

	mu      sync.RWMutex
	records []types.PerformanceRecord
	seen    map[string]struct{}
	sinks   []interfaces.RecordSink
}

func NewTracker(initialBalance float64) *Tracker {
	return &Tracker{initial: initialBalance, seen: make(map[string]struct{})}
}

// AddSink forwards every new record to s. Sink failures are logged and never
// undo the record.
func (t *Tracker) AddSink(s interfaces.RecordSink) {
	t.mu.Lock()
	t.sinks = append(t.sinks, s)
	t.mu.Unlock()
}

// Record appends the record of a closed order. A second call for the same
// order is ignored.
func (t *Tracker) Record(ctx context.Context, o types.Order) error {
	if o.State != types.Closed {
		return &types.InvalidStateError{OrderID: o.ID, State: o.State, Op: "record"}
	}
	rec := types.PerformanceRecord{
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		StrategyID: o.StrategyID,
		PnL:        o.RealizedPnL,
		Duration:   o.ClosedAt.Sub(o.OpenedAt),
		ClosedAt:   o.ClosedAt,
	}

	t.mu.Lock()
	if _, dup := t.seen[o.ID]; dup {
		t.mu.Unlock()
		logger.Debug(ctx, "Duplicate performance record ignored", "order_id", o.ID)
		return nil
	}
	t.seen[o.ID] = struct{}{}
	t.records = append(t.records, rec)
	sinks := append([]interfaces.RecordSink(nil), t.sinks...)
	t.mu.Unlock()

	for _, s := range sinks {
		if err := s.Write(ctx, rec); err != nil {
			logger.ErrorWithErr(ctx, "Performance sink write failed", err, "sink", s.Name(), "order_id", rec.OrderID)
		}
	}
	return nil
}

// Records returns a copy of every record in append order.
func (t *Tracker) Records() []types.PerformanceRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]types.PerformanceRecord(nil), t.records...)
}

// Metrics covers one strategy, or every record when strategyID is empty.
func (t *Tracker) Metrics(strategyID string) types.Metrics {
	recs := t.Records()
	if strategyID == "" {
		return Compute(recs, t.initial)
	}
	return Compute(filter(recs, strategyID), t.initial)
}

// PerStrategy computes Metrics for every strategy that has records.
func (t *Tracker) PerStrategy() map[string]types.Metrics {
	return ByStrategy(t.Records(), t.initial)
}

// ByStrategy groups recs by strategy id and computes Metrics for each.
func ByStrategy(recs []types.PerformanceRecord, initial float64) map[string]types.Metrics {
	by := make(map[string][]types.PerformanceRecord)
	for _, r := range recs {
		by[r.StrategyID] = append(by[r.StrategyID], r)
	}
	out := make(map[string]types.Metrics, len(by))
	for id, rs := range by {
		out[id] = Compute(rs, initial)
	}
	return out
}

type DaySummary struct {
	Date        string   `json:"date"`
	Trades      int      `json:"trades"`
	Wins        int      `json:"winning_trades"`
	Losses      int      `json:"losing_trades"`
	WinRate     float64  `json:"win_rate"`
	TotalPnL    float64  `json:"total_profit"`
	AvgPnL      float64  `json:"avg_profit_per_trade"`
	LargestWin  float64  `json:"largest_win"`
	LargestLoss float64  `json:"largest_loss"`
	Symbols     []string `json:"symbols_traded"`
}

// DailySummary aggregates the trades closed on day's calendar date, in day's
// location.
func (t *Tracker) DailySummary(day time.Time) DaySummary {
	loc := day.Location()
	date := day.Format(time.DateOnly)
	s := DaySummary{Date: date}
	symbols := make(map[string]struct{})
	for _, r := range t.Records() {
		if r.ClosedAt.In(loc).Format(time.DateOnly) != date {
			continue
		}
		s.Trades++
		s.TotalPnL += r.PnL
		if r.PnL > 0 {
			s.Wins++
			s.LargestWin = max(s.LargestWin, r.PnL)
		} else if r.PnL < 0 {
			s.Losses++
			s.LargestLoss = min(s.LargestLoss, r.PnL)
		}
		symbols[r.Symbol] = struct{}{}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
		s.AvgPnL = s.TotalPnL / float64(s.Trades)
	}
	s.Symbols = make([]string, 0, len(symbols))
	for sym := range symbols {
		s.Symbols = append(s.Symbols, sym)
	}
	sort.Strings(s.Symbols)
	return s
}

type Report struct {
	GeneratedAt time.Time                 `json:"generated_at"`
	Overall     types.Metrics             `json:"overall"`
	PerStrategy map[string]types.Metrics  `json:"per_strategy"`
	Records     []types.PerformanceRecord `json:"records"`
}

// NewReport summarises recs against the initial balance.
func NewReport(recs []types.PerformanceRecord, initial float64) Report {
	return Report{
		GeneratedAt: time.Now().UTC(),
		Overall:     Compute(recs, initial),
		PerStrategy: ByStrategy(recs, initial),
		Records:     recs,
	}
}

// WriteJSON writes the report as indented JSON.
func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("export performance report: %w", err)
	}
	return nil
}

// ExportJSON writes the full report of every recorded trade.
func (t *Tracker) ExportJSON(w io.Writer) error {
	return NewReport(t.Records(), t.initial).WriteJSON(w)
}

func filter(recs []types.PerformanceRecord, strategyID string) []types.PerformanceRecord {
	out := recs[:0]
	for _, r := range recs {
		if r.StrategyID == strategyID {
			out = append(out, r)
		}
	}
	return out
}
