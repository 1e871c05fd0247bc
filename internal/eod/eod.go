package eod

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/types"
)

// DayReader supplies the closed trades of one day.
type DayReader interface {
	ReadDay(t time.Time) ([]types.PerformanceRecord, error)
	Dir() string
	Location() *time.Location
}

type eodSummarizer struct {
	log     DayReader
	closeAt time.Duration
	now     func() time.Time
}

var _ interfaces.EodSummarizer = (*eodSummarizer)(nil)

var header = []string{
	"strategy_id", "symbol", "trades", "wins", "losses", "win_rate",
	"gross_profit", "gross_loss", "realized_pnl", "avg_hold_seconds",
}

func (s *eodSummarizer) today() time.Time { return s.now().In(s.log.Location()) }

func (s *eodSummarizer) SummarizeDay(t time.Time) (string, error) {
	t = t.In(s.log.Location())
	recs, err := s.log.ReadDay(t)
	if err != nil {
		return "", fmt.Errorf("read trade log: %w", err)
	}
	if len(recs) == 0 {
		return "", nil
	}

	aggs := map[rowKey]*aggRow{}
	for _, r := range recs {
		k := rowKey{StrategyID: r.StrategyID, Symbol: r.Symbol}
		row := aggs[k]
		if row == nil {
			row = &aggRow{rowKey: k}
			aggs[k] = row
		}
		row.add(r.PnL, r.Duration)
	}
	rows := make([]*aggRow, 0, len(aggs))
	for _, r := range aggs {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].StrategyID != rows[j].StrategyID {
			return rows[i].StrategyID < rows[j].StrategyID
		}
		return rows[i].Symbol < rows[j].Symbol
	})

	outPath := eodCSVPath(s.log.Dir(), t)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	if err := w.Write(header); err != nil {
		return "", err
	}
	total := &aggRow{rowKey: rowKey{StrategyID: "TOTAL"}}
	for _, r := range rows {
		if err := w.Write(r.record()); err != nil {
			return "", err
		}
		total.Trades += r.Trades
		total.Wins += r.Wins
		total.Losses += r.Losses
		total.GrossProfit += r.GrossProfit
		total.GrossLoss += r.GrossLoss
		total.RealizedPnL += r.RealizedPnL
		total.Held += r.Held
	}
	if err := w.Write(total.record()); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return outPath, nil
}

func (s *eodSummarizer) SummarizeToday() (string, error) { return s.SummarizeDay(s.today()) }

func (s *eodSummarizer) ShouldRunNow() (bool, string) {
	now := s.today()
	outPath := eodCSVPath(s.log.Dir(), now)
	if now.After(closeTime(now, s.closeAt)) {
		if _, err := os.Stat(outPath); errors.Is(err, os.ErrNotExist) {
			return true, outPath
		}
	}
	return false, outPath
}

func (r *aggRow) record() []string {
	return []string{
		r.StrategyID,
		r.Symbol,
		strconv.Itoa(r.Trades),
		strconv.Itoa(r.Wins),
		strconv.Itoa(r.Losses),
		fmt.Sprintf("%.4f", r.winRate()),
		fmt.Sprintf("%.2f", r.GrossProfit),
		fmt.Sprintf("%.2f", r.GrossLoss),
		fmt.Sprintf("%.2f", r.RealizedPnL),
		strconv.FormatInt(int64(r.avgHeld().Seconds()), 10),
	}
}
