package performance

import (
	"math"

	"trade-maestro/internal/types"
)

// Compute derives the metrics of records, in order, over an equity curve that
// starts at initial. Profit factor is zero while there are no losing trades.
func Compute(records []types.PerformanceRecord, initial float64) types.Metrics {
	m := types.Metrics{TotalTrades: len(records)}
	if len(records) == 0 {
		return m
	}

	var grossWin, grossLoss float64
	equity, peak := initial, initial
	for _, r := range records {
		m.TotalPnL += r.PnL
		switch {
		case r.PnL > 0:
			m.Wins++
			grossWin += r.PnL
		case r.PnL < 0:
			m.Losses++
			grossLoss -= r.PnL
		}

		equity += r.PnL
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > m.MaxDrawdown {
			m.MaxDrawdown = dd
			if peak > 0 {
				m.MaxDrawdownPct = dd / peak * 100
			}
		}
	}

	n := float64(len(records))
	m.WinRate = float64(m.Wins) / n
	m.AvgPnL = m.TotalPnL / n
	if grossLoss > 0 {
		m.ProfitFactor = grossWin / grossLoss
	}

	if len(records) > 1 {
		var ss float64
		for _, r := range records {
			d := r.PnL - m.AvgPnL
			ss += d * d
		}
		if sd := math.Sqrt(ss / n); sd > 0 {
			m.Sharpe = m.AvgPnL / sd
		}
	}
	return m
}
