package eod

import "time"

// rowKey groups a day's trades for one report line.
type rowKey struct {
	StrategyID string
	Symbol     string
}

// aggRow accumulates the trades of one strategy on one symbol.
type aggRow struct {
	rowKey
	Trades      int           // closed orders
	Wins        int           // trades with positive PnL
	Losses      int           // trades with negative PnL
	GrossProfit float64       // sum of winning PnL
	GrossLoss   float64       // sum of losing PnL, as a positive number
	RealizedPnL float64       // net PnL
	Held        time.Duration // total holding time
}

func (r *aggRow) add(pnl float64, held time.Duration) {
	r.Trades++
	r.RealizedPnL += pnl
	r.Held += held
	switch {
	case pnl > 0:
		r.Wins++
		r.GrossProfit += pnl
	case pnl < 0:
		r.Losses++
		r.GrossLoss -= pnl
	}
}

func (r *aggRow) winRate() float64 {
	if r.Trades == 0 {
		return 0
	}
	return float64(r.Wins) / float64(r.Trades)
}

func (r *aggRow) avgHeld() time.Duration {
	if r.Trades == 0 {
		return 0
	}
	return r.Held / time.Duration(r.Trades)
}
