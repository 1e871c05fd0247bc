package order

import (
	"time"

	"trade-maestro/internal/types"
)

// breach reports which protective level the quote crossed. When a gapped
// price crosses both, the stop-loss wins.
func breach(o *types.Order, q types.Quote) (types.CloseReason, float64, bool) {
	price := o.Direction.ExitSide(q)
	var stopHit, tpHit bool
	if o.Direction == types.Short {
		stopHit = price >= o.StopLoss
		tpHit = price <= o.TakeProfit
	} else {
		stopHit = price <= o.StopLoss
		tpHit = price >= o.TakeProfit
	}
	switch {
	case stopHit:
		return types.CloseStopLoss, price, true
	case tpHit:
		return types.CloseTakeProfit, price, true
	}
	return "", price, false
}

func expired(o *types.Order, now time.Time) bool {
	d := o.Intent.MaxDuration
	return d > 0 && !o.OpenedAt.IsZero() && now.Sub(o.OpenedAt) >= d
}

// trail ratchets the stop toward price by pct of price. Stops only move in
// the order's favour.
func trail(o *types.Order, q types.Quote, pct float64) (float64, bool) {
	if pct <= 0 {
		return o.StopLoss, false
	}
	price := o.Direction.ExitSide(q)
	if o.Direction == types.Short {
		cand := price * (1 + pct)
		if cand < o.StopLoss {
			return cand, true
		}
		return o.StopLoss, false
	}
	cand := price * (1 - pct)
	if cand > o.StopLoss {
		return cand, true
	}
	return o.StopLoss, false
}
