// Package risk decides whether an intent may become an order and at what size.
package risk

import (
	"fmt"
	"math"

	"trade-maestro/internal/types"
)

type Limits struct {
	// MaxOrdersPerStrategy caps concurrently open orders per strategy. Zero disables the rule.
	MaxOrdersPerStrategy int
	// MaxExposurePct caps total notional as a multiple of equity. Zero disables the rule.
	MaxExposurePct float64
	// RiskPct is the fraction of equity risked between entry and stop.
	RiskPct float64
	// SizeStep is the lot granularity sizes are rounded down to.
	SizeStep float64
	// MaxDailyLossPct stops new orders once the realized balance has fallen
	// this fraction below the day's starting balance. Zero disables the rule.
	MaxDailyLossPct float64
}

// Manager evaluates admission rules. It holds no state besides its limits,
// so Admit is safe for concurrent use and replayable.
type Manager struct {
	limits Limits
}

func New(l Limits) *Manager {
	return &Manager{limits: l}
}

func (m *Manager) Limits() Limits {
	return m.limits
}

// Admit returns the size the intent may open with at entry, or a
// *types.RiskRejection naming the first rule that failed.
func (m *Manager) Admit(intent types.OrderIntent, entry float64, account types.Account, open []types.Order) (float64, error) {
	l := m.limits

	if l.MaxOrdersPerStrategy > 0 {
		n := 0
		for _, o := range open {
			if o.State == types.Open && o.StrategyID == intent.StrategyID {
				n++
			}
		}
		if n >= l.MaxOrdersPerStrategy {
			return 0, reject(types.RuleMaxOrders, "strategy %s already has %d open orders (limit %d)", intent.StrategyID, n, l.MaxOrdersPerStrategy)
		}
	}

	size := m.size(intent, entry, account.Equity)

	if l.MaxExposurePct > 0 {
		exposure := 0.0
		for _, o := range open {
			if o.State == types.Open {
				exposure += o.Notional()
			}
		}
		limit := l.MaxExposurePct * account.Equity
		if exposure+size*entry > limit {
			return 0, reject(types.RuleMaxExposure, "exposure %.2f plus %.2f would exceed limit %.2f", exposure, size*entry, limit)
		}
	}

	if size <= 0 {
		return 0, reject(types.RuleSizingZero, "size for %s rounds to zero (equity %.2f, stop distance %.5f)", intent.Symbol, account.Equity, math.Abs(entry-intent.StopLoss))
	}

	if !StopsSane(intent.Direction, entry, intent.StopLoss, intent.TakeProfit) {
		return 0, reject(types.RuleStopSanity, "%s entry %.5f needs stop %.5f and take-profit %.5f on opposite sides", intent.Direction, entry, intent.StopLoss, intent.TakeProfit)
	}

	if l.MaxDailyLossPct > 0 && account.DayStartBalance > 0 {
		loss := (account.DayStartBalance - account.Balance) / account.DayStartBalance
		if loss >= l.MaxDailyLossPct {
			return 0, reject(types.RuleDailyLoss, "day loss %.2f%% of %.2f reached limit %.2f%%", loss*100, account.DayStartBalance, l.MaxDailyLossPct*100)
		}
	}

	return size, nil
}

// size is min(requested, riskPct*equity/stopDistance) rounded down to the lot
// step. A zero stop distance leaves the requested size for the sanity rule to reject.
func (m *Manager) size(intent types.OrderIntent, entry, equity float64) float64 {
	size := intent.RequestedSize
	if dist := math.Abs(entry - intent.StopLoss); dist > 0 {
		size = math.Min(size, m.limits.RiskPct*equity/dist)
	}
	if size <= 0 || math.IsNaN(size) {
		return 0
	}
	return roundDown(size, m.limits.SizeStep)
}

func roundDown(x, step float64) float64 {
	if step <= 0 {
		return x
	}
	n := math.Floor(x/step + 1e-9)
	return math.Round(n*step*1e8) / 1e8
}

// StopsSane reports whether stop and take-profit bracket entry for direction d.
func StopsSane(d types.Direction, entry, stop, tp float64) bool {
	if d == types.Short {
		return tp < entry && entry < stop
	}
	return stop < entry && entry < tp
}

func reject(rule types.RiskRule, format string, args ...any) error {
	return &types.RiskRejection{Rule: rule, Reason: fmt.Sprintf(format, args...)}
}
