// Package strategy holds the trading strategies and the manager that runs them.
package strategy

import (
	"fmt"
	"time"

	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/types"
)

const (
	TypeScalping = "scalping"
	TypeSwing    = "swing"
)

// New builds the strategy variant named by cfg.Type.
func New(cfg types.StrategyConfig) (interfaces.Strategy, error) {
	switch cfg.Type {
	case TypeScalping:
		return NewScalping(cfg), nil
	case TypeSwing:
		return NewSwing(cfg), nil
	}
	return nil, fmt.Errorf("%w: %q", types.ErrUnknownStrategyType, cfg.Type)
}

// levels places stop and take-profit around entry as fractions of price.
func levels(d types.Direction, entry, stopPct, takePct float64) (stop, take float64) {
	if d == types.Short {
		return entry * (1 + stopPct), entry * (1 - takePct)
	}
	return entry * (1 - stopPct), entry * (1 + takePct)
}

// fresh returns the quotes of window newer than last.
func fresh(window []types.Quote, last time.Time) []types.Quote {
	for i, q := range window {
		if q.Time.After(last) {
			return window[i:]
		}
	}
	return nil
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
