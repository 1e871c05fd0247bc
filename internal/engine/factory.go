package engine

import (
	"fmt"
	"time"

	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/order"
	"trade-maestro/internal/performance"
	"trade-maestro/internal/risk"
	"trade-maestro/internal/store"
	"trade-maestro/internal/strategy"
)

// Build assembles an Engine and its collaborators from configuration. now
// marks the end of the warmup range; nil means wall-clock time.
func Build(cfg *store.Config, feed interfaces.PriceFeed, now func() time.Time) (*Engine, error) {
	limits := risk.Limits{
		MaxOrdersPerStrategy: cfg.Risk.MaxOrdersPerStrategy,
		MaxExposurePct:       cfg.Risk.MaxExposurePct,
		RiskPct:              cfg.Risk.RiskPct,
		SizeStep:             cfg.Risk.SizeStep,
		MaxDailyLossPct:      cfg.Risk.MaxDailyLossPct,
	}
	loc, err := time.LoadLocation(cfg.TradeLog.Timezone)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	orders := order.New(order.Config{
		InitialBalance: cfg.Account.InitialBalance,
		Currency:       cfg.Account.Currency,
		Leverage:       cfg.Account.Leverage,
		TrailingPct:    cfg.Orders.TrailingPct,
		Location:       loc,
	}, feed, risk.New(limits))

	strategies := strategy.NewManager()
	for _, sc := range cfg.Strategies {
		if err := strategies.Add(sc); err != nil {
			return nil, fmt.Errorf("build engine: %w", err)
		}
	}

	tracker := performance.NewTracker(cfg.Account.InitialBalance)

	return New(Config{
		Symbols:     cfg.Symbols,
		CallTimeout: cfg.Connector.CallTimeout,
		Lookback:    cfg.History.Lookback,
		Granularity: cfg.History.Granularity,
		Now:         now,
	}, feed, orders, strategies, tracker), nil
}
