package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-maestro/internal/feed/sim"
	"trade-maestro/internal/risk"
	"trade-maestro/internal/types"
)

var t0 = time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)

func flatFeed() *sim.Feed {
	return sim.New(sim.Config{Seed: 1, Symbols: map[string]sim.SymbolParams{
		"TEST":  {Price: 100},
		"OTHER": {Price: 50},
	}})
}

func newManager(t *testing.T, limits risk.Limits, cfg Config) *Manager {
	t.Helper()
	if cfg.InitialBalance == 0 {
		cfg.InitialBalance = 10000
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return New(cfg, flatFeed(), risk.New(limits))
}

func defaultLimits() risk.Limits {
	return risk.Limits{MaxOrdersPerStrategy: 10, MaxExposurePct: 1, RiskPct: 0.01, SizeStep: 0.01}
}

func longIntent() types.OrderIntent {
	return types.OrderIntent{
		Symbol:        "TEST",
		Direction:     types.Long,
		RequestedSize: 10,
		StopLoss:      95,
		TakeProfit:    110,
		StrategyID:    "scalp-1",
	}
}

func quote(symbol string, price float64, at time.Time) map[string]types.Quote {
	return map[string]types.Quote{symbol: {Symbol: symbol, Bid: price, Ask: price, Time: at}}
}

func TestSubmitOpensAtFeedPrice(t *testing.T) {
	m := newManager(t, defaultLimits(), Config{})

	o, err := m.Submit(context.Background(), longIntent())
	require.NoError(t, err)

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, types.Open, o.State)
	assert.Equal(t, 10.0, o.Size)
	assert.Equal(t, 100.0, o.EntryPrice)
	assert.Equal(t, []types.OrderState{types.Pending, types.Open}, o.History)
	assert.Equal(t, longIntent(), o.Intent)
	assert.Equal(t, "scalp-1", o.StrategyID)
}

func TestStopLossCloseSettlesBalance(t *testing.T) {
	m := newManager(t, defaultLimits(), Config{})
	var got []types.Order
	m.OnClose(func(ctx context.Context, o types.Order) { got = append(got, o) })

	o, err := m.Submit(context.Background(), longIntent())
	require.NoError(t, err)

	closed := m.Tick(context.Background(), quote("TEST", 95, t0))
	require.Len(t, closed, 1)

	c := closed[0]
	assert.Equal(t, o.ID, c.ID)
	assert.Equal(t, types.Closed, c.State)
	assert.Equal(t, types.CloseStopLoss, c.CloseReason)
	assert.InDelta(t, -50.0, c.RealizedPnL, 1e-9)
	assert.Equal(t, t0, c.ClosedAt)
	assert.Equal(t, []types.OrderState{types.Pending, types.Open, types.Closed}, c.History)

	assert.InDelta(t, 9950.0, m.Account().Balance, 1e-9)
	assert.True(t, m.ReplayBalance().Equal(m.Balance()))
	require.Len(t, got, 1)
	assert.Equal(t, c, got[0])
}

func TestTakeProfitShort(t *testing.T) {
	m := newManager(t, defaultLimits(), Config{})
	intent := longIntent()
	intent.Direction = types.Short
	intent.StopLoss = 105
	intent.TakeProfit = 90

	o, err := m.Submit(context.Background(), intent)
	require.NoError(t, err)
	assert.Equal(t, 10.0, o.Size)

	assert.Empty(t, m.Tick(context.Background(), quote("TEST", 95, t0)))
	closed := m.Tick(context.Background(), quote("TEST", 89, t0.Add(time.Second)))
	require.Len(t, closed, 1)
	assert.Equal(t, types.CloseTakeProfit, closed[0].CloseReason)
	assert.InDelta(t, 110.0, closed[0].RealizedPnL, 1e-9)
	assert.InDelta(t, 10110.0, m.Account().Balance, 1e-9)
}

func TestEleventhOrderRejected(t *testing.T) {
	m := newManager(t, defaultLimits(), Config{})
	intent := longIntent()
	intent.RequestedSize = 1

	for i := 0; i < 10; i++ {
		_, err := m.Submit(context.Background(), intent)
		require.NoError(t, err, "order %d", i+1)
	}
	_, err := m.Submit(context.Background(), intent)
	var rr *types.RiskRejection
	require.ErrorAs(t, err, &rr)
	assert.Equal(t, types.RuleMaxOrders, rr.Rule)
	assert.Len(t, m.Orders(), 10)
}

func TestCancelClosedOrderChangesNothing(t *testing.T) {
	m := newManager(t, defaultLimits(), Config{})
	o, err := m.Submit(context.Background(), longIntent())
	require.NoError(t, err)
	m.Tick(context.Background(), quote("TEST", 95, t0))

	before, err := m.Get(o.ID)
	require.NoError(t, err)
	account := m.Account()

	err = m.Cancel(o.ID)
	var ise *types.InvalidStateError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, types.Closed, ise.State)
	assert.Contains(t, err.Error(), "closed")

	after, err := m.Get(o.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, account, m.Account())
}

func TestTerminalStatesAreFinal(t *testing.T) {
	m := newManager(t, defaultLimits(), Config{})
	ctx := context.Background()
	o, err := m.Submit(ctx, longIntent())
	require.NoError(t, err)

	_, err = m.CloseAt(ctx, o.ID, types.CloseManual, types.Quote{Symbol: "TEST", Bid: 101, Ask: 101, Time: t0})
	require.NoError(t, err)

	_, err = m.Close(ctx, o.ID, types.CloseManual)
	var ise *types.InvalidStateError
	require.ErrorAs(t, err, &ise)

	_, err = m.Modify(o.ID, 90, 120)
	require.ErrorAs(t, err, &ise)

	assert.Empty(t, m.Tick(ctx, quote("TEST", 80, t0.Add(time.Minute))))
	assert.Len(t, m.Ledger(), 1)
	assert.InDelta(t, 10010.0, m.Account().Balance, 1e-9)
}

func TestCancelOpenOrderFails(t *testing.T) {
	m := newManager(t, defaultLimits(), Config{})
	o, err := m.Submit(context.Background(), longIntent())
	require.NoError(t, err)

	var ise *types.InvalidStateError
	require.ErrorAs(t, m.Cancel(o.ID), &ise)
	assert.Equal(t, types.Open, ise.State)
}

func TestCancelPendingOrder(t *testing.T) {
	m := newManager(t, defaultLimits(), Config{})
	m.orders["p-1"] = &types.Order{ID: "p-1", Symbol: "TEST", State: types.Pending, History: []types.OrderState{types.Pending}}
	m.seq = append(m.seq, "p-1")

	require.NoError(t, m.Cancel("p-1"))
	o, err := m.Get("p-1")
	require.NoError(t, err)
	assert.Equal(t, types.Cancelled, o.State)
	assert.Equal(t, []types.OrderState{types.Pending, types.Cancelled}, o.History)

	var ise *types.InvalidStateError
	assert.ErrorAs(t, m.Cancel("p-1"), &ise)
}

func TestUnknownOrder(t *testing.T) {
	m := newManager(t, defaultLimits(), Config{})
	var nf *types.NotFoundError
	assert.ErrorAs(t, m.Cancel("missing"), &nf)
	_, err := m.Close(context.Background(), "missing", types.CloseManual)
	assert.ErrorAs(t, err, &nf)
	_, err = m.Get("missing")
	assert.ErrorAs(t, err, &nf)
}

func TestSubmitBatchSharesAccountSnapshot(t *testing.T) {
	limits := defaultLimits()
	limits.MaxOrdersPerStrategy = 2
	m := newManager(t, limits, Config{})

	intent := longIntent()
	intent.RequestedSize = 1
	quotes := quote("TEST", 100, t0)
	results := m.SubmitBatch(context.Background(), []types.OrderIntent{intent, intent, intent}, quotes)

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	rule, ok := types.RejectionRule(results[2].Err)
	require.True(t, ok)
	assert.Equal(t, types.RuleMaxOrders, rule)
	assert.Len(t, m.OpenOrders(), 2)
}

func TestSubmitBatchMissingQuote(t *testing.T) {
	m := newManager(t, defaultLimits(), Config{})
	results := m.SubmitBatch(context.Background(), []types.OrderIntent{longIntent()}, quote("OTHER", 50, t0))
	require.Len(t, results, 1)
	var nf *types.NotFoundError
	assert.ErrorAs(t, results[0].Err, &nf)
	assert.Empty(t, m.Orders())
}

type brokenFeed struct{ *sim.Feed }

func (brokenFeed) Quote(ctx context.Context, symbol string) (types.Quote, error) {
	return types.Quote{}, types.NewConnectionError("quote", errors.New("socket closed"), true)
}

func TestSubmitFeedFailureCreatesNothing(t *testing.T) {
	m := New(Config{InitialBalance: 10000}, brokenFeed{flatFeed()}, risk.New(defaultLimits()))
	_, err := m.Submit(context.Background(), longIntent())
	var ce *types.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Retryable)
	assert.Empty(t, m.Orders())
}

func TestExpiredOrderClosesAtMarket(t *testing.T) {
	m := newManager(t, defaultLimits(), Config{})
	intent := longIntent()
	intent.MaxDuration = time.Minute

	o, err := m.Submit(context.Background(), intent)
	require.NoError(t, err)

	assert.Empty(t, m.Tick(context.Background(), quote("TEST", 101, o.OpenedAt.Add(30*time.Second))))
	closed := m.Tick(context.Background(), quote("TEST", 102, o.OpenedAt.Add(time.Minute)))
	require.Len(t, closed, 1)
	assert.Equal(t, types.CloseExpired, closed[0].CloseReason)
	assert.InDelta(t, 20.0, closed[0].RealizedPnL, 1e-9)
}

func TestTrailingStop(t *testing.T) {
	m := newManager(t, defaultLimits(), Config{TrailingPct: 0.01})
	o, err := m.Submit(context.Background(), longIntent())
	require.NoError(t, err)

	m.Tick(context.Background(), quote("TEST", 104, t0))
	got, _ := m.Get(o.ID)
	assert.InDelta(t, 102.96, got.StopLoss, 1e-9)

	m.Tick(context.Background(), quote("TEST", 103.5, t0.Add(time.Second)))
	got, _ = m.Get(o.ID)
	assert.InDelta(t, 102.96, got.StopLoss, 1e-9, "stop must not loosen")

	closed := m.Tick(context.Background(), quote("TEST", 102.5, t0.Add(2*time.Second)))
	require.Len(t, closed, 1)
	assert.Equal(t, types.CloseStopLoss, closed[0].CloseReason)
	assert.InDelta(t, 25.0, closed[0].RealizedPnL, 1e-9)
}

func TestEquityMarksOpenOrders(t *testing.T) {
	m := newManager(t, defaultLimits(), Config{Leverage: 10})
	_, err := m.Submit(context.Background(), longIntent())
	require.NoError(t, err)

	m.Tick(context.Background(), quote("TEST", 102, t0))
	acct := m.Account()
	assert.InDelta(t, 10000.0, acct.Balance, 1e-9)
	assert.InDelta(t, 10020.0, acct.Equity, 1e-9)
	assert.InDelta(t, 100.0, acct.MarginUsed, 1e-9)
	assert.Equal(t, "USD", acct.Currency)
}

func TestModifyChecksLevels(t *testing.T) {
	m := newManager(t, defaultLimits(), Config{})
	o, err := m.Submit(context.Background(), longIntent())
	require.NoError(t, err)

	got, err := m.Modify(o.ID, 97, 115)
	require.NoError(t, err)
	assert.Equal(t, 97.0, got.StopLoss)
	assert.Equal(t, 115.0, got.TakeProfit)

	_, err = m.Modify(o.ID, 101, 115)
	rule, ok := types.RejectionRule(err)
	require.True(t, ok)
	assert.Equal(t, types.RuleStopSanity, rule)
}

func TestCloseByStrategyLeavesOthersOpen(t *testing.T) {
	m := newManager(t, defaultLimits(), Config{})
	ctx := context.Background()
	a := longIntent()
	a.RequestedSize = 1
	b := a
	b.StrategyID = "swing-1"

	_, err := m.Submit(ctx, a)
	require.NoError(t, err)
	_, err = m.Submit(ctx, a)
	require.NoError(t, err)
	_, err = m.Submit(ctx, b)
	require.NoError(t, err)

	closed, err := m.CloseByStrategy(ctx, "scalp-1", types.CloseDeactivated)
	require.NoError(t, err)
	assert.Len(t, closed, 2)
	open := m.OpenOrders()
	require.Len(t, open, 1)
	assert.Equal(t, "swing-1", open[0].StrategyID)
}

func TestDailyLossResetsAtMidnight(t *testing.T) {
	limits := defaultLimits()
	limits.MaxDailyLossPct = 0.004
	m := newManager(t, limits, Config{})
	ctx := context.Background()

	res := m.SubmitBatch(ctx, []types.OrderIntent{longIntent()}, quote("TEST", 100, t0))
	require.NoError(t, res[0].Err)
	require.Len(t, m.Tick(ctx, quote("TEST", 95, t0.Add(time.Minute))), 1)

	res = m.SubmitBatch(ctx, []types.OrderIntent{longIntent()}, quote("TEST", 100, t0.Add(time.Hour)))
	var rr *types.RiskRejection
	require.ErrorAs(t, res[0].Err, &rr)
	assert.Equal(t, types.RuleDailyLoss, rr.Rule)
	assert.InDelta(t, 10000.0, m.Account().DayStartBalance, 1e-9)

	nextDay := t0.Add(24 * time.Hour)
	res = m.SubmitBatch(ctx, []types.OrderIntent{longIntent()}, quote("TEST", 100, nextDay))
	require.NoError(t, res[0].Err)
	assert.InDelta(t, 9950.0, m.Account().DayStartBalance, 1e-9)
}

func TestBreachPrefersStopLoss(t *testing.T) {
	// Levels that a single price can cross at once.
	o := &types.Order{Direction: types.Long, StopLoss: 105, TakeProfit: 95, State: types.Open}
	reason, _, hit := breach(o, types.Quote{Bid: 100, Ask: 100})
	require.True(t, hit)
	assert.Equal(t, types.CloseStopLoss, reason)
}

func TestConcurrentUseKeepsLedgerConsistent(t *testing.T) {
	limits := defaultLimits()
	limits.MaxOrdersPerStrategy = 0
	limits.MaxExposurePct = 0
	m := newManager(t, limits, Config{})
	ctx := context.Background()

	intent := longIntent()
	intent.RequestedSize = 0.5

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = m.Submit(ctx, intent)
				_ = m.Account()
				_ = m.OpenOrders()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			price := 95.0
			if i%2 == 0 {
				price = 110
			}
			m.Tick(ctx, quote("TEST", price, t0.Add(time.Duration(i)*time.Second)))
		}
	}()
	wg.Wait()

	m.Tick(ctx, quote("TEST", 94, t0.Add(time.Hour)))
	for _, o := range m.Orders() {
		assert.Equal(t, types.Closed, o.State)
		assert.Equal(t, []types.OrderState{types.Pending, types.Open, types.Closed}, o.History)
	}
	assert.Len(t, m.Ledger(), len(m.Orders()))
	assert.True(t, m.ReplayBalance().Equal(m.Balance()))
}
