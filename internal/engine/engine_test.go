package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-maestro/internal/feed/sim"
	"trade-maestro/internal/notify"
	"trade-maestro/internal/store"
	"trade-maestro/internal/types"
)

var simStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const testConfig = `
mode: simulated
symbols: [EURUSD, GBPUSD]
account:
  initial_balance: 10000
risk:
  max_orders_per_strategy: 3
history:
  lookback: 30m
  granularity: 1m
strategies:
  - id: scalp-1
    type: scalping
    enabled: true
  - id: swing-1
    type: swing
    enabled: true
    parameters:
      fast_period: 5
      slow_period: 12
`

func newSimFeed(seed int64) *sim.Feed {
	return sim.New(sim.Config{
		Seed:  seed,
		Step:  time.Second,
		Start: simStart,
		Symbols: map[string]sim.SymbolParams{
			"EURUSD": {Price: 1.05, Spread: 0.0002, Volatility: 0.001},
			"GBPUSD": {Price: 1.26, Spread: 0.0002, Volatility: 0.001},
		},
	})
}

func build(t *testing.T, seed int64) *Engine {
	t.Helper()
	cfg, err := store.Parse([]byte(testConfig))
	require.NoError(t, err)
	e, err := Build(cfg, newSimFeed(seed), func() time.Time { return simStart })
	require.NoError(t, err)
	return e
}

func run(t *testing.T, e *Engine, ticks int) (opened, closed int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < ticks; i++ {
		res, err := e.Step(ctx)
		require.NoError(t, err)
		opened += len(res.Opened)
		closed += len(res.Closed)
	}
	return opened, closed
}

func TestStepEndToEnd(t *testing.T) {
	e := build(t, 7)
	require.NoError(t, e.Warmup(context.Background()))
	assert.NotEmpty(t, e.Window("EURUSD"))

	opened, closed := run(t, e, 1500)
	assert.NotZero(t, opened)
	assert.NotZero(t, closed)

	// one record per closed order, and the balance replays from the ledger
	recs := e.Tracker().Records()
	assert.Len(t, recs, closed)
	var pnl float64
	for _, r := range recs {
		pnl += r.PnL
	}
	acct := e.Orders().Account()
	assert.InDelta(t, 10000+pnl, acct.Balance, 1e-6)
	assert.True(t, e.Orders().ReplayBalance().Equal(e.Orders().Balance()))

	for _, o := range e.Orders().Orders() {
		assert.NotEmpty(t, o.StrategyID)
		assert.Equal(t, o.StrategyID, o.Intent.StrategyID)
	}

	snap := e.Snapshot()
	assert.Equal(t, len(recs), snap.Metrics.TotalTrades)
	assert.Equal(t, acct.Balance, snap.Account.Balance)
	assert.Len(t, snap.OpenOrders, opened-closed)
	for id, m := range snap.PerStrategy {
		assert.Equal(t, m.TotalTrades, e.Tracker().Metrics(id).TotalTrades)
	}
}

func TestStepIsDeterministic(t *testing.T) {
	a, b := build(t, 11), build(t, 11)
	run(t, a, 600)
	run(t, b, 600)

	ra, rb := a.Tracker().Records(), b.Tracker().Records()
	require.Equal(t, len(ra), len(rb))
	for i := range ra {
		assert.Equal(t, ra[i].PnL, rb[i].PnL)
		assert.Equal(t, ra[i].StrategyID, rb[i].StrategyID)
	}
	assert.Equal(t, a.Orders().Account(), b.Orders().Account())
}

func TestRiskLimitHolds(t *testing.T) {
	e := build(t, 3)
	ctx := context.Background()
	for i := 0; i < 800; i++ {
		_, err := e.Step(ctx)
		require.NoError(t, err)
		per := map[string]int{}
		for _, o := range e.Orders().OpenOrders() {
			per[o.StrategyID]++
		}
		for id, n := range per {
			assert.LessOrEqual(t, n, 3, "strategy %s", id)
		}
	}
}

type downFeed struct {
	*sim.Feed
	down bool
}

func (d *downFeed) Quote(ctx context.Context, symbol string) (types.Quote, error) {
	if d.down {
		return types.Quote{}, types.NewConnectionError("quote", errors.New("connection refused"), true)
	}
	return d.Feed.Quote(ctx, symbol)
}

func TestFeedFailureSkipsTick(t *testing.T) {
	cfg, err := store.Parse([]byte(testConfig))
	require.NoError(t, err)
	feed := &downFeed{Feed: newSimFeed(5)}
	e, err := Build(cfg, feed, nil)
	require.NoError(t, err)

	run(t, e, 300)
	before := e.Orders().Orders()
	window := e.Window("EURUSD")
	acct := e.Orders().Account()

	feed.down = true
	_, err = e.Step(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))

	assert.Equal(t, before, e.Orders().Orders())
	assert.Equal(t, window, e.Window("EURUSD"))
	assert.Equal(t, acct, e.Orders().Account())
}

type slowFeed struct{ *sim.Feed }

func (s slowFeed) Quote(ctx context.Context, _ string) (types.Quote, error) {
	<-ctx.Done()
	return types.Quote{}, ctx.Err()
}

func TestSlowFeedTimesOut(t *testing.T) {
	cfg, err := store.Parse([]byte(testConfig))
	require.NoError(t, err)
	cfg.Connector.CallTimeout = 20 * time.Millisecond
	e, err := Build(cfg, slowFeed{newSimFeed(1)}, nil)
	require.NoError(t, err)

	_, err = e.Step(context.Background())
	var ce *types.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Retryable)
}

type recordingNotifier struct {
	closes     int
	rejections int
}

func (n *recordingNotifier) NotifyClose(context.Context, types.Order) error {
	n.closes++
	return nil
}

func (n *recordingNotifier) NotifyRejection(context.Context, types.OrderIntent, string) error {
	n.rejections++
	return errors.New("chat unavailable")
}

func TestNotifierSeesClosesAndRejections(t *testing.T) {
	e := build(t, 7)
	n := &recordingNotifier{}
	e.SetNotifier(n)

	var rejected int
	ctx := context.Background()
	for i := 0; i < 1500; i++ {
		res, err := e.Step(ctx)
		require.NoError(t, err)
		rejected += len(res.Rejected)
	}
	assert.Equal(t, len(e.Tracker().Records()), n.closes)
	assert.Equal(t, rejected, n.rejections)
}

type slowNotifier struct{ delay time.Duration }

func (n slowNotifier) NotifyClose(context.Context, types.Order) error {
	time.Sleep(n.delay)
	return nil
}

func (n slowNotifier) NotifyRejection(context.Context, types.OrderIntent, string) error {
	time.Sleep(n.delay)
	return nil
}

func TestQueuedNotificationsKeepStepsFast(t *testing.T) {
	e := build(t, 7)
	alerts := notify.NewAsync(slowNotifier{delay: 200 * time.Millisecond}, 8)
	e.SetNotifier(alerts)

	var worst time.Duration
	var events int
	ctx := context.Background()
	for i := 0; i < 1500; i++ {
		start := time.Now()
		res, err := e.Step(ctx)
		require.NoError(t, err)
		worst = max(worst, time.Since(start))
		events += len(res.Closed) + len(res.Rejected)
	}
	require.NotZero(t, events)
	assert.Less(t, worst, 100*time.Millisecond)

	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_ = alerts.Close(closeCtx)
}

func TestDeactivateKeepsOrdersOpen(t *testing.T) {
	e := build(t, 7)
	ctx := context.Background()
	for i := 0; i < 1500 && len(e.Orders().OpenOrders()) == 0; i++ {
		_, err := e.Step(ctx)
		require.NoError(t, err)
	}
	open := e.Orders().OpenOrders()
	require.NotEmpty(t, open)
	id := open[0].StrategyID

	require.NoError(t, e.Strategies().Deactivate(id))
	still, err := e.Orders().Get(open[0].ID)
	require.NoError(t, err)
	assert.Equal(t, types.Open, still.State)
}
