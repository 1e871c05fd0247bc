package risk

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-maestro/internal/types"
)

func openOrders(strategyID string, n int, size, entry float64) []types.Order {
	out := make([]types.Order, n)
	for i := range out {
		out[i] = types.Order{
			ID:         fmt.Sprintf("%s-%d", strategyID, i),
			StrategyID: strategyID,
			State:      types.Open,
			Size:       size,
			EntryPrice: entry,
		}
	}
	return out
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

func TestAdmit(t *testing.T) {
	limits := Limits{MaxOrdersPerStrategy: 10, MaxExposurePct: 1, RiskPct: 0.01, SizeStep: 0.01, MaxDailyLossPct: 0.05}
	account := types.Account{Balance: 10000, Equity: 10000, Currency: "USD"}

	tests := []struct {
		name     string
		intent   func() types.OrderIntent
		entry    float64
		account  types.Account
		open     []types.Order
		wantSize float64
		wantRule types.RiskRule
	}{
		{
			name:     "requested size caps risk size",
			intent:   longIntent,
			entry:    100,
			account:  account,
			wantSize: 10,
		},
		{
			name: "risk size caps requested size",
			intent: func() types.OrderIntent {
				i := longIntent()
				i.RequestedSize = 50
				return i
			},
			entry:    100,
			account:  account,
			wantSize: 20,
		},
		{
			name:     "eleventh order for strategy",
			intent:   longIntent,
			entry:    100,
			account:  account,
			open:     openOrders("scalp-1", 10, 0.01, 100),
			wantRule: types.RuleMaxOrders,
		},
		{
			name:     "other strategy orders do not count",
			intent:   longIntent,
			entry:    100,
			account:  account,
			open:     openOrders("swing-1", 10, 0.01, 100),
			wantSize: 10,
		},
		{
			name:     "exposure limit",
			intent:   longIntent,
			entry:    100,
			account:  account,
			open:     openOrders("swing-1", 1, 95, 100),
			wantRule: types.RuleMaxExposure,
		},
		{
			name:     "size rounds to zero",
			intent:   longIntent,
			entry:    100,
			account:  types.Account{Balance: 1, Equity: 1},
			wantRule: types.RuleSizingZero,
		},
		{
			name: "zero requested size",
			intent: func() types.OrderIntent {
				i := longIntent()
				i.RequestedSize = 0
				return i
			},
			entry:    100,
			account:  account,
			wantRule: types.RuleSizingZero,
		},
		{
			name: "long stop above entry",
			intent: func() types.OrderIntent {
				i := longIntent()
				i.StopLoss = 105
				return i
			},
			entry:    100,
			account:  account,
			wantRule: types.RuleStopSanity,
		},
		{
			name: "stop equal to entry",
			intent: func() types.OrderIntent {
				i := longIntent()
				i.StopLoss = 100
				return i
			},
			entry:    100,
			account:  account,
			wantRule: types.RuleStopSanity,
		},
		{
			name: "short with reversed levels",
			intent: func() types.OrderIntent {
				i := longIntent()
				i.Direction = types.Short
				i.StopLoss = 105
				i.TakeProfit = 90
				return i
			},
			entry:    100,
			account:  account,
			wantSize: 10,
		},
		{
			name: "short with long levels",
			intent: func() types.OrderIntent {
				i := longIntent()
				i.Direction = types.Short
				return i
			},
			entry:    100,
			account:  account,
			wantRule: types.RuleStopSanity,
		},
		{
			name:     "daily loss limit reached",
			intent:   longIntent,
			entry:    100,
			account:  types.Account{Balance: 9500, Equity: 9500, DayStartBalance: 10000},
			wantRule: types.RuleDailyLoss,
		},
		{
			name:     "daily loss below limit",
			intent:   longIntent,
			entry:    100,
			account:  types.Account{Balance: 9600, Equity: 9600, DayStartBalance: 10000},
			wantSize: 10,
		},
		{
			name: "stop sanity checked before daily loss",
			intent: func() types.OrderIntent {
				i := longIntent()
				i.StopLoss = 105
				return i
			},
			entry:    100,
			account:  types.Account{Balance: 9000, Equity: 9000, DayStartBalance: 10000},
			wantRule: types.RuleStopSanity,
		},
		{
			name: "first failing rule wins",
			intent: func() types.OrderIntent {
				i := longIntent()
				i.StopLoss = 105
				return i
			},
			entry:    100,
			account:  account,
			open:     openOrders("scalp-1", 10, 0.01, 100),
			wantRule: types.RuleMaxOrders,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(limits)
			size, err := m.Admit(tt.intent(), tt.entry, tt.account, tt.open)
			if tt.wantRule != "" {
				var rr *types.RiskRejection
				require.ErrorAs(t, err, &rr)
				assert.Equal(t, tt.wantRule, rr.Rule)
				assert.NotEmpty(t, rr.Reason)
				assert.Zero(t, size)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.wantSize, size, 1e-9)
		})
	}
}

func TestAdmitIsPure(t *testing.T) {
	m := New(Limits{MaxOrdersPerStrategy: 3, MaxExposurePct: 5, RiskPct: 0.02, SizeStep: 0.1})
	account := types.Account{Balance: 5000, Equity: 5200}
	open := openOrders("scalp-1", 2, 1, 100)
	before := append([]types.Order(nil), open...)

	s1, err1 := m.Admit(longIntent(), 100, account, open)
	s2, err2 := m.Admit(longIntent(), 100, account, open)

	assert.Equal(t, s1, s2)
	assert.Equal(t, err1, err2)
	assert.Equal(t, before, open)
}

func TestDisabledLimits(t *testing.T) {
	m := New(Limits{RiskPct: 0.01})
	size, err := m.Admit(longIntent(), 100, types.Account{Equity: 10000}, openOrders("scalp-1", 100, 1000, 100))
	require.NoError(t, err)
	assert.Equal(t, 10.0, size)
}

func TestRoundDown(t *testing.T) {
	assert.Equal(t, 10.0, roundDown(10, 0.01))
	assert.Equal(t, 0.12, roundDown(0.129, 0.01))
	assert.Equal(t, 0.0, roundDown(0.009, 0.01))
	assert.Equal(t, 3.7, roundDown(3.7, 0))
}
