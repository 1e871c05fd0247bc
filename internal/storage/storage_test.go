package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-maestro/internal/types"
)

func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("MAESTRO_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("MAESTRO_TEST_PG_DSN not set")
	}
	return dsn
}

func TestQueriesQuoteTableName(t *testing.T) {
	table := pq.QuoteIdentifier(`records"; DROP TABLE x; --`)
	assert.Contains(t, createQuery(table), `"records""; DROP TABLE x; --"`)
	assert.Contains(t, insertQuery(table), "ON CONFLICT (order_id) DO NOTHING")
}

func TestSnapshotRowRoundTrip(t *testing.T) {
	snap := types.Snapshot{
		Time:       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Account:    types.Account{Balance: 10050, Equity: 10075, Currency: "USD"},
		OpenOrders: []types.Order{{ID: "o-1", Symbol: "EURUSD", State: types.Open}},
		Metrics:    types.Metrics{TotalTrades: 3, WinRate: 2.0 / 3},
		Health:     types.Health{State: types.FeedConnected, Feed: types.FeedHealth{Feed: "simulated"}},
	}
	row, err := toRow(snap)
	require.NoError(t, err)
	assert.Equal(t, 10050.0, row.Balance)
	assert.Equal(t, 1, row.OpenOrders)
	assert.Equal(t, "simulated", row.Feed)

	back, err := fromRow(row)
	require.NoError(t, err)
	assert.Equal(t, snap.Account, back.Account)
	assert.Equal(t, snap.Metrics, back.Metrics)
	assert.True(t, snap.Time.Equal(back.Time))
	require.Len(t, back.OpenOrders, 1)
	assert.Equal(t, "o-1", back.OpenOrders[0].ID)

	_, err = fromRow(snapshotRow{ID: 7, Document: "{"})
	assert.ErrorContains(t, err, "snapshot 7")
}

func TestRecordStore(t *testing.T) {
	ctx := context.Background()
	table := fmt.Sprintf("records_test_%d", time.Now().UnixNano())
	s, err := NewRecordStore(ctx, testDSN(t), table)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.db.Exec("DROP TABLE " + s.table)
		s.Close()
	})

	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	recs := []types.PerformanceRecord{
		{OrderID: "a", Symbol: "EURUSD", StrategyID: "scalp-1", PnL: 12.5, Duration: 90 * time.Second, ClosedAt: at},
		{OrderID: "b", Symbol: "GBPUSD", StrategyID: "swing-1", PnL: -4, Duration: time.Hour, ClosedAt: at.Add(time.Minute)},
	}
	for _, r := range recs {
		require.NoError(t, s.Write(ctx, r))
	}
	// redelivery is ignored
	require.NoError(t, s.Write(ctx, recs[0]))

	all, err := s.Records(ctx, "", at)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].OrderID)
	assert.Equal(t, 90*time.Second, all[0].Duration)

	swing, err := s.Records(ctx, "swing-1", at)
	require.NoError(t, err)
	require.Len(t, swing, 1)
	assert.Equal(t, -4.0, swing[0].PnL)
}

func TestSnapshotStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewSnapshotStore(testDSN(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveSnapshot(ctx, types.Snapshot{
			Time:    base.Add(time.Duration(i) * time.Minute),
			Account: types.Account{Balance: 10000 + float64(i)},
		}))
	}

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10002.0, latest.Account.Balance)

	n, err := s.Prune(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(2))
}
