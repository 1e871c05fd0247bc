package tradelog

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-maestro/internal/types"
)

func record(id string, closed time.Time, pnl float64) types.PerformanceRecord {
	return types.PerformanceRecord{
		OrderID:    id,
		Symbol:     "EURUSD",
		StrategyID: "scalp-1",
		PnL:        pnl,
		Duration:   2 * time.Minute,
		ClosedAt:   closed,
	}
}

func TestWriteAndReadDay(t *testing.T) {
	l := New(t.TempDir(), time.UTC)
	ctx := context.Background()
	day := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

	require.NoError(t, l.Write(ctx, record("a", day, 5)))
	require.NoError(t, l.Write(ctx, record("b", day.Add(time.Hour), -2)))
	require.NoError(t, l.Write(ctx, record("c", day.AddDate(0, 0, 1), 1)))

	recs, err := l.ReadDay(day)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].OrderID)
	assert.Equal(t, -2.0, recs[1].PnL)
	assert.Equal(t, 2*time.Minute, recs[1].Duration)

	none, err := l.ReadDay(day.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDaysFollowLocation(t *testing.T) {
	ist := time.FixedZone("IST", 19800)
	l := New(t.TempDir(), ist)
	// 20:00 UTC is already the next day in IST
	closed := time.Date(2024, 5, 6, 20, 0, 0, 0, time.UTC)
	require.NoError(t, l.Write(context.Background(), record("a", closed, 1)))

	assert.FileExists(t, filepath.Join(l.Dir(), "2024-05-07.txt"))
}

func TestMalformedLinesSkipped(t *testing.T) {
	l := New(t.TempDir(), nil)
	day := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	require.NoError(t, l.Write(context.Background(), record("a", day, 1)))

	f, err := os.OpenFile(l.DayFile(day), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n{}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	recs, err := l.ReadDay(day)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestAppendStep(t *testing.T) {
	l := New(t.TempDir(), nil)
	at := time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC)
	intent := types.OrderIntent{Symbol: "EURUSD", Direction: types.Long, StrategyID: "scalp-1", Confidence: 0.8, Reason: "ema cross"}
	res := &types.StepResult{
		Time:     at,
		Opened:   []types.Order{{ID: "o-1", Symbol: "EURUSD", Direction: types.Long, Size: 2, StrategyID: "scalp-1", Intent: intent}},
		Rejected: []types.RejectedIntent{{Intent: intent, Reason: "risk rejection (max-orders): limit"}},
	}
	require.NoError(t, l.AppendStep(context.Background(), res))
	require.NoError(t, l.AppendStep(context.Background(), &types.StepResult{Time: at}))

	f, err := os.Open(filepath.Join(l.Dir(), "decisions", "2024-05-06.txt"))
	require.NoError(t, err)
	defer f.Close()

	var got []DecisionEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e DecisionEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.True(t, got[0].Admitted)
	assert.Equal(t, "o-1", got[0].OrderID)
	assert.Equal(t, types.Long, got[0].Direction)
	assert.False(t, got[1].Admitted)
	assert.Contains(t, got[1].Rejection, "max-orders")
}

func TestCompressOlder(t *testing.T) {
	l := New(t.TempDir(), nil)
	old := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	recent := old.AddDate(0, 0, 10)
	require.NoError(t, l.Write(context.Background(), record("a", old, 3)))
	require.NoError(t, l.Write(context.Background(), record("b", recent, 4)))

	past := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(l.DayFile(old), past, past))

	n, err := l.CompressOlder(7)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, l.DayFile(old))
	assert.FileExists(t, l.DayFile(old)+".gz")
	assert.FileExists(t, l.DayFile(recent))

	// rotated days are still readable
	recs, err := l.ReadDay(old)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].OrderID)

	n, err = l.CompressOlder(0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCompressMissingDir(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "absent"), nil)
	n, err := l.CompressOlder(1)
	require.NoError(t, err)
	assert.Zero(t, n)
}
