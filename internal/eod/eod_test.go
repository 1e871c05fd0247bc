package eod

import (
	"context"
	"encoding/csv"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-maestro/internal/tradelog"
	"trade-maestro/internal/types"
)

func seed(t *testing.T, l *tradelog.Log, day time.Time) {
	t.Helper()
	recs := []types.PerformanceRecord{
		{OrderID: "1", Symbol: "EURUSD", StrategyID: "scalp-1", PnL: 10, Duration: time.Minute, ClosedAt: day},
		{OrderID: "2", Symbol: "EURUSD", StrategyID: "scalp-1", PnL: -4, Duration: 3 * time.Minute, ClosedAt: day.Add(time.Hour)},
		{OrderID: "3", Symbol: "GBPUSD", StrategyID: "scalp-1", PnL: 2, Duration: time.Minute, ClosedAt: day.Add(2 * time.Hour)},
		{OrderID: "4", Symbol: "EURUSD", StrategyID: "swing-1", PnL: -6, Duration: time.Hour, ClosedAt: day.Add(3 * time.Hour)},
	}
	for _, r := range recs {
		require.NoError(t, l.Write(context.Background(), r))
	}
}

func readCSV(t *testing.T, p string) [][]string {
	t.Helper()
	f, err := os.Open(p)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestSummarizeDay(t *testing.T) {
	l := tradelog.New(t.TempDir(), time.UTC)
	day := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	seed(t, l, day)

	s := newSummarizer(l, 22*time.Hour, time.Now)
	p, err := s.SummarizeDay(day)
	require.NoError(t, err)

	rows := readCSV(t, p)
	require.Len(t, rows, 5)
	assert.Equal(t, header, rows[0])
	assert.Equal(t, []string{"scalp-1", "EURUSD", "2", "1", "1", "0.5000", "10.00", "4.00", "6.00", "120"}, rows[1])
	assert.Equal(t, []string{"scalp-1", "GBPUSD", "1", "1", "0", "1.0000", "2.00", "0.00", "2.00", "60"}, rows[2])
	assert.Equal(t, []string{"swing-1", "EURUSD", "1", "0", "1", "0.0000", "0.00", "6.00", "-6.00", "3600"}, rows[3])
	assert.Equal(t, "TOTAL", rows[4][0])
	assert.Equal(t, "4", rows[4][2])
	assert.Equal(t, "2.00", rows[4][8])
}

func TestSummarizeEmptyDay(t *testing.T) {
	l := tradelog.New(t.TempDir(), time.UTC)
	s := newSummarizer(l, 0, time.Now)
	p, err := s.SummarizeDay(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, p)
}

func TestShouldRunNow(t *testing.T) {
	l := tradelog.New(t.TempDir(), time.UTC)
	now := time.Date(2024, 2, 1, 21, 0, 0, 0, time.UTC)
	seed(t, l, now.Add(-12*time.Hour))

	before := newSummarizer(l, 22*time.Hour, func() time.Time { return now })
	run, _ := before.ShouldRunNow()
	assert.False(t, run)

	after := newSummarizer(l, 20*time.Hour, func() time.Time { return now })
	run, p := after.ShouldRunNow()
	assert.True(t, run)

	written, err := after.SummarizeToday()
	require.NoError(t, err)
	assert.Equal(t, p, written)

	run, _ = after.ShouldRunNow()
	assert.False(t, run)
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("15:40")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Hour+40*time.Minute, d)

	for _, bad := range []string{"", "25:00", "12:61", "noon"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}
