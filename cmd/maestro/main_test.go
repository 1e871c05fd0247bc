package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-maestro/internal/performance"
	"trade-maestro/internal/tradelog"
	"trade-maestro/internal/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "maestro dev\n", out)
}

func TestValidate(t *testing.T) {
	p := writeConfig(t, `
symbols: [EURUSD]
strategies:
  - {id: scalp-1, type: scalping, enabled: true}
  - {id: swing-1, type: swing}
`)
	out, err := execute(t, "validate", "--config", p)
	require.NoError(t, err)
	assert.Contains(t, out, "mode:       SIMULATED")
	assert.Contains(t, out, "scalp-1 (scalping, enabled)")
	assert.Contains(t, out, "swing-1 (swing, disabled)")

	bad := writeConfig(t, "mode: paper\n")
	_, err = execute(t, "validate", "--config", bad)
	assert.ErrorContains(t, err, "invalid mode")
}

func TestMetricsFromTradeLog(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, "tradelog: {dir: "+dir+"}\naccount: {initial_balance: 1000}\n")

	tl := tradelog.New(dir, time.UTC)
	day := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	for i, pnl := range []float64{10, -5, 20} {
		strategy := "scalp-1"
		if i == 2 {
			strategy = "swing-1"
		}
		require.NoError(t, tl.Write(context.Background(), types.PerformanceRecord{
			OrderID:    string(rune('a' + i)),
			Symbol:     "EURUSD",
			StrategyID: strategy,
			PnL:        pnl,
			ClosedAt:   day.AddDate(0, 0, i),
		}))
	}

	out, err := execute(t, "metrics", "--config", p, "--from", "2024-03-04", "--to", "2024-03-05")
	require.NoError(t, err)
	var r performance.Report
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, 2, r.Overall.TotalTrades)
	assert.Equal(t, 5.0, r.Overall.TotalPnL)
	assert.Contains(t, r.PerStrategy, "scalp-1")
	assert.NotContains(t, r.PerStrategy, "swing-1")

	out, err = execute(t, "metrics", "--config", p, "--from", "2024-03-04", "--to", "2024-03-06", "--strategy", "swing-1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, 1, r.Overall.TotalTrades)
	assert.Equal(t, 20.0, r.Overall.TotalPnL)

	_, err = execute(t, "metrics", "--config", p, "--from", "2024-03-05", "--to", "2024-03-04")
	assert.ErrorContains(t, err, "before")
}

func TestRunSimulatedSession(t *testing.T) {
	dir := t.TempDir()
	report := filepath.Join(dir, "report.json")
	p := writeConfig(t, `
tick_interval: 1ms
symbols: [EURUSD]
simulation:
  seed: 3
  symbols:
    EURUSD: {price: 1.05, spread: 0.0002, volatility: 0.001}
history:
  lookback: 10m
tradelog:
  dir: `+dir+`
strategies:
  - {id: scalp-1, type: scalping, enabled: true}
`)
	t.Setenv("MAESTRO_TRACING_ENABLED", "false")

	_, err := execute(t, "run", "--config", p, "--env", "", "--duration", "300ms", "--report", report)
	require.NoError(t, err)

	b, err := os.ReadFile(report)
	require.NoError(t, err)
	var r performance.Report
	require.NoError(t, json.Unmarshal(b, &r))
	assert.Len(t, r.Records, r.Overall.TotalTrades)
}
