package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"trade-maestro/internal/performance"
	"trade-maestro/internal/storage"
	"trade-maestro/internal/store"
	"trade-maestro/internal/types"
)

func newMetricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Compute performance metrics from recorded trades",
		Long: `Reads closed trades from the JSONL trade log (or the Postgres record table)
and prints overall and per-strategy metrics as JSON.
Example: maestro metrics --from 2024-03-01 --to 2024-03-31 --strategy scalp-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			envPath, _ := cmd.Flags().GetString("env")
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			strategyID, _ := cmd.Flags().GetString("strategy")
			source, _ := cmd.Flags().GetString("source")

			loadEnv(envPath)
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			loc, err := time.LoadLocation(cfg.TradeLog.Timezone)
			if err != nil {
				return err
			}
			start, end, err := dayRange(from, to, loc)
			if err != nil {
				return err
			}

			var recs []types.PerformanceRecord
			switch source {
			case "tradelog":
				recs, err = tradeLogRecords(cfg, start, end)
			case "postgres":
				recs, err = postgresRecords(cmd.Context(), cfg, start, end)
			default:
				return fmt.Errorf("unknown source %q: use tradelog or postgres", source)
			}
			if err != nil {
				return err
			}
			if strategyID != "" {
				recs = onlyStrategy(recs, strategyID)
			}
			return performance.NewReport(recs, cfg.Account.InitialBalance).WriteJSON(cmd.OutOrStdout())
		},
	}

	cmd.Flags().String("from", "", "First day, YYYY-MM-DD (today if not provided)")
	cmd.Flags().String("to", "", "Last day, YYYY-MM-DD (same as --from if not provided)")
	cmd.Flags().String("strategy", "", "Only include this strategy id")
	cmd.Flags().String("source", "tradelog", "Where to read trades from: tradelog or postgres")
	return cmd
}

// dayRange parses the inclusive day range [from, to] in loc.
func dayRange(from, to string, loc *time.Location) (time.Time, time.Time, error) {
	today := time.Now().In(loc)
	start := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)
	if from != "" {
		t, err := time.ParseInLocation(time.DateOnly, from, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from, use YYYY-MM-DD: %w", err)
		}
		start = t
	}
	end := start
	if to != "" {
		t, err := time.ParseInLocation(time.DateOnly, to, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to, use YYYY-MM-DD: %w", err)
		}
		end = t
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("--to is before --from")
	}
	return start, end, nil
}

func tradeLogRecords(cfg *store.Config, start, end time.Time) ([]types.PerformanceRecord, error) {
	tl, err := initializeTradeLog(cfg)
	if err != nil {
		return nil, err
	}
	var out []types.PerformanceRecord
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		recs, err := tl.ReadDay(d)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", d.Format(time.DateOnly), err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

func postgresRecords(ctx context.Context, cfg *store.Config, start, end time.Time) ([]types.PerformanceRecord, error) {
	dsn := os.Getenv(cfg.Storage.PostgresDSNEnv)
	if dsn == "" {
		return nil, fmt.Errorf("%s is not set", cfg.Storage.PostgresDSNEnv)
	}
	rs, err := storage.NewRecordStore(ctx, dsn, cfg.Storage.RecordsTable)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	recs, err := rs.Records(ctx, "", start)
	if err != nil {
		return nil, err
	}
	limit := end.AddDate(0, 0, 1)
	out := recs[:0]
	for _, r := range recs {
		if r.ClosedAt.Before(limit) {
			out = append(out, r)
		}
	}
	return out, nil
}

func onlyStrategy(recs []types.PerformanceRecord, id string) []types.PerformanceRecord {
	out := make([]types.PerformanceRecord, 0, len(recs))
	for _, r := range recs {
		if r.StrategyID == id {
			out = append(out, r)
		}
	}
	return out
}
