package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"trade-maestro/internal/connector"
	"trade-maestro/internal/eod"
	"trade-maestro/internal/logger"
	"trade-maestro/internal/trace"
	"trade-maestro/internal/types"
)

type runOptions struct {
	configPath string
	envPath    string
	duration   time.Duration
	reportPath string
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the tick loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts runOptions
			opts.configPath, _ = cmd.Flags().GetString("config")
			opts.envPath, _ = cmd.Flags().GetString("env")
			opts.duration, _ = cmd.Flags().GetDuration("duration")
			opts.reportPath, _ = cmd.Flags().GetString("report")
			return runEngine(cmd.Context(), opts)
		},
	}
	cmd.Flags().Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().String("report", "", "Write a JSON performance report to this file on shutdown")
	return cmd
}

func runEngine(parent context.Context, opts runOptions) error {
	loadEnv(opts.envPath)
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if err := initializeSystem(cfg); err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	tl, err := initializeTradeLog(cfg)
	if err != nil {
		return err
	}
	if err := initializeEOD(cfg, tl); err != nil {
		return err
	}
	compressOldLogs(ctx, cfg, tl)

	feed, start := initializeFeed(ctx, cfg)
	eng, observed, err := initializeEngine(cfg, feed, start)
	if err != nil {
		return err
	}
	closeSinks := initializeRecordSinks(ctx, cfg, eng.Tracker(), tl)
	alerts := initializeNotifier(ctx, cfg)
	if alerts != nil {
		eng.SetNotifier(alerts)
	}

	conn := initializeConnector(cfg, observed, feed)
	if ss := initializeSnapshotStore(ctx, cfg); ss != nil {
		conn.SetSnapshotSink(ss)
		defer ss.Close()
	}
	conn.OnStep(func(ctx context.Context, res *types.StepResult) {
		if err := tl.AppendStep(ctx, res); err != nil {
			logger.Warn(ctx, "Failed to log decisions", "error", err)
		}
	})

	go watchSnapshots(ctx, conn)
	go scheduleEOD(ctx)

	logger.Info(ctx, "Engine started",
		"mode", cfg.Mode,
		"symbols", cfg.Symbols,
		"strategies", len(cfg.Strategies),
		"tick_interval", cfg.TickInterval,
	)
	runErr := conn.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.Info(shutdownCtx, "Shutting down...")
	if err := conn.Disconnect(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "Disconnect failed", "error", err)
	}
	closeSinks(shutdownCtx)
	if alerts != nil {
		if err := alerts.Close(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "Pending notifications abandoned", "dropped", alerts.Dropped())
		}
	}
	if p, err := eod.SummarizeToday(); err == nil && p != "" {
		logger.Info(shutdownCtx, "EOD CSV written", "path", p)
	}
	if opts.reportPath != "" {
		if err := writeReport(opts.reportPath, eng.Tracker().ExportJSON); err != nil {
			logger.ErrorWithErr(shutdownCtx, "Failed to write report", err)
		}
	}

	snap := eng.Snapshot()
	logger.Info(shutdownCtx, "Session summary",
		"balance", snap.Account.Balance,
		"equity", snap.Account.Equity,
		"open_orders", len(snap.OpenOrders),
		"trades", snap.Metrics.TotalTrades,
		"win_rate", snap.Metrics.WinRate,
		"total_pnl", snap.Metrics.TotalPnL,
		"max_drawdown", snap.Metrics.MaxDrawdown,
	)
	if !snap.Time.IsZero() {
		day := eng.Tracker().DailySummary(snap.Time.In(tl.Location()))
		logger.Info(shutdownCtx, "Daily summary",
			"date", day.Date,
			"trades", day.Trades,
			"wins", day.Wins,
			"losses", day.Losses,
			"total_pnl", day.TotalPnL,
			"largest_win", day.LargestWin,
			"largest_loss", day.LargestLoss,
			"symbols", day.Symbols,
		)
	}
	if err := trace.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to flush traces: %v\n", err)
	}

	switch {
	case errors.Is(runErr, connector.ErrGaveUp):
		return runErr
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		return nil
	}
	return runErr
}

func watchSnapshots(ctx context.Context, conn *connector.Connector) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-conn.Snapshots():
			logger.Debug(ctx, "Snapshot",
				"time", s.Time,
				"equity", s.Account.Equity,
				"open_orders", len(s.OpenOrders),
				"trades", s.Metrics.TotalTrades,
				"feed_state", s.Health.State,
			)
		}
	}
}

func scheduleEOD(ctx context.Context) {
	tick := time.NewTicker(time.Minute)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if ok, _ := eod.ShouldRunNow(); ok {
				if p, err := eod.SummarizeToday(); err == nil && p != "" {
					logger.Info(ctx, "EOD CSV written", "path", p)
				}
			}
		}
	}
}

func writeReport(path string, export func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
