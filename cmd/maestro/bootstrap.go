package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"trade-maestro/internal/backoff"
	"trade-maestro/internal/connector"
	"trade-maestro/internal/engine"
	"trade-maestro/internal/engine/engineobs"
	"trade-maestro/internal/eod"
	"trade-maestro/internal/eod/eodobs"
	"trade-maestro/internal/feed/binance"
	"trade-maestro/internal/feed/feedobs"
	"trade-maestro/internal/feed/kite"
	"trade-maestro/internal/feed/sim"
	"trade-maestro/internal/interfaces"
	"trade-maestro/internal/logger"
	"trade-maestro/internal/notify"
	"trade-maestro/internal/performance"
	"trade-maestro/internal/storage"
	"trade-maestro/internal/store"
	"trade-maestro/internal/trace"
	"trade-maestro/internal/tradelog"
	"trade-maestro/internal/types"
)

// loadConfig reads, defaults and validates the YAML config at path.
func loadConfig(path string) (*store.Config, error) {
	cfg, err := store.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}

// loadEnv exports credentials from path. A missing file is not an error.
func loadEnv(path string) {
	if path == "" {
		return
	}
	_ = godotenv.Load(path)
}

// initializeSystem sets up logging and tracing from configuration.
func initializeSystem(cfg *store.Config) error {
	if err := logger.InitWithConfig(logger.LogConfig{
		Level:           cfg.Logging.Level,
		Format:          cfg.Logging.Format,
		DetailedLogging: cfg.Logging.Detailed,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	tc := trace.ConfigFromEnv()
	tc.Version = version
	if err := trace.InitWithConfig(tc); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

// initializeFeed builds the feed selected by mode, wrapped with observability.
// start is where warmup history ends.
func initializeFeed(ctx context.Context, cfg *store.Config) (interfaces.PriceFeed, time.Time) {
	switch cfg.Mode {
	case store.ModeKite:
		logger.Info(ctx, "Using Kite Connect price feed", "exchange", cfg.Kite.Exchange, "stream", cfg.Kite.Stream)
		return feedobs.Wrap(kite.New(kite.Config{
			APIKey:      os.Getenv(cfg.Kite.APIKeyEnv),
			AccessToken: os.Getenv(cfg.Kite.AccessTokenEnv),
			Exchange:    cfg.Kite.Exchange,
			Symbols:     cfg.Symbols,
			Timeout:     cfg.Kite.Timeout,
			Stream:      cfg.Kite.Stream,
		})), time.Time{}

	case store.ModeBinance:
		logger.Info(ctx, "Using Binance price feed", "testnet", cfg.Binance.Testnet)
		return feedobs.Wrap(binance.New(binance.Config{
			APIKey:    os.Getenv(cfg.Binance.APIKeyEnv),
			SecretKey: os.Getenv(cfg.Binance.SecretKeyEnv),
			Testnet:   cfg.Binance.Testnet,
			Symbols:   cfg.Symbols,
			Timeout:   cfg.Binance.Timeout,
		})), time.Time{}

	default:
		params := sim.DefaultSymbols()
		for sym, p := range cfg.Simulation.Symbols {
			params[sym] = sim.SymbolParams{Price: p.Price, Spread: p.Spread, Volatility: p.Volatility, Drift: p.Drift}
		}
		feed := sim.New(sim.Config{
			Seed:    cfg.Simulation.Seed,
			Step:    cfg.Simulation.Step,
			Start:   cfg.Simulation.Start,
			Symbols: params,
		})
		logger.Warn(ctx, "Running against the simulated feed - quotes are synthetic", "seed", cfg.Simulation.Seed)
		return feedobs.Wrap(feed), feed.Start()
	}
}

// initializeEngine builds the engine. The returned interface carries the
// observability decorator; the concrete engine exposes its collaborators.
func initializeEngine(cfg *store.Config, feed interfaces.PriceFeed, start time.Time) (*engine.Engine, interfaces.Engine, error) {
	var now func() time.Time
	if !start.IsZero() {
		now = func() time.Time { return start }
	}
	eng, err := engine.Build(cfg, feed, now)
	if err != nil {
		return nil, nil, err
	}
	return eng, engineobs.Wrap(eng), nil
}

// initializeRecordSinks attaches the trade log and, when configured, the
// Postgres record table. The returned closer drains queued records.
func initializeRecordSinks(ctx context.Context, cfg *store.Config, tracker *performance.Tracker, tl *tradelog.Log) func(context.Context) {
	tracker.AddSink(tl)

	dsn := os.Getenv(cfg.Storage.PostgresDSNEnv)
	if cfg.Storage.PostgresDSNEnv == "" || dsn == "" {
		return func(context.Context) {}
	}
	rs, err := storage.NewRecordStore(ctx, dsn, cfg.Storage.RecordsTable)
	if err != nil {
		logger.Warn(ctx, "Postgres record store unavailable - records go to the trade log only", "error", err)
		return func(context.Context) {}
	}
	async := performance.NewAsyncSink(rs, 256, retryPolicy(cfg))
	tracker.AddSink(async)
	logger.Info(ctx, "Recording performance to Postgres", "table", cfg.Storage.RecordsTable)

	return func(ctx context.Context) {
		if err := async.Close(ctx); err != nil {
			logger.Warn(ctx, "Record queue not fully drained", "error", err, "dropped", async.Dropped())
		}
		rs.Close()
	}
}

// initializeSnapshotStore returns nil when snapshots are not persisted.
func initializeSnapshotStore(ctx context.Context, cfg *store.Config) *storage.SnapshotStore {
	if cfg.Storage.SnapshotDSNEnv == "" {
		return nil
	}
	dsn := os.Getenv(cfg.Storage.SnapshotDSNEnv)
	if dsn == "" {
		return nil
	}
	ss, err := storage.NewSnapshotStore(dsn)
	if err != nil {
		logger.Warn(ctx, "Snapshot store unavailable", "error", err)
		return nil
	}

	if days := cfg.TradeLog.RetentionDays; days > 0 {
		cutoff := time.Now().AddDate(0, 0, -days)
		if n, err := ss.Prune(ctx, cutoff); err != nil {
			logger.Warn(ctx, "Failed to prune snapshots", "error", err)
		} else if n > 0 {
			logger.Info(ctx, "Pruned old snapshots", "count", n, "before", cutoff.Format(time.DateOnly))
		}
	}

	last, err := ss.Latest(ctx)
	var nf *types.NotFoundError
	switch {
	case errors.As(err, &nf):
		logger.Debug(ctx, "No previous snapshot")
	case err != nil:
		logger.Warn(ctx, "Failed to read last snapshot", "error", err)
	default:
		logger.Info(ctx, "Previous session snapshot",
			"time", last.Time,
			"balance", last.Account.Balance,
			"open_orders", len(last.OpenOrders),
		)
	}
	return ss
}

// initializeNotifier returns nil when Telegram alerts are disabled. Alerts
// are queued and sent off the tick loop.
func initializeNotifier(ctx context.Context, cfg *store.Config) *notify.Async {
	tg := cfg.Notify.Telegram
	if !tg.Enabled {
		return nil
	}
	n, err := notify.NewTelegram(notify.Config{
		Token:   os.Getenv(tg.TokenEnv),
		ChatID:  tg.ChatID,
		BaseURL: tg.BaseURL,
		Retries: 2,
	})
	if err != nil {
		logger.Warn(ctx, "Telegram notifications disabled", "error", err)
		return nil
	}
	return notify.NewAsync(n, 64)
}

func initializeTradeLog(cfg *store.Config) (*tradelog.Log, error) {
	loc, err := time.LoadLocation(cfg.TradeLog.Timezone)
	if err != nil {
		return nil, err
	}
	return tradelog.New(cfg.TradeLog.Dir, loc), nil
}

// initializeEOD installs the default summarizer with observability.
func initializeEOD(cfg *store.Config, tl *tradelog.Log) error {
	closeAt, err := eod.ParseClock(cfg.TradeLog.EODClose)
	if err != nil {
		return err
	}
	eod.SetDefaultSummarizer(eodobs.Wrap(eod.NewSummarizer(tl, closeAt)))
	return nil
}

// compressOldLogs rotates trade log files past the retention window.
func compressOldLogs(ctx context.Context, cfg *store.Config, tl *tradelog.Log) {
	n, err := tl.CompressOlder(cfg.TradeLog.RetentionDays)
	if err != nil {
		logger.Warn(ctx, "Failed to compress old logs", "error", err)
		return
	}
	if n > 0 {
		logger.Info(ctx, "Compressed old trade logs", "files", n)
	}
}

func initializeConnector(cfg *store.Config, eng interfaces.Engine, feed interfaces.PriceFeed) *connector.Connector {
	return connector.New(connector.Config{
		TickInterval:   cfg.TickInterval,
		CallTimeout:    cfg.Connector.CallTimeout,
		Backoff:        retryPolicy(cfg),
		SnapshotBuffer: cfg.Connector.SnapshotBuffer,
		SnapshotEvery:  cfg.Storage.SnapshotEvery,
	}, eng, feed)
}

func retryPolicy(cfg *store.Config) backoff.Backoff {
	b := cfg.Connector.Backoff
	return backoff.Backoff{
		Min:         b.Min,
		Max:         b.Max,
		Factor:      b.Factor,
		Jitter:      b.Jitter,
		MaxAttempts: b.MaxAttempts,
	}
}
