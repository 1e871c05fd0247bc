package store

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"trade-maestro/internal/backoff"
	"trade-maestro/internal/types"
)

const (
	ModeSimulated = "SIMULATED"
	ModeKite      = "KITE"
	ModeBinance   = "BINANCE"
)

type Config struct {
	Mode         string        `yaml:"mode"`
	TickInterval time.Duration `yaml:"tick_interval"`
	Symbols      []string      `yaml:"symbols"`

	Account struct {
		InitialBalance float64 `yaml:"initial_balance"`
		Currency       string  `yaml:"currency"`
		Leverage       float64 `yaml:"leverage"`
	} `yaml:"account"`

	Risk struct {
		MaxOrdersPerStrategy int     `yaml:"max_orders_per_strategy"`
		MaxExposurePct       float64 `yaml:"max_exposure_pct"`
		RiskPct              float64 `yaml:"risk_pct"`
		SizeStep             float64 `yaml:"size_step"`
		MaxDailyLossPct      float64 `yaml:"max_daily_loss_pct"`
	} `yaml:"risk"`

	Orders struct {
		TrailingPct float64 `yaml:"trailing_pct"`
	} `yaml:"orders"`

	History struct {
		Lookback    time.Duration `yaml:"lookback"`
		Granularity time.Duration `yaml:"granularity"`
	} `yaml:"history"`

	Simulation struct {
		Seed    int64                    `yaml:"seed"`
		Step    time.Duration            `yaml:"step"`
		Start   time.Time                `yaml:"start"`
		Symbols map[string]SimSymbolSpec `yaml:"symbols"`
	} `yaml:"simulation"`

	Kite struct {
		Exchange       string        `yaml:"exchange"`
		Timeout        time.Duration `yaml:"timeout"`
		Stream         bool          `yaml:"stream"`
		APIKeyEnv      string        `yaml:"api_key_env"`
		AccessTokenEnv string        `yaml:"access_token_env"`
	} `yaml:"kite"`

	Binance struct {
		Testnet      bool          `yaml:"testnet"`
		Timeout      time.Duration `yaml:"timeout"`
		APIKeyEnv    string        `yaml:"api_key_env"`
		SecretKeyEnv string        `yaml:"secret_key_env"`
	} `yaml:"binance"`

	Connector struct {
		CallTimeout    time.Duration `yaml:"call_timeout"`
		SnapshotBuffer int           `yaml:"snapshot_buffer"`
		Backoff        struct {
			Min         time.Duration `yaml:"min"`
			Max         time.Duration `yaml:"max"`
			Factor      float64       `yaml:"factor"`
			Jitter      float64       `yaml:"jitter"`
			MaxAttempts int           `yaml:"max_attempts"`
		} `yaml:"backoff"`
	} `yaml:"connector"`

	Strategies []types.StrategyConfig `yaml:"strategies"`

	Storage struct {
		PostgresDSNEnv string `yaml:"postgres_dsn_env"`
		RecordsTable   string `yaml:"records_table"`
		SnapshotDSNEnv string `yaml:"snapshot_dsn_env"`
		SnapshotEvery  int    `yaml:"snapshot_every"`
	} `yaml:"storage"`

	TradeLog struct {
		Dir           string `yaml:"dir"`
		RetentionDays int    `yaml:"retention_days"`
		Timezone      string `yaml:"timezone"`
		EODClose      string `yaml:"eod_close"`
	} `yaml:"tradelog"`

	Notify struct {
		Telegram struct {
			Enabled  bool   `yaml:"enabled"`
			TokenEnv string `yaml:"token_env"`
			ChatID   string `yaml:"chat_id"`
			BaseURL  string `yaml:"base_url"`
		} `yaml:"telegram"`
	} `yaml:"notify"`

	Logging struct {
		Level    string `yaml:"level"`
		Format   string `yaml:"format"`
		Detailed bool   `yaml:"detailed"`
	} `yaml:"logging"`
}

type SimSymbolSpec struct {
	Price      float64 `yaml:"price"`
	Spread     float64 `yaml:"spread"`
	Volatility float64 `yaml:"volatility"`
	Drift      float64 `yaml:"drift"`
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeSimulated, ModeKite, ModeBinance:
	default:
		return fmt.Errorf("invalid mode '%s': must be '%s', '%s' or '%s'", c.Mode, ModeSimulated, ModeKite, ModeBinance)
	}
	if len(c.Symbols) == 0 {
		return errors.New("symbols cannot be empty")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval)
	}
	if c.Account.InitialBalance <= 0 {
		return fmt.Errorf("account.initial_balance must be positive, got %.2f", c.Account.InitialBalance)
	}
	if c.Risk.RiskPct <= 0 || c.Risk.RiskPct > 1 {
		return fmt.Errorf("risk.risk_pct must be in (0, 1], got %.4f", c.Risk.RiskPct)
	}
	if c.Risk.MaxExposurePct < 0 {
		return fmt.Errorf("risk.max_exposure_pct cannot be negative, got %.4f", c.Risk.MaxExposurePct)
	}
	if c.Risk.MaxDailyLossPct < 0 || c.Risk.MaxDailyLossPct > 1 {
		return fmt.Errorf("risk.max_daily_loss_pct must be in [0, 1], got %.4f", c.Risk.MaxDailyLossPct)
	}
	if c.Risk.MaxOrdersPerStrategy < 0 {
		return fmt.Errorf("risk.max_orders_per_strategy cannot be negative, got %d", c.Risk.MaxOrdersPerStrategy)
	}
	if c.Connector.Backoff.Factor < 1 {
		return fmt.Errorf("connector.backoff.factor must be >= 1, got %.2f", c.Connector.Backoff.Factor)
	}
	if c.Connector.Backoff.MaxAttempts < 1 {
		return fmt.Errorf("connector.backoff.max_attempts must be at least 1, got %d", c.Connector.Backoff.MaxAttempts)
	}
	if c.Connector.Backoff.Min > c.Connector.Backoff.Max {
		return fmt.Errorf("connector.backoff.min (%s) exceeds max (%s)", c.Connector.Backoff.Min, c.Connector.Backoff.Max)
	}
	if _, err := time.LoadLocation(c.TradeLog.Timezone); err != nil {
		return fmt.Errorf("tradelog.timezone: %w", err)
	}
	if _, err := time.Parse("15:04", c.TradeLog.EODClose); err != nil {
		return fmt.Errorf("tradelog.eod_close must be HH:MM, got '%s'", c.TradeLog.EODClose)
	}
	seen := make(map[string]bool, len(c.Strategies))
	for i, s := range c.Strategies {
		if s.ID == "" {
			return fmt.Errorf("strategies[%d]: id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("strategies[%d]: duplicate id '%s'", i, s.ID)
		}
		seen[s.ID] = true
		if s.Type == "" {
			return fmt.Errorf("strategy '%s': type is required", s.ID)
		}
	}
	return nil
}

// LoadConfig reads path, applies defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	c.Mode = strings.ToUpper(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = ModeSimulated
	}
	if c.TickInterval == 0 {
		c.TickInterval = time.Second
	}
	if len(c.Symbols) == 0 && c.Mode == ModeSimulated {
		c.Symbols = defaultSimSymbols(c.Simulation.Symbols)
	}
	if c.Account.InitialBalance == 0 {
		c.Account.InitialBalance = 10000
	}
	if c.Account.Currency == "" {
		c.Account.Currency = "USD"
	}
	if c.Account.Leverage == 0 {
		c.Account.Leverage = 100
	}
	if c.Risk.MaxOrdersPerStrategy == 0 {
		c.Risk.MaxOrdersPerStrategy = 10
	}
	if c.Risk.MaxExposurePct == 0 {
		c.Risk.MaxExposurePct = 50
	}
	if c.Risk.RiskPct == 0 {
		c.Risk.RiskPct = 0.02
	}
	if c.Risk.SizeStep == 0 {
		c.Risk.SizeStep = 0.01
	}
	if c.Risk.MaxDailyLossPct == 0 {
		c.Risk.MaxDailyLossPct = 0.05
	}
	if c.History.Granularity == 0 {
		c.History.Granularity = time.Minute
	}
	if c.History.Lookback == 0 {
		c.History.Lookback = 2 * time.Hour
	}
	if c.Simulation.Seed == 0 {
		c.Simulation.Seed = 42
	}
	if c.Simulation.Step == 0 {
		c.Simulation.Step = time.Second
	}
	if c.Kite.Exchange == "" {
		c.Kite.Exchange = "NSE"
	}
	if c.Kite.Timeout == 0 {
		c.Kite.Timeout = 10 * time.Second
	}
	if c.Kite.APIKeyEnv == "" {
		c.Kite.APIKeyEnv = "KITE_API_KEY"
	}
	if c.Kite.AccessTokenEnv == "" {
		c.Kite.AccessTokenEnv = "KITE_ACCESS_TOKEN"
	}
	if c.Binance.Timeout == 0 {
		c.Binance.Timeout = 10 * time.Second
	}
	if c.Binance.APIKeyEnv == "" {
		c.Binance.APIKeyEnv = "BINANCE_API_KEY"
	}
	if c.Binance.SecretKeyEnv == "" {
		c.Binance.SecretKeyEnv = "BINANCE_SECRET_KEY"
	}
	if c.Connector.CallTimeout == 0 {
		c.Connector.CallTimeout = 60 * time.Second
	}
	if c.Connector.SnapshotBuffer == 0 {
		c.Connector.SnapshotBuffer = 16
	}
	b := &c.Connector.Backoff
	if b.Min == 0 {
		b.Min = 3 * time.Second
	}
	if b.Max == 0 {
		b.Max = time.Minute
	}
	if b.Factor == 0 {
		b.Factor = 2
	}
	if b.MaxAttempts == 0 {
		b.MaxAttempts = backoff.DefaultMaxAttempts
	}
	if c.Storage.RecordsTable == "" {
		c.Storage.RecordsTable = "performance_records"
	}
	if c.Storage.SnapshotEvery == 0 {
		c.Storage.SnapshotEvery = 10
	}
	if c.TradeLog.Dir == "" {
		c.TradeLog.Dir = "logs"
	}
	if c.TradeLog.Timezone == "" {
		c.TradeLog.Timezone = "UTC"
	}
	if c.TradeLog.EODClose == "" {
		c.TradeLog.EODClose = "23:55"
	}
	if c.Notify.Telegram.TokenEnv == "" {
		c.Notify.Telegram.TokenEnv = "TELEGRAM_BOT_TOKEN"
	}
	for i := range c.Strategies {
		c.Strategies[i].Type = strings.ToLower(strings.TrimSpace(c.Strategies[i].Type))
	}
}

func defaultSimSymbols(specs map[string]SimSymbolSpec) []string {
	if len(specs) == 0 {
		return []string{"EURUSD", "GBPUSD", "USDJPY", "USDCHF", "AUDUSD", "USDCAD"}
	}
	out := make([]string, 0, len(specs))
	for s := range specs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
