package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the marlin trading engine.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Logging  Logging  `yaml:"logging"`
	Trading  Trading  `yaml:"trading"`
	Risk     Risk     `yaml:"risk"`
	Backtest Backtest `yaml:"backtest"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir     string `yaml:"data_dir"`
	JournalPath string `yaml:"journal_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	BaseURL         string `yaml:"base_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Trading defines execution parameters shared by backtest and live trading.
type Trading struct {
	InitialCapital  float64 `yaml:"initial_capital"`
	SlippageRate    float64 `yaml:"slippage_rate"`
	CommissionRate  float64 `yaml:"commission_rate"`
	PaperMode       bool    `yaml:"paper_mode"`
	PollIntervalSec int     `yaml:"poll_interval_sec"`
	LimitExpirySec  int     `yaml:"limit_expiry_sec"` // 0 = good-till-cancelled
}

// PollInterval returns the order polling interval as a duration.
func (t Trading) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalSec) * time.Second
}

// LimitExpiry returns the limit order expiry as a duration. Zero means
// orders never expire.
func (t Trading) LimitExpiry() time.Duration {
	return time.Duration(t.LimitExpirySec) * time.Second
}

// Risk defines threshold limits and alert delivery.
type Risk struct {
	MaxDrawdown      float64 `yaml:"max_drawdown"`
	MaxPositionRatio float64 `yaml:"max_position_ratio"`
	MaxVolatility    float64 `yaml:"max_volatility"`
	WebhookURL       string  `yaml:"webhook_url"`
}

// Backtest defines the replay run: which strategy over which data.
type Backtest struct {
	Strategy    string   `yaml:"strategy"`
	Symbols     []string `yaml:"symbols"`
	Start       string   `yaml:"start"` // YYYY-MM-DD, inclusive
	End         string   `yaml:"end"`   // YYYY-MM-DD, inclusive
	ShortPeriod int      `yaml:"short_period"`
	LongPeriod  int      `yaml:"long_period"`
	Quantity    float64  `yaml:"quantity"`
}

// DateRange parses the configured start and end dates.
func (b Backtest) DateRange() (start, end time.Time, err error) {
	start, err = time.Parse("2006-01-02", b.Start)
	if err != nil {
		return start, end, fmt.Errorf("parsing backtest start %q: %w", b.Start, err)
	}
	end, err = time.Parse("2006-01-02", b.End)
	if err != nil {
		return start, end, fmt.Errorf("parsing backtest end %q: %w", b.End, err)
	}
	return start, end, nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies defaults for unset fields, and finally applies
// environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyDefaults fills in fields the YAML left at their zero value.
func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.JournalPath == "" {
		cfg.Storage.JournalPath = "marlin.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Alpaca.RateLimitPerMin == 0 {
		cfg.Alpaca.RateLimitPerMin = 200
	}
	if cfg.Trading.InitialCapital == 0 {
		cfg.Trading.InitialCapital = 10000
	}
	if cfg.Trading.SlippageRate == 0 {
		cfg.Trading.SlippageRate = 0.001
	}
	if cfg.Trading.CommissionRate == 0 {
		cfg.Trading.CommissionRate = 0.001
	}
	if cfg.Trading.PollIntervalSec == 0 {
		cfg.Trading.PollIntervalSec = 5
	}
	if cfg.Risk.MaxDrawdown == 0 {
		cfg.Risk.MaxDrawdown = 0.08
	}
	if cfg.Risk.MaxPositionRatio == 0 {
		cfg.Risk.MaxPositionRatio = 0.25
	}
	if cfg.Risk.MaxVolatility == 0 {
		cfg.Risk.MaxVolatility = 0.04
	}
	if cfg.Backtest.Strategy == "" {
		cfg.Backtest.Strategy = "sma-cross"
	}
	if cfg.Backtest.ShortPeriod == 0 {
		cfg.Backtest.ShortPeriod = 5
	}
	if cfg.Backtest.LongPeriod == 0 {
		cfg.Backtest.LongPeriod = 20
	}
	if cfg.Backtest.Quantity == 0 {
		cfg.Backtest.Quantity = 1
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("JOURNAL_PATH"); v != "" {
		cfg.Storage.JournalPath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("RISK_WEBHOOK_URL"); v != "" {
		cfg.Risk.WebhookURL = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
