package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete bot configuration
type Config struct {
	Strategy StrategyConfig `json:"strategy" yaml:"strategy"`
	Exchange ExchangeConfig `json:"exchange" yaml:"exchange"`
	Monitor  MonitorConfig  `json:"monitor" yaml:"monitor"`
	Scanner  ScannerConfig  `json:"scanner" yaml:"scanner"`
	Journal  JournalConfig  `json:"journal" yaml:"journal"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Log      LogConfig      `json:"log" yaml:"log"`
	Sim      SimConfig      `json:"sim" yaml:"sim"`
}

// StrategyConfig holds the per-cycle martingale parameters. It is read once
// at startup and never mutated afterwards.
type StrategyConfig struct {
	InitialSizeUSD         float64 `json:"initial_size_usd" yaml:"initial_size_usd"`
	InitialEntryPct        float64 `json:"initial_entry_pct" yaml:"initial_entry_pct"`
	Multiplier             float64 `json:"multiplier" yaml:"multiplier"`
	MaxFlips               int     `json:"max_flips" yaml:"max_flips"`
	BaseRangePct           float64 `json:"base_range_pct" yaml:"base_range_pct"`
	RangeGrowth            float64 `json:"range_growth" yaml:"range_growth"`
	Leverage               int     `json:"leverage" yaml:"leverage"`
	TrailingExit           bool    `json:"trailing_exit" yaml:"trailing_exit"`
	TrailingRetracementPct float64 `json:"trailing_retracement_pct" yaml:"trailing_retracement_pct"`
	FeeRate                float64 `json:"fee_rate" yaml:"fee_rate"`
	MarketEntry            bool    `json:"market_entry" yaml:"market_entry"`
}

// ExchangeConfig selects the broker. Credentials are read from the
// environment variables it names.
type ExchangeConfig struct {
	Name         string `json:"name" yaml:"name"` // "sim" or "binance"
	Testnet      bool   `json:"testnet" yaml:"testnet"`
	APIKeyEnv    string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
	APISecretEnv string `json:"api_secret_env,omitempty" yaml:"api_secret_env,omitempty"`
}

// Credentials resolves the API key pair from the environment.
func (e ExchangeConfig) Credentials() (key, secret string, err error) {
	key = os.Getenv(e.APIKeyEnv)
	secret = os.Getenv(e.APISecretEnv)
	if key == "" || secret == "" {
		return "", "", fmt.Errorf("exchange credentials missing: set %s and %s", e.APIKeyEnv, e.APISecretEnv)
	}
	return key, secret, nil
}

type MonitorConfig struct {
	UseStream       bool     `json:"use_stream" yaml:"use_stream"`
	PollInterval    Duration `json:"poll_interval" yaml:"poll_interval"`
	FillWait        Duration `json:"fill_wait" yaml:"fill_wait"`
	ScanInterval    Duration `json:"scan_interval" yaml:"scan_interval"`
	ClosePause      Duration `json:"close_pause" yaml:"close_pause"`
	ErrorPause      Duration `json:"error_pause" yaml:"error_pause"`
	FillLookback    Duration `json:"fill_lookback" yaml:"fill_lookback"`
	StreamRetry     Duration `json:"stream_retry" yaml:"stream_retry"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type ScannerConfig struct {
	QuoteSuffix     string   `json:"quote_suffix" yaml:"quote_suffix"`
	MinChangePct    float64  `json:"min_change_pct" yaml:"min_change_pct"`
	MinVolumeUSD    float64  `json:"min_volume_usd" yaml:"min_volume_usd"`
	TopK            int      `json:"top_k" yaml:"top_k"`
	CandleInterval  string   `json:"candle_interval" yaml:"candle_interval"`
	LookbackCandles int      `json:"lookback_candles" yaml:"lookback_candles"`
	Exclude         []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // "sqlite", "csv", "postgres" or "none"
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	CyclesFile string `json:"cycles_file,omitempty" yaml:"cycles_file,omitempty"`
	EventsFile string `json:"events_file,omitempty" yaml:"events_file,omitempty"`
	DSNEnv     string `json:"dsn_env,omitempty" yaml:"dsn_env,omitempty"`
}

type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr"` // empty disables the endpoint
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "text" or "json"
}

// SimConfig seeds the in-memory exchange used for paper trading.
type SimConfig struct {
	Balance    float64     `json:"balance" yaml:"balance"`
	Symbol     string      `json:"symbol" yaml:"symbol"`
	Bid        float64     `json:"bid" yaml:"bid"`
	Ask        float64     `json:"ask" yaml:"ask"`
	ChangePct  float64     `json:"change_pct" yaml:"change_pct"`
	PriceSteps []PriceStep `json:"price_steps,omitempty" yaml:"price_steps,omitempty"`
}

// PriceStep represents a price update in the simulation
type PriceStep struct {
	Bid   float64  `json:"bid" yaml:"bid"`
	Ask   float64  `json:"ask" yaml:"ask"`
	Delay Duration `json:"delay" yaml:"delay"`
}

// Duration is a time.Duration that reads and writes as "10s", "1m30s".
type Duration struct {
	time.Duration
}

func D(d time.Duration) Duration { return Duration{d} }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// LoadFromFile loads configuration from a file (YAML or JSON)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks the strategy parameters. Any error here is fatal at
// startup.
func (s StrategyConfig) Validate() error {
	if s.Multiplier <= 1 {
		return errors.New("strategy.multiplier must be greater than 1")
	}
	if s.MaxFlips < 0 {
		return errors.New("strategy.max_flips must not be negative")
	}
	if s.BaseRangePct <= 0 {
		return errors.New("strategy.base_range_pct must be positive")
	}
	if s.RangeGrowth < 0 {
		return errors.New("strategy.range_growth must not be negative")
	}
	if s.Leverage < 1 {
		return errors.New("strategy.leverage must be at least 1")
	}
	if s.InitialSizeUSD < 0 {
		return errors.New("strategy.initial_size_usd must not be negative")
	}
	if s.InitialSizeUSD == 0 && (s.InitialEntryPct <= 0 || s.InitialEntryPct > 100) {
		return errors.New("strategy.initial_entry_pct must be in (0,100] when initial_size_usd is 0")
	}
	if s.TrailingExit && (s.TrailingRetracementPct <= 0 || s.TrailingRetracementPct >= 100) {
		return errors.New("strategy.trailing_retracement_pct must be in (0,100) with trailing_exit")
	}
	if s.FeeRate < 0 || s.FeeRate >= 1 {
		return errors.New("strategy.fee_rate must be in [0,1)")
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Strategy.Validate(); err != nil {
		return err
	}

	switch c.Exchange.Name {
	case "sim":
		if c.Sim.Balance <= 0 {
			return fmt.Errorf("sim.balance must be positive")
		}
		if c.Sim.Symbol == "" {
			return fmt.Errorf("sim.symbol is required")
		}
		if c.Sim.Bid <= 0 || c.Sim.Ask < c.Sim.Bid {
			return fmt.Errorf("sim prices must be positive with ask >= bid")
		}
	case "binance":
		if c.Exchange.APIKeyEnv == "" || c.Exchange.APISecretEnv == "" {
			return fmt.Errorf("exchange api_key_env and api_secret_env are required for binance")
		}
	default:
		return fmt.Errorf("exchange.name must be 'sim' or 'binance'")
	}

	m := c.Monitor
	if m.PollInterval.Duration <= 0 {
		return fmt.Errorf("monitor.poll_interval must be positive")
	}
	if m.FillLookback.Duration <= 0 {
		return fmt.Errorf("monitor.fill_lookback must be positive")
	}
	if m.FillWait.Duration < 0 || m.ScanInterval.Duration < 0 || m.ClosePause.Duration < 0 ||
		m.ErrorPause.Duration < 0 || m.StreamRetry.Duration < 0 {
		return fmt.Errorf("monitor durations must not be negative")
	}

	if c.Scanner.TopK < 1 {
		return fmt.Errorf("scanner.top_k must be at least 1")
	}
	if c.Scanner.LookbackCandles < 1 {
		return fmt.Errorf("scanner.lookback_candles must be at least 1")
	}

	switch c.Journal.Type {
	case "none":
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	case "csv":
		if c.Journal.CyclesFile == "" || c.Journal.EventsFile == "" {
			return fmt.Errorf("journal cycles_file and events_file required for CSV type")
		}
	case "postgres":
		if c.Journal.DSNEnv == "" {
			return fmt.Errorf("journal dsn_env required for Postgres type")
		}
	default:
		return fmt.Errorf("journal.type must be 'sqlite', 'csv', 'postgres' or 'none'")
	}

	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Strategy: StrategyConfig{
			InitialSizeUSD:         0,
			InitialEntryPct:        10,
			Multiplier:             2,
			MaxFlips:               3,
			BaseRangePct:           2,
			RangeGrowth:            1,
			Leverage:               10,
			TrailingRetracementPct: 30,
			FeeRate:                0.0005,
			MarketEntry:            true,
		},
		Exchange: ExchangeConfig{
			Name:         "sim",
			Testnet:      true,
			APIKeyEnv:    "BINANCE_API_KEY",
			APISecretEnv: "BINANCE_API_SECRET",
		},
		Monitor: MonitorConfig{
			UseStream:       true,
			PollInterval:    D(10 * time.Second),
			FillWait:        D(2 * time.Second),
			ScanInterval:    D(60 * time.Second),
			ClosePause:      D(5 * time.Second),
			ErrorPause:      D(30 * time.Second),
			FillLookback:    D(7 * 24 * time.Hour),
			StreamRetry:     D(5 * time.Second),
			ShutdownTimeout: D(30 * time.Second),
		},
		Scanner: ScannerConfig{
			QuoteSuffix:     "USDT",
			MinChangePct:    5,
			TopK:            10,
			CandleInterval:  "5m",
			LookbackCandles: 12,
		},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./flipper.db",
			DSNEnv: "FLIPPER_PG_DSN",
		},
		Metrics: MetricsConfig{Addr: ":9090"},
		Log:     LogConfig{Level: "info", Format: "text"},
		Sim: SimConfig{
			Balance:   10000,
			Symbol:    "BTCUSDT",
			Bid:       60000,
			Ask:       60010,
			ChangePct: 6,
		},
	}
}
