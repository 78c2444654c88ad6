// Package config loads the YAML configuration that describes which
// exchanges, symbols, timeframes, and sinks a candlestream process runs,
// following the same load-then-Validate shape the rest of this codebase's
// provider configuration uses. Secrets (DSNs, broker addresses) come from
// the environment via godotenv rather than the YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level process configuration.
type Config struct {
	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`
	Runners   []RunnerConfig            `yaml:"runners"`
	Sinks     SinksConfig               `yaml:"sinks"`
	Global    GlobalConfig              `yaml:"global"`
}

// ExchangeConfig holds per-exchange rate limit and endpoint settings.
type ExchangeConfig struct {
	RESTBaseURL string        `yaml:"rest_base_url"`
	WSBaseURL   string        `yaml:"ws_base_url"`
	RPS         int           `yaml:"rps"`
	Burst       int           `yaml:"burst"`
	Backoff     BackoffConfig `yaml:"backoff"`
}

// BackoffConfig parameterizes reconnect/retry backoff.
type BackoffConfig struct {
	MinMS  int `yaml:"min_ms"`
	MaxMS  int `yaml:"max_ms"`
}

// RunnerConfig describes one (exchange, symbol, base timeframe) pipeline.
type RunnerConfig struct {
	Exchange              string   `yaml:"exchange"`
	Symbol                string   `yaml:"symbol"`
	MarketType            string   `yaml:"market_type"`
	BaseTimeframe         string   `yaml:"base_timeframe"`
	AggregateList         []string `yaml:"aggregate_list"`
	ActiveWarmup          bool     `yaml:"active_warmup"`
	EmitWarmup            bool     `yaml:"emit_warmup"`
	EmitOnlyClosedCandles bool     `yaml:"emit_only_closed_candles"`
}

// SinksConfig toggles which sinks a process registers; connection details
// for durable sinks (SQL DSN, Redis address, Kafka brokers) are read from
// the environment, not this file, so credentials never land in YAML.
type SinksConfig struct {
	CSV   *CSVSinkConfig   `yaml:"csv,omitempty"`
	SQL   *SQLSinkConfig   `yaml:"sql,omitempty"`
	Redis *RedisSinkConfig `yaml:"redis,omitempty"`
	Kafka *KafkaSinkConfig `yaml:"kafka,omitempty"`
}

type CSVSinkConfig struct {
	Path string `yaml:"path"`
}

type SQLSinkConfig struct {
	Table string `yaml:"table"`
}

type RedisSinkConfig struct {
	Enabled bool `yaml:"enabled"`
}

type KafkaSinkConfig struct {
	Topic string `yaml:"topic"`
}

// GlobalConfig holds process-wide settings.
type GlobalConfig struct {
	UserAgent      string `yaml:"user_agent"`
	MetricsAddr    string `yaml:"metrics_addr"`
	LogLevel       string `yaml:"log_level"`
}

// Load reads cfg from a YAML file and a .env file (if present) for secret
// env vars, then validates the YAML-sourced settings.
func Load(configPath, envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: load env file: %w", err)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", configPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

// Validate checks cross-field invariants the YAML decoder can't enforce,
// including the "aggregation without warmup" configuration error.
func (c *Config) Validate() error {
	if c.Global.UserAgent == "" {
		return fmt.Errorf("global.user_agent cannot be empty")
	}
	for name, ex := range c.Exchanges {
		if err := ex.Validate(); err != nil {
			return fmt.Errorf("exchange %s: %w", name, err)
		}
	}
	for i, r := range c.Runners {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("runner[%d] (%s/%s): %w", i, r.Exchange, r.Symbol, err)
		}
		if _, ok := c.Exchanges[r.Exchange]; !ok {
			return fmt.Errorf("runner[%d]: exchange %q not defined under exchanges", i, r.Exchange)
		}
	}
	return nil
}

func (e ExchangeConfig) Validate() error {
	if e.RPS <= 0 {
		return fmt.Errorf("rps must be positive, got %d", e.RPS)
	}
	if e.Burst < e.RPS {
		return fmt.Errorf("burst (%d) must be >= rps (%d)", e.Burst, e.RPS)
	}
	return e.Backoff.Validate()
}

func (b BackoffConfig) Validate() error {
	if b.MinMS <= 0 {
		return fmt.Errorf("min_ms must be positive, got %d", b.MinMS)
	}
	if b.MaxMS <= b.MinMS {
		return fmt.Errorf("max_ms (%d) must be > min_ms (%d)", b.MaxMS, b.MinMS)
	}
	return nil
}

func (r RunnerConfig) Validate() error {
	if r.Exchange == "" {
		return fmt.Errorf("exchange cannot be empty")
	}
	if r.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if r.BaseTimeframe == "" {
		return fmt.Errorf("base_timeframe cannot be empty")
	}
	if len(r.AggregateList) > 0 && !r.ActiveWarmup {
		return fmt.Errorf("aggregate_list configured but active_warmup is false; warmup is mandatory when aggregating")
	}
	return nil
}

func (b BackoffConfig) Min() time.Duration { return time.Duration(b.MinMS) * time.Millisecond }
func (b BackoffConfig) Max() time.Duration { return time.Duration(b.MaxMS) * time.Millisecond }
