package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"optbacktest/internal/episode"
	"optbacktest/internal/market"
	"optbacktest/internal/pnl"
	"optbacktest/internal/strategy"
)

type Config struct {
	General    GeneralConfig    `toml:"general" yaml:"general"`
	Episodes   EpisodesConfig   `toml:"episodes" yaml:"episodes"`
	PnL        PnLConfig        `toml:"pnl" yaml:"pnl"`
	Backtest   BacktestConfig   `toml:"backtest" yaml:"backtest"`
	Strategies []StrategyConfig `toml:"strategies" yaml:"strategies"`
}

type GeneralConfig struct {
	DBPath   string `toml:"db_path" yaml:"db_path"`
	LogLevel string `toml:"log_level" yaml:"log_level"`
	// MetricsPath is a node-exporter textfile. Empty disables the export.
	MetricsPath string `toml:"metrics_path" yaml:"metrics_path"`
}

type EpisodesConfig struct {
	HorizonDays  int     `toml:"horizon_days" yaml:"horizon_days"`
	ThresholdPct float64 `toml:"threshold_pct" yaml:"threshold_pct"`
	Direction    string  `toml:"direction" yaml:"direction"`
}

type PnLConfig struct {
	PriceField    market.PriceField `toml:"price_field" yaml:"price_field"`
	Multiplier    float64           `toml:"multiplier" yaml:"multiplier"`
	StopLoss      float64           `toml:"stop_loss" yaml:"stop_loss"`
	TakeProfit    float64           `toml:"take_profit" yaml:"take_profit"`
	Truncate      bool              `toml:"truncate" yaml:"truncate"`
	DynamicCost   bool              `toml:"dynamic_cost" yaml:"dynamic_cost"`
	RequirePrices bool              `toml:"require_prices" yaml:"require_prices"`
}

type BacktestConfig struct {
	From    string   `toml:"from" yaml:"from"`
	To      string   `toml:"to" yaml:"to"`
	Tickers []string `toml:"tickers" yaml:"tickers"`
	Workers int      `toml:"workers" yaml:"workers"`
	Timeout Duration `toml:"timeout" yaml:"timeout"`
}

// StrategyConfig is one [[strategies]] entry. Builder parameters sit next to
// the name and kind.
type StrategyConfig struct {
	Name    string `toml:"name" yaml:"name"`
	Kind    string `toml:"kind" yaml:"kind"`
	Enabled bool   `toml:"enabled" yaml:"enabled"`

	strategy.Params `yaml:",inline"`
}

// Duration wraps time.Duration for TOML and YAML unmarshaling.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Load reads a TOML file, or a YAML file when the extension says so, over the
// defaults. YAML values may reference environment variables.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			DBPath:   "./data/optbacktest.db",
			LogLevel: "info",
		},
		Episodes: EpisodesConfig{
			HorizonDays:  10,
			ThresholdPct: 5,
			Direction:    "up",
		},
		PnL: PnLConfig{
			PriceField: market.FieldLast,
			Multiplier: pnl.DefaultMultiplier,
			Truncate:   true,
		},
		Backtest: BacktestConfig{
			Workers: 4,
			Timeout: Duration{10 * time.Minute},
		},
	}
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks ranges and that every strategy names a registered kind.
func (c *Config) Validate() error {
	if !logLevels[strings.ToLower(c.General.LogLevel)] {
		return fmt.Errorf("general.log_level: unknown level %q", c.General.LogLevel)
	}
	if _, err := c.EpisodeParams(); err != nil {
		return fmt.Errorf("episodes: %w", err)
	}
	if err := c.PnL.PriceField.Validate(); err != nil {
		return fmt.Errorf("pnl.price_field: %w", err)
	}
	if math.IsNaN(c.PnL.Multiplier) || c.PnL.Multiplier < 0 {
		return fmt.Errorf("pnl.multiplier must be >= 0, got %v", c.PnL.Multiplier)
	}
	if c.Backtest.Workers < 0 {
		return fmt.Errorf("backtest.workers must be >= 0, got %d", c.Backtest.Workers)
	}
	if _, _, err := c.Backtest.Range(); err != nil {
		return err
	}

	names := make(map[string]bool)
	for i, s := range c.Strategies {
		if _, err := strategy.Lookup(strategy.Kind(s.Kind)); err != nil {
			return fmt.Errorf("strategies[%d]: %w", i, err)
		}
		if err := s.Params.Validate(); err != nil {
			return fmt.Errorf("strategies[%d]: %w", i, err)
		}
		name := s.DisplayName()
		if names[name] {
			return fmt.Errorf("strategies[%d]: duplicate name %q", i, name)
		}
		names[name] = true
	}
	return nil
}

// EpisodeParams converts the [episodes] section.
func (c *Config) EpisodeParams() (episode.Params, error) {
	dir, err := episode.ParseDirection(c.Episodes.Direction)
	if err != nil {
		return episode.Params{}, err
	}
	p := episode.Params{
		HorizonDays:  c.Episodes.HorizonDays,
		ThresholdPct: c.Episodes.ThresholdPct,
		Direction:    dir,
	}
	if p.HorizonDays < 1 {
		return p, fmt.Errorf("%w: horizon_days must be >= 1, got %d", episode.ErrInvalidParams, p.HorizonDays)
	}
	if math.IsNaN(p.ThresholdPct) || p.ThresholdPct < 0 {
		return p, fmt.Errorf("%w: threshold_pct must be >= 0, got %v", episode.ErrInvalidParams, p.ThresholdPct)
	}
	return p, nil
}

// PnLOptions converts the [pnl] section.
func (c *Config) PnLOptions() pnl.Options {
	return pnl.Options{
		PriceField:    c.PnL.PriceField,
		Multiplier:    c.PnL.Multiplier,
		RequirePrices: c.PnL.RequirePrices,
		StopLoss:      c.PnL.StopLoss,
		TakeProfit:    c.PnL.TakeProfit,
		Truncate:      c.PnL.Truncate,
		DynamicCost:   c.PnL.DynamicCost,
	}
}

// Range parses from and to. A zero time means the bound is open.
func (b BacktestConfig) Range() (from, to time.Time, err error) {
	if b.From != "" {
		if from, err = market.ParseDate(b.From); err != nil {
			return from, to, fmt.Errorf("backtest.from: %w", err)
		}
	}
	if b.To != "" {
		if to, err = market.ParseDate(b.To); err != nil {
			return from, to, fmt.Errorf("backtest.to: %w", err)
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return from, to, fmt.Errorf("backtest: to %s is before from %s", b.To, b.From)
	}
	return from, to, nil
}

// DisplayName is the configured name, or the kind when unnamed.
func (s StrategyConfig) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Kind
}

// Build returns the configured strategy.
func (s StrategyConfig) Build() (strategy.Strategy, error) {
	return strategy.New(s.DisplayName(), strategy.Kind(s.Kind), s.Enabled, s.Params)
}

// MaxDTE is the longest days-to-expiration any configured strategy targets.
func (c *Config) MaxDTE() float64 {
	var m float64
	for _, s := range c.Strategies {
		m = math.Max(m, math.Max(s.DTE, math.Max(s.DTEShort, s.DTELong)))
	}
	return m
}
