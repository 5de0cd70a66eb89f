package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"optbacktest/internal/episode"
	"optbacktest/internal/market"
	"optbacktest/internal/strategy"
)

func writeTestConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
	if cfg.PnL.Multiplier != 100 {
		t.Errorf("expected multiplier 100, got %v", cfg.PnL.Multiplier)
	}
	if cfg.Backtest.Timeout.Duration != 10*time.Minute {
		t.Errorf("expected 10m timeout, got %v", cfg.Backtest.Timeout.Duration)
	}
	if !cfg.PnL.Truncate {
		t.Error("expected truncation on by default")
	}
}

func TestLoad_StopWithoutTruncateKeyTruncates(t *testing.T) {
	path := writeTestConfig(t, "config.toml", `
[pnl]
stop_loss = 0.4
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	opts := cfg.PnLOptions()
	if !opts.Truncate || opts.StopLoss != 0.4 {
		t.Errorf("expected truncate with 0.4 stop, got %+v", opts)
	}

	path = writeTestConfig(t, "off.toml", `
[pnl]
stop_loss = 0.4
truncate = false
`)
	cfg, err = Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PnLOptions().Truncate {
		t.Error("expected explicit truncate = false to be kept")
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeTestConfig(t, "config.toml", `
[general]
db_path = "/tmp/bt.db"
log_level = "debug"

[episodes]
horizon_days = 5
threshold_pct = 3.5
direction = "down"

[pnl]
price_field = "mark"
stop_loss = 0.5
truncate = true

[backtest]
from = "2023-01-03"
to = "2023-06-30"
timeout = "90s"

[[strategies]]
name = "puts"
kind = "long_put"
enabled = true
pct_target = 0.05
dte = 30

[strategies.filters]
min_open_interest = 10.0

[[strategies]]
kind = "iron_condor"
dte = 45
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.DBPath != "/tmp/bt.db" {
		t.Errorf("expected db path /tmp/bt.db, got %s", cfg.General.DBPath)
	}
	if cfg.PnL.PriceField != market.FieldMark {
		t.Errorf("expected price field mark, got %s", cfg.PnL.PriceField)
	}
	if cfg.PnL.Multiplier != 100 {
		t.Errorf("expected default multiplier to survive, got %v", cfg.PnL.Multiplier)
	}
	if cfg.Backtest.Timeout.Duration != 90*time.Second {
		t.Errorf("expected 90s timeout, got %v", cfg.Backtest.Timeout.Duration)
	}
	if len(cfg.Strategies) != 2 {
		t.Fatalf("expected 2 strategies, got %d", len(cfg.Strategies))
	}

	puts := cfg.Strategies[0]
	if puts.PctTarget != 0.05 || puts.DTE != 30 {
		t.Errorf("expected inline params pct 0.05 dte 30, got %v %v", puts.PctTarget, puts.DTE)
	}
	if puts.Filters.MinOpenInterest == nil || *puts.Filters.MinOpenInterest != 10 {
		t.Errorf("expected min open interest 10, got %v", puts.Filters.MinOpenInterest)
	}
	if cfg.Strategies[1].DisplayName() != "iron_condor" {
		t.Errorf("expected unnamed strategy to use its kind, got %s", cfg.Strategies[1].DisplayName())
	}
	if cfg.MaxDTE() != 45 {
		t.Errorf("expected max dte 45, got %v", cfg.MaxDTE())
	}

	p, err := cfg.EpisodeParams()
	if err != nil {
		t.Fatal(err)
	}
	if p.Direction != episode.Down || p.HorizonDays != 5 {
		t.Errorf("expected down/5, got %s/%d", p.Direction, p.HorizonDays)
	}

	from, to, err := cfg.Backtest.Range()
	if err != nil {
		t.Fatal(err)
	}
	if from.Format(market.DateLayout) != "2023-01-03" || to.Format(market.DateLayout) != "2023-06-30" {
		t.Errorf("unexpected range %v..%v", from, to)
	}

	opts := cfg.PnLOptions()
	if !opts.Truncate || opts.StopLoss != 0.5 {
		t.Errorf("expected truncate with 0.5 stop, got %+v", opts)
	}
}

func TestLoad_YAMLExpandsEnv(t *testing.T) {
	t.Setenv("OPTBT_TEST_DB", "/var/lib/bt.db")
	path := writeTestConfig(t, "config.yaml", `
general:
  db_path: ${OPTBT_TEST_DB}
  log_level: warn
strategies:
  - name: calendar
    kind: call_calendar
    enabled: true
    dte_short: 30
    dte_long: 60
    pct_target: 0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.General.DBPath != "/var/lib/bt.db" {
		t.Errorf("expected expanded db path, got %s", cfg.General.DBPath)
	}
	if len(cfg.Strategies) != 1 || cfg.Strategies[0].DTELong != 60 {
		t.Fatalf("expected calendar with dte_long 60, got %+v", cfg.Strategies)
	}

	s, err := cfg.Strategies[0].Build()
	if err != nil {
		t.Fatal(err)
	}
	if s.Kind() != strategy.KindCallCalendar || !s.Enabled() {
		t.Errorf("expected enabled call_calendar, got %s enabled=%v", s.Kind(), s.Enabled())
	}
}

func TestLoad_YAMLRejectsUnknownFields(t *testing.T) {
	path := writeTestConfig(t, "config.yml", `
general:
  db_pth: typo.db
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		target error
	}{
		{"log level", func(c *Config) { c.General.LogLevel = "loud" }, nil},
		{"horizon", func(c *Config) { c.Episodes.HorizonDays = 0 }, episode.ErrInvalidParams},
		{"direction", func(c *Config) { c.Episodes.Direction = "sideways" }, episode.ErrInvalidParams},
		{"price field", func(c *Config) { c.PnL.PriceField = "close" }, market.ErrInvalidPriceField},
		{"multiplier", func(c *Config) { c.PnL.Multiplier = -1 }, nil},
		{"workers", func(c *Config) { c.Backtest.Workers = -2 }, nil},
		{"bad date", func(c *Config) { c.Backtest.From = "01/02/2023" }, nil},
		{"reversed range", func(c *Config) { c.Backtest.From, c.Backtest.To = "2023-02-01", "2023-01-01" }, nil},
		{"unknown kind", func(c *Config) {
			c.Strategies = []StrategyConfig{{Kind: "short_gamma_yolo"}}
		}, strategy.ErrUnknownKind},
		{"bad params", func(c *Config) {
			c.Strategies = []StrategyConfig{{Kind: "long_call", Params: strategy.Params{DTE: -1}}}
		}, strategy.ErrInvalidParams},
		{"duplicate name", func(c *Config) {
			c.Strategies = []StrategyConfig{{Kind: "long_call"}, {Kind: "long_call"}}
		}, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if tc.target != nil && !errors.Is(err, tc.target) {
				t.Errorf("expected %v, got %v", tc.target, err)
			}
		})
	}
}
