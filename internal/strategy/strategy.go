package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"optbacktest/internal/episode"
	"optbacktest/internal/market"
	"optbacktest/internal/selector"
)

var (
	ErrUnknownKind   = errors.New("unknown strategy kind")
	ErrInvalidParams = errors.New("invalid strategy parameters")
)

// Kind names a strategy family.
type Kind string

const (
	KindLongCall                   Kind = "long_call"
	KindLongPut                    Kind = "long_put"
	KindBullCallDebitSpread        Kind = "bull_call_debit_spread"
	KindBearPutDebitSpread         Kind = "bear_put_debit_spread"
	KindBullPutCreditSpread        Kind = "bull_put_credit_spread"
	KindBearCallCreditSpread       Kind = "bear_call_credit_spread"
	KindBullPutCreditSpreadTailPut Kind = "bull_put_credit_spread_tail_put"
	KindBearPutDebitSpreadTailPut  Kind = "bear_put_debit_spread_tail_put"
	KindLongStraddle               Kind = "long_straddle"
	KindIronCondor                 Kind = "iron_condor"
	KindJadeLizard                 Kind = "jade_lizard"
	KindCallBackspread             Kind = "call_backspread"
	KindCallCalendar               Kind = "call_calendar"
	KindPutBackspread              Kind = "put_backspread"
	KindCallSplitStrangle          Kind = "call_split_strangle"
)

// Params carries every per-leg target a builder may read. Percent targets are
// pct_from_strike values, i.e. (spot - strike) / strike.
type Params struct {
	PriceField market.PriceField `toml:"price_field" yaml:"price_field"`

	DTE      float64 `toml:"dte" yaml:"dte"`
	DTEShort float64 `toml:"dte_short" yaml:"dte_short"`
	DTELong  float64 `toml:"dte_long" yaml:"dte_long"`

	PctTarget    float64 `toml:"pct_target" yaml:"pct_target"`
	PctLong      float64 `toml:"pct_long" yaml:"pct_long"`
	PctShort     float64 `toml:"pct_short" yaml:"pct_short"`
	PctTail      float64 `toml:"pct_tail" yaml:"pct_tail"`
	PctShortPut  float64 `toml:"pct_short_put" yaml:"pct_short_put"`
	PctLongPut   float64 `toml:"pct_long_put" yaml:"pct_long_put"`
	PctShortCall float64 `toml:"pct_short_call" yaml:"pct_short_call"`
	PctLongCall  float64 `toml:"pct_long_call" yaml:"pct_long_call"`

	TailQty float64 `toml:"tail_qty" yaml:"tail_qty"`

	// Zero disables a width cap.
	MaxStrikeWidth    float64 `toml:"max_strike_width" yaml:"max_strike_width"`
	MaxStrikeWidthPct float64 `toml:"max_strike_width_pct" yaml:"max_strike_width_pct"`

	Filters selector.Filters `toml:"filters" yaml:"filters"`
}

// withDefaults fills the price field and tail quantity when unset.
func (p Params) withDefaults() Params {
	if p.PriceField == "" {
		p.PriceField = market.FieldLast
	}
	if p.TailQty == 0 {
		p.TailQty = 1
	}
	return p
}

func (p Params) Validate() error {
	p = p.withDefaults()
	if err := p.PriceField.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	checks := []struct {
		name string
		v    float64
	}{
		{"dte", p.DTE},
		{"dte_short", p.DTEShort},
		{"dte_long", p.DTELong},
		{"tail_qty", p.TailQty},
		{"max_strike_width", p.MaxStrikeWidth},
		{"max_strike_width_pct", p.MaxStrikeWidthPct},
	}
	for _, c := range checks {
		if math.IsNaN(c.v) || math.IsInf(c.v, 0) || c.v < 0 {
			return fmt.Errorf("%w: %s must be a non-negative number, got %v", ErrInvalidParams, c.name, c.v)
		}
	}
	return nil
}

// Builder turns episodes into positions. Trade ids are episode indexes.
type Builder func(eps []episode.Episode, c *market.Chain, p Params) ([]market.Position, error)

var registry = map[Kind]Builder{
	KindLongCall:                   LongCall,
	KindLongPut:                    LongPut,
	KindBullCallDebitSpread:        BullCallDebitSpread,
	KindBearPutDebitSpread:         BearPutDebitSpread,
	KindBullPutCreditSpread:        BullPutCreditSpread,
	KindBearCallCreditSpread:       BearCallCreditSpread,
	KindBullPutCreditSpreadTailPut: BullPutCreditSpreadTailPut,
	KindBearPutDebitSpreadTailPut:  BearPutDebitSpreadTailPut,
	KindLongStraddle:               LongStraddle,
	KindIronCondor:                 IronCondor,
	KindJadeLizard:                 JadeLizard,
	KindCallBackspread:             CallBackspread,
	KindCallCalendar:               CallCalendar,
	KindPutBackspread:              PutBackspread,
	KindCallSplitStrangle:          CallSplitStrangle,
}

// Lookup returns the builder registered for kind.
func Lookup(kind Kind) (Builder, error) {
	b, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, string(kind))
	}
	return b, nil
}

// Kinds lists every registered kind in lexical order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Build runs the builder registered for kind.
func Build(kind Kind, eps []episode.Episode, c *market.Chain, p Params) ([]market.Position, error) {
	b, err := Lookup(kind)
	if err != nil {
		return nil, err
	}
	return b(eps, c, p)
}

// Strategy is the interface configured strategies implement.
type Strategy interface {
	Name() string
	Kind() Kind
	Enabled() bool
	Build(ctx context.Context, eps []episode.Episode, c *market.Chain) ([]market.Position, error)
}

type configured struct {
	name    string
	kind    Kind
	enabled bool
	params  Params
	build   Builder
}

// New binds a name and parameters to a registered kind.
func New(name string, kind Kind, enabled bool, p Params) (Strategy, error) {
	b, err := Lookup(kind)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("strategy %s: %w", name, err)
	}
	if name == "" {
		name = string(kind)
	}
	return &configured{name: name, kind: kind, enabled: enabled, params: p, build: b}, nil
}

func (s *configured) Name() string  { return s.name }
func (s *configured) Kind() Kind    { return s.kind }
func (s *configured) Enabled() bool { return s.enabled }

func (s *configured) Build(ctx context.Context, eps []episode.Episode, c *market.Chain) ([]market.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.build(eps, c, s.params)
}
