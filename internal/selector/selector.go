// Package selector picks, for each trade, the single live option contract that
// best matches a numeric target on the trade's date.
package selector

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"optbacktest/internal/market"
)

var ErrInvalidTarget = errors.New("invalid selection target")

// TargetKind selects the quantity a request's target is compared against.
type TargetKind string

const (
	ByPct   TargetKind = "pct"
	ByPrice TargetKind = "price"
)

// Request asks for one contract for one trade.
type Request struct {
	TradeID     int
	Ticker      string
	Date        time.Time
	PctTarget   float64
	PriceTarget float64
	DTETarget   float64
}

// Selection is the contract chosen for a request.
type Selection struct {
	TradeID            int
	Ticker             string
	Date               time.Time
	ID                 market.ContractID
	DaysTillExpiration float64
	Price              float64
	PctFromStrike      float64
	Strike             float64
	OptionType         market.OptionType
}

// Spot is the underlying price implied by the selected contract.
func (s Selection) Spot() float64 { return s.Strike * (1 + s.PctFromStrike) }

// Selections maps trade id to its selected contract. A missing trade id means
// no contract matched.
type Selections map[int]Selection

// TradeIDs returns the keys in ascending order.
func (s Selections) TradeIDs() []int {
	ids := make([]int, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Filters are optional liquidity and quote-quality constraints.
type Filters struct {
	MinOpenInterest *float64 `toml:"min_open_interest" yaml:"min_open_interest"`
	MinVolume       *float64 `toml:"min_volume" yaml:"min_volume"`
	RequireQuotes   bool     `toml:"require_quotes" yaml:"require_quotes"`
}

func (f Filters) keep(q market.OptionQuote) bool {
	if f.MinOpenInterest != nil && !(q.OpenInterest >= *f.MinOpenInterest) {
		return false
	}
	if f.MinVolume != nil && !(q.Volume >= *f.MinVolume) {
		return false
	}
	if f.RequireQuotes {
		if math.IsNaN(q.Bid) || math.IsNaN(q.Ask) || q.Bid < 0 || q.Ask < 0 || q.Ask < q.Bid {
			return false
		}
	}
	return true
}

// Options configures one Select call.
type Options struct {
	OptionType market.OptionType
	Target     TargetKind
	PriceField market.PriceField
	// Exclude holds, per trade, contract ids that must not be selected.
	Exclude map[int]map[market.ContractID]struct{}
	Filters Filters
	// Accept, when set, must return true for a candidate to stay eligible.
	Accept func(Request, market.OptionQuote) bool
	// Secondary, when set, is an extra ascending sort key applied after distance.
	Secondary func(Request, market.OptionQuote) float64
}

func (o Options) validate() error {
	if !o.OptionType.Valid() {
		return fmt.Errorf("%w: %q", market.ErrInvalidOptionType, string(o.OptionType))
	}
	if o.Target != ByPct && o.Target != ByPrice {
		return fmt.Errorf("%w: target kind must be pct or price, got %q", ErrInvalidTarget, string(o.Target))
	}
	return o.PriceField.Validate()
}

type candidate struct {
	quote     market.OptionQuote
	dist      float64
	secondary float64
	spread    float64
}

// Select returns the best contract per request. Requests sharing a trade id
// are resolved independently and the last one wins; builders issue exactly
// one request per trade.
func Select(c *market.Chain, reqs []Request, opts Options) (Selections, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	out := make(Selections)
	for _, r := range reqs {
		best, ok := pick(c, r, opts)
		if !ok {
			continue
		}
		q := best.quote
		out[r.TradeID] = Selection{
			TradeID:            r.TradeID,
			Ticker:             r.Ticker,
			Date:               q.Date,
			ID:                 q.ID,
			DaysTillExpiration: q.DaysTillExpiration,
			Price:              opts.PriceField.Value(q),
			PctFromStrike:      q.PctFromStrike,
			Strike:             q.Strike,
			OptionType:         q.OptionType,
		}
	}
	return out, nil
}

func pick(c *market.Chain, r Request, opts Options) (candidate, bool) {
	excluded := opts.Exclude[r.TradeID]

	var cands []candidate
	minDTE := math.Inf(1)
	for _, q := range c.On(r.Ticker, r.Date) {
		if q.OptionType != opts.OptionType {
			continue
		}
		if math.IsNaN(q.DaysTillExpiration) || q.DaysTillExpiration < 0 {
			continue
		}
		if !opts.Filters.keep(q) {
			continue
		}
		if _, ok := excluded[q.ID]; ok {
			continue
		}
		if opts.Accept != nil && !opts.Accept(r, q) {
			continue
		}
		d := math.Abs(q.DaysTillExpiration - r.DTETarget)
		if math.IsNaN(d) {
			continue
		}
		if d < minDTE {
			minDTE = d
		}
		cands = append(cands, candidate{quote: q})
	}

	kept := cands[:0]
	for _, cd := range cands {
		if math.Abs(cd.quote.DaysTillExpiration-r.DTETarget) != minDTE {
			continue
		}
		cd.dist = distance(r, cd.quote, opts)
		if math.IsNaN(cd.dist) || math.IsInf(cd.dist, 0) {
			continue
		}
		if opts.Secondary != nil {
			cd.secondary = opts.Secondary(r, cd.quote)
		}
		cd.spread = math.Abs(cd.quote.Ask - cd.quote.Bid)
		kept = append(kept, cd)
	}
	if len(kept) == 0 {
		return candidate{}, false
	}

	sort.SliceStable(kept, func(i, j int) bool { return less(kept[i], kept[j]) })
	return kept[0], true
}

func distance(r Request, q market.OptionQuote, opts Options) float64 {
	if opts.Target == ByPct {
		return math.Abs(q.PctFromStrike - r.PctTarget)
	}
	return math.Abs(opts.PriceField.Value(q) - r.PriceTarget)
}

func less(a, b candidate) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	if c := cmpAsc(a.secondary, b.secondary); c != 0 {
		return c < 0
	}
	if c := cmpAsc(a.spread, b.spread); c != 0 {
		return c < 0
	}
	if c := cmpAsc(b.quote.OpenInterest, a.quote.OpenInterest); c != 0 {
		return missingLast(a.quote.OpenInterest, b.quote.OpenInterest, c)
	}
	if c := cmpAsc(b.quote.Volume, a.quote.Volume); c != 0 {
		return missingLast(a.quote.Volume, b.quote.Volume, c)
	}
	return a.quote.ID < b.quote.ID
}

// cmpAsc orders x before y ascending with NaN after every number.
func cmpAsc(x, y float64) int {
	xn, yn := math.IsNaN(x), math.IsNaN(y)
	switch {
	case xn && yn:
		return 0
	case xn:
		return 1
	case yn:
		return -1
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// missingLast keeps NaN last for descending keys, where cmpAsc was called
// with swapped arguments.
func missingLast(a, b float64, c int) bool {
	switch {
	case math.IsNaN(a):
		return false
	case math.IsNaN(b):
		return true
	}
	return c < 0
}
