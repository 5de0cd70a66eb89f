package strategy

import (
	"log/slog"
	"math"
	"sort"

	"optbacktest/internal/episode"
	"optbacktest/internal/market"
	"optbacktest/internal/selector"
)

// build carries the state of one strategy construction. The first selector
// error is kept and every later step becomes a no-op.
type build struct {
	kind  Kind
	chain *market.Chain
	p     Params
	reqs  []selector.Request
	// taken holds every contract already chosen for a trade.
	taken map[int]map[market.ContractID]struct{}
	err   error
}

func newBuild(kind Kind, eps []episode.Episode, c *market.Chain, p Params) (*build, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	reqs := make([]selector.Request, len(eps))
	for i, e := range eps {
		reqs[i] = selector.Request{TradeID: i, Ticker: e.Ticker, Date: e.EndDate}
	}
	return &build{
		kind:  kind,
		chain: c,
		p:     p.withDefaults(),
		reqs:  reqs,
		taken: make(map[int]map[market.ContractID]struct{}),
	}, nil
}

// pick runs one selector pass, excluding contracts already chosen for each
// trade, and records the new choices.
func (b *build) pick(opts selector.Options, reqs []selector.Request) selector.Selections {
	if b.err != nil || len(reqs) == 0 {
		return selector.Selections{}
	}
	opts.PriceField = b.p.PriceField
	opts.Filters = b.p.Filters
	opts.Exclude = b.taken
	sel, err := selector.Select(b.chain, reqs, opts)
	if err != nil {
		b.err = err
		return selector.Selections{}
	}
	for tid, s := range sel {
		ids := b.taken[tid]
		if ids == nil {
			ids = make(map[market.ContractID]struct{})
			b.taken[tid] = ids
		}
		ids[s.ID] = struct{}{}
	}
	return sel
}

// pct selects one contract per trade nearest to a pct_from_strike target.
func (b *build) pct(ot market.OptionType, pct, dte float64) selector.Selections {
	reqs := make([]selector.Request, len(b.reqs))
	for i, r := range b.reqs {
		r.PctTarget = pct
		r.DTETarget = dte
		reqs[i] = r
	}
	return b.pick(selector.Options{OptionType: ot, Target: selector.ByPct}, reqs)
}

// derived builds requests only for trades present in from, letting fill set
// the target from the earlier selection.
func (b *build) derived(from selector.Selections, dte float64, fill func(*selector.Request, selector.Selection)) []selector.Request {
	var reqs []selector.Request
	for _, r := range b.reqs {
		s, ok := from[r.TradeID]
		if !ok {
			continue
		}
		r.DTETarget = dte
		fill(&r, s)
		reqs = append(reqs, r)
	}
	return reqs
}

// halfPremium targets half of the earlier leg's price.
func halfPremium(r *selector.Request, s selector.Selection) { r.PriceTarget = s.Price / 2 }

type leg struct {
	sel selector.Selections
	qty float64
	dir market.Direction
}

func long(sel selector.Selections, qty float64) leg {
	return leg{sel: sel, qty: qty, dir: market.Long}
}

func short(sel selector.Selections, qty float64) leg {
	return leg{sel: sel, qty: qty, dir: market.Short}
}

// finish keeps trades that have every leg, no contract used twice and no
// failed invariant, and emits their positions ordered by (id, date, trade).
func (b *build) finish(invalid func(tid int) bool, legs ...leg) ([]market.Position, error) {
	if b.err != nil {
		return nil, b.err
	}
	out := []market.Position{}
	dropped := 0
	for _, r := range b.reqs {
		tid := r.TradeID
		if !complete(tid, legs) {
			continue
		}
		if duplicated(tid, legs) || (invalid != nil && invalid(tid)) {
			dropped++
			continue
		}
		for _, l := range legs {
			s := l.sel[tid]
			out = append(out, market.Position{
				ID:        s.ID,
				Date:      s.Date,
				TradeID:   tid,
				Ticker:    s.Ticker,
				Quantity:  l.dir.Sign() * l.qty,
				Direction: l.dir,
			})
		}
	}
	sortPositions(out)

	slog.Debug("strategy built",
		"kind", b.kind,
		"requested", len(b.reqs),
		"invalid", dropped,
		"positions", len(out),
	)
	return out, nil
}

func complete(tid int, legs []leg) bool {
	for _, l := range legs {
		if _, ok := l.sel[tid]; !ok {
			return false
		}
	}
	return true
}

func duplicated(tid int, legs []leg) bool {
	seen := make(map[market.ContractID]struct{}, len(legs))
	for _, l := range legs {
		id := l.sel[tid].ID
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
	}
	return false
}

func sortPositions(ps []market.Position) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.TradeID < b.TradeID
	})
}

// Price checks pass when either price is missing.

func cheaper(a, b float64) bool { return !(a >= b) }
func dearer(a, b float64) bool  { return !(a <= b) }

// Strike checks fail when either strike is missing.

func strikeBelow(a, b float64) bool { return a < b }
func strikeAbove(a, b float64) bool { return a > b }
func strikeEqual(a, b float64) bool { return a == b }

func missing(a, b float64) bool { return math.IsNaN(a) || math.IsNaN(b) }
