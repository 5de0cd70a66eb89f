package pnl

import (
	"math"
	"sort"
	"time"

	"optbacktest/internal/risk"
)

// Trade is the PnL of one trade on one date.
type Trade struct {
	TradeID     int
	Date        time.Time
	TradeDate   time.Time
	SellDate    time.Time
	HoldingDays int

	PnL  float64
	Cost float64
	// EntryNotionalAbs is the gross entry notional the percentages divide by.
	EntryNotionalAbs float64
	Value            float64
	PnLPct           float64
	PnLPctCost       float64

	NLegs       int
	NContracts  float64
	NTickers    int
	MultiTicker bool

	risk.Bounds
	GainLossRatio float64

	PnLOverCostAbs float64
	CostPctOfGross float64
}

// snapshot is the entry state of one leg of a trade.
type snapshot struct {
	first Leg
	start time.Time
}

// tradeLegs groups a trade's legs by date and by leg key.
type tradeLegs struct {
	id    int
	dates []time.Time
	byDay map[time.Time][]Leg
	legs  []snapshot
}

// group splits legs per trade, ordered by trade id. Snapshots keep the
// earliest row of each leg.
func group(legs []Leg) []*tradeLegs {
	byID := make(map[int]*tradeLegs)
	var order []int
	for _, l := range legs {
		tid := l.Position.TradeID
		t, ok := byID[tid]
		if !ok {
			t = &tradeLegs{id: tid, byDay: make(map[time.Time][]Leg)}
			byID[tid] = t
			order = append(order, tid)
		}
		if _, ok := t.byDay[l.Date]; !ok {
			t.dates = append(t.dates, l.Date)
		}
		t.byDay[l.Date] = append(t.byDay[l.Date], l)
	}
	sort.Ints(order)

	out := make([]*tradeLegs, 0, len(order))
	for _, tid := range order {
		t := byID[tid]
		sort.Slice(t.dates, func(i, j int) bool { return t.dates[i].Before(t.dates[j]) })
		idx := make(map[string]int)
		for _, d := range t.dates {
			for _, l := range t.byDay[d] {
				k := l.LegKey()
				if _, ok := idx[k]; ok {
					continue
				}
				idx[k] = len(t.legs)
				t.legs = append(t.legs, snapshot{first: l, start: d})
			}
		}
		out = append(out, t)
	}
	return out
}

func (t *tradeLegs) pnl(d time.Time) float64 {
	var s float64
	for _, l := range t.byDay[d] {
		s = sum(s, l.PnL)
	}
	return s
}

func (t *tradeLegs) entryNotional() float64 {
	var s float64
	for _, l := range t.legs {
		s = sum(s, l.first.EntryNotionalAbs)
	}
	if s == 0 {
		return math.NaN()
	}
	return s
}

func (t *tradeLegs) cost() float64 {
	var s float64
	for _, l := range t.legs {
		s = sum(s, l.first.Cost)
	}
	return s
}

// Truncate ends each trade before the first date on which its PnL, as a
// fraction of constant entry notional, reaches -|StopLoss| or +|TakeProfit|.
// Marks on and after that date are dropped. Trades that never hit are kept
// whole.
func Truncate(marks []Mark, opts Options) ([]Mark, error) {
	if !opts.stops() {
		return marks, nil
	}
	opts.RequirePrices = false
	legs, err := Transaction(marks, opts)
	if err != nil {
		return nil, err
	}

	cutoffs := make(map[int]time.Time)
	for _, t := range group(legs) {
		notional := t.entryNotional()
		for _, d := range t.dates {
			if hit(t.pnl(d)/notional, opts) {
				cutoffs[t.id] = d
				break
			}
		}
	}

	kept := make([]Mark, 0, len(marks))
	for _, m := range marks {
		if cut, ok := cutoffs[m.Position.TradeID]; ok && !m.Date.Before(cut) {
			continue
		}
		kept = append(kept, m)
	}
	return kept, nil
}

func hit(pct float64, opts Options) bool {
	if math.IsNaN(pct) {
		return false
	}
	if opts.StopLoss != 0 && pct <= -math.Abs(opts.StopLoss) {
		return true
	}
	return opts.TakeProfit != 0 && pct >= math.Abs(opts.TakeProfit)
}

// Stopped returns the ids of trades whose last date moved after truncation.
func Stopped(before, after []Mark) []int {
	last := func(marks []Mark) map[int]time.Time {
		out := make(map[int]time.Time)
		for _, m := range marks {
			if d, ok := out[m.Position.TradeID]; !ok || m.Date.After(d) {
				out[m.Position.TradeID] = m.Date
			}
		}
		return out
	}
	b, a := last(before), last(after)
	var ids []int
	for tid, d := range b {
		if ad, ok := a[tid]; !ok || ad.Before(d) {
			ids = append(ids, tid)
		}
	}
	sort.Ints(ids)
	return ids
}

// Trades aggregates leg PnL per (trade, date), truncating first when
// configured. Rows are ordered by (trade, date).
func Trades(marks []Mark, opts Options) ([]Trade, error) {
	if opts.Truncate && opts.stops() {
		var err error
		if marks, err = Truncate(marks, opts); err != nil {
			return nil, err
		}
	}
	legs, err := Transaction(marks, opts)
	if err != nil {
		return nil, err
	}

	var out []Trade
	for _, t := range group(legs) {
		out = append(out, t.series(opts)...)
	}
	return out, nil
}

func (t *tradeLegs) series(opts Options) []Trade {
	tradeDate, sellDate := t.dates[0], t.dates[len(t.dates)-1]

	costConst := t.cost()
	notionalConst := t.entryNotional()

	var contracts float64
	tickers := make(map[string]struct{})
	for _, l := range t.legs {
		contracts = sum(contracts, l.first.QuantityAbs)
	}
	for _, d := range t.dates {
		for _, l := range t.byDay[d] {
			tickers[l.Position.Ticker] = struct{}{}
		}
	}

	bounds := risk.Undefined()
	if len(tickers) == 1 {
		bounds = risk.MaxLossGain(t.riskLegs(), costConst, opts.multiplier())
	}

	var steps costSteps
	if opts.DynamicCost {
		steps = t.costSteps()
	}

	out := make([]Trade, 0, len(t.dates))
	for _, d := range t.dates {
		cost, notional := costConst, notionalConst
		if opts.DynamicCost {
			cost, notional = steps.at(d)
		}
		pnl := t.pnl(d)
		tr := Trade{
			TradeID:          t.id,
			Date:             d,
			TradeDate:        tradeDate,
			SellDate:         sellDate,
			HoldingDays:      int(sellDate.Sub(tradeDate).Hours() / 24),
			PnL:              pnl,
			Cost:             cost,
			EntryNotionalAbs: notional,
			Value:            cost + pnl,
			PnLPct:           ratio(pnl, notional),
			PnLPctCost:       ratio(pnl, math.Abs(cost)),
			NLegs:            len(t.legs),
			NContracts:       contracts,
			NTickers:         len(tickers),
			MultiTicker:      len(tickers) > 1,
			Bounds:           bounds,
			PnLOverCostAbs:   ratio(pnl, notional),
			CostPctOfGross:   ratio(cost, notional),
		}
		tr.GainLossRatio = gainLossRatio(pnl, bounds.MaxLoss)
		out = append(out, tr)
	}
	return out
}

func (t *tradeLegs) riskLegs() []risk.Leg {
	out := make([]risk.Leg, len(t.legs))
	for i, s := range t.legs {
		l := s.first
		out[i] = risk.Leg{
			OptionType: l.Entry.OptionType,
			Strike:     l.Entry.Strike,
			Side:       l.SideSign,
			Quantity:   l.QuantityAbs,
			Multiplier: l.Multiplier,
		}
	}
	return out
}

// gainLossRatio is pnl over max loss for winning rows, else zero.
func gainLossRatio(pnl, maxLoss float64) float64 {
	if !(pnl > 0) {
		return 0
	}
	r := ratio(pnl, maxLoss)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

// costSteps is the cumulative cost basis of a trade as its legs activate,
// ordered by activation date.
type costSteps struct {
	starts   []time.Time
	cost     []float64
	notional []float64
}

func (t *tradeLegs) costSteps() costSteps {
	legs := make([]snapshot, len(t.legs))
	copy(legs, t.legs)
	sort.SliceStable(legs, func(i, j int) bool { return legs[i].start.Before(legs[j].start) })

	var s costSteps
	var cost, notional float64
	for _, l := range legs {
		cost = sum(cost, l.first.Cost)
		notional = sum(notional, l.first.EntryNotionalAbs)
		s.starts = append(s.starts, l.start)
		s.cost = append(s.cost, cost)
		s.notional = append(s.notional, notional)
	}
	return s
}

// at returns the cost and notional of the legs started on or before d. No
// active leg means zero cost and NaN notional.
func (s costSteps) at(d time.Time) (cost, notional float64) {
	n := sort.Search(len(s.starts), func(i int) bool { return s.starts[i].After(d) })
	if n == 0 {
		return 0, math.NaN()
	}
	notional = s.notional[n-1]
	if notional == 0 {
		notional = math.NaN()
	}
	return s.cost[n-1], notional
}

// Final returns the last row of every trade.
func Final(trades []Trade) []Trade {
	var out []Trade
	for i, tr := range trades {
		if i+1 == len(trades) || trades[i+1].TradeID != tr.TradeID {
			out = append(out, tr)
		}
	}
	return out
}
