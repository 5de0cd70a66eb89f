// Package pnl prices trade legs over time and aggregates them into trade-level
// profit and loss, with optional stop-loss and take-profit truncation.
package pnl

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"optbacktest/internal/chain"
	"optbacktest/internal/market"
)

var (
	ErrMissingPrice    = errors.New("missing price")
	ErrInvalidQuantity = errors.New("invalid quantity")
)

// DefaultMultiplier is the contract size of a standard equity option.
const DefaultMultiplier = 100.0

// Options configures leg and trade PnL.
type Options struct {
	PriceField market.PriceField
	// Multiplier applies to legs without their own. Zero means DefaultMultiplier.
	Multiplier    float64
	RequirePrices bool
	// StopLoss and TakeProfit are fractions of entry notional. Zero disables.
	StopLoss    float64
	TakeProfit  float64
	Truncate    bool
	DynamicCost bool
}

func (o Options) multiplier() float64 {
	if o.Multiplier == 0 || math.IsNaN(o.Multiplier) {
		return DefaultMultiplier
	}
	return o.Multiplier
}

func (o Options) stops() bool { return o.StopLoss != 0 || o.TakeProfit != 0 }

// Mark is one leg of one trade observed on one date.
type Mark struct {
	Position market.Position
	Date     time.Time
	Quote    market.OptionQuote
	Entry    market.OptionQuote
	// ContractMultiplier overrides Options.Multiplier when finite and non-zero.
	ContractMultiplier float64
}

// LegKey identifies a leg within its trade.
func (m Mark) LegKey() string {
	if m.Position.LegID != "" {
		return m.Position.LegID
	}
	return string(m.Position.ID)
}

// Attach pairs each position with the joined chain rows of its contract
// entered on the position date. Positions without quotes produce no marks.
// multipliers may be nil.
func Attach(positions []market.Position, rows []chain.Row, multipliers map[market.ContractID]float64) []Mark {
	byKey := make(map[chain.Key][]chain.Row)
	for _, r := range rows {
		byKey[r.Key] = append(byKey[r.Key], r)
	}

	var marks []Mark
	for _, p := range positions {
		k := chain.Key{ID: p.ID, EntryDate: market.Day(p.Date)}
		mult, ok := multipliers[p.ID]
		if !ok {
			mult = math.NaN()
		}
		for _, r := range byKey[k] {
			marks = append(marks, Mark{
				Position:           p,
				Date:               r.Date,
				Quote:              r.Quote,
				Entry:              r.Entry,
				ContractMultiplier: mult,
			})
		}
	}
	sortMarks(marks)
	return marks
}

// sortMarks orders by (trade, date, leg).
func sortMarks(marks []Mark) {
	sort.SliceStable(marks, func(i, j int) bool {
		a, b := marks[i], marks[j]
		if a.Position.TradeID != b.Position.TradeID {
			return a.Position.TradeID < b.Position.TradeID
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.LegKey() < b.LegKey()
	})
}

// Leg is the PnL of one mark. Dollar amounts are signed by side.
type Leg struct {
	Mark
	EntryPrice  float64
	Price       float64
	SideSign    float64
	QuantityAbs float64
	Multiplier  float64
	Cost        float64
	Value       float64
	PnL         float64
	// EntryNotionalAbs is |entry price| * quantity * multiplier.
	EntryNotionalAbs float64
	PnLPct           float64
	// QtyDirectionMismatch flags a negative quantity on a long leg or the reverse.
	QtyDirectionMismatch bool
}

// Transaction computes leg PnL for every mark. The side comes from the
// position direction; quantity is taken as a magnitude.
func Transaction(marks []Mark, opts Options) ([]Leg, error) {
	if err := opts.PriceField.Validate(); err != nil {
		return nil, err
	}
	legs := make([]Leg, 0, len(marks))
	for _, m := range marks {
		side, err := sideSign(m.Position.Direction)
		if err != nil {
			return nil, fmt.Errorf("trade %d leg %s: %w", m.Position.TradeID, m.LegKey(), err)
		}
		qty := m.Position.Quantity
		if math.IsNaN(qty) || math.IsInf(qty, 0) {
			return nil, fmt.Errorf("%w: trade %d leg %s: %v", ErrInvalidQuantity, m.Position.TradeID, m.LegKey(), qty)
		}

		entry := opts.PriceField.Value(m.Entry)
		price := opts.PriceField.Value(m.Quote)
		if opts.RequirePrices && (math.IsNaN(entry) || math.IsNaN(price)) {
			return nil, fmt.Errorf("%w: %s on %s for %s", ErrMissingPrice,
				opts.PriceField, m.Date.Format(market.DateLayout), m.Position.ID)
		}

		mult := m.ContractMultiplier
		if mult == 0 || math.IsNaN(mult) || math.IsInf(mult, 0) {
			mult = opts.multiplier()
		}

		l := Leg{
			Mark:        m,
			EntryPrice:  entry,
			Price:       price,
			SideSign:    side,
			QuantityAbs: math.Abs(qty),
			Multiplier:  mult,
		}
		l.Cost = side * entry * l.QuantityAbs * mult
		l.Value = side * price * l.QuantityAbs * mult
		l.PnL = l.Value - l.Cost
		l.EntryNotionalAbs = math.Abs(entry) * l.QuantityAbs * mult
		l.PnLPct = ratio(l.PnL, l.EntryNotionalAbs)
		l.QtyDirectionMismatch = qty != 0 && math.Signbit(qty) != math.Signbit(side)
		legs = append(legs, l)
	}
	return legs, nil
}

func sideSign(d market.Direction) (float64, error) {
	if s := d.Sign(); s != 0 {
		return s, nil
	}
	parsed, err := market.ParseDirection(string(d))
	if err != nil {
		return 0, err
	}
	return parsed.Sign(), nil
}

// ratio divides, yielding NaN for a zero or missing denominator.
func ratio(num, den float64) float64 {
	if den == 0 || math.IsNaN(den) {
		return math.NaN()
	}
	return num / den
}

// sum adds the non-NaN values.
func sum(vs ...float64) float64 {
	var s float64
	for _, v := range vs {
		if !math.IsNaN(v) {
			s += v
		}
	}
	return s
}
