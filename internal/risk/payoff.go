// Package risk computes expiration payoff bounds for multi-leg option trades
// on a single underlying.
package risk

import (
	"math"
	"sort"

	"optbacktest/internal/market"
)

// Leg is one option position as seen by the payoff calculation.
type Leg struct {
	OptionType market.OptionType
	Strike     float64
	// Side is +1 for long and -1 for short.
	Side     float64
	Quantity float64
	// Multiplier falls back to the trade default when not finite.
	Multiplier float64
}

// Bounds are the theoretical extremes of a trade's PnL at expiration.
type Bounds struct {
	MaxLoss       float64
	MaxGain       float64
	UnboundedRisk bool
	UnboundedGain bool
}

// Undefined is returned when a trade has no usable legs or no cost basis.
func Undefined() Bounds {
	return Bounds{MaxLoss: math.NaN(), MaxGain: math.NaN()}
}

// MaxLossGain evaluates payoff minus cost at S = 0 and at every strike. The
// payoff is piecewise linear with kinks only at strikes, so the extremes over
// that set are the extremes over all S >= 0, except beyond the highest strike
// where the net call exposure sets the slope.
func MaxLossGain(legs []Leg, cost, multiplier float64) Bounds {
	valid := make([]Leg, 0, len(legs))
	for _, l := range legs {
		if !finite(l.Strike) || !finite(l.Side) || !finite(l.Quantity) || !l.OptionType.Valid() {
			continue
		}
		if !finite(l.Multiplier) {
			l.Multiplier = multiplier
		}
		valid = append(valid, l)
	}
	if len(valid) == 0 || !finite(cost) {
		return Undefined()
	}

	var slope float64
	for _, l := range valid {
		if l.OptionType == market.Call {
			slope += l.Side * l.Quantity * l.Multiplier
		}
	}

	minPnL, maxPnL := math.Inf(1), math.Inf(-1)
	for _, s := range points(valid) {
		pnl := payoff(valid, s) - cost
		minPnL = math.Min(minPnL, pnl)
		maxPnL = math.Max(maxPnL, pnl)
	}

	b := Bounds{UnboundedRisk: slope < 0, UnboundedGain: slope > 0}
	if b.UnboundedRisk {
		b.MaxLoss = math.Inf(1)
	} else {
		b.MaxLoss = math.Max(0, -minPnL)
	}
	if b.UnboundedGain {
		b.MaxGain = math.Inf(1)
	} else {
		b.MaxGain = math.Max(0, maxPnL)
	}
	return b
}

// points returns 0 and every distinct strike in ascending order.
func points(legs []Leg) []float64 {
	seen := map[float64]struct{}{0: {}}
	out := []float64{0}
	for _, l := range legs {
		if _, ok := seen[l.Strike]; ok {
			continue
		}
		seen[l.Strike] = struct{}{}
		out = append(out, l.Strike)
	}
	sort.Float64s(out)
	return out
}

func payoff(legs []Leg, s float64) float64 {
	var total float64
	for _, l := range legs {
		var intrinsic float64
		if l.OptionType == market.Call {
			intrinsic = math.Max(0, s-l.Strike)
		} else {
			intrinsic = math.Max(0, l.Strike-s)
		}
		total += l.Side * l.Quantity * l.Multiplier * intrinsic
	}
	return total
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
