// Package episode finds non-overlapping windows in which an underlying's price
// crosses a percentage move threshold within a horizon of trading days.
package episode

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"optbacktest/internal/market"
)

var ErrInvalidParams = errors.New("invalid episode parameters")

// Direction is the sign of the move an episode looks for.
type Direction string

const (
	Up   Direction = "U"
	Down Direction = "D"
)

// ParseDirection accepts U/UP and D/DOWN in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "U", "UP":
		return Up, nil
	case "D", "DOWN":
		return Down, nil
	default:
		return "", fmt.Errorf("%w: direction must be up or down, got %q", ErrInvalidParams, s)
	}
}

// Params configures a detection pass.
type Params struct {
	HorizonDays  int
	ThresholdPct float64
	Direction    Direction
}

func (p Params) validate() error {
	if p.HorizonDays < 1 {
		return fmt.Errorf("%w: horizon must be >= 1 day, got %d", ErrInvalidParams, p.HorizonDays)
	}
	if math.IsNaN(p.ThresholdPct) || p.ThresholdPct < 0 {
		return fmt.Errorf("%w: threshold must be >= 0, got %v", ErrInvalidParams, p.ThresholdPct)
	}
	if p.Direction != Up && p.Direction != Down {
		return fmt.Errorf("%w: direction must be up or down, got %q", ErrInvalidParams, p.Direction)
	}
	return nil
}

// Episode is one detected threshold crossing.
type Episode struct {
	Ticker          string
	StartDate       time.Time
	EndDate         time.Time
	StartPrice      float64
	EndPrice        float64
	DaysToThreshold int
	MovePct         float64
	// StartPos and EndPos index the ticker's date-ordered series.
	StartPos int
	EndPos   int
}

// Detect scans every ticker's series for the earliest forward day, within the
// horizon, whose move from the starting price satisfies the threshold, then
// keeps candidates greedily so that no two episodes of a ticker overlap.
// The result is ordered by (ticker, start date).
func Detect(points []market.PricePoint, p Params) ([]Episode, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	series := groupByTicker(points)
	tickers := make([]string, 0, len(series))
	for t := range series {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	thr := p.ThresholdPct / 100.0
	var out []Episode
	for _, ticker := range tickers {
		candidates := scan(ticker, series[ticker], p.HorizonDays, thr, p.Direction)
		out = append(out, skipAhead(candidates)...)
	}
	return out, nil
}

func groupByTicker(points []market.PricePoint) map[string][]market.PricePoint {
	series := make(map[string][]market.PricePoint)
	for _, pt := range points {
		pt.Date = market.Day(pt.Date)
		series[pt.Ticker] = append(series[pt.Ticker], pt)
	}
	for _, s := range series {
		sort.SliceStable(s, func(i, j int) bool { return s[i].Date.Before(s[j].Date) })
	}
	return series
}

// scan returns every hit row of one ticker in position order.
func scan(ticker string, s []market.PricePoint, horizon int, thr float64, dir Direction) []Episode {
	var candidates []Episode
	for i, start := range s {
		if !(start.Price > 0) {
			continue
		}
		for k := 1; k <= horizon && i+k < len(s); k++ {
			end := s[i+k]
			move := (end.Price - start.Price) / start.Price
			if !hits(move, thr, dir) {
				continue
			}
			candidates = append(candidates, Episode{
				Ticker:          ticker,
				StartDate:       start.Date,
				EndDate:         end.Date,
				StartPrice:      start.Price,
				EndPrice:        end.Price,
				DaysToThreshold: k,
				MovePct:         move * 100,
				StartPos:        i,
				EndPos:          i + k,
			})
			break
		}
	}
	return candidates
}

func hits(move, thr float64, dir Direction) bool {
	if math.IsNaN(move) {
		return false
	}
	if dir == Up {
		return move >= thr
	}
	return move <= -thr
}

// skipAhead keeps a candidate only when it starts after the previously kept
// episode ended.
func skipAhead(candidates []Episode) []Episode {
	var kept []Episode
	next := 0
	for _, c := range candidates {
		if c.StartPos >= next {
			kept = append(kept, c)
			next = c.EndPos + 1
		}
	}
	return kept
}
