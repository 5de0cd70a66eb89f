package market

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var ErrDuplicateQuote = errors.New("duplicate option quote")

type tickerDate struct {
	ticker string
	date   time.Time
}

// Chain is a read-only index over the option-chain table. It is safe for
// concurrent use once built.
type Chain struct {
	quotes       []OptionQuote
	byTickerDate map[tickerDate][]int
	byID         map[ContractID][]int
}

// NewChain indexes quotes by (ticker, date) and by contract id. Quotes are
// ordered by (id, date); a repeated (id, date) pair is rejected.
func NewChain(quotes []OptionQuote) (*Chain, error) {
	sorted := make([]OptionQuote, len(quotes))
	copy(sorted, quotes)
	for i := range sorted {
		sorted[i].Date = Day(sorted[i].Date)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ID != sorted[j].ID {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Date.Before(sorted[j].Date)
	})

	for i := 1; i < len(sorted); i++ {
		if sorted[i].ID == sorted[i-1].ID && sorted[i].Date.Equal(sorted[i-1].Date) {
			return nil, fmt.Errorf("%w: id %s on %s", ErrDuplicateQuote,
				sorted[i].ID, sorted[i].Date.Format(DateLayout))
		}
	}
	return index(sorted), nil
}

func index(sorted []OptionQuote) *Chain {
	c := &Chain{
		quotes:       sorted,
		byTickerDate: make(map[tickerDate][]int),
		byID:         make(map[ContractID][]int),
	}
	for i, q := range sorted {
		k := tickerDate{ticker: q.Ticker, date: q.Date}
		c.byTickerDate[k] = append(c.byTickerDate[k], i)
		c.byID[q.ID] = append(c.byID[q.ID], i)
	}
	return c
}

// Len returns the number of quotes in the chain.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.quotes)
}

// On returns every quote for ticker on date, ordered by contract id.
func (c *Chain) On(ticker string, date time.Time) []OptionQuote {
	if c == nil {
		return nil
	}
	idx := c.byTickerDate[tickerDate{ticker: ticker, date: Day(date)}]
	out := make([]OptionQuote, len(idx))
	for i, j := range idx {
		out[i] = c.quotes[j]
	}
	return out
}

// History returns every quote of the contract, ordered by date.
func (c *Chain) History(id ContractID) []OptionQuote {
	if c == nil {
		return nil
	}
	idx := c.byID[id]
	out := make([]OptionQuote, len(idx))
	for i, j := range idx {
		out[i] = c.quotes[j]
	}
	return out
}

// Quote returns the contract's quote on date.
func (c *Chain) Quote(id ContractID, date time.Time) (OptionQuote, bool) {
	if c == nil {
		return OptionQuote{}, false
	}
	d := Day(date)
	for _, j := range c.byID[id] {
		if c.quotes[j].Date.Equal(d) {
			return c.quotes[j], true
		}
	}
	return OptionQuote{}, false
}
