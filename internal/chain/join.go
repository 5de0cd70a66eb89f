// Package chain turns selected (contract, entry date) pairs into per-contract
// quote series normalised against the entry-day quote.
package chain

import (
	"math"
	"sort"
	"time"

	"optbacktest/internal/market"
)

// Key identifies one contract entered on one date.
type Key struct {
	ID        market.ContractID
	EntryDate time.Time
}

// Row is one quote of a keyed contract on or after its entry date.
type Row struct {
	Key
	Date  time.Time
	Quote market.OptionQuote
	// Entry is the first quote of the series, the baseline for every row.
	Entry         market.OptionQuote
	LastPctChange float64
	MarkPctChange float64
}

// EntryPrice returns the baseline value of field.
func (r Row) EntryPrice(field market.PriceField) float64 { return field.Value(r.Entry) }

// Price returns the current value of field.
func (r Row) Price(field market.PriceField) float64 { return field.Value(r.Quote) }

// Join expands every key into the contract's quotes dated on or after the
// entry date. Duplicate keys are joined once. Rows are ordered by
// (id, entry date, date).
func Join(keys []Key, c *market.Chain) []Row {
	uniq := make(map[Key]struct{}, len(keys))
	ordered := make([]Key, 0, len(keys))
	for _, k := range keys {
		k.EntryDate = market.Day(k.EntryDate)
		if _, ok := uniq[k]; ok {
			continue
		}
		uniq[k] = struct{}{}
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].ID != ordered[j].ID {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].EntryDate.Before(ordered[j].EntryDate)
	})

	var rows []Row
	for _, k := range ordered {
		var series []market.OptionQuote
		for _, q := range c.History(k.ID) {
			if !q.Date.Before(k.EntryDate) {
				series = append(series, q)
			}
		}
		if len(series) == 0 {
			continue
		}
		entry := series[0]
		for _, q := range series {
			rows = append(rows, Row{
				Key:           k,
				Date:          q.Date,
				Quote:         q,
				Entry:         entry,
				LastPctChange: pctChange(q.Last, entry.Last),
				MarkPctChange: pctChange(q.Mark, entry.Mark),
			})
		}
	}
	return rows
}

// JoinOne joins a single contract from date.
func JoinOne(id market.ContractID, date time.Time, c *market.Chain) []Row {
	return Join([]Key{{ID: id, EntryDate: date}}, c)
}

func pctChange(cur, base float64) float64 {
	if base == 0 || math.IsNaN(base) || math.IsNaN(cur) {
		return 0
	}
	return cur/base - 1
}
