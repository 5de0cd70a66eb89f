package chain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optbacktest/internal/market"
)

var d0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestChain(t *testing.T) *market.Chain {
	t.Helper()
	c, err := market.NewChain([]market.OptionQuote{
		{ID: "A", Ticker: "XYZ", Date: d0, Last: 2, Mark: 2.1},
		{ID: "A", Ticker: "XYZ", Date: d0.AddDate(0, 0, 1), Last: 3, Mark: 3.15},
		{ID: "A", Ticker: "XYZ", Date: d0.AddDate(0, 0, 2), Last: 1, Mark: math.NaN()},
		{ID: "B", Ticker: "XYZ", Date: d0, Last: 0, Mark: 0},
		{ID: "B", Ticker: "XYZ", Date: d0.AddDate(0, 0, 1), Last: 1, Mark: 1},
	})
	require.NoError(t, err)
	return c
}

func TestJoin_BaselineIsFirstRowOnOrAfterEntry(t *testing.T) {
	c := newTestChain(t)
	rows := Join([]Key{{ID: "A", EntryDate: d0.AddDate(0, 0, 1)}}, c)
	require.Len(t, rows, 2)

	assert.Equal(t, 3.0, rows[0].Entry.Last)
	assert.Equal(t, 0.0, rows[0].LastPctChange)
	assert.InDelta(t, 1.0/3.0-1, rows[1].LastPctChange, 1e-12)
	// Current mark is missing.
	assert.Equal(t, 0.0, rows[1].MarkPctChange)
}

func TestJoin_ZeroBaselineYieldsZeroChange(t *testing.T) {
	c := newTestChain(t)
	rows := JoinOne("B", d0, c)
	require.Len(t, rows, 2)
	assert.Equal(t, 0.0, rows[1].LastPctChange)
	assert.Equal(t, 0.0, rows[1].MarkPctChange)
}

func TestJoin_OrderedAndDeduplicated(t *testing.T) {
	c := newTestChain(t)
	rows := Join([]Key{
		{ID: "B", EntryDate: d0},
		{ID: "A", EntryDate: d0},
		{ID: "A", EntryDate: d0},
	}, c)
	require.Len(t, rows, 5)
	assert.Equal(t, market.ContractID("A"), rows[0].ID)
	assert.Equal(t, market.ContractID("A"), rows[2].ID)
	assert.Equal(t, market.ContractID("B"), rows[3].ID)
	for i := 1; i < 3; i++ {
		assert.True(t, rows[i-1].Date.Before(rows[i].Date))
	}
	assert.InDelta(t, 0.5, rows[1].LastPctChange, 1e-12)
	assert.InDelta(t, 0.5, rows[1].MarkPctChange, 1e-12)
	assert.Equal(t, 2.0, rows[1].EntryPrice(market.FieldLast))
	assert.Equal(t, 3.0, rows[1].Price(market.FieldLast))
}

func TestJoin_UnknownContract(t *testing.T) {
	c := newTestChain(t)
	assert.Empty(t, JoinOne("nope", d0, c))
	assert.Empty(t, JoinOne("A", d0.AddDate(0, 0, 10), c))
}
