package collector

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optbacktest/internal/db"
)

func newTestCollector(t *testing.T) (*Collector, *sqlx.DB) {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database))
	return New(database), database
}

func TestImportPrices_StockPriceAlias(t *testing.T) {
	c, database := newTestCollector(t)
	csv := "Ticker,Date,stock_price\nXYZ,2023-01-03,100.5\nXYZ,2023-01-04T00:00:00,\nABC,2023-01-03,20\n"

	stats, err := c.ImportPrices(context.Background(), strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Rows)

	var price sql.NullFloat64
	require.NoError(t, database.Get(&price, `SELECT price FROM price_points WHERE ticker = 'XYZ' AND date = '2023-01-03'`))
	assert.Equal(t, 100.5, price.Float64)

	require.NoError(t, database.Get(&price, `SELECT price FROM price_points WHERE ticker = 'XYZ' AND date = '2023-01-04'`))
	assert.False(t, price.Valid, "empty cell is NULL")
}

func TestImportPrices_Upserts(t *testing.T) {
	c, database := newTestCollector(t)
	ctx := context.Background()

	_, err := c.ImportPrices(ctx, strings.NewReader("ticker,date,price\nXYZ,2023-01-03,100\n"))
	require.NoError(t, err)
	_, err = c.ImportPrices(ctx, strings.NewReader("ticker,date,price\nXYZ,2023-01-03,101\n"))
	require.NoError(t, err)

	var n int
	require.NoError(t, database.Get(&n, `SELECT COUNT(*) FROM price_points`))
	assert.Equal(t, 1, n)

	var price float64
	require.NoError(t, database.Get(&price, `SELECT price FROM price_points`))
	assert.Equal(t, 101.0, price)
}

func TestImportQuotes(t *testing.T) {
	c, database := newTestCollector(t)
	csv := strings.Join([]string{
		"id,date,ticker,option_type,strike,days_till_expiration,last,mark,bid,ask,volume,open_interest,pct_from_strike",
		"XYZ230120C00100000,2023-01-03,XYZ,call,100,17,2.5,2.6,2.5,2.7,120,900,0.01",
		"XYZ230120P00095000,2023-01-03,XYZ,P,95,17,,0.9,0.85,0.95,,40,0.063",
	}, "\n")

	stats, err := c.ImportQuotes(context.Background(), strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Rows)

	var row struct {
		OptionType string          `db:"option_type"`
		Strike     float64         `db:"strike"`
		Last       sql.NullFloat64 `db:"last"`
		Volume     sql.NullFloat64 `db:"volume"`
	}
	require.NoError(t, database.Get(&row, `SELECT option_type, strike, last, volume FROM option_quotes WHERE id = 'XYZ230120C00100000'`))
	assert.Equal(t, "C", row.OptionType)
	assert.Equal(t, 100.0, row.Strike)
	assert.Equal(t, 2.5, row.Last.Float64)

	require.NoError(t, database.Get(&row, `SELECT option_type, strike, last, volume FROM option_quotes WHERE id = 'XYZ230120P00095000'`))
	assert.Equal(t, "P", row.OptionType)
	assert.False(t, row.Last.Valid)
	assert.False(t, row.Volume.Valid)
}

func TestImportQuotes_OptionalColumnsAbsent(t *testing.T) {
	c, database := newTestCollector(t)
	csv := "id,date,ticker,type,dte,strike\nXYZ-C100,2023-01-03,XYZ,C,30,100\n"

	_, err := c.ImportQuotes(context.Background(), strings.NewReader(csv))
	require.NoError(t, err)

	var dte float64
	require.NoError(t, database.Get(&dte, `SELECT days_till_expiration FROM option_quotes`))
	assert.Equal(t, 30.0, dte)
}

func TestImportQuotes_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing column", func(t *testing.T) {
		c, _ := newTestCollector(t)
		_, err := c.ImportQuotes(ctx, strings.NewReader("id,date,ticker\nX,2023-01-03,XYZ\n"))
		assert.ErrorIs(t, err, ErrMissingColumn)
	})

	t.Run("bad number names line and column", func(t *testing.T) {
		c, database := newTestCollector(t)
		csv := "id,date,ticker,option_type,strike\nA,2023-01-03,XYZ,C,100\nB,2023-01-03,XYZ,C,abc\n"
		_, err := c.ImportQuotes(ctx, strings.NewReader(csv))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 3 column strike")

		var n int
		require.NoError(t, database.Get(&n, `SELECT COUNT(*) FROM option_quotes`))
		assert.Zero(t, n, "failed import rolls back")
	})

	t.Run("bad option type", func(t *testing.T) {
		c, _ := newTestCollector(t)
		_, err := c.ImportQuotes(ctx, strings.NewReader("id,date,ticker,option_type\nA,2023-01-03,XYZ,straddle\n"))
		assert.ErrorContains(t, err, "column option_type")
	})

	t.Run("bad date", func(t *testing.T) {
		c, _ := newTestCollector(t)
		_, err := c.ImportPrices(ctx, strings.NewReader("ticker,date,price\nXYZ,03/01/2023,1\n"))
		assert.ErrorContains(t, err, "column date")
	})
}

func TestImportQuotes_Skip(t *testing.T) {
	c, database := newTestCollector(t)
	var asked []string
	skip := func(ticker string, month time.Time) bool {
		asked = append(asked, ticker+" "+month.Format("2006-01-02"))
		return ticker == "NOOPT" && month.Month() == time.February
	}
	csv := strings.Join([]string{
		"id,date,ticker,option_type",
		"A,2023-02-14,NOOPT,C",
		"B,2023-03-01,NOOPT,C",
		"C,2023-02-14,XYZ,P",
	}, "\n")

	stats, err := c.WithSkip(skip).ImportQuotes(context.Background(), strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, Stats{Rows: 2, Skipped: 1}, stats)
	assert.Equal(t, []string{"NOOPT 2023-02-01", "NOOPT 2023-03-01", "XYZ 2023-02-01"}, asked)

	var ids []string
	require.NoError(t, database.Select(&ids, `SELECT id FROM option_quotes ORDER BY id`))
	assert.Equal(t, []string{"B", "C"}, ids)
}
