package backtest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"optbacktest/internal/db"
	"optbacktest/internal/market"
)

type priceRow struct {
	Ticker string          `db:"ticker"`
	Date   string          `db:"date"`
	Price  sql.NullFloat64 `db:"price"`
}

type quoteRow struct {
	ID                 string          `db:"id"`
	Date               string          `db:"date"`
	Ticker             string          `db:"ticker"`
	OptionType         string          `db:"option_type"`
	Strike             sql.NullFloat64 `db:"strike"`
	DaysTillExpiration sql.NullFloat64 `db:"days_till_expiration"`
	Last               sql.NullFloat64 `db:"last"`
	Mark               sql.NullFloat64 `db:"mark"`
	Bid                sql.NullFloat64 `db:"bid"`
	Ask                sql.NullFloat64 `db:"ask"`
	Volume             sql.NullFloat64 `db:"volume"`
	OpenInterest       sql.NullFloat64 `db:"open_interest"`
	PctFromStrike      sql.NullFloat64 `db:"pct_from_strike"`
}

// window builds the WHERE clause for an optional date range and ticker set.
func window(from, to time.Time, tickers []string) (string, []any, error) {
	var conds []string
	var args []any
	if !from.IsZero() {
		conds = append(conds, "date >= ?")
		args = append(args, from.Format(market.DateLayout))
	}
	if !to.IsZero() {
		conds = append(conds, "date <= ?")
		args = append(args, to.Format(market.DateLayout))
	}
	if len(tickers) > 0 {
		in, inArgs, err := sqlx.In("ticker IN (?)", tickers)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, in)
		args = append(args, inArgs...)
	}
	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func loadPrices(ctx context.Context, database *sqlx.DB, from, to time.Time, tickers []string) ([]market.PricePoint, error) {
	where, args, err := window(from, to, tickers)
	if err != nil {
		return nil, err
	}
	var rows []priceRow
	query := `SELECT ticker, date, price FROM price_points` + where + ` ORDER BY ticker, date`
	if err := database.SelectContext(ctx, &rows, database.Rebind(query), args...); err != nil {
		return nil, err
	}

	points := make([]market.PricePoint, 0, len(rows))
	for _, r := range rows {
		d, err := market.ParseDate(r.Date)
		if err != nil {
			return nil, fmt.Errorf("price %s on %q: %w", r.Ticker, r.Date, err)
		}
		points = append(points, market.PricePoint{Ticker: r.Ticker, Date: d, Price: db.Float(r.Price)})
	}
	return points, nil
}

func loadQuotes(ctx context.Context, database *sqlx.DB, from, to time.Time, tickers []string) ([]market.OptionQuote, error) {
	where, args, err := window(from, to, tickers)
	if err != nil {
		return nil, err
	}
	var rows []quoteRow
	query := `
		SELECT id, date, ticker, option_type, strike, days_till_expiration,
		       last, mark, bid, ask, volume, open_interest, pct_from_strike
		FROM option_quotes` + where + ` ORDER BY id, date`
	if err := database.SelectContext(ctx, &rows, database.Rebind(query), args...); err != nil {
		return nil, err
	}

	quotes := make([]market.OptionQuote, 0, len(rows))
	for _, r := range rows {
		d, err := market.ParseDate(r.Date)
		if err != nil {
			return nil, fmt.Errorf("quote %s on %q: %w", r.ID, r.Date, err)
		}
		ot, err := market.ParseOptionType(r.OptionType)
		if err != nil {
			return nil, fmt.Errorf("quote %s on %s: %w", r.ID, r.Date, err)
		}
		quotes = append(quotes, market.OptionQuote{
			ID:                 market.ContractID(r.ID),
			Date:               d,
			Ticker:             r.Ticker,
			OptionType:         ot,
			Strike:             db.Float(r.Strike),
			DaysTillExpiration: db.Float(r.DaysTillExpiration),
			Last:               db.Float(r.Last),
			Mark:               db.Float(r.Mark),
			Bid:                db.Float(r.Bid),
			Ask:                db.Float(r.Ask),
			Volume:             db.Float(r.Volume),
			OpenInterest:       db.Float(r.OpenInterest),
			PctFromStrike:      db.Float(r.PctFromStrike),
		})
	}
	return quotes, nil
}
