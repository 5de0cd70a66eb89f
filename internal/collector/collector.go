// Package collector imports the underlying price and option-chain tables
// from CSV exports into the backtest database.
package collector

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"optbacktest/internal/db"
	"optbacktest/internal/market"
)

var ErrMissingColumn = errors.New("missing required column")

// SkipFunc reports whether quotes for a ticker in the month starting at month
// should be ignored, e.g. because an earlier fetch found no options data.
type SkipFunc func(ticker string, month time.Time) bool

// Collector writes imported rows into price_points and option_quotes.
type Collector struct {
	db   *sqlx.DB
	skip SkipFunc
}

func New(db *sqlx.DB) *Collector {
	return &Collector{db: db}
}

// WithSkip returns a collector that drops quote rows skip rejects.
func (c *Collector) WithSkip(skip SkipFunc) *Collector {
	return &Collector{db: c.db, skip: skip}
}

// Stats counts what one import did.
type Stats struct {
	Rows    int
	Skipped int
}

// ImportPrices upserts a ticker,date,price CSV. stock_price is accepted in
// place of price.
func (c *Collector) ImportPrices(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats
	rd, err := newReader(r, map[string]string{"stock_price": "price"}, "ticker", "date", "price")
	if err != nil {
		return stats, err
	}

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_points (ticker, date, price) VALUES (?, ?, ?)
		ON CONFLICT(ticker, date) DO UPDATE SET price = excluded.price`)
	if err != nil {
		return stats, fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for {
		row, err := rd.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, err
		}
		date, err := row.date("date")
		if err != nil {
			return stats, err
		}
		price, err := row.float("price")
		if err != nil {
			return stats, err
		}
		if _, err := stmt.ExecContext(ctx, row.text("ticker"), date, price); err != nil {
			return stats, fmt.Errorf("line %d: inserting price: %w", row.line, err)
		}
		stats.Rows++
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("committing prices: %w", err)
	}
	slog.Info("prices imported", "rows", stats.Rows)
	return stats, nil
}

var quoteColumns = []string{
	"strike", "days_till_expiration", "last", "mark", "bid", "ask",
	"volume", "open_interest", "pct_from_strike",
}

// ImportQuotes upserts an option-chain CSV keyed by (id, date). Numeric
// columns other than the key may be absent or empty and are stored as NULL.
func (c *Collector) ImportQuotes(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats
	rd, err := newReader(r, map[string]string{"type": "option_type", "dte": "days_till_expiration"},
		"id", "date", "ticker", "option_type")
	if err != nil {
		return stats, err
	}

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO option_quotes (id, date, ticker, option_type, strike, days_till_expiration,
			last, mark, bid, ask, volume, open_interest, pct_from_strike)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, date) DO UPDATE SET
			ticker = excluded.ticker,
			option_type = excluded.option_type,
			strike = excluded.strike,
			days_till_expiration = excluded.days_till_expiration,
			last = excluded.last,
			mark = excluded.mark,
			bid = excluded.bid,
			ask = excluded.ask,
			volume = excluded.volume,
			open_interest = excluded.open_interest,
			pct_from_strike = excluded.pct_from_strike`)
	if err != nil {
		return stats, fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for {
		row, err := rd.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, err
		}

		ticker := row.text("ticker")
		date, err := row.date("date")
		if err != nil {
			return stats, err
		}
		if c.skip != nil {
			d, _ := market.ParseDate(date)
			if c.skip(ticker, time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)) {
				stats.Skipped++
				continue
			}
		}
		ot, err := market.ParseOptionType(row.text("option_type"))
		if err != nil {
			return stats, row.errorf("option_type", err)
		}

		args := []any{row.text("id"), date, ticker, string(ot)}
		for _, col := range quoteColumns {
			v, err := row.float(col)
			if err != nil {
				return stats, err
			}
			args = append(args, v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return stats, fmt.Errorf("line %d: inserting quote: %w", row.line, err)
		}
		stats.Rows++
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("committing quotes: %w", err)
	}
	slog.Info("quotes imported", "rows", stats.Rows, "skipped", stats.Skipped)
	return stats, nil
}

type reader struct {
	csv  *csv.Reader
	cols map[string]int
}

func newReader(r io.Reader, aliases map[string]string, required ...string) (*reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if alias, ok := aliases[name]; ok {
			name = alias
		}
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}
	return &reader{csv: cr, cols: cols}, nil
}

type record struct {
	line   int
	fields []string
	cols   map[string]int
}

func (rd *reader) next() (record, error) {
	fields, err := rd.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return record{}, err
		}
		return record{}, fmt.Errorf("reading csv: %w", err)
	}
	line, _ := rd.csv.FieldPos(0)
	return record{line: line, fields: fields, cols: rd.cols}, nil
}

func (r record) text(col string) string {
	i, ok := r.cols[col]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

func (r record) errorf(col string, err error) error {
	return fmt.Errorf("line %d column %s: %w", r.line, col, err)
}

// float parses a numeric cell. Empty and non-finite cells are NULL.
func (r record) float(col string) (sql.NullFloat64, error) {
	s := r.text(col)
	if s == "" || strings.EqualFold(s, "nan") {
		return sql.NullFloat64{}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return sql.NullFloat64{}, r.errorf(col, err)
	}
	return db.NullFloat(v), nil
}

// date normalizes a date cell to YYYY-MM-DD. A trailing time is dropped.
func (r record) date(col string) (string, error) {
	s := r.text(col)
	if i := strings.IndexAny(s, "T "); i > 0 {
		s = s[:i]
	}
	d, err := market.ParseDate(s)
	if err != nil {
		return "", r.errorf(col, err)
	}
	return d.Format(market.DateLayout), nil
}
