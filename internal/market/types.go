package market

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrInvalidOptionType = errors.New("invalid option type")
	ErrInvalidDirection  = errors.New("invalid direction")
	ErrInvalidPriceField = errors.New("invalid price field")
)

// ContractID identifies one option contract across every date it is quoted until expiry.
// It is deliberately distinct from a ticker symbol.
type ContractID string

// OptionType is the right of a contract.
type OptionType string

const (
	Call OptionType = "C"
	Put  OptionType = "P"
)

// ParseOptionType accepts C, CALL, P and PUT in any case.
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "C", "CALL":
		return Call, nil
	case "P", "PUT":
		return Put, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOptionType, s)
	}
}

func (t OptionType) Valid() bool { return t == Call || t == Put }

// Direction is the side of a leg.
type Direction string

const (
	Long  Direction = "L"
	Short Direction = "S"
)

// ParseDirection maps L/LONG/BUY/B to Long and S/SHORT/SELL/SH to Short.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "L", "LONG", "BUY", "B":
		return Long, nil
	case "S", "SHORT", "SELL", "SH":
		return Short, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
}

// Sign returns +1 for long legs and -1 for short legs. Unknown directions yield 0.
func (d Direction) Sign() float64 {
	switch d {
	case Long:
		return 1
	case Short:
		return -1
	default:
		return 0
	}
}

// PriceField names the quote column used as a contract's price.
type PriceField string

const (
	FieldLast PriceField = "last"
	FieldMark PriceField = "mark"
	FieldBid  PriceField = "bid"
	FieldAsk  PriceField = "ask"
)

func (f PriceField) Validate() error {
	switch f {
	case FieldLast, FieldMark, FieldBid, FieldAsk:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPriceField, string(f))
	}
}

// Value returns the field from q, NaN for an unknown field.
func (f PriceField) Value(q OptionQuote) float64 {
	switch f {
	case FieldLast:
		return q.Last
	case FieldMark:
		return q.Mark
	case FieldBid:
		return q.Bid
	case FieldAsk:
		return q.Ask
	default:
		return math.NaN()
	}
}

// PricePoint is one row of the underlying price table.
type PricePoint struct {
	Ticker string
	Date   time.Time
	Price  float64
}

// OptionQuote is one row of the option-chain table. Missing numeric values are NaN.
type OptionQuote struct {
	ID                 ContractID
	Date               time.Time
	Ticker             string
	OptionType         OptionType
	Strike             float64
	DaysTillExpiration float64
	Last               float64
	Mark               float64
	Bid                float64
	Ask                float64
	Volume             float64
	OpenInterest       float64
	// PctFromStrike is (spot - strike) / strike.
	PctFromStrike float64
}

// Spot is the underlying price implied by strike and PctFromStrike.
func (q OptionQuote) Spot() float64 {
	return q.Strike * (1 + q.PctFromStrike)
}

// Position is one leg of one trade. Quantity carries the leg sign as built, but
// consumers take the side from Direction and use the magnitude of Quantity.
type Position struct {
	ID        ContractID
	Date      time.Time
	TradeID   int
	Ticker    string
	Quantity  float64
	Direction Direction
	// LegID distinguishes several lots of the same contract within one trade.
	LegID string
}

// Day truncates t to a UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateLayout is the wire format for dates in CSV files and the database.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}
