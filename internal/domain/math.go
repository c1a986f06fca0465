package domain

import (
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// QuotaScale is the number of fractional digits kept by quota and price divisions.
const QuotaScale = 12

// MinQuotaPrice is the lowest quota price a valuation may produce.
var MinQuotaPrice = decimal.RequireFromString("0.0001")

// ConsistencyTolerance bounds |quota * price - cash| for a recorded movement.
var ConsistencyTolerance = decimal.RequireFromString("0.000001")

// SafeParse parses a string into a decimal, returning zero for invalid or empty input.
func SafeParse(value string) decimal.Decimal {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Divide divides a by b at QuotaScale. Division by zero yields zero.
func Divide(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.DivRound(b, QuotaScale)
}

// WithinTolerance reports whether a and b differ by at most ConsistencyTolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(ConsistencyTolerance)
}

// FormatUSD renders an amount in the fund's unit of account, e.g. "$1,234.56".
func FormatUSD(d decimal.Decimal) string {
	cents := d.Shift(2).Round(0).IntPart()
	return money.New(cents, money.USD).Display()
}

// DateOf returns the calendar date of t (in t's location) as midnight UTC.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns today's calendar date in loc as midnight UTC.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(now.In(loc))
}

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"
