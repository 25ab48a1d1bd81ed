/*
Package core provides the shared kernel of the books engine.

PURPOSE:
  Types, errors and the storage contract used by every component of the
  sale pipeline (tax, ledger, inventory, audit, sales). Nothing in this
  package performs I/O.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money and quantities: decimal.Decimal, never float64
  - Identifiers: caller-assigned string IDs for catalog records
  - Dates: calendar dates stored as YYYY-MM-DD

DESIGN PRINCIPLES:
  1. Precision: all arithmetic goes through shopspring/decimal
  2. Cents: monetary results are rounded half-up to two places
  3. Type Safety: distinct ID types for customers and products

SEE ALSO:
  - errors.go: error taxonomy
  - store.go: storage contract (Querier, TxStore)
*/
package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Exact decimal arithmetic
// =============================================================================

// CentPlaces is the number of decimal places kept for monetary amounts.
const CentPlaces = 2

// OneCent is the tolerance used by tax compliance checks.
var OneCent = decimal.New(1, -CentPlaces)

// RoundCents rounds half-up (away from zero) to two decimal places.
func RoundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(CentPlaces)
}

// ParseDecimal parses a stored decimal string. Empty strings are zero.
func ParseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// MustParseDecimal parses s, panicking on malformed input. For literals and tests.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FormatMoney renders an amount with exactly two decimals, as persisted.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(CentPlaces)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID string
type ProductID string
type UserID string

// SystemUser is recorded when no acting user is supplied.
const SystemUser UserID = "system"

// =============================================================================
// DATES
// =============================================================================

// DateLayout is the persisted form of calendar dates.
const DateLayout = "2006-01-02"

// TimestampLayout is the persisted form of instants.
const TimestampLayout = time.RFC3339

// FormatDate renders t as a calendar date in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// FormatTimestamp renders t as an RFC3339 UTC instant.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// Date builds a UTC calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
