package tax

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"github.com/warp/books-engine/core"
)

// =============================================================================
// RATE TABLES
// =============================================================================

// RateTable holds the state rate and the county surtaxes keyed by
// jurisdiction name.
type RateTable struct {
	State         string                     `json:"state"`
	BaseRate      decimal.Decimal            `json:"base_rate"`
	Discretionary map[string]decimal.Decimal `json:"discretionary"`
}

// DefaultStateName labels the state component when a table names no state.
const DefaultStateName = "STATE"

// DefaultRateTable returns the built-in Florida table: 6% state sales tax
// plus the county discretionary sales surtax.
func DefaultRateTable() RateTable {
	return RateTable{
		State:    "Florida",
		BaseRate: decimal.RequireFromString("0.06"),
		Discretionary: map[string]decimal.Decimal{
			"Miami-Dade":   decimal.RequireFromString("0.01"),
			"Broward":      decimal.RequireFromString("0.01"),
			"Palm Beach":   decimal.RequireFromString("0.01"),
			"Pinellas":     decimal.RequireFromString("0.01"),
			"Orange":       decimal.RequireFromString("0.005"),
			"Lee":          decimal.RequireFromString("0.005"),
			"Hillsborough": decimal.RequireFromString("0.015"),
			"Duval":        decimal.RequireFromString("0.015"),
			"Leon":         decimal.RequireFromString("0.015"),
			"Monroe":       decimal.RequireFromString("0.015"),
		},
	}
}

// Validate checks every rate lies in [0, 1) and that no two jurisdiction
// names collide once case and spacing are folded.
func (t RateTable) Validate() error {
	if err := checkRate("base_rate", t.BaseRate); err != nil {
		return err
	}
	seen := make(map[string]string, len(t.Discretionary))
	for name, rate := range t.Discretionary {
		key := normalize(name)
		if key == "" {
			return core.Invalid("discretionary", "jurisdiction name is empty")
		}
		if other, dup := seen[key]; dup {
			return core.Invalid("discretionary", "jurisdictions %q and %q collide", other, name)
		}
		seen[key] = name
		if err := checkRate("discretionary."+name, rate); err != nil {
			return err
		}
	}
	return nil
}

func checkRate(field string, rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return core.Invalid(field, "rate %s must be in [0, 1)", rate)
	}
	return nil
}

// LoadRateTable parses a JSON rate table:
//
//	{"base_rate": "0.06", "discretionary": {"Miami-Dade": "0.01"}}
//
// Rates may be JSON strings or numbers.
func LoadRateTable(r io.Reader) (RateTable, error) {
	var table RateTable
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&table); err != nil {
		return RateTable{}, fmt.Errorf("decode rate table: %w", err)
	}
	if table.State == "" {
		table.State = DefaultStateName
	}
	if table.Discretionary == nil {
		table.Discretionary = map[string]decimal.Decimal{}
	}
	if err := table.Validate(); err != nil {
		return RateTable{}, err
	}
	return table, nil
}
