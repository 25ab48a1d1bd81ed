/*
Package tax computes jurisdictional sales tax for invoices.

PURPOSE:
  A pure calculation engine: given a subtotal, the taxable portion of it
  and a jurisdiction name, it produces the state component, the local
  discretionary component and the totals. No I/O, no clock.

RATE MODEL:
  total rate = base (state) rate + discretionary (county) surtax
  Each component is rounded to cents on its own, THEN they are summed.
  Rounding once on the combined rate can differ by a cent and would not
  reproduce what the state expects per component.

FALLBACK:
  An unknown jurisdiction is taxed at the base rate alone with
  Result.Fallback set. The engine does not error: callers log a warning
  and count it.

COMPLIANCE:
  ValidateCompliance recomputes the tax once at the combined canonical
  rate (base + surtax, rounded after the sum) and accepts the collected
  amount within one cent. Per-component rounding can differ from it by
  at most one cent.

SEE ALSO:
  - rates.go: rate tables and the JSON loader
  - sales/engine.go: caller (step 2 of a sale)
*/
package tax

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/books-engine/core"
)

// Result is the outcome of a tax calculation.
type Result struct {
	Subtotal      decimal.Decimal
	TaxableAmount decimal.Decimal
	ExemptAmount  decimal.Decimal
	PrimaryTax    decimal.Decimal // state component
	SecondaryTax  decimal.Decimal // county component
	TotalTax      decimal.Decimal
	TotalAmount   decimal.Decimal
	PrimaryRate   decimal.Decimal
	SecondaryRate decimal.Decimal
	Jurisdiction  string
	Fallback      bool // jurisdiction not in the table
}

// Engine computes taxes from a rate table.
type Engine struct {
	table RateTable
	index map[string]jurisdiction
}

type jurisdiction struct {
	name string
	rate decimal.Decimal
}

// NewEngine creates an engine over the given rate table.
func NewEngine(table RateTable) *Engine {
	index := make(map[string]jurisdiction, len(table.Discretionary))
	for name, rate := range table.Discretionary {
		index[normalize(name)] = jurisdiction{name: name, rate: rate}
	}
	return &Engine{table: table, index: index}
}

// Rates returns the engine's rate table.
func (e *Engine) Rates() RateTable {
	return e.table
}

// Lookup resolves a jurisdiction. ok is false for unknown names.
func (e *Engine) Lookup(name string) (canonical string, surtax decimal.Decimal, ok bool) {
	j, ok := e.index[normalize(name)]
	if !ok {
		return strings.TrimSpace(name), decimal.Zero, false
	}
	return j.name, j.rate, true
}

// Calculate computes the tax on taxableSubtotal for the jurisdiction.
func (e *Engine) Calculate(subtotal, taxableSubtotal decimal.Decimal, jurisdiction string) Result {
	name, surtax, ok := e.Lookup(jurisdiction)

	primary := core.RoundCents(taxableSubtotal.Mul(e.table.BaseRate))
	secondary := core.RoundCents(taxableSubtotal.Mul(surtax))
	totalTax := primary.Add(secondary)

	return Result{
		Subtotal:      subtotal,
		TaxableAmount: taxableSubtotal,
		ExemptAmount:  subtotal.Sub(taxableSubtotal),
		PrimaryTax:    primary,
		SecondaryTax:  secondary,
		TotalTax:      totalTax,
		TotalAmount:   subtotal.Add(totalTax),
		PrimaryRate:   e.table.BaseRate,
		SecondaryRate: surtax,
		Jurisdiction:  name,
		Fallback:      !ok,
	}
}

// ValidateCompliance reports whether collected matches the canonical tax
// on taxable within one cent.
func (e *Engine) ValidateCompliance(taxable, collected decimal.Decimal, jurisdiction string) bool {
	_, surtax, _ := e.Lookup(jurisdiction)
	expected := core.RoundCents(taxable.Mul(e.table.BaseRate.Add(surtax)))
	return expected.Sub(collected).Abs().LessThanOrEqual(core.OneCent)
}

// normalize folds case and whitespace so "  miami-DADE " finds "Miami-Dade".
func normalize(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
