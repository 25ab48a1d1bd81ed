package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CATALOG - Records maintained outside the sale pipeline
// =============================================================================

// Customer is a party that can be invoiced.
type Customer struct {
	ID        CustomerID
	Name      string
	Email     string
	CreatedAt time.Time
}

// Product is a sellable item. Stock is derived from inventory movements
// and is never written by catalog maintenance.
type Product struct {
	ID        ProductID
	Name      string
	UnitPrice decimal.Decimal
	UnitCost  decimal.Decimal
	Taxable   bool
	Stock     decimal.Decimal
	CreatedAt time.Time
}

// Validate checks the fields a catalog form must supply.
func (p Product) Validate() error {
	if p.ID == "" {
		return Invalid("id", "is required")
	}
	if p.Name == "" {
		return Invalid("name", "is required")
	}
	if p.UnitPrice.IsNegative() {
		return Invalid("unit_price", "must not be negative")
	}
	if p.UnitCost.IsNegative() {
		return Invalid("unit_cost", "must not be negative")
	}
	return nil
}

// Validate checks the fields a catalog form must supply.
func (c Customer) Validate() error {
	if c.ID == "" {
		return Invalid("id", "is required")
	}
	if c.Name == "" {
		return Invalid("name", "is required")
	}
	return nil
}
