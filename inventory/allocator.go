/*
Package inventory implements batch-level stock allocation and the signed
movement ledger.

PURPOSE:
  Decides which batches a sale consumes (FIFO), records every quantity
  change as an inventory movement, and keeps the derived aggregates
  (products.stock_quantity, product_batches.quantity) in step with the
  movements in the same write path.

FIFO ORDER:
  Active batches (quantity > 0) are consumed by
    expiry_date ASC (batches without expiry last), received_date ASC, id ASC
  so perishable stock leaves first and ties go to the oldest receipt.

MOVEMENT SIGNS:
  IN          +quantity (caller passes a magnitude)
  OUT         -quantity (caller passes a magnitude)
  ADJUSTMENT  caller-signed
  TRANSFER    caller-signed

STOCKOUT:
  When batches cannot cover a shipment the shortfall is either recorded
  as an unbacked OUT movement (batch_id NULL, explanatory note) or
  refused, depending on StockoutPolicy. The aggregate may go negative
  under StockoutAllow; a batch never does.

DERIVED QUANTITIES:
  Quantities are decimal text. Arithmetic and the quantity > 0 filter run
  in Go, never in SQL, so no value passes through a float.

SEE ALSO:
  - movement.go: Record and movement queries
  - receipt.go: stock receipt
  - reconcile.go: aggregate vs movement drift
*/
package inventory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/books-engine/core"
)

// StockoutPolicy selects what Ship does with a shortfall.
type StockoutPolicy string

const (
	// StockoutAllow records the shortfall as an unbacked OUT movement.
	StockoutAllow StockoutPolicy = "allow"
	// StockoutReject refuses the shipment with *core.InsufficientStockError.
	StockoutReject StockoutPolicy = "reject"
)

// ParseStockoutPolicy parses "allow" or "reject". Empty means allow.
func ParseStockoutPolicy(s string) (StockoutPolicy, error) {
	switch StockoutPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StockoutAllow:
		return StockoutAllow, nil
	case StockoutReject:
		return StockoutReject, nil
	}
	return "", core.Invalid("stockout_policy", "unknown policy %q", s)
}

// =============================================================================
// TYPES
// =============================================================================

// Batch is a lot of a product.
type Batch struct {
	ID           int64
	ProductID    core.ProductID
	BatchNumber  string
	ExpiryDate   *time.Time
	Quantity     decimal.Decimal
	ReceivedDate time.Time
}

// Take is the quantity drawn from one batch.
type Take struct {
	BatchID  int64
	Quantity decimal.Decimal
}

// Allocation is the FIFO plan for a requested quantity.
type Allocation struct {
	Takes     []Take
	Shortfall decimal.Decimal // demand the batches could not cover
}

// Allocated returns the quantity covered by batches.
func (a Allocation) Allocated() decimal.Decimal {
	total := decimal.Zero
	for _, tk := range a.Takes {
		total = total.Add(tk.Quantity)
	}
	return total
}

// =============================================================================
// ALLOCATOR
// =============================================================================

// Allocator plans and records stock movements.
type Allocator struct {
	policy StockoutPolicy
	now    func() time.Time
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithStockoutPolicy sets the shortfall policy. The default is StockoutAllow.
func WithStockoutPolicy(p StockoutPolicy) Option {
	return func(a *Allocator) { a.policy = p }
}

// WithClock overrides the clock used for created_at.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

// New creates an allocator.
func New(opts ...Option) *Allocator {
	a := &Allocator{policy: StockoutAllow, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Policy returns the configured stockout policy.
func (a *Allocator) Policy() StockoutPolicy {
	return a.policy
}

// Allocate computes the FIFO takes for qty. It performs no writes.
func (a *Allocator) Allocate(ctx context.Context, q core.Querier, productID core.ProductID, qty decimal.Decimal) (Allocation, error) {
	if !qty.IsPositive() {
		return Allocation{}, core.Invalid("quantity", "must be positive")
	}

	batches, err := a.activeBatches(ctx, q, productID)
	if err != nil {
		return Allocation{}, err
	}

	var alloc Allocation
	remaining := qty
	for _, b := range batches {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, b.Quantity)
		alloc.Takes = append(alloc.Takes, Take{BatchID: b.ID, Quantity: take})
		remaining = remaining.Sub(take)
	}
	alloc.Shortfall = remaining
	return alloc, nil
}

// activeBatches returns the product's batches holding stock, in FIFO order.
func (a *Allocator) activeBatches(ctx context.Context, q core.Querier, productID core.ProductID) ([]Batch, error) {
	all, err := queryBatches(ctx, q, `
		WHERE product_id = ?
		ORDER BY expiry_date IS NULL, expiry_date, received_date, id`, string(productID))
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, b := range all {
		if b.Quantity.IsPositive() {
			active = append(active, b)
		}
	}
	return active, nil
}

// Batches returns every batch of the product in FIFO order, empty ones
// included.
func (a *Allocator) Batches(ctx context.Context, q core.Querier, productID core.ProductID) ([]Batch, error) {
	return queryBatches(ctx, q, `
		WHERE product_id = ?
		ORDER BY expiry_date IS NULL, expiry_date, received_date, id`, string(productID))
}

const batchColumns = "id, product_id, batch_number, expiry_date, quantity, received_date"

func queryBatches(ctx context.Context, q core.Querier, where string, args ...any) ([]Batch, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+batchColumns+" FROM product_batches "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

func scanBatch(row interface{ Scan(...any) error }) (*Batch, error) {
	var b Batch
	var expiry sql.NullString
	var qty, received string
	if err := row.Scan(&b.ID, &b.ProductID, &b.BatchNumber, &expiry, &qty, &received); err != nil {
		return nil, err
	}

	var err error
	if b.Quantity, err = core.ParseDecimal(qty); err != nil {
		return nil, err
	}
	if b.ReceivedDate, err = core.ParseDate(received); err != nil {
		return nil, err
	}
	if expiry.Valid {
		exp, err := core.ParseDate(expiry.String)
		if err != nil {
			return nil, err
		}
		b.ExpiryDate = &exp
	}
	return &b, nil
}
