package inventory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/books-engine/core"
)

// Receipt is incoming stock for a new batch.
type Receipt struct {
	ProductID    core.ProductID
	BatchNumber  string
	Quantity     decimal.Decimal
	ExpiryDate   *time.Time
	ReceivedDate time.Time // zero = today
	Reference    string
	Notes        string
	UserID       core.UserID
}

// Validate checks the receipt without I/O.
func (r Receipt) Validate() error {
	if r.ProductID == "" {
		return core.Invalid("product_id", "is required")
	}
	if r.BatchNumber == "" {
		return core.Invalid("batch_number", "is required")
	}
	if !r.Quantity.IsPositive() {
		return core.Invalid("quantity", "must be positive")
	}
	if r.ExpiryDate != nil && !r.ReceivedDate.IsZero() && r.ExpiryDate.Before(r.ReceivedDate) {
		return core.Invalid("expiry_date", "is before the received date")
	}
	return nil
}

// Receive creates the batch at zero and applies an IN movement for the
// received quantity, so the batch quantity is written only by movements.
func (a *Allocator) Receive(ctx context.Context, q core.Querier, r Receipt) (batchID, movementID int64, err error) {
	if err := r.Validate(); err != nil {
		return 0, 0, err
	}
	if r.ReceivedDate.IsZero() {
		r.ReceivedDate = a.now()
	}

	// Surfaces ErrProductNotFound before the batch insert trips the FK.
	if _, err := a.Stock(ctx, q, r.ProductID); err != nil {
		return 0, 0, err
	}

	var expiry sql.NullString
	if r.ExpiryDate != nil {
		expiry = sql.NullString{String: core.FormatDate(*r.ExpiryDate), Valid: true}
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO product_batches (product_id, batch_number, expiry_date, quantity, received_date)
		VALUES (?, ?, ?, '0', ?)`,
		string(r.ProductID), r.BatchNumber, expiry, core.FormatDate(r.ReceivedDate),
	)
	if err != nil {
		return 0, 0, fmt.Errorf("insert batch %s: %w", r.BatchNumber, err)
	}
	if batchID, err = res.LastInsertId(); err != nil {
		return 0, 0, fmt.Errorf("insert batch %s: %w", r.BatchNumber, err)
	}

	movementID, err = a.Record(ctx, q, Movement{
		Type:      MovementIn,
		ProductID: r.ProductID,
		BatchID:   batchID,
		Quantity:  r.Quantity,
		Reference: r.Reference,
		Notes:     r.Notes,
		UserID:    r.UserID,
	})
	if err != nil {
		return 0, 0, err
	}
	return batchID, movementID, nil
}
