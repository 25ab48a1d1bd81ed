package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/books-engine/core"
)

// =============================================================================
// MOVEMENTS
// =============================================================================

// MovementType classifies an inventory movement.
type MovementType string

const (
	MovementIn         MovementType = "IN"
	MovementOut        MovementType = "OUT"
	MovementAdjustment MovementType = "ADJUSTMENT"
	MovementTransfer   MovementType = "TRANSFER"
)

// ErrBatchOverdrawn is returned when a movement would take a batch below zero.
var ErrBatchOverdrawn = fmt.Errorf("%w: batch quantity would go negative", core.ErrInsufficientStock)

// Movement is one signed change of a product's stock.
//
// On Record, Quantity is a magnitude for IN and OUT and a signed delta for
// ADJUSTMENT and TRANSFER. Read back, Quantity is always the signed delta.
type Movement struct {
	ID           int64
	Type         MovementType
	ProductID    core.ProductID
	BatchID      int64 // 0 = not batch-scoped
	Quantity     decimal.Decimal
	BalanceAfter decimal.Decimal
	Reference    string
	Notes        string
	UserID       core.UserID
	CreatedAt    time.Time
}

// signed returns the stock delta the movement applies.
func (m Movement) signed() (decimal.Decimal, error) {
	switch m.Type {
	case MovementIn, MovementOut:
		if !m.Quantity.IsPositive() {
			return decimal.Zero, core.Invalid("quantity", "%s movement needs a positive quantity", m.Type)
		}
		if m.Type == MovementOut {
			return m.Quantity.Neg(), nil
		}
		return m.Quantity, nil
	case MovementAdjustment, MovementTransfer:
		if m.Quantity.IsZero() {
			return decimal.Zero, core.Invalid("quantity", "must not be zero")
		}
		return m.Quantity, nil
	}
	return decimal.Zero, core.Invalid("type", "unknown movement type %q", m.Type)
}

// Record applies m through q: it inserts the movement with its
// balance_after and updates the product aggregate and, when batch-scoped,
// the batch quantity.
func (a *Allocator) Record(ctx context.Context, q core.Querier, m Movement) (int64, error) {
	if m.ProductID == "" {
		return 0, core.Invalid("product_id", "is required")
	}
	delta, err := m.signed()
	if err != nil {
		return 0, err
	}
	if m.UserID == "" {
		m.UserID = core.SystemUser
	}

	stock, err := a.Stock(ctx, q, m.ProductID)
	if err != nil {
		return 0, err
	}

	var batchAfter decimal.Decimal
	if m.BatchID != 0 {
		b, err := getBatch(ctx, q, m.BatchID)
		if err != nil {
			return 0, err
		}
		if b.ProductID != m.ProductID {
			return 0, core.Invalid("batch_id", "batch %d belongs to %s, not %s", b.ID, b.ProductID, m.ProductID)
		}
		batchAfter = b.Quantity.Add(delta)
		if batchAfter.IsNegative() {
			return 0, fmt.Errorf("batch %d holds %s, movement %s: %w", b.ID, b.Quantity, delta, ErrBatchOverdrawn)
		}
	}

	balanceAfter := stock.Add(delta)

	res, err := q.ExecContext(ctx, `
		INSERT INTO inventory_movements
			(type, product_id, batch_id, quantity, balance_after, reference, notes, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(m.Type), string(m.ProductID), nullInt(m.BatchID),
		delta.String(), balanceAfter.String(),
		nullString(m.Reference), nullString(m.Notes), string(m.UserID),
		core.FormatTimestamp(a.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("insert inventory movement: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert inventory movement: %w", err)
	}

	if _, err := q.ExecContext(ctx,
		"UPDATE products SET stock_quantity = ? WHERE id = ?",
		balanceAfter.String(), string(m.ProductID),
	); err != nil {
		return 0, fmt.Errorf("update product stock: %w", err)
	}

	if m.BatchID != 0 {
		if _, err := q.ExecContext(ctx,
			"UPDATE product_batches SET quantity = ? WHERE id = ?",
			batchAfter.String(), m.BatchID,
		); err != nil {
			return 0, fmt.Errorf("update batch quantity: %w", err)
		}
	}

	return id, nil
}

// Stock returns the product's aggregate quantity on hand.
func (a *Allocator) Stock(ctx context.Context, q core.Querier, productID core.ProductID) (decimal.Decimal, error) {
	var stock string
	err := q.QueryRowContext(ctx,
		"SELECT stock_quantity FROM products WHERE id = ?", string(productID),
	).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: %s", core.ErrProductNotFound, productID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read stock of %s: %w", productID, err)
	}
	return core.ParseDecimal(stock)
}

// Movements returns the product's movements in insertion order.
func (a *Allocator) Movements(ctx context.Context, q core.Querier, productID core.ProductID) ([]Movement, error) {
	return queryMovements(ctx, q, "WHERE product_id = ? ORDER BY id", string(productID))
}

// MovementsByReference returns the movements recorded for a document.
func (a *Allocator) MovementsByReference(ctx context.Context, q core.Querier, reference string) ([]Movement, error) {
	return queryMovements(ctx, q, "WHERE reference = ? ORDER BY id", reference)
}

func queryMovements(ctx context.Context, q core.Querier, where string, args ...any) ([]Movement, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, type, product_id, batch_id, quantity, balance_after, reference, notes, user_id, created_at
		FROM inventory_movements `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query inventory movements: %w", err)
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		var m Movement
		var batchID sql.NullInt64
		var qty, balance, createdAt string
		var reference, notes sql.NullString
		if err := rows.Scan(&m.ID, &m.Type, &m.ProductID, &batchID, &qty, &balance,
			&reference, &notes, &m.UserID, &createdAt); err != nil {
			return nil, err
		}
		m.BatchID = batchID.Int64
		if m.Quantity, err = core.ParseDecimal(qty); err != nil {
			return nil, err
		}
		if m.BalanceAfter, err = core.ParseDecimal(balance); err != nil {
			return nil, err
		}
		m.Reference = reference.String
		m.Notes = notes.String
		m.CreatedAt, _ = time.Parse(core.TimestampLayout, createdAt)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func getBatch(ctx context.Context, q core.Querier, id int64) (*Batch, error) {
	row := q.QueryRowContext(ctx, "SELECT "+batchColumns+" FROM product_batches WHERE id = ?", id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch %d: %w", id, err)
	}
	return b, nil
}

// =============================================================================
// SHIPMENTS
// =============================================================================

// ShipRequest asks for qty of a product to leave stock.
type ShipRequest struct {
	ProductID core.ProductID
	Quantity  decimal.Decimal
	Reference string
	UserID    core.UserID
}

// Shipment is what Ship recorded.
type Shipment struct {
	Allocation  Allocation
	MovementIDs []int64
	Unbacked    bool // a shortfall OUT without a batch was recorded
}

// Ship allocates FIFO and records one OUT movement per take. A shortfall
// is handled per the stockout policy; under StockoutReject nothing is
// written.
func (a *Allocator) Ship(ctx context.Context, q core.Querier, req ShipRequest) (Shipment, error) {
	alloc, err := a.Allocate(ctx, q, req.ProductID, req.Quantity)
	if err != nil {
		return Shipment{}, err
	}

	if alloc.Shortfall.IsPositive() && a.policy == StockoutReject {
		return Shipment{}, &core.InsufficientStockError{
			ProductID: req.ProductID,
			Available: alloc.Allocated(),
			Requested: req.Quantity,
		}
	}

	shipment := Shipment{Allocation: alloc}
	for _, tk := range alloc.Takes {
		id, err := a.Record(ctx, q, Movement{
			Type:      MovementOut,
			ProductID: req.ProductID,
			BatchID:   tk.BatchID,
			Quantity:  tk.Quantity,
			Reference: req.Reference,
			UserID:    req.UserID,
		})
		if err != nil {
			return Shipment{}, err
		}
		shipment.MovementIDs = append(shipment.MovementIDs, id)
	}

	if alloc.Shortfall.IsPositive() {
		id, err := a.Record(ctx, q, Movement{
			Type:      MovementOut,
			ProductID: req.ProductID,
			Quantity:  alloc.Shortfall,
			Reference: req.Reference,
			Notes:     fmt.Sprintf("stockout: %s of %s not backed by any batch", alloc.Shortfall, req.Quantity),
			UserID:    req.UserID,
		})
		if err != nil {
			return Shipment{}, err
		}
		shipment.MovementIDs = append(shipment.MovementIDs, id)
		shipment.Unbacked = true
	}

	return shipment, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(id int64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: id, Valid: true}
}
