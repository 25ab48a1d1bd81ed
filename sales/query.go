package sales

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/books-engine/audit"
	"github.com/warp/books-engine/core"
	"github.com/warp/books-engine/inventory"
	"github.com/warp/books-engine/ledger"
)

// =============================================================================
// READ-ONLY QUERIES (outside any transaction)
// =============================================================================

// TrialBalance returns the per-account totals.
func (e *Engine) TrialBalance(ctx context.Context) ([]ledger.AccountBalance, error) {
	return e.ledger.TrialBalance(ctx, e.store)
}

// JournalEntry returns one journal entry.
func (e *Engine) JournalEntry(ctx context.Context, id int64) (*ledger.Entry, error) {
	return e.ledger.Get(ctx, e.store, id)
}

// Stock returns a product's aggregate quantity.
func (e *Engine) Stock(ctx context.Context, productID core.ProductID) (decimal.Decimal, error) {
	return e.inventory.Stock(ctx, e.store, productID)
}

// Batches returns a product's batches in FIFO order.
func (e *Engine) Batches(ctx context.Context, productID core.ProductID) ([]inventory.Batch, error) {
	return e.inventory.Batches(ctx, e.store, productID)
}

// Movements returns a product's movement history.
func (e *Engine) Movements(ctx context.Context, productID core.ProductID) ([]inventory.Movement, error) {
	return e.inventory.Movements(ctx, e.store, productID)
}

// ReconcileStock compares derived quantities with the movement ledger.
func (e *Engine) ReconcileStock(ctx context.Context) ([]inventory.StockDrift, error) {
	return e.inventory.Reconcile(ctx, e.store)
}

// AuditRecords pages through the audit trail.
func (e *Engine) AuditRecords(ctx context.Context, afterID int64, limit int) ([]audit.Record, error) {
	return e.audit.Records(ctx, e.store, afterID, limit)
}

// VerifyChain walks the audit chain.
func (e *Engine) VerifyChain(ctx context.Context) (audit.Report, error) {
	return e.audit.Verify(ctx, e.store)
}
