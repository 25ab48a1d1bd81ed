package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/books-engine/audit"
	"github.com/warp/books-engine/core"
	"github.com/warp/books-engine/inventory"
)

// ReceiveRequest books incoming stock as a new batch.
type ReceiveRequest struct {
	ProductID    core.ProductID
	BatchNumber  string
	Quantity     decimal.Decimal
	ExpiryDate   *time.Time
	ReceivedDate time.Time // zero = today
	Reference    string    // e.g. a purchase order
	UserID       core.UserID
}

// StockReceipt is the outcome of ReceiveStock.
type StockReceipt struct {
	BatchID     int64
	MovementID  int64
	Stock       decimal.Decimal // aggregate after the receipt
	AuditRecord *audit.Record
}

// ReceiveStock creates the batch, applies the IN movement and seals a
// STOCK_RECEIVED record in one transaction.
func (e *Engine) ReceiveStock(ctx context.Context, req ReceiveRequest) (*StockReceipt, error) {
	receipt := inventory.Receipt{
		ProductID:    req.ProductID,
		BatchNumber:  req.BatchNumber,
		Quantity:     req.Quantity,
		ExpiryDate:   req.ExpiryDate,
		ReceivedDate: req.ReceivedDate,
		Reference:    req.Reference,
		UserID:       req.UserID,
	}
	if err := receipt.Validate(); err != nil {
		return nil, err
	}
	if receipt.UserID == "" {
		receipt.UserID = core.SystemUser
	}
	if receipt.ReceivedDate.IsZero() {
		receipt.ReceivedDate = core.Date(e.now().UTC().Date())
	}

	if _, err := e.store.GetProduct(ctx, req.ProductID); err != nil {
		return nil, err
	}

	var out StockReceipt
	err := e.store.WithTx(ctx, func(q core.Querier) error {
		var err error
		out.BatchID, out.MovementID, err = e.inventory.Receive(ctx, q, receipt)
		if err != nil {
			return err
		}
		if out.Stock, err = e.inventory.Stock(ctx, q, req.ProductID); err != nil {
			return err
		}

		payload := map[string]any{
			"product_id":    string(req.ProductID),
			"batch_id":      out.BatchID,
			"batch_number":  req.BatchNumber,
			"quantity":      req.Quantity.String(),
			"movement_id":   out.MovementID,
			"stock_after":   out.Stock.String(),
			"received_date": core.FormatDate(receipt.ReceivedDate),
			"reference":     req.Reference,
		}
		if req.ExpiryDate != nil {
			payload["expiry_date"] = core.FormatDate(*req.ExpiryDate)
		}

		out.AuditRecord, err = e.audit.Log(ctx, q, audit.Event{
			Type:        audit.EventStockReceived,
			EntityTable: "product_batches",
			EntityID:    fmt.Sprint(out.BatchID),
			UserID:      receipt.UserID,
			Payload:     payload,
		})
		return err
	})
	if err != nil {
		e.log.Warn().Err(err).Str("product_id", string(req.ProductID)).
			Str("batch", req.BatchNumber).Msg("stock receipt not recorded")
		return nil, err
	}

	e.log.Info().Str("product_id", string(req.ProductID)).Str("batch", req.BatchNumber).
		Str("quantity", req.Quantity.String()).Str("stock", out.Stock.String()).
		Msg("stock received")
	return &out, nil
}
