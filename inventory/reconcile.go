package inventory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/books-engine/core"
)

// StockDrift is a derived quantity that disagrees with its movements.
type StockDrift struct {
	ProductID core.ProductID
	BatchID   int64 // 0 = product aggregate
	Recorded  decimal.Decimal
	Computed  decimal.Decimal
}

// Reconcile recomputes every product aggregate and batch quantity from
// the movement ledger and returns the ones that differ.
func (a *Allocator) Reconcile(ctx context.Context, q core.Querier) ([]StockDrift, error) {
	productSums := map[core.ProductID]decimal.Decimal{}
	batchSums := map[int64]decimal.Decimal{}

	rows, err := q.QueryContext(ctx, "SELECT product_id, batch_id, quantity FROM inventory_movements")
	if err != nil {
		return nil, fmt.Errorf("query inventory movements: %w", err)
	}
	for rows.Next() {
		var productID core.ProductID
		var batchID sql.NullInt64
		var qty string
		if err := rows.Scan(&productID, &batchID, &qty); err != nil {
			rows.Close()
			return nil, err
		}
		delta, err := core.ParseDecimal(qty)
		if err != nil {
			rows.Close()
			return nil, err
		}
		productSums[productID] = productSums[productID].Add(delta)
		if batchID.Valid {
			batchSums[batchID.Int64] = batchSums[batchID.Int64].Add(delta)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var drifts []StockDrift

	products, err := recordedQuantities(ctx, q, "SELECT id, '', stock_quantity FROM products")
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		computed := productSums[p.ProductID]
		if !p.Recorded.Equal(computed) {
			drifts = append(drifts, StockDrift{ProductID: p.ProductID, Recorded: p.Recorded, Computed: computed})
		}
	}

	batches, err := recordedQuantities(ctx, q, "SELECT product_id, id, quantity FROM product_batches")
	if err != nil {
		return nil, err
	}
	for _, b := range batches {
		computed := batchSums[b.BatchID]
		if !b.Recorded.Equal(computed) {
			drifts = append(drifts, StockDrift{ProductID: b.ProductID, BatchID: b.BatchID, Recorded: b.Recorded, Computed: computed})
		}
	}

	sort.Slice(drifts, func(i, j int) bool {
		if drifts[i].ProductID != drifts[j].ProductID {
			return drifts[i].ProductID < drifts[j].ProductID
		}
		return drifts[i].BatchID < drifts[j].BatchID
	})
	return drifts, nil
}

func recordedQuantities(ctx context.Context, q core.Querier, query string) ([]StockDrift, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query recorded quantities: %w", err)
	}
	defer rows.Close()

	var out []StockDrift
	for rows.Next() {
		var s StockDrift
		var batchID any
		var qty string
		if err := rows.Scan(&s.ProductID, &batchID, &qty); err != nil {
			return nil, err
		}
		if id, ok := batchID.(int64); ok {
			s.BatchID = id
		}
		if s.Recorded, err = core.ParseDecimal(qty); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
