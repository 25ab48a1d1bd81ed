package sales_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/books-engine/audit"
	"github.com/warp/books-engine/core"
	"github.com/warp/books-engine/inventory"
	"github.com/warp/books-engine/ledger"
	"github.com/warp/books-engine/sales"
	"github.com/warp/books-engine/store/sqlite"
	"github.com/warp/books-engine/tax"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var march10 = time.Date(2025, time.March, 10, 14, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return core.MustParseDecimal(s) }

type recordingObserver struct {
	mu        sync.Mutex
	outcomes  []string
	fallbacks []string
	stockouts []core.ProductID
}

func (o *recordingObserver) ObserveSale(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) TaxFallback(j string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallbacks = append(o.fallbacks, j)
}

func (o *recordingObserver) Stockout(p core.ProductID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stockouts = append(o.stockouts, p)
}

type fixture struct {
	store    *sqlite.Store
	engine   *sales.Engine
	observer *recordingObserver
	clock    *time.Time
}

func newEngine(store *sqlite.Store, chain *audit.Chain, clock *time.Time, obs sales.Observer, opts ...inventory.Option) *sales.Engine {
	now := func() time.Time { return *clock }
	return sales.New(store,
		tax.NewEngine(tax.DefaultRateTable()),
		ledger.New(ledger.WithClock(now)),
		inventory.New(append(opts, inventory.WithClock(now))...),
		chain,
		sales.WithClock(now),
		sales.WithObserver(obs),
	)
}

func newFixture(t *testing.T, opts ...inventory.Option) *fixture {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	chain := audit.New()
	t.Cleanup(chain.Close)

	clock := march10
	obs := &recordingObserver{}
	f := &fixture{store: store, observer: obs, clock: &clock}
	f.engine = newEngine(store, chain, f.clock, obs, opts...)

	ctx := context.Background()
	require.NoError(t, store.SaveCustomer(ctx, core.Customer{ID: "acme", Name: "Acme Corp"}))
	require.NoError(t, store.SaveProduct(ctx, core.Product{
		ID: "desk", Name: "Standing Desk", UnitPrice: d("100.00"), UnitCost: d("40.00"), Taxable: true,
	}))
	require.NoError(t, store.SaveProduct(ctx, core.Product{
		ID: "bread", Name: "Bread", UnitPrice: d("3.50"), UnitCost: d("1.25"), Taxable: false,
	}))
	return f
}

func (f *fixture) receive(t *testing.T, product core.ProductID, batch, qty string) *sales.StockReceipt {
	r, err := f.engine.ReceiveStock(context.Background(), sales.ReceiveRequest{
		ProductID: product, BatchNumber: batch, Quantity: d(qty), UserID: "warehouse",
	})
	require.NoError(t, err)
	return r
}

func sale(lines ...sales.SaleLine) sales.SaleRequest {
	return sales.SaleRequest{CustomerID: "acme", Jurisdiction: "Miami-Dade", Lines: lines, UserID: "clerk"}
}

func line(product core.ProductID, qty string) sales.SaleLine {
	return sales.SaleLine{ProductID: product, Quantity: d(qty)}
}

var snapshotTables = []string{
	"invoices", "invoice_lines", "tax_transactions", "journal_entries", "journal_lines",
	"inventory_movements", "product_batches", "audit_log",
}

// snapshot captures row counts and every derived quantity.
func snapshot(t *testing.T, q core.Querier) map[string]string {
	ctx := context.Background()
	out := map[string]string{}
	for _, table := range snapshotTables {
		var n string
		require.NoError(t, q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n))
		out[table] = n
	}
	rows, err := q.QueryContext(ctx, "SELECT id, stock_quantity FROM products")
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var id, stock string
		require.NoError(t, rows.Scan(&id, &stock))
		out["stock:"+id] = stock
	}
	return out
}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestProcessSale_MiamiDade(t *testing.T) {
	// GIVEN: A $100.00 taxable desk in stock, customer in Miami-Dade
	// WHEN: Selling one desk
	// THEN: Tax 6.00 + 1.00, total 107.00, balanced entry, sealed audit record

	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, "desk", "D-1", "3")

	receipt, err := f.engine.ProcessSale(ctx, sale(line("desk", "1")))
	require.NoError(t, err)

	assert.Equal(t, "INV-2025-00001", receipt.InvoiceNumber)
	assert.Equal(t, "100.00", core.FormatMoney(receipt.Subtotal))
	assert.Equal(t, "6.00", core.FormatMoney(receipt.Tax.PrimaryTax))
	assert.Equal(t, "1.00", core.FormatMoney(receipt.Tax.SecondaryTax))
	assert.Equal(t, "7.00", core.FormatMoney(receipt.TotalTax))
	assert.Equal(t, "107.00", core.FormatMoney(receipt.Total))
	assert.Equal(t, "40.00", core.FormatMoney(receipt.Cost))

	entry, err := f.engine.JournalEntry(ctx, receipt.JournalEntryID)
	require.NoError(t, err)
	byAccount := map[string]ledger.Line{}
	for _, l := range entry.Lines {
		byAccount[l.Account] = l
	}
	assert.Equal(t, "107", byAccount[ledger.AccountsReceivable].Debit.String())
	assert.Equal(t, "100", byAccount[ledger.SalesRevenue].Credit.String())
	assert.Equal(t, "7", byAccount[ledger.SalesTaxPayable].Credit.String())
	assert.Equal(t, "40", byAccount[ledger.CostOfGoodsSold].Debit.String())
	assert.Equal(t, "40", byAccount[ledger.Inventory].Credit.String())
	debits, credits := entry.Totals()
	assert.True(t, debits.Equal(credits))

	require.NotNil(t, receipt.AuditRecord)
	assert.Equal(t, audit.EventSaleProcessed, receipt.AuditRecord.EventType)

	stock, err := f.engine.Stock(ctx, "desk")
	require.NoError(t, err)
	assert.Equal(t, "2", stock.String())

	report, err := f.engine.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 2, report.Records, "STOCK_RECEIVED + SALE_PROCESSED")

	assert.Equal(t, []string{sales.OutcomePosted}, f.observer.outcomes)
}

func TestProcessSale_InvoiceReadModel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, "desk", "D-1", "5")
	f.receive(t, "bread", "B-1", "10")

	receipt, err := f.engine.ProcessSale(ctx, sale(line("desk", "2"), line("bread", "4")))
	require.NoError(t, err)

	inv, err := f.engine.Invoice(ctx, receipt.InvoiceID)
	require.NoError(t, err)

	assert.Equal(t, receipt.InvoiceNumber, inv.Number)
	assert.Equal(t, core.CustomerID("acme"), inv.CustomerID)
	assert.Equal(t, core.Date(2025, time.March, 10), inv.IssueDate)
	assert.Equal(t, "214", inv.Subtotal.String())
	assert.Equal(t, "14", inv.TaxAmount.String(), "bread is exempt")
	assert.Equal(t, "228", inv.Total.String())
	assert.Equal(t, sales.InvoiceStatusPosted, inv.Status)
	assert.Equal(t, core.UserID("clerk"), inv.CreatedBy)

	require.Len(t, inv.Lines, 2)
	assert.Equal(t, "14", inv.Lines[1].LineTotal.String())
	assert.False(t, inv.Lines[1].Taxable)

	require.Len(t, inv.Taxes, 2)
	assert.Equal(t, "Florida", inv.Taxes[0].Jurisdiction)
	assert.Equal(t, "12", inv.Taxes[0].TaxCollected.String())
	assert.Equal(t, "14", inv.Taxes[0].Exempt.String())
	assert.Equal(t, "200", inv.Taxes[0].Taxable.String())
	assert.Equal(t, "Miami-Dade", inv.Taxes[1].Jurisdiction)
	assert.Equal(t, "2", inv.Taxes[1].TaxCollected.String())
	assert.Equal(t, "0.01", inv.Taxes[1].RateApplied.String())
	for _, tx := range inv.Taxes {
		expected := core.RoundCents(tx.Taxable.Mul(tx.RateApplied))
		assert.True(t, expected.Sub(tx.TaxCollected).Abs().LessThanOrEqual(core.OneCent))
	}

	require.Len(t, inv.Journal, 1)
	assert.Len(t, inv.Movements, 2)
	require.Len(t, inv.Audit, 1)
	assert.Contains(t, string(inv.Audit[0].Payload), receipt.InvoiceNumber)

	_, err = f.engine.Invoice(ctx, 999)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestProcessSale_InvoiceNumbering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, "desk", "D-1", "10")

	first, err := f.engine.ProcessSale(ctx, sale(line("desk", "1")))
	require.NoError(t, err)
	second, err := f.engine.ProcessSale(ctx, sale(line("desk", "1")))
	require.NoError(t, err)

	*f.clock = time.Date(2026, time.January, 2, 9, 0, 0, 0, time.UTC)
	third, err := f.engine.ProcessSale(ctx, sale(line("desk", "1")))
	require.NoError(t, err)

	assert.Equal(t, "INV-2025-00001", first.InvoiceNumber)
	assert.Equal(t, "INV-2025-00002", second.InvoiceNumber)
	assert.Equal(t, "INV-2026-00001", third.InvoiceNumber)

	invoices, err := f.engine.Invoices(ctx, 10)
	require.NoError(t, err)
	require.Len(t, invoices, 3)
	assert.Equal(t, third.InvoiceNumber, invoices[0].Number)
}

func TestProcessSale_FIFOShipment(t *testing.T) {
	// GIVEN: Desk batches of 5 and 20
	// WHEN: Selling 15
	// THEN: The first batch is emptied, 10 come from the second

	f := newFixture(t)
	ctx := context.Background()
	b1 := f.receive(t, "desk", "D-1", "5")
	b2 := f.receive(t, "desk", "D-2", "20")

	receipt, err := f.engine.ProcessSale(ctx, sale(line("desk", "15")))
	require.NoError(t, err)

	takes := receipt.Lines[0].Shipment.Allocation.Takes
	require.Len(t, takes, 2)
	assert.Equal(t, b1.BatchID, takes[0].BatchID)
	assert.Equal(t, "5", takes[0].Quantity.String())
	assert.Equal(t, b2.BatchID, takes[1].BatchID)
	assert.Equal(t, "10", takes[1].Quantity.String())

	batches, err := f.engine.Batches(ctx, "desk")
	require.NoError(t, err)
	assert.True(t, batches[0].Quantity.IsZero())
	assert.Equal(t, "10", batches[1].Quantity.String())

	drifts, err := f.engine.ReconcileStock(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestProcessSale_UnknownJurisdictionFallsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, "desk", "D-1", "1")

	req := sale(line("desk", "1"))
	req.Jurisdiction = "Atlantis"
	receipt, err := f.engine.ProcessSale(ctx, req)
	require.NoError(t, err)

	assert.True(t, receipt.Tax.Fallback)
	assert.Equal(t, "6.00", core.FormatMoney(receipt.TotalTax))
	assert.Equal(t, []string{"Atlantis"}, f.observer.fallbacks)

	inv, err := f.engine.Invoice(ctx, receipt.InvoiceID)
	require.NoError(t, err)
	assert.Len(t, inv.Taxes, 1, "no county row for a zero surtax")
}

func TestProcessSale_ExemptOnlySale_NoTaxLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, "bread", "B-1", "2")

	receipt, err := f.engine.ProcessSale(ctx, sale(line("bread", "2")))
	require.NoError(t, err)

	assert.True(t, receipt.TotalTax.IsZero())
	entry, err := f.engine.JournalEntry(ctx, receipt.JournalEntryID)
	require.NoError(t, err)
	for _, l := range entry.Lines {
		assert.NotEqual(t, ledger.SalesTaxPayable, l.Account)
	}
	assert.Len(t, entry.Lines, 4)
}

// =============================================================================
// REJECTIONS (nothing written)
// =============================================================================

func TestProcessSale_Rejections(t *testing.T) {
	cases := []struct {
		name  string
		req   sales.SaleRequest
		check func(t *testing.T, err error)
	}{
		{
			name:  "no lines",
			req:   sales.SaleRequest{CustomerID: "acme", Jurisdiction: "Miami-Dade"},
			check: func(t *testing.T, err error) { assert.True(t, core.IsValidation(err)) },
		},
		{
			name:  "zero quantity",
			req:   sale(line("desk", "0")),
			check: func(t *testing.T, err error) { assert.True(t, core.IsValidation(err)) },
		},
		{
			name: "unknown customer",
			req: sales.SaleRequest{
				CustomerID: "ghost", Jurisdiction: "Miami-Dade", Lines: []sales.SaleLine{line("desk", "1")},
			},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, core.ErrCustomerNotFound) },
		},
		{
			name:  "unknown product",
			req:   sale(line("lamp", "1")),
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, core.ErrProductNotFound) },
		},
		{
			name: "aggregate stock across duplicate lines",
			req:  sale(line("desk", "2"), line("desk", "2")),
			check: func(t *testing.T, err error) {
				var stockErr *core.InsufficientStockError
				require.ErrorAs(t, err, &stockErr)
				assert.Equal(t, "3", stockErr.Available.String())
				assert.Equal(t, "4", stockErr.Requested.String())
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.receive(t, "desk", "D-1", "3")
			before := snapshot(t, f.store)

			_, err := f.engine.ProcessSale(context.Background(), tc.req)

			require.Error(t, err)
			tc.check(t, err)
			assert.Equal(t, before, snapshot(t, f.store))
			assert.Equal(t, []string{sales.OutcomeRejected}, f.observer.outcomes)
		})
	}
}

// =============================================================================
// ATOMICITY
// =============================================================================

func TestProcessSale_ClosedPeriod_RollsBackEverything(t *testing.T) {
	// GIVEN: Today's accounting period is closed
	// WHEN: A sale reaches the journal step (after invoice, lines, movements, tax rows)
	// THEN: PeriodClosed is returned and the database is unchanged

	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, "desk", "D-1", "3")
	_, err := f.engine.CreatePeriod(ctx, ledger.Period{
		Name:   "2025-03",
		Start:  core.Date(2025, time.March, 1),
		End:    core.Date(2025, time.March, 31),
		Status: ledger.PeriodClosed,
	}, "controller")
	require.NoError(t, err)
	before := snapshot(t, f.store)

	_, err = f.engine.ProcessSale(ctx, sale(line("desk", "1")))

	var closed *ledger.PeriodClosedError
	require.ErrorAs(t, err, &closed)
	assert.ErrorIs(t, err, core.ErrPeriodClosed)
	assert.Equal(t, before, snapshot(t, f.store))

	// The failed attempt consumed no invoice number.
	require.NoError(t, f.engine.SetPeriodStatus(ctx, 1, ledger.PeriodOpen, "controller"))
	receipt, err := f.engine.ProcessSale(ctx, sale(line("desk", "1")))
	require.NoError(t, err)
	assert.Equal(t, "INV-2025-00001", receipt.InvoiceNumber)
}

func TestProcessSale_AuditTimeout_RollsBackEverything(t *testing.T) {
	// GIVEN: A hash worker slower than its timeout
	// WHEN: A sale reaches the audit step
	// THEN: An integrity error is returned and the database is unchanged

	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, "desk", "D-1", "3")
	before := snapshot(t, f.store)

	slow := audit.NewHasher(
		audit.WithTimeout(20*time.Millisecond),
		audit.WithComputeFunc(func(prev string, payload []byte, meta string) (string, string, error) {
			time.Sleep(150 * time.Millisecond)
			return audit.ComputeHashes(prev, payload, meta)
		}),
	)
	t.Cleanup(slow.Close)
	obs := &recordingObserver{}
	engine := newEngine(f.store, audit.New(audit.WithHasher(slow)), f.clock, obs)

	_, err := engine.ProcessSale(ctx, sale(line("desk", "1")))

	require.Error(t, err)
	assert.True(t, core.IsIntegrity(err))
	assert.ErrorIs(t, err, audit.ErrHashTimeout)
	assert.Equal(t, before, snapshot(t, f.store))
	assert.Equal(t, []string{sales.OutcomeFailed}, obs.outcomes)
}

// overchargingTaxes adds a surcharge to every calculated tax while still
// rechecking against the canonical table.
type overchargingTaxes struct {
	*tax.Engine
	surcharge decimal.Decimal
}

func (o overchargingTaxes) Calculate(subtotal, taxable decimal.Decimal, jurisdiction string) tax.Result {
	r := o.Engine.Calculate(subtotal, taxable, jurisdiction)
	r.PrimaryTax = r.PrimaryTax.Add(o.surcharge)
	r.TotalTax = r.TotalTax.Add(o.surcharge)
	r.TotalAmount = r.TotalAmount.Add(o.surcharge)
	return r
}

func TestProcessSale_TaxComplianceFailure_RollsBackEverything(t *testing.T) {
	// GIVEN: A tax calculation two cents above the canonical rates
	// WHEN: Processing a sale
	// THEN: TaxComplianceError is returned and the database is unchanged

	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, "desk", "D-1", "3")
	before := snapshot(t, f.store)

	now := func() time.Time { return *f.clock }
	obs := &recordingObserver{}
	chain := audit.New()
	t.Cleanup(chain.Close)
	engine := sales.New(f.store,
		overchargingTaxes{Engine: tax.NewEngine(tax.DefaultRateTable()), surcharge: d("0.02")},
		ledger.New(ledger.WithClock(now)),
		inventory.New(inventory.WithClock(now)),
		chain,
		sales.WithClock(now),
		sales.WithObserver(obs),
	)

	_, err := engine.ProcessSale(ctx, sale(line("desk", "1")))

	var compliance *core.TaxComplianceError
	require.ErrorAs(t, err, &compliance)
	assert.ErrorIs(t, err, core.ErrTaxCompliance)
	assert.Equal(t, "Miami-Dade", compliance.Jurisdiction)
	assert.Equal(t, "7.02", core.FormatMoney(compliance.Collected))
	assert.Equal(t, before, snapshot(t, f.store))
	assert.Equal(t, []string{sales.OutcomeRejected}, obs.outcomes)

	// A one-cent variance is within tolerance and posts.
	engine = sales.New(f.store,
		overchargingTaxes{Engine: tax.NewEngine(tax.DefaultRateTable()), surcharge: d("0.01")},
		ledger.New(ledger.WithClock(now)),
		inventory.New(inventory.WithClock(now)),
		chain,
		sales.WithClock(now),
	)
	receipt, err := engine.ProcessSale(ctx, sale(line("desk", "1")))
	require.NoError(t, err)
	assert.Equal(t, "107.01", core.FormatMoney(receipt.Total))
}

func TestProcessSale_StockoutRejected_RollsBack(t *testing.T) {
	// GIVEN: Aggregate stock of 5 but only 2 backed by a batch
	// WHEN: Selling 5 under StockoutReject
	// THEN: The shipment is refused inside the transaction and nothing is written

	f := newFixture(t, inventory.WithStockoutPolicy(inventory.StockoutReject))
	ctx := context.Background()
	f.receive(t, "desk", "D-1", "2")
	_, err := f.store.ExecContext(ctx, `
		INSERT INTO inventory_movements (type, product_id, quantity, balance_after, user_id, created_at)
		VALUES ('ADJUSTMENT', 'desk', '3', '5', 'system', '2025-03-01T00:00:00Z')`)
	require.NoError(t, err)
	_, err = f.store.ExecContext(ctx, "UPDATE products SET stock_quantity = '5' WHERE id = 'desk'")
	require.NoError(t, err)
	before := snapshot(t, f.store)

	_, err = f.engine.ProcessSale(ctx, sale(line("desk", "5")))

	assert.ErrorIs(t, err, core.ErrInsufficientStock)
	assert.Equal(t, before, snapshot(t, f.store))
}

func TestProcessSale_StockoutAllowed_Observed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, "desk", "D-1", "2")
	_, err := f.store.ExecContext(ctx, `
		INSERT INTO inventory_movements (type, product_id, quantity, balance_after, user_id, created_at)
		VALUES ('ADJUSTMENT', 'desk', '3', '5', 'system', '2025-03-01T00:00:00Z')`)
	require.NoError(t, err)
	_, err = f.store.ExecContext(ctx, "UPDATE products SET stock_quantity = '5' WHERE id = 'desk'")
	require.NoError(t, err)

	receipt, err := f.engine.ProcessSale(ctx, sale(line("desk", "5")))
	require.NoError(t, err)

	assert.True(t, receipt.Lines[0].Shipment.Unbacked)
	assert.Equal(t, []core.ProductID{"desk"}, f.observer.stockouts)
}

func TestProcessSale_RolledBack_ReportsNoStockoutOrFallback(t *testing.T) {
	// GIVEN: A sale that would stock out in an unknown jurisdiction
	// WHEN: The closed period rolls it back at the journal step
	// THEN: Neither the stockout nor the tax fallback reaches the observer

	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, "desk", "D-1", "2")
	_, err := f.store.ExecContext(ctx, `
		INSERT INTO inventory_movements (type, product_id, quantity, balance_after, user_id, created_at)
		VALUES ('ADJUSTMENT', 'desk', '3', '5', 'system', '2025-03-01T00:00:00Z')`)
	require.NoError(t, err)
	_, err = f.store.ExecContext(ctx, "UPDATE products SET stock_quantity = '5' WHERE id = 'desk'")
	require.NoError(t, err)
	_, err = f.engine.CreatePeriod(ctx, ledger.Period{
		Name:   "2025-03",
		Start:  core.Date(2025, time.March, 1),
		End:    core.Date(2025, time.March, 31),
		Status: ledger.PeriodClosed,
	}, "controller")
	require.NoError(t, err)

	req := sale(line("desk", "5"))
	req.Jurisdiction = "Atlantis"
	_, err = f.engine.ProcessSale(ctx, req)

	assert.ErrorIs(t, err, core.ErrPeriodClosed)
	assert.Empty(t, f.observer.stockouts)
	assert.Empty(t, f.observer.fallbacks)
	assert.Equal(t, []string{sales.OutcomeRejected}, f.observer.outcomes)
}

// =============================================================================
// STOCK RECEIPTS AND PERIODS
// =============================================================================

func TestReceiveStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expiry := core.Date(2025, time.March, 20)

	r, err := f.engine.ReceiveStock(ctx, sales.ReceiveRequest{
		ProductID: "bread", BatchNumber: "B-7", Quantity: d("12"), ExpiryDate: &expiry, Reference: "PO-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "12", r.Stock.String())
	assert.Equal(t, audit.EventStockReceived, r.AuditRecord.EventType)
	assert.Equal(t, core.SystemUser, r.AuditRecord.UserID)
	assert.Contains(t, string(r.AuditRecord.Payload), `"expiry_date":"2025-03-20"`)

	batches, err := f.engine.Batches(ctx, "bread")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, core.Date(2025, time.March, 10), batches[0].ReceivedDate)

	_, err = f.engine.ReceiveStock(ctx, sales.ReceiveRequest{ProductID: "ghost", BatchNumber: "X", Quantity: d("1")})
	assert.ErrorIs(t, err, core.ErrProductNotFound)

	_, err = f.engine.ReceiveStock(ctx, sales.ReceiveRequest{ProductID: "bread", BatchNumber: "X", Quantity: d("-1")})
	assert.True(t, core.IsValidation(err))
}

func TestPeriods_AuditedTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.engine.CreatePeriod(ctx, ledger.Period{
		Name:  "2025-Q1",
		Start: core.Date(2025, time.January, 1),
		End:   core.Date(2025, time.March, 31),
	}, "controller")
	require.NoError(t, err)

	require.NoError(t, f.engine.SetPeriodStatus(ctx, id, ledger.PeriodLocked, "controller"))
	err = f.engine.SetPeriodStatus(ctx, id, ledger.PeriodOpen, "controller")
	assert.ErrorIs(t, err, ledger.ErrPeriodLocked)

	err = f.engine.SetPeriodStatus(ctx, 42, ledger.PeriodClosed, "controller")
	assert.ErrorIs(t, err, core.ErrNotFound)

	records, err := f.engine.AuditRecords(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, audit.EventPeriodCreated, records[0].EventType)
	assert.Equal(t, audit.EventPeriodStatusChanged, records[1].EventType)
	assert.JSONEq(t, `{"from":"open","to":"locked"}`, string(records[1].Payload))

	periods, err := f.engine.Periods(ctx)
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, ledger.PeriodLocked, periods[0].Status)
}
