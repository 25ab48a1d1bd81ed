/*
Package sales orchestrates a sale across tax, ledger, inventory and audit.

PURPOSE:
  ProcessSale is the single entry point that records a sale. It leaves
  the books either fully posted or exactly as they were: every write of
  a sale happens inside one store transaction.

FLOW:
  1. Validate the request (no I/O)
  2. Preconditions, outside the transaction:
       customer exists, products exist,
       aggregate stock per product covers the summed line quantities
  3. One WithTx scope:
       a. exact totals: line_total = qty x price (cents), cost = qty x unit_cost
       b. tax + compliance recheck
       c. invoice header, number INV-{year}-{NNNNN}
       d. invoice lines + FIFO shipment per line
       e. tax transaction rows (state always, county when non-zero)
       f. compound journal entry:
            Dr 1100 AR            total
               Cr 4000 Revenue    subtotal
               Cr 2100 Tax        tax         (when non-zero)
            Dr 5000 COGS          cost        (when non-zero)
               Cr 1200 Inventory  cost
       g. SALE_PROCESSED audit record
  Any error rolls the transaction back and is returned unwrapped.
  Tax fallback and stockout signals reach the Observer only after commit.

CONCURRENCY:
  The store admits one writer. Preconditions read outside the lock, so
  a concurrent sale may consume stock between the check and the write;
  the shipment then follows the allocator's stockout policy.

SEE ALSO:
  - invoice.go: invoice numbering and the invoice read model
  - receive.go: stock receipts
  - period.go: audited accounting period changes
*/
package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/books-engine/audit"
	"github.com/warp/books-engine/core"
	"github.com/warp/books-engine/inventory"
	"github.com/warp/books-engine/ledger"
	"github.com/warp/books-engine/tax"
)

// Catalog reads the records maintained outside the sale pipeline.
type Catalog interface {
	GetCustomer(ctx context.Context, id core.CustomerID) (*core.Customer, error)
	GetProduct(ctx context.Context, id core.ProductID) (*core.Product, error)
}

// Store is the persistence the engine needs.
type Store interface {
	core.TxStore
	Catalog
}

// TaxCalculator prices and rechecks a sale's tax. *tax.Engine implements it.
type TaxCalculator interface {
	Calculate(subtotal, taxableSubtotal decimal.Decimal, jurisdiction string) tax.Result
	ValidateCompliance(taxable, collected decimal.Decimal, jurisdiction string) bool
	Rates() tax.RateTable
}

// Observer receives sale outcomes. metrics.Metrics implements it.
type Observer interface {
	ObserveSale(outcome string, elapsed time.Duration)
	TaxFallback(jurisdiction string)
	Stockout(productID core.ProductID)
}

// Sale outcomes reported to the Observer.
const (
	OutcomePosted   = "posted"
	OutcomeRejected = "rejected" // validation or business rule
	OutcomeFailed   = "failed"   // integrity or storage
)

type noopObserver struct{}

func (noopObserver) ObserveSale(string, time.Duration) {}
func (noopObserver) TaxFallback(string)                {}
func (noopObserver) Stockout(core.ProductID)           {}

// =============================================================================
// ENGINE
// =============================================================================

// Engine records sales. Construct one with New; components are injected.
type Engine struct {
	store     Store
	taxes     TaxCalculator
	ledger    *ledger.Ledger
	inventory *inventory.Allocator
	audit     *audit.Chain

	log      zerolog.Logger
	observer Observer
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithObserver sets the outcome observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithClock overrides the clock that dates invoices.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New wires an engine from its components.
func New(store Store, taxes TaxCalculator, l *ledger.Ledger, inv *inventory.Allocator, chain *audit.Chain, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		taxes:     taxes,
		ledger:    l,
		inventory: inv,
		audit:     chain,
		log:       zerolog.Nop(),
		observer:  noopObserver{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// REQUEST / RECEIPT
// =============================================================================

// SaleLine is one product on a sale.
type SaleLine struct {
	ProductID core.ProductID
	Quantity  decimal.Decimal
}

// SaleRequest is the input to ProcessSale.
type SaleRequest struct {
	CustomerID   core.CustomerID
	Jurisdiction string
	Lines        []SaleLine
	UserID       core.UserID
}

// Validate checks the request without I/O.
func (r SaleRequest) Validate() error {
	if r.CustomerID == "" {
		return core.Invalid("customer_id", "is required")
	}
	if r.Jurisdiction == "" {
		return core.Invalid("jurisdiction", "is required")
	}
	if len(r.Lines) == 0 {
		return core.Invalid("lines", "a sale needs at least one line")
	}
	for i, l := range r.Lines {
		if l.ProductID == "" {
			return core.Invalid(fmt.Sprintf("lines[%d].product_id", i), "is required")
		}
		if !l.Quantity.IsPositive() {
			return core.Invalid(fmt.Sprintf("lines[%d].quantity", i), "must be positive")
		}
	}
	return nil
}

// ReceiptLine is a posted invoice line.
type ReceiptLine struct {
	ProductID core.ProductID
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
	Taxable   bool
	Shipment  inventory.Shipment
}

// Receipt summarises a posted sale.
type Receipt struct {
	InvoiceID      int64
	InvoiceNumber  string
	IssueDate      time.Time
	CustomerID     core.CustomerID
	Lines          []ReceiptLine
	Tax            tax.Result
	Subtotal       decimal.Decimal
	TotalTax       decimal.Decimal
	Total          decimal.Decimal
	Cost           decimal.Decimal
	JournalEntryID int64
	AuditRecord    *audit.Record
}

// =============================================================================
// PROCESS SALE
// =============================================================================

// pricedLine carries catalog data resolved during preconditions.
type pricedLine struct {
	SaleLine
	product *core.Product
}

// ProcessSale validates, checks preconditions and posts the sale
// atomically.
func (e *Engine) ProcessSale(ctx context.Context, req SaleRequest) (*Receipt, error) {
	start := time.Now()
	receipt, err := e.processSale(ctx, req)
	e.observer.ObserveSale(outcome(err), time.Since(start))

	logEvent := e.log.Info()
	if err != nil {
		logEvent = e.log.Warn()
		if outcome(err) == OutcomeFailed {
			logEvent = e.log.Error()
		}
		logEvent.Err(err).
			Str("customer_id", string(req.CustomerID)).
			Str("jurisdiction", req.Jurisdiction).
			Int("lines", len(req.Lines)).
			Msg("sale not posted")
		return nil, err
	}

	e.signal(receipt)
	logEvent.
		Str("invoice", receipt.InvoiceNumber).
		Str("customer_id", string(receipt.CustomerID)).
		Str("total", core.FormatMoney(receipt.Total)).
		Str("tax", core.FormatMoney(receipt.TotalTax)).
		Int64("journal_entry", receipt.JournalEntryID).
		Str("audit_hash", receipt.AuditRecord.ChainHash).
		Dur("elapsed", time.Since(start)).
		Msg("sale posted")
	return receipt, nil
}

// signal reports the tax fallback and stockouts of a committed sale. A
// rolled-back sale reports neither.
func (e *Engine) signal(r *Receipt) {
	if r.Tax.Fallback {
		e.log.Warn().Str("invoice", r.InvoiceNumber).Str("jurisdiction", r.Tax.Jurisdiction).
			Msg("unknown jurisdiction, taxed at base rate only")
		e.observer.TaxFallback(r.Tax.Jurisdiction)
	}
	for _, line := range r.Lines {
		if !line.Shipment.Unbacked {
			continue
		}
		e.log.Warn().Str("invoice", r.InvoiceNumber).Str("product_id", string(line.ProductID)).
			Str("shortfall", line.Shipment.Allocation.Shortfall.String()).
			Msg("stockout: shipment not fully backed by batches")
		e.observer.Stockout(line.ProductID)
	}
}

func (e *Engine) processSale(ctx context.Context, req SaleRequest) (*Receipt, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		req.UserID = core.SystemUser
	}

	lines, err := e.checkPreconditions(ctx, req)
	if err != nil {
		return nil, err
	}

	var receipt *Receipt
	err = e.store.WithTx(ctx, func(q core.Querier) error {
		r, err := e.post(ctx, q, req, lines)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (e *Engine) checkPreconditions(ctx context.Context, req SaleRequest) ([]pricedLine, error) {
	if _, err := e.store.GetCustomer(ctx, req.CustomerID); err != nil {
		return nil, err
	}

	products := make(map[core.ProductID]*core.Product)
	demand := make(map[core.ProductID]decimal.Decimal)
	var order []core.ProductID

	lines := make([]pricedLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		p, ok := products[l.ProductID]
		if !ok {
			var err error
			if p, err = e.store.GetProduct(ctx, l.ProductID); err != nil {
				return nil, err
			}
			products[l.ProductID] = p
			order = append(order, l.ProductID)
		}
		demand[l.ProductID] = demand[l.ProductID].Add(l.Quantity)
		lines = append(lines, pricedLine{SaleLine: l, product: p})
	}

	for _, id := range order {
		if products[id].Stock.LessThan(demand[id]) {
			return nil, &core.InsufficientStockError{
				ProductID: id,
				Available: products[id].Stock,
				Requested: demand[id],
			}
		}
	}
	return lines, nil
}

// post runs every write of the sale through q.
func (e *Engine) post(ctx context.Context, q core.Querier, req SaleRequest, lines []pricedLine) (*Receipt, error) {
	issued := e.now()

	// 1. Totals
	subtotal, taxable, cost := decimal.Zero, decimal.Zero, decimal.Zero
	receipt := &Receipt{CustomerID: req.CustomerID, IssueDate: core.Date(issued.UTC().Date())}
	for _, l := range lines {
		lineTotal := core.RoundCents(l.Quantity.Mul(l.product.UnitPrice))
		subtotal = subtotal.Add(lineTotal)
		if l.product.Taxable {
			taxable = taxable.Add(lineTotal)
		}
		cost = cost.Add(l.Quantity.Mul(l.product.UnitCost))
		receipt.Lines = append(receipt.Lines, ReceiptLine{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.product.UnitPrice,
			LineTotal: lineTotal,
			Taxable:   l.product.Taxable,
		})
	}
	if !subtotal.IsPositive() {
		return nil, core.Invalid("lines", "sale total must be positive")
	}
	cost = core.RoundCents(cost)

	// 2. Tax
	result := e.taxes.Calculate(subtotal, taxable, req.Jurisdiction)
	if !e.taxes.ValidateCompliance(result.TaxableAmount, result.TotalTax, req.Jurisdiction) {
		return nil, &core.TaxComplianceError{
			Jurisdiction: req.Jurisdiction,
			Taxable:      result.TaxableAmount,
			Collected:    result.TotalTax,
		}
	}
	receipt.Tax = result
	receipt.Subtotal = subtotal
	receipt.TotalTax = result.TotalTax
	receipt.Total = result.TotalAmount
	receipt.Cost = cost

	// 3. Invoice header
	invoiceID, number, err := e.insertInvoice(ctx, q, req, receipt)
	if err != nil {
		return nil, err
	}
	receipt.InvoiceID = invoiceID
	receipt.InvoiceNumber = number

	// 4. Lines and shipments
	for i := range receipt.Lines {
		line := &receipt.Lines[i]
		if err := insertInvoiceLine(ctx, q, invoiceID, *line); err != nil {
			return nil, err
		}
		shipment, err := e.inventory.Ship(ctx, q, inventory.ShipRequest{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Reference: number,
			UserID:    req.UserID,
		})
		if err != nil {
			return nil, err
		}
		line.Shipment = shipment
	}

	// 5. Tax transactions
	if err := e.insertTaxTransactions(ctx, q, invoiceID, result, issued); err != nil {
		return nil, err
	}

	// 6. Journal entry
	entry := ledger.Entry{
		Date:        receipt.IssueDate,
		Description: "Sale " + number,
		Reference:   number,
		Lines: []ledger.Line{
			ledger.Debit(ledger.AccountsReceivable, result.TotalAmount, string(req.CustomerID)),
			ledger.Credit(ledger.SalesRevenue, subtotal, ""),
		},
	}
	if result.TotalTax.IsPositive() {
		entry.Lines = append(entry.Lines, ledger.Credit(ledger.SalesTaxPayable, result.TotalTax, result.Jurisdiction))
	}
	if cost.IsPositive() {
		entry.Lines = append(entry.Lines,
			ledger.Debit(ledger.CostOfGoodsSold, cost, ""),
			ledger.Credit(ledger.Inventory, cost, ""),
		)
	}
	if receipt.JournalEntryID, err = e.ledger.Post(ctx, q, entry); err != nil {
		return nil, err
	}

	// 7. Audit
	receipt.AuditRecord, err = e.audit.Log(ctx, q, audit.Event{
		Type:        audit.EventSaleProcessed,
		EntityTable: "invoices",
		EntityID:    fmt.Sprint(invoiceID),
		UserID:      req.UserID,
		Payload:     salePayload(receipt),
	})
	if err != nil {
		return nil, err
	}

	return receipt, nil
}

func salePayload(r *Receipt) map[string]any {
	lines := make([]map[string]any, 0, len(r.Lines))
	for _, l := range r.Lines {
		lines = append(lines, map[string]any{
			"product_id": string(l.ProductID),
			"quantity":   l.Quantity.String(),
			"unit_price": l.UnitPrice.String(),
			"line_total": core.FormatMoney(l.LineTotal),
			"taxable":    l.Taxable,
			"movements":  l.Shipment.MovementIDs,
		})
	}
	return map[string]any{
		"invoice_number": r.InvoiceNumber,
		"customer_id":    string(r.CustomerID),
		"issue_date":     core.FormatDate(r.IssueDate),
		"jurisdiction":   r.Tax.Jurisdiction,
		"subtotal":       core.FormatMoney(r.Subtotal),
		"tax":            core.FormatMoney(r.TotalTax),
		"total":          core.FormatMoney(r.Total),
		"cost":           core.FormatMoney(r.Cost),
		"journal_entry":  r.JournalEntryID,
		"lines":          lines,
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomePosted
	case core.IsValidation(err), core.IsBusinessRule(err), core.IsNotFound(err):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}
