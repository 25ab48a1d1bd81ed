package sales

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/books-engine/audit"
	"github.com/warp/books-engine/core"
	"github.com/warp/books-engine/inventory"
	"github.com/warp/books-engine/ledger"
	"github.com/warp/books-engine/tax"
)

// InvoiceStatusPosted is the status of a freshly posted invoice.
const InvoiceStatusPosted = "posted"

// =============================================================================
// WRITES (inside the sale transaction)
// =============================================================================

// nextInvoiceNumber numbers invoices per year of issue: INV-2025-00001.
// Invoices are never deleted, so the count only grows.
func nextInvoiceNumber(ctx context.Context, q core.Querier, issued time.Time) (string, error) {
	year := issued.Year()
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM invoices WHERE issue_date >= ? AND issue_date <= ?",
		fmt.Sprintf("%04d-01-01", year), fmt.Sprintf("%04d-12-31", year),
	).Scan(&count)
	if err != nil {
		return "", fmt.Errorf("count invoices: %w", err)
	}
	return fmt.Sprintf("INV-%d-%05d", year, count+1), nil
}

func (e *Engine) insertInvoice(ctx context.Context, q core.Querier, req SaleRequest, r *Receipt) (int64, string, error) {
	number, err := nextInvoiceNumber(ctx, q, r.IssueDate)
	if err != nil {
		return 0, "", err
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO invoices (number, customer_id, issue_date, jurisdiction,
			subtotal, tax_amount, total_amount, status, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		number, string(req.CustomerID), core.FormatDate(r.IssueDate), r.Tax.Jurisdiction,
		core.FormatMoney(r.Subtotal), core.FormatMoney(r.TotalTax), core.FormatMoney(r.Total),
		InvoiceStatusPosted, string(req.UserID), core.FormatTimestamp(e.now()),
	)
	if err != nil {
		return 0, "", fmt.Errorf("insert invoice %s: %w", number, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, "", fmt.Errorf("insert invoice %s: %w", number, err)
	}
	return id, number, nil
}

func insertInvoiceLine(ctx context.Context, q core.Querier, invoiceID int64, l ReceiptLine) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO invoice_lines (invoice_id, product_id, quantity, unit_price, line_total, taxable)
		VALUES (?, ?, ?, ?, ?, ?)`,
		invoiceID, string(l.ProductID), l.Quantity.String(), l.UnitPrice.String(),
		core.FormatMoney(l.LineTotal), l.Taxable,
	)
	if err != nil {
		return fmt.Errorf("insert invoice line: %w", err)
	}
	return nil
}

// insertTaxTransactions writes the state row always and the county row
// when the surtax is non-zero.
func (e *Engine) insertTaxTransactions(ctx context.Context, q core.Querier, invoiceID int64, r tax.Result, at time.Time) error {
	rows := []TaxTransaction{{
		Jurisdiction: e.taxes.Rates().State,
		Gross:        r.Subtotal,
		Exempt:       r.ExemptAmount,
		Taxable:      r.TaxableAmount,
		TaxCollected: r.PrimaryTax,
		RateApplied:  r.PrimaryRate,
	}}
	if !r.SecondaryTax.IsZero() {
		rows = append(rows, TaxTransaction{
			Jurisdiction: r.Jurisdiction,
			Gross:        r.Subtotal,
			Exempt:       r.ExemptAmount,
			Taxable:      r.TaxableAmount,
			TaxCollected: r.SecondaryTax,
			RateApplied:  r.SecondaryRate,
		})
	}

	for _, t := range rows {
		_, err := q.ExecContext(ctx, `
			INSERT INTO tax_transactions (invoice_id, jurisdiction, gross, exempt, taxable,
				tax_collected, rate_applied, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			invoiceID, t.Jurisdiction,
			core.FormatMoney(t.Gross), core.FormatMoney(t.Exempt), core.FormatMoney(t.Taxable),
			core.FormatMoney(t.TaxCollected), t.RateApplied.String(), core.FormatTimestamp(at),
		)
		if err != nil {
			return fmt.Errorf("insert tax transaction (%s): %w", t.Jurisdiction, err)
		}
	}
	return nil
}

// =============================================================================
// READ MODEL
// =============================================================================

// InvoiceLine is a stored invoice line.
type InvoiceLine struct {
	ProductID core.ProductID
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
	Taxable   bool
}

// TaxTransaction is one jurisdiction component of an invoice's tax.
type TaxTransaction struct {
	Jurisdiction string
	Gross        decimal.Decimal
	Exempt       decimal.Decimal
	Taxable      decimal.Decimal
	TaxCollected decimal.Decimal
	RateApplied  decimal.Decimal
}

// Invoice is a posted invoice with every record the sale produced.
type Invoice struct {
	ID           int64
	Number       string
	CustomerID   core.CustomerID
	IssueDate    time.Time
	Jurisdiction string
	Subtotal     decimal.Decimal
	TaxAmount    decimal.Decimal
	Total        decimal.Decimal
	Status       string
	CreatedBy    core.UserID
	CreatedAt    time.Time

	Lines     []InvoiceLine
	Taxes     []TaxTransaction
	Journal   []ledger.Entry
	Movements []inventory.Movement
	Audit     []audit.Record
}

const invoiceColumns = `id, number, customer_id, issue_date, jurisdiction,
	subtotal, tax_amount, total_amount, status, created_by, created_at`

// Invoice returns the invoice with its lines, tax rows, journal entries,
// movements and audit records.
func (e *Engine) Invoice(ctx context.Context, id int64) (*Invoice, error) {
	inv, err := scanInvoice(e.store.QueryRowContext(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invoice %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice %d: %w", id, err)
	}

	if inv.Lines, err = e.invoiceLines(ctx, id); err != nil {
		return nil, err
	}
	if inv.Taxes, err = e.invoiceTaxes(ctx, id); err != nil {
		return nil, err
	}
	if inv.Journal, err = e.ledger.EntriesByReference(ctx, e.store, inv.Number); err != nil {
		return nil, err
	}
	if inv.Movements, err = e.inventory.MovementsByReference(ctx, e.store, inv.Number); err != nil {
		return nil, err
	}
	if inv.Audit, err = e.audit.ForEntity(ctx, e.store, "invoices", fmt.Sprint(id)); err != nil {
		return nil, err
	}
	return inv, nil
}

// Invoices returns invoice headers, newest first.
func (e *Engine) Invoices(ctx context.Context, limit int) ([]Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := e.store.QueryContext(ctx,
		"SELECT "+invoiceColumns+" FROM invoices ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

func scanInvoice(row interface{ Scan(...any) error }) (*Invoice, error) {
	var inv Invoice
	var issueDate, subtotal, taxAmount, total, createdAt string
	if err := row.Scan(&inv.ID, &inv.Number, &inv.CustomerID, &issueDate, &inv.Jurisdiction,
		&subtotal, &taxAmount, &total, &inv.Status, &inv.CreatedBy, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if inv.IssueDate, err = core.ParseDate(issueDate); err != nil {
		return nil, err
	}
	if inv.Subtotal, err = core.ParseDecimal(subtotal); err != nil {
		return nil, err
	}
	if inv.TaxAmount, err = core.ParseDecimal(taxAmount); err != nil {
		return nil, err
	}
	if inv.Total, err = core.ParseDecimal(total); err != nil {
		return nil, err
	}
	inv.CreatedAt, _ = time.Parse(core.TimestampLayout, createdAt)
	return &inv, nil
}

func (e *Engine) invoiceLines(ctx context.Context, invoiceID int64) ([]InvoiceLine, error) {
	rows, err := e.store.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price, line_total, taxable
		FROM invoice_lines WHERE invoice_id = ? ORDER BY id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("query invoice lines: %w", err)
	}
	defer rows.Close()

	var lines []InvoiceLine
	for rows.Next() {
		var l InvoiceLine
		var qty, price, total string
		if err := rows.Scan(&l.ProductID, &qty, &price, &total, &l.Taxable); err != nil {
			return nil, err
		}
		if l.Quantity, err = core.ParseDecimal(qty); err != nil {
			return nil, err
		}
		if l.UnitPrice, err = core.ParseDecimal(price); err != nil {
			return nil, err
		}
		if l.LineTotal, err = core.ParseDecimal(total); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (e *Engine) invoiceTaxes(ctx context.Context, invoiceID int64) ([]TaxTransaction, error) {
	rows, err := e.store.QueryContext(ctx, `
		SELECT jurisdiction, gross, exempt, taxable, tax_collected, rate_applied
		FROM tax_transactions WHERE invoice_id = ? ORDER BY id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("query tax transactions: %w", err)
	}
	defer rows.Close()

	var taxes []TaxTransaction
	for rows.Next() {
		var t TaxTransaction
		var fields [5]string
		if err := rows.Scan(&t.Jurisdiction, &fields[0], &fields[1], &fields[2], &fields[3], &fields[4]); err != nil {
			return nil, err
		}
		targets := []*decimal.Decimal{&t.Gross, &t.Exempt, &t.Taxable, &t.TaxCollected, &t.RateApplied}
		for i, s := range fields {
			if *targets[i], err = core.ParseDecimal(s); err != nil {
				return nil, err
			}
		}
		taxes = append(taxes, t)
	}
	return taxes, rows.Err()
}
