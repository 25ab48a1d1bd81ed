/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's model from the external API contract. Money and quantities
  travel as decimal strings ("107.00"); requests also accept JSON numbers.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Catalog:      CustomerDTO, ProductDTO, StockDTO, BatchDTO, MovementDTO
  Sales:        SaleRequest, ReceiptDTO, InvoiceDTO, TaxDTO
  Ledger:       JournalEntryDTO, AccountBalanceDTO, PeriodDTO
  Audit:        AuditRecordDTO, VerifyDTO, IntegrityDTO
  Scenarios:    ScenarioDTO

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/books-engine/audit"
	"github.com/warp/books-engine/core"
	"github.com/warp/books-engine/integrity"
	"github.com/warp/books-engine/inventory"
	"github.com/warp/books-engine/ledger"
	"github.com/warp/books-engine/sales"
)

// =============================================================================
// CATALOG
// =============================================================================

// CustomerDTO represents a customer in requests and responses.
type CustomerDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// ProductDTO represents a product. Stock is ignored on input.
type ProductDTO struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Taxable   bool            `json:"taxable"`
	Stock     decimal.Decimal `json:"stock"`
	CreatedAt string          `json:"created_at,omitempty"`
}

// ReceiveRequest books a batch of incoming stock.
type ReceiveRequest struct {
	BatchNumber  string          `json:"batch_number"`
	Quantity     decimal.Decimal `json:"quantity"`
	ExpiryDate   string          `json:"expiry_date,omitempty"`
	ReceivedDate string          `json:"received_date,omitempty"`
	Reference    string          `json:"reference,omitempty"`
	UserID       string          `json:"user_id,omitempty"`
}

// StockReceiptDTO is the response to a stock receipt.
type StockReceiptDTO struct {
	BatchID    int64           `json:"batch_id"`
	MovementID int64           `json:"movement_id"`
	Stock      decimal.Decimal `json:"stock"`
	AuditHash  string          `json:"audit_hash"`
}

// BatchDTO is one inventory batch.
type BatchDTO struct {
	ID           int64           `json:"id"`
	BatchNumber  string          `json:"batch_number"`
	Quantity     decimal.Decimal `json:"quantity"`
	ExpiryDate   string          `json:"expiry_date,omitempty"`
	ReceivedDate string          `json:"received_date"`
}

// StockDTO is a product's aggregate stock and its batches in FIFO order.
type StockDTO struct {
	ProductID string          `json:"product_id"`
	Stock     decimal.Decimal `json:"stock"`
	Batches   []BatchDTO      `json:"batches"`
}

// MovementDTO is one inventory movement.
type MovementDTO struct {
	ID           int64           `json:"id"`
	Type         string          `json:"type"`
	ProductID    string          `json:"product_id"`
	BatchID      int64           `json:"batch_id,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Reference    string          `json:"reference,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	UserID       string          `json:"user_id"`
	CreatedAt    string          `json:"created_at"`
}

// StockDriftDTO is one reconciliation mismatch.
type StockDriftDTO struct {
	ProductID string          `json:"product_id"`
	BatchID   int64           `json:"batch_id,omitempty"`
	Recorded  decimal.Decimal `json:"recorded"`
	Computed  decimal.Decimal `json:"computed"`
}

// =============================================================================
// SALES
// =============================================================================

// SaleLineRequest is one product on a sale.
type SaleLineRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// SaleRequest is the body of POST /api/sales.
type SaleRequest struct {
	CustomerID   string            `json:"customer_id"`
	Jurisdiction string            `json:"jurisdiction"`
	Lines        []SaleLineRequest `json:"lines"`
	UserID       string            `json:"user_id,omitempty"`
}

func (r SaleRequest) toEngine() sales.SaleRequest {
	req := sales.SaleRequest{
		CustomerID:   core.CustomerID(r.CustomerID),
		Jurisdiction: r.Jurisdiction,
		UserID:       core.UserID(r.UserID),
	}
	for _, l := range r.Lines {
		req.Lines = append(req.Lines, sales.SaleLine{ProductID: core.ProductID(l.ProductID), Quantity: l.Quantity})
	}
	return req
}

// ReceiptDTO is the response to a posted sale.
type ReceiptDTO struct {
	InvoiceID      int64            `json:"invoice_id"`
	InvoiceNumber  string           `json:"invoice_number"`
	IssueDate      string           `json:"issue_date"`
	Subtotal       string           `json:"subtotal"`
	StateTax       string           `json:"state_tax"`
	CountyTax      string           `json:"county_tax"`
	TotalTax       string           `json:"total_tax"`
	Total          string           `json:"total"`
	TaxFallback    bool             `json:"tax_fallback,omitempty"`
	JournalEntryID int64            `json:"journal_entry_id"`
	AuditHash      string           `json:"audit_hash"`
	Lines          []InvoiceLineDTO `json:"lines"`
}

// InvoiceLineDTO is one invoice line.
type InvoiceLineDTO struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal string          `json:"line_total"`
	Taxable   bool            `json:"taxable"`
}

// TaxDTO is one jurisdiction's share of an invoice's tax.
type TaxDTO struct {
	Jurisdiction string          `json:"jurisdiction"`
	Gross        string          `json:"gross"`
	Exempt       string          `json:"exempt"`
	Taxable      string          `json:"taxable"`
	TaxCollected string          `json:"tax_collected"`
	RateApplied  decimal.Decimal `json:"rate_applied"`
}

// InvoiceDTO is an invoice with everything the sale produced.
type InvoiceDTO struct {
	ID           int64             `json:"id"`
	Number       string            `json:"number"`
	CustomerID   string            `json:"customer_id"`
	IssueDate    string            `json:"issue_date"`
	Jurisdiction string            `json:"jurisdiction"`
	Subtotal     string            `json:"subtotal"`
	TaxAmount    string            `json:"tax_amount"`
	Total        string            `json:"total"`
	Status       string            `json:"status"`
	CreatedBy    string            `json:"created_by"`
	CreatedAt    string            `json:"created_at"`
	Lines        []InvoiceLineDTO  `json:"lines,omitempty"`
	Taxes        []TaxDTO          `json:"taxes,omitempty"`
	Journal      []JournalEntryDTO `json:"journal,omitempty"`
	Movements    []MovementDTO     `json:"movements,omitempty"`
	Audit        []AuditRecordDTO  `json:"audit,omitempty"`
}

// =============================================================================
// LEDGER
// =============================================================================

// JournalLineDTO is one side of a journal entry. Exactly one of
// Debit/Credit is set.
type JournalLineDTO struct {
	Account string `json:"account"`
	Debit   string `json:"debit,omitempty"`
	Credit  string `json:"credit,omitempty"`
	Memo    string `json:"memo,omitempty"`
}

// JournalEntryDTO is a posted journal entry.
type JournalEntryDTO struct {
	ID          int64            `json:"id"`
	Date        string           `json:"date"`
	Description string           `json:"description"`
	Reference   string           `json:"reference,omitempty"`
	Total       string           `json:"total"`
	Lines       []JournalLineDTO `json:"lines"`
}

// AccountDTO is a chart of accounts entry.
type AccountDTO struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// AccountBalanceDTO is one row of the trial balance.
type AccountBalanceDTO struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Debits  string `json:"debits"`
	Credits string `json:"credits"`
	Balance string `json:"balance"`
}

// TrialBalanceDTO is the trial balance with its column totals.
type TrialBalanceDTO struct {
	Accounts     []AccountBalanceDTO `json:"accounts"`
	TotalDebits  string              `json:"total_debits"`
	TotalCredits string              `json:"total_credits"`
	Balanced     bool                `json:"balanced"`
}

// PeriodDTO is an accounting period, in requests and responses.
type PeriodDTO struct {
	ID        int64  `json:"id,omitempty"`
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Status    string `json:"status,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// PeriodStatusRequest changes a period's status.
type PeriodStatusRequest struct {
	Status string `json:"status"`
	UserID string `json:"user_id,omitempty"`
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditRecordDTO is one sealed audit record.
type AuditRecordDTO struct {
	ID           int64           `json:"id"`
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	EntityTable  string          `json:"entity_table"`
	EntityID     string          `json:"entity_id"`
	UserID       string          `json:"user_id"`
	Payload      json.RawMessage `json:"payload"`
	ContentHash  string          `json:"content_hash"`
	PreviousHash string          `json:"previous_hash"`
	ChainHash    string          `json:"chain_hash"`
	CreatedAt    string          `json:"created_at"`
}

// VerifyDTO is the result of walking the audit chain.
type VerifyDTO struct {
	Valid    bool   `json:"valid"`
	Records  int    `json:"records"`
	Head     string `json:"head,omitempty"`
	BrokenAt int64  `json:"broken_at,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// IntegrityDTO is the last scheduled integrity check.
type IntegrityDTO struct {
	CheckedAt string          `json:"checked_at"`
	Healthy   bool            `json:"healthy"`
	Chain     VerifyDTO       `json:"chain"`
	Drift     []StockDriftDTO `json:"drift"`
	Error     string          `json:"error,omitempty"`
	NextRun   string          `json:"next_run,omitempty"`
}

// =============================================================================
// SCENARIOS / ERRORS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is returned for all API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Field   string `json:"field,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toCustomerDTO(c core.Customer) CustomerDTO {
	return CustomerDTO{
		ID:        string(c.ID),
		Name:      c.Name,
		Email:     c.Email,
		CreatedAt: timestamp(c.CreatedAt),
	}
}

func toProductDTO(p core.Product) ProductDTO {
	return ProductDTO{
		ID:        string(p.ID),
		Name:      p.Name,
		UnitPrice: p.UnitPrice,
		UnitCost:  p.UnitCost,
		Taxable:   p.Taxable,
		Stock:     p.Stock,
		CreatedAt: timestamp(p.CreatedAt),
	}
}

func toBatchDTO(b inventory.Batch) BatchDTO {
	dto := BatchDTO{
		ID:           b.ID,
		BatchNumber:  b.BatchNumber,
		Quantity:     b.Quantity,
		ReceivedDate: core.FormatDate(b.ReceivedDate),
	}
	if b.ExpiryDate != nil {
		dto.ExpiryDate = core.FormatDate(*b.ExpiryDate)
	}
	return dto
}

func toMovementDTO(m inventory.Movement) MovementDTO {
	return MovementDTO{
		ID:           m.ID,
		Type:         string(m.Type),
		ProductID:    string(m.ProductID),
		BatchID:      m.BatchID,
		Quantity:     m.Quantity,
		BalanceAfter: m.BalanceAfter,
		Reference:    m.Reference,
		Notes:        m.Notes,
		UserID:       string(m.UserID),
		CreatedAt:    timestamp(m.CreatedAt),
	}
}

func toDriftDTOs(drift []inventory.StockDrift) []StockDriftDTO {
	dtos := make([]StockDriftDTO, len(drift))
	for i, d := range drift {
		dtos[i] = StockDriftDTO{ProductID: string(d.ProductID), BatchID: d.BatchID, Recorded: d.Recorded, Computed: d.Computed}
	}
	return dtos
}

func toReceiptDTO(r *sales.Receipt) ReceiptDTO {
	dto := ReceiptDTO{
		InvoiceID:      r.InvoiceID,
		InvoiceNumber:  r.InvoiceNumber,
		IssueDate:      core.FormatDate(r.IssueDate),
		Subtotal:       core.FormatMoney(r.Subtotal),
		StateTax:       core.FormatMoney(r.Tax.PrimaryTax),
		CountyTax:      core.FormatMoney(r.Tax.SecondaryTax),
		TotalTax:       core.FormatMoney(r.TotalTax),
		Total:          core.FormatMoney(r.Total),
		TaxFallback:    r.Tax.Fallback,
		JournalEntryID: r.JournalEntryID,
		Lines:          make([]InvoiceLineDTO, len(r.Lines)),
	}
	if r.AuditRecord != nil {
		dto.AuditHash = r.AuditRecord.ChainHash
	}
	for i, l := range r.Lines {
		dto.Lines[i] = InvoiceLineDTO{
			ProductID: string(l.ProductID),
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			LineTotal: core.FormatMoney(l.LineTotal),
			Taxable:   l.Taxable,
		}
	}
	return dto
}

func toInvoiceDTO(inv sales.Invoice) InvoiceDTO {
	dto := InvoiceDTO{
		ID:           inv.ID,
		Number:       inv.Number,
		CustomerID:   string(inv.CustomerID),
		IssueDate:    core.FormatDate(inv.IssueDate),
		Jurisdiction: inv.Jurisdiction,
		Subtotal:     core.FormatMoney(inv.Subtotal),
		TaxAmount:    core.FormatMoney(inv.TaxAmount),
		Total:        core.FormatMoney(inv.Total),
		Status:       inv.Status,
		CreatedBy:    string(inv.CreatedBy),
		CreatedAt:    timestamp(inv.CreatedAt),
	}
	for _, l := range inv.Lines {
		dto.Lines = append(dto.Lines, InvoiceLineDTO{
			ProductID: string(l.ProductID),
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			LineTotal: core.FormatMoney(l.LineTotal),
			Taxable:   l.Taxable,
		})
	}
	for _, t := range inv.Taxes {
		dto.Taxes = append(dto.Taxes, TaxDTO{
			Jurisdiction: t.Jurisdiction,
			Gross:        core.FormatMoney(t.Gross),
			Exempt:       core.FormatMoney(t.Exempt),
			Taxable:      core.FormatMoney(t.Taxable),
			TaxCollected: core.FormatMoney(t.TaxCollected),
			RateApplied:  t.RateApplied,
		})
	}
	for _, e := range inv.Journal {
		dto.Journal = append(dto.Journal, toJournalEntryDTO(e))
	}
	for _, m := range inv.Movements {
		dto.Movements = append(dto.Movements, toMovementDTO(m))
	}
	for _, r := range inv.Audit {
		dto.Audit = append(dto.Audit, toAuditRecordDTO(r))
	}
	return dto
}

func toJournalEntryDTO(e ledger.Entry) JournalEntryDTO {
	dto := JournalEntryDTO{
		ID:          e.ID,
		Date:        core.FormatDate(e.Date),
		Description: e.Description,
		Reference:   e.Reference,
		Total:       core.FormatMoney(e.Total),
		Lines:       make([]JournalLineDTO, len(e.Lines)),
	}
	for i, l := range e.Lines {
		line := JournalLineDTO{Account: l.Account, Memo: l.Memo}
		if l.Debit.IsPositive() {
			line.Debit = core.FormatMoney(l.Debit)
		}
		if l.Credit.IsPositive() {
			line.Credit = core.FormatMoney(l.Credit)
		}
		dto.Lines[i] = line
	}
	return dto
}

func toTrialBalanceDTO(balances []ledger.AccountBalance) TrialBalanceDTO {
	dto := TrialBalanceDTO{Accounts: make([]AccountBalanceDTO, len(balances))}
	debits, credits := decimal.Zero, decimal.Zero
	for i, b := range balances {
		debits = debits.Add(b.Debits)
		credits = credits.Add(b.Credits)
		dto.Accounts[i] = AccountBalanceDTO{
			Code:    b.Code,
			Name:    b.Name,
			Type:    b.Type,
			Debits:  core.FormatMoney(b.Debits),
			Credits: core.FormatMoney(b.Credits),
			Balance: core.FormatMoney(b.Balance),
		}
	}
	dto.TotalDebits = core.FormatMoney(debits)
	dto.TotalCredits = core.FormatMoney(credits)
	dto.Balanced = debits.Equal(credits)
	return dto
}

func toPeriodDTO(p ledger.Period) PeriodDTO {
	return PeriodDTO{
		ID:        p.ID,
		Name:      p.Name,
		StartDate: core.FormatDate(p.Start),
		EndDate:   core.FormatDate(p.End),
		Status:    string(p.Status),
	}
}

func toAuditRecordDTO(r audit.Record) AuditRecordDTO {
	return AuditRecordDTO{
		ID:           r.ID,
		EventID:      r.EventID,
		EventType:    r.EventType,
		EntityTable:  r.EntityTable,
		EntityID:     r.EntityID,
		UserID:       string(r.UserID),
		Payload:      r.Payload,
		ContentHash:  r.ContentHash,
		PreviousHash: r.PreviousHash,
		ChainHash:    r.ChainHash,
		CreatedAt:    r.CreatedAt,
	}
}

func toVerifyDTO(r audit.Report) VerifyDTO {
	return VerifyDTO{Valid: r.Valid, Records: r.Records, Head: r.Head, BrokenAt: r.BrokenAt, Reason: r.Reason}
}

func toIntegrityDTO(r integrity.Result, next time.Time) IntegrityDTO {
	return IntegrityDTO{
		CheckedAt: timestamp(r.CheckedAt),
		Healthy:   r.Healthy(),
		Chain:     toVerifyDTO(r.Chain),
		Drift:     toDriftDTOs(r.Drift),
		Error:     r.Error,
		NextRun:   timestamp(next),
	}
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return core.FormatTimestamp(t)
}
