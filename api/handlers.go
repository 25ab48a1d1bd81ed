/*
handlers.go - HTTP API handlers for the books engine

PURPOSE:
  Exposes the sale pipeline and its read models via REST. Handlers parse
  the request, call the engine, and serialize the response. Every write
  that touches the books goes through sales.Engine.

ENDPOINTS:
  Catalog:
    GET    /api/customers                 List customers
    POST   /api/customers                 Create or update a customer
    GET    /api/products                  List products
    POST   /api/products                  Create or update a product
    GET    /api/products/{id}/stock       Aggregate stock and FIFO batches
    GET    /api/products/{id}/movements   Movement history
    POST   /api/products/{id}/receipts    Receive a batch

  Sales:
    POST   /api/sales                     Process a sale
    GET    /api/invoices                  List invoices
    GET    /api/invoices/{id}             Invoice with lines, tax, journal, audit

  Ledger:
    GET    /api/accounts                  Chart of accounts
    GET    /api/ledger/trial-balance      Trial balance
    GET    /api/journal/{id}              Journal entry
    GET    /api/periods                   Accounting periods
    POST   /api/periods                   Create a period
    POST   /api/periods/{id}/status       Open, close or lock a period

  Audit:
    GET    /api/audit                     Records, paged by ?after=&limit=
    GET    /api/audit/verify              Walk the chain now
    GET    /api/integrity                 Last scheduled integrity check
    GET    /api/inventory/reconcile       Stock reconciliation now

ERROR HANDLING:
  Errors are returned as JSON with an HTTP status from their class:
  - 400: Validation errors, invalid input
  - 404: Record not found
  - 409: Business rule refused (stock, period, balance, duplicates)
  - 500: Integrity and storage failures

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo data loader
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/books-engine/core"
	"github.com/warp/books-engine/integrity"
	"github.com/warp/books-engine/ledger"
	"github.com/warp/books-engine/sales"
	"github.com/warp/books-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// CatalogStore maintains customers and products.
type CatalogStore interface {
	SaveCustomer(ctx context.Context, c core.Customer) error
	ListCustomers(ctx context.Context) ([]core.Customer, error)
	SaveProduct(ctx context.Context, p core.Product) error
	GetProduct(ctx context.Context, id core.ProductID) (*core.Product, error)
	ListProducts(ctx context.Context) ([]core.Product, error)
	ListAccounts(ctx context.Context) ([]sqlite.Account, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *sales.Engine
	Store     CatalogStore
	Scheduler *integrity.Scheduler // optional
	Now       func() time.Time     // dates demo data

	log zerolog.Logger
}

// NewHandler creates a handler.
func NewHandler(engine *sales.Engine, store CatalogStore, scheduler *integrity.Scheduler, log zerolog.Logger) *Handler {
	return &Handler{Engine: engine, Store: store, Scheduler: scheduler, Now: time.Now, log: log}
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListCustomers returns all customers.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Store.ListCustomers(r.Context())
	if err != nil {
		h.writeEngineError(w, r, "Failed to list customers", err)
		return
	}

	dtos := make([]CustomerDTO, len(customers))
	for i, c := range customers {
		dtos[i] = toCustomerDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveCustomer creates or updates a customer.
func (h *Handler) SaveCustomer(w http.ResponseWriter, r *http.Request) {
	var req CustomerDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	c := core.Customer{ID: core.CustomerID(req.ID), Name: req.Name, Email: req.Email}
	if err := h.Store.SaveCustomer(r.Context(), c); err != nil {
		h.writeEngineError(w, r, "Failed to save customer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(c))
}

// ListProducts returns all products with their aggregate stock.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context())
	if err != nil {
		h.writeEngineError(w, r, "Failed to list products", err)
		return
	}

	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveProduct creates or updates a product. Stock is changed only by
// receipts and sales.
func (h *Handler) SaveProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	p := core.Product{
		ID:        core.ProductID(req.ID),
		Name:      req.Name,
		UnitPrice: req.UnitPrice,
		UnitCost:  req.UnitCost,
		Taxable:   req.Taxable,
	}
	if err := h.Store.SaveProduct(r.Context(), p); err != nil {
		h.writeEngineError(w, r, "Failed to save product", err)
		return
	}
	saved, err := h.Store.GetProduct(r.Context(), p.ID)
	if err != nil {
		h.writeEngineError(w, r, "Failed to load product", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(*saved))
}

// GetStock returns a product's stock and batches.
// GET /api/products/{id}/stock
func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := core.ProductID(chi.URLParam(r, "id"))

	product, err := h.Store.GetProduct(ctx, id)
	if err != nil {
		h.writeEngineError(w, r, "Product not found", err)
		return
	}
	batches, err := h.Engine.Batches(ctx, id)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list batches", err)
		return
	}

	dto := StockDTO{ProductID: string(id), Stock: product.Stock, Batches: make([]BatchDTO, len(batches))}
	for i, b := range batches {
		dto.Batches[i] = toBatchDTO(b)
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetMovements returns a product's movement history.
// GET /api/products/{id}/movements
func (h *Handler) GetMovements(w http.ResponseWriter, r *http.Request) {
	movements, err := h.Engine.Movements(r.Context(), core.ProductID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, r, "Failed to list movements", err)
		return
	}

	dtos := make([]MovementDTO, len(movements))
	for i, m := range movements {
		dtos[i] = toMovementDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ReceiveStock books a batch.
// POST /api/products/{id}/receipts
func (h *Handler) ReceiveStock(w http.ResponseWriter, r *http.Request) {
	var req ReceiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := sales.ReceiveRequest{
		ProductID:   core.ProductID(chi.URLParam(r, "id")),
		BatchNumber: req.BatchNumber,
		Quantity:    req.Quantity,
		Reference:   req.Reference,
		UserID:      core.UserID(req.UserID),
	}
	if req.ExpiryDate != "" {
		expiry, err := core.ParseDate(req.ExpiryDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid expiry_date", err)
			return
		}
		in.ExpiryDate = &expiry
	}
	if req.ReceivedDate != "" {
		received, err := core.ParseDate(req.ReceivedDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid received_date", err)
			return
		}
		in.ReceivedDate = received
	}

	receipt, err := h.Engine.ReceiveStock(r.Context(), in)
	if err != nil {
		h.writeEngineError(w, r, "Stock receipt rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, StockReceiptDTO{
		BatchID:    receipt.BatchID,
		MovementID: receipt.MovementID,
		Stock:      receipt.Stock,
		AuditHash:  receipt.AuditRecord.ChainHash,
	})
}

// =============================================================================
// SALES HANDLERS
// =============================================================================

// ProcessSale posts a sale atomically.
// POST /api/sales
func (h *Handler) ProcessSale(w http.ResponseWriter, r *http.Request) {
	var req SaleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	receipt, err := h.Engine.ProcessSale(r.Context(), req.toEngine())
	if err != nil {
		h.writeEngineError(w, r, "Sale rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReceiptDTO(receipt))
}

// ListInvoices returns invoice headers, newest first.
// GET /api/invoices?limit=50
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 50)
	if !ok {
		return
	}
	invoices, err := h.Engine.Invoices(r.Context(), int(limit))
	if err != nil {
		h.writeEngineError(w, r, "Failed to list invoices", err)
		return
	}

	dtos := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = toInvoiceDTO(inv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetInvoice returns an invoice and every record its sale produced.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	inv, err := h.Engine.Invoice(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, "Invoice not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// ListAccounts returns the chart of accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.ListAccounts(r.Context())
	if err != nil {
		h.writeEngineError(w, r, "Failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = AccountDTO{Code: a.Code, Name: a.Name, Type: a.Type}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TrialBalance returns per-account totals.
func (h *Handler) TrialBalance(w http.ResponseWriter, r *http.Request) {
	balances, err := h.Engine.TrialBalance(r.Context())
	if err != nil {
		h.writeEngineError(w, r, "Failed to compute trial balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toTrialBalanceDTO(balances))
}

// GetJournalEntry returns one journal entry.
func (h *Handler) GetJournalEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entry, err := h.Engine.JournalEntry(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, "Journal entry not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toJournalEntryDTO(*entry))
}

// ListPeriods returns the accounting periods.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.Engine.Periods(r.Context())
	if err != nil {
		h.writeEngineError(w, r, "Failed to list periods", err)
		return
	}

	dtos := make([]PeriodDTO, len(periods))
	for i, p := range periods {
		dtos[i] = toPeriodDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePeriod adds an accounting period.
func (h *Handler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	var req PeriodDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	start, err := core.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date", err)
		return
	}
	end, err := core.ParseDate(req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date", err)
		return
	}

	p := ledger.Period{Name: req.Name, Start: start, End: end, Status: ledger.PeriodStatus(req.Status)}
	id, err := h.Engine.CreatePeriod(r.Context(), p, core.UserID(req.UserID))
	if err != nil {
		h.writeEngineError(w, r, "Period rejected", err)
		return
	}
	p.ID = id
	if p.Status == "" {
		p.Status = ledger.PeriodOpen
	}
	writeJSON(w, http.StatusCreated, toPeriodDTO(p))
}

// SetPeriodStatus opens, closes or locks a period.
// POST /api/periods/{id}/status
func (h *Handler) SetPeriodStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req PeriodStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := h.Engine.SetPeriodStatus(r.Context(), id, ledger.PeriodStatus(req.Status), core.UserID(req.UserID))
	if err != nil {
		h.writeEngineError(w, r, "Status change rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": req.Status})
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// ListAuditRecords pages through the audit trail.
// GET /api/audit?after=0&limit=100
func (h *Handler) ListAuditRecords(w http.ResponseWriter, r *http.Request) {
	after, ok := queryInt(w, r, "after", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", 100)
	if !ok {
		return
	}

	records, err := h.Engine.AuditRecords(r.Context(), after, int(limit))
	if err != nil {
		h.writeEngineError(w, r, "Failed to list audit records", err)
		return
	}

	dtos := make([]AuditRecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toAuditRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// VerifyChain walks the audit chain. A broken chain is reported with 200;
// the body says where it broke.
func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.VerifyChain(r.Context())
	if err != nil {
		h.writeEngineError(w, r, "Verification failed", err)
		return
	}
	if !report.Valid {
		h.log.Error().Int64("broken_at", report.BrokenAt).Str("reason", report.Reason).
			Msg("audit chain broken")
	}
	writeJSON(w, http.StatusOK, toVerifyDTO(report))
}

// GetIntegrity returns the last scheduled check.
func (h *Handler) GetIntegrity(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusNotFound, "Integrity scheduler not running", nil)
		return
	}
	last := h.Scheduler.Last()
	if last == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, toIntegrityDTO(*last, h.Scheduler.NextRunTime()))
}

// ReconcileStock compares derived stock with the movement ledger.
func (h *Handler) ReconcileStock(w http.ResponseWriter, r *http.Request) {
	drift, err := h.Engine.ReconcileStock(r.Context())
	if err != nil {
		h.writeEngineError(w, r, "Reconciliation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"consistent": len(drift) == 0,
		"drift":      toDriftDTOs(drift),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// statusFor maps an engine error to its HTTP status.
func statusFor(err error) int {
	switch {
	case core.IsValidation(err):
		return http.StatusBadRequest
	case core.IsIntegrity(err):
		return http.StatusInternalServerError
	case core.IsNotFound(err):
		return http.StatusNotFound
	case core.IsBusinessRule(err), sqlite.IsUnique(err), sqlite.IsImmutable(err):
		return http.StatusConflict
	case sqlite.IsConstraint(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg(message)
	}

	resp := ErrorResponse{Error: message, Details: err.Error()}
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id", fmt.Errorf("id %q", chi.URLParam(r, "id")))
		return 0, false
	}
	return id, true
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, def int64) (int64, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "Invalid "+key, fmt.Errorf("%s=%q", key, raw))
		return 0, false
	}
	return n, true
}
