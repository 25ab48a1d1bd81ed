/*
scenarios.go - Demo data loader for development and demonstrations

PURPOSE:
  Populates a database with a small, realistic book of business: two
  customers, three products (one tax-exempt), stock in several batches,
  an open accounting period for the current month and three sales that
  exercise county surtax, exempt lines and FIFO across batches.

HOW THE DEMO WORKS:
 1. Upsert customers and products (catalog)
 2. Open the current month if no period covers today (audited)
 3. Receive batches through the engine (audited)
 4. Post sales through the engine (audited)

  Batch numbers carry a random suffix, so the demo can be loaded more
  than once into the same database; each load adds stock and sales.

USAGE VIA API:

	POST /api/scenarios/demo

USAGE VIA CLI:

	booksd seed

SEE ALSO:
  - handlers.go: catalog and sale handlers
  - cmd/booksd/seed.go
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/books-engine/core"
	"github.com/warp/books-engine/ledger"
	"github.com/warp/books-engine/sales"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "demo",
		Name:        "Florida Retail Demo",
		Description: "Two customers, three products, batched stock and three posted sales across Miami-Dade, Broward and Orange",
	},
}

var demoCustomers = []core.Customer{
	{ID: "acme", Name: "Acme Corp", Email: "ap@acme.test"},
	{ID: "bayside", Name: "Bayside Cafe", Email: "owner@bayside.test"},
}

var demoProducts = []core.Product{
	{ID: "desk", Name: "Standing Desk", UnitPrice: dec("100.00"), UnitCost: dec("40.00"), Taxable: true},
	{ID: "chair", Name: "Task Chair", UnitPrice: dec("45.50"), UnitCost: dec("20.00"), Taxable: true},
	{ID: "coffee", Name: "Coffee Beans 1kg", UnitPrice: dec("12.99"), UnitCost: dec("6.50"), Taxable: false},
}

type demoReceipt struct {
	product   core.ProductID
	batch     string
	quantity  string
	expiresIn int // days; 0 = no expiry
}

var demoReceipts = []demoReceipt{
	{product: "desk", batch: "DESK-A", quantity: "5"},
	{product: "desk", batch: "DESK-B", quantity: "20"},
	{product: "chair", batch: "CHAIR-A", quantity: "10"},
	{product: "coffee", batch: "COFFEE-LATE", quantity: "30", expiresIn: 60},
	{product: "coffee", batch: "COFFEE-SOON", quantity: "20", expiresIn: 30},
}

var demoSales = []sales.SaleRequest{
	{
		CustomerID:   "acme",
		Jurisdiction: "Miami-Dade",
		Lines:        []sales.SaleLine{{ProductID: "desk", Quantity: dec("1")}},
	},
	{
		CustomerID:   "bayside",
		Jurisdiction: "Broward",
		Lines: []sales.SaleLine{
			{ProductID: "chair", Quantity: dec("2")},
			{ProductID: "coffee", Quantity: dec("3")},
		},
	},
	{
		CustomerID:   "acme",
		Jurisdiction: "Orange",
		Lines:        []sales.SaleLine{{ProductID: "desk", Quantity: dec("15")}},
	},
}

func dec(s string) decimal.Decimal { return core.MustParseDecimal(s) }

// DemoResult summarises a demo load.
type DemoResult struct {
	Scenario  string   `json:"scenario"`
	Customers int      `json:"customers"`
	Products  int      `json:"products"`
	Batches   int      `json:"batches"`
	Invoices  []string `json:"invoices"`
	PeriodID  int64    `json:"period_id,omitempty"`
}

// SeedDemo loads the demo scenario. today dates the period and expiries.
func SeedDemo(ctx context.Context, store CatalogStore, engine *sales.Engine, today time.Time) (*DemoResult, error) {
	res := &DemoResult{Scenario: "demo"}
	user := core.UserID("demo")

	for _, c := range demoCustomers {
		if err := store.SaveCustomer(ctx, c); err != nil {
			return nil, fmt.Errorf("seed customer %s: %w", c.ID, err)
		}
		res.Customers++
	}
	for _, p := range demoProducts {
		if err := store.SaveProduct(ctx, p); err != nil {
			return nil, fmt.Errorf("seed product %s: %w", p.ID, err)
		}
		res.Products++
	}

	periodID, err := ensureOpenMonth(ctx, engine, today, user)
	if err != nil {
		return nil, err
	}
	res.PeriodID = periodID

	suffix := strings.ToUpper(uuid.NewString()[:8])
	for _, rc := range demoReceipts {
		req := sales.ReceiveRequest{
			ProductID:   rc.product,
			BatchNumber: rc.batch + "-" + suffix,
			Quantity:    dec(rc.quantity),
			Reference:   "PO-DEMO-" + suffix,
			UserID:      user,
		}
		if rc.expiresIn > 0 {
			expiry := core.Date(today.UTC().Date()).AddDate(0, 0, rc.expiresIn)
			req.ExpiryDate = &expiry
		}
		if _, err := engine.ReceiveStock(ctx, req); err != nil {
			return nil, fmt.Errorf("seed receipt %s: %w", req.BatchNumber, err)
		}
		res.Batches++
	}

	for _, s := range demoSales {
		s.UserID = user
		receipt, err := engine.ProcessSale(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("seed sale for %s: %w", s.CustomerID, err)
		}
		res.Invoices = append(res.Invoices, receipt.InvoiceNumber)
	}
	return res, nil
}

// ensureOpenMonth creates the calendar month around today unless a
// period already covers it. Returns 0 when nothing was created.
func ensureOpenMonth(ctx context.Context, engine *sales.Engine, today time.Time, user core.UserID) (int64, error) {
	periods, err := engine.Periods(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range periods {
		if p.Contains(today) {
			return 0, nil
		}
	}

	year, month, _ := today.UTC().Date()
	start := core.Date(year, month, 1)
	id, err := engine.CreatePeriod(ctx, ledger.Period{
		Name:   start.Format("2006-01"),
		Start:  start,
		End:    start.AddDate(0, 1, -1),
		Status: ledger.PeriodOpen,
	}, user)
	if err != nil {
		return 0, fmt.Errorf("seed period: %w", err)
	}
	return id, nil
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadDemo loads the demo scenario.
// POST /api/scenarios/demo
func (h *Handler) LoadDemo(w http.ResponseWriter, r *http.Request) {
	res, err := SeedDemo(r.Context(), h.Store, h.Engine, h.Now())
	if err != nil {
		h.writeEngineError(w, r, "Failed to load demo", err)
		return
	}
	h.log.Info().Strs("invoices", res.Invoices).Int("batches", res.Batches).Msg("demo scenario loaded")
	writeJSON(w, http.StatusCreated, res)
}
