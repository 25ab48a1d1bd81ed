package sales

import (
	"context"
	"fmt"

	"github.com/warp/books-engine/audit"
	"github.com/warp/books-engine/core"
	"github.com/warp/books-engine/ledger"
)

// CreatePeriod adds an accounting period and seals a PERIOD_CREATED record.
func (e *Engine) CreatePeriod(ctx context.Context, p ledger.Period, user core.UserID) (int64, error) {
	var id int64
	err := e.store.WithTx(ctx, func(q core.Querier) error {
		var err error
		if id, err = e.ledger.CreatePeriod(ctx, q, p); err != nil {
			return err
		}
		status := p.Status
		if status == "" {
			status = ledger.PeriodOpen
		}
		_, err = e.audit.Log(ctx, q, audit.Event{
			Type:        audit.EventPeriodCreated,
			EntityTable: "accounting_periods",
			EntityID:    fmt.Sprint(id),
			UserID:      user,
			Payload: map[string]any{
				"name":       p.Name,
				"start_date": core.FormatDate(p.Start),
				"end_date":   core.FormatDate(p.End),
				"status":     string(status),
			},
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// SetPeriodStatus changes a period's status and seals the transition.
func (e *Engine) SetPeriodStatus(ctx context.Context, id int64, status ledger.PeriodStatus, user core.UserID) error {
	return e.store.WithTx(ctx, func(q core.Querier) error {
		periods, err := e.ledger.ListPeriods(ctx, q)
		if err != nil {
			return err
		}
		var from ledger.PeriodStatus
		for _, p := range periods {
			if p.ID == id {
				from = p.Status
			}
		}
		if from == "" {
			return fmt.Errorf("accounting period %d: %w", id, core.ErrNotFound)
		}
		if from == status {
			return nil
		}

		if err := e.ledger.SetPeriodStatus(ctx, q, id, status); err != nil {
			return err
		}
		_, err = e.audit.Log(ctx, q, audit.Event{
			Type:        audit.EventPeriodStatusChanged,
			EntityTable: "accounting_periods",
			EntityID:    fmt.Sprint(id),
			UserID:      user,
			Payload:     map[string]any{"from": string(from), "to": string(status)},
		})
		return err
	})
}

// Periods lists the accounting periods.
func (e *Engine) Periods(ctx context.Context) ([]ledger.Period, error) {
	return e.ledger.ListPeriods(ctx, e.store)
}
