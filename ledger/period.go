package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/books-engine/core"
)

// =============================================================================
// ACCOUNTING PERIODS
// =============================================================================

// PeriodStatus gates posting into a period.
type PeriodStatus string

const (
	PeriodOpen   PeriodStatus = "open"
	PeriodClosed PeriodStatus = "closed" // may be reopened
	PeriodLocked PeriodStatus = "locked" // final
)

func (s PeriodStatus) valid() bool {
	switch s {
	case PeriodOpen, PeriodClosed, PeriodLocked:
		return true
	}
	return false
}

var (
	ErrPeriodOverlap = fmt.Errorf("%w: accounting periods overlap", core.ErrValidation)
	ErrPeriodLocked  = fmt.Errorf("%w: locked periods cannot change status", core.ErrPeriodClosed)
)

// Period is a posting window, inclusive on both ends.
type Period struct {
	ID     int64
	Name   string
	Start  time.Time
	End    time.Time
	Status PeriodStatus
}

// Contains reports whether date falls within the period.
func (p Period) Contains(date time.Time) bool {
	d := core.FormatDate(date)
	return core.FormatDate(p.Start) <= d && d <= core.FormatDate(p.End)
}

// CreatePeriod adds a period. Periods may not overlap. A zero Status is open.
func (l *Ledger) CreatePeriod(ctx context.Context, q core.Querier, p Period) (int64, error) {
	if p.Name == "" {
		return 0, core.Invalid("name", "is required")
	}
	if p.Start.IsZero() || p.End.IsZero() {
		return 0, core.Invalid("start_date", "start and end dates are required")
	}
	if p.End.Before(p.Start) {
		return 0, core.Invalid("end_date", "must not be before start date")
	}
	if p.Status == "" {
		p.Status = PeriodOpen
	}
	if !p.Status.valid() {
		return 0, core.Invalid("status", "unknown status %q", p.Status)
	}

	// Dates are fixed-width YYYY-MM-DD, so text comparison is chronological.
	var overlapping string
	err := q.QueryRowContext(ctx, `
		SELECT name FROM accounting_periods
		WHERE start_date <= ? AND end_date >= ?
		LIMIT 1`,
		core.FormatDate(p.End), core.FormatDate(p.Start),
	).Scan(&overlapping)
	if err == nil {
		return 0, fmt.Errorf("period %q overlaps %q: %w", p.Name, overlapping, ErrPeriodOverlap)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("check period overlap: %w", err)
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO accounting_periods (name, start_date, end_date, status)
		VALUES (?, ?, ?, ?)`,
		p.Name, core.FormatDate(p.Start), core.FormatDate(p.End), string(p.Status),
	)
	if err != nil {
		return 0, fmt.Errorf("insert accounting period: %w", err)
	}
	return res.LastInsertId()
}

// SetPeriodStatus moves a period between open and closed, or locks it.
// A locked period cannot change again.
func (l *Ledger) SetPeriodStatus(ctx context.Context, q core.Querier, id int64, status PeriodStatus) error {
	if !status.valid() {
		return core.Invalid("status", "unknown status %q", status)
	}

	period, err := getPeriod(ctx, q, "WHERE id = ?", id)
	if err != nil {
		return err
	}
	if period.Status == status {
		return nil
	}
	if period.Status == PeriodLocked {
		return fmt.Errorf("period %q: %w", period.Name, ErrPeriodLocked)
	}

	_, err = q.ExecContext(ctx, "UPDATE accounting_periods SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("update accounting period %d: %w", id, err)
	}
	return nil
}

// PeriodFor returns the period containing date, or core.ErrNotFound.
func (l *Ledger) PeriodFor(ctx context.Context, q core.Querier, date time.Time) (*Period, error) {
	d := core.FormatDate(date)
	return getPeriod(ctx, q, "WHERE start_date <= ? AND end_date >= ? ORDER BY start_date LIMIT 1", d, d)
}

// ListPeriods returns all periods ordered by start date.
func (l *Ledger) ListPeriods(ctx context.Context, q core.Querier) ([]Period, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, name, start_date, end_date, status FROM accounting_periods ORDER BY start_date")
	if err != nil {
		return nil, fmt.Errorf("query accounting periods: %w", err)
	}
	defer rows.Close()

	var periods []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, *p)
	}
	return periods, rows.Err()
}

func getPeriod(ctx context.Context, q core.Querier, where string, args ...any) (*Period, error) {
	row := q.QueryRowContext(ctx,
		"SELECT id, name, start_date, end_date, status FROM accounting_periods "+where, args...)
	p, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("accounting period: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get accounting period: %w", err)
	}
	return p, nil
}

func scanPeriod(row interface{ Scan(...any) error }) (*Period, error) {
	var p Period
	var start, end, status string
	if err := row.Scan(&p.ID, &p.Name, &start, &end, &status); err != nil {
		return nil, err
	}
	var err error
	if p.Start, err = core.ParseDate(start); err != nil {
		return nil, err
	}
	if p.End, err = core.ParseDate(end); err != nil {
		return nil, err
	}
	p.Status = PeriodStatus(status)
	return &p, nil
}
