/*
Package ledger implements the double-entry journal.

PURPOSE:
  Posts balanced journal entries through the caller's Querier and reads
  them back. The ledger never opens a transaction: the sale orchestrator
  owns the atomic scope and hands its Querier in.

CRITICAL INVARIANTS:
  1. BALANCED: sum(debits) == sum(credits), exactly, for every entry
  2. ONE SIDE: every line carries a debit or a credit, never both
  3. PERIODS: nothing posts into a closed or locked period
  4. APPEND-ONLY: entries and lines are never updated or deleted

VALIDATION ORDER (all before any write):
  1. at least two lines                 -> ErrTooFewLines
  2. each line one-sided, non-negative  -> ErrInvalidLine
  3. exact balance                      -> *UnbalancedEntryError
  4. accounts exist                     -> ErrUnknownAccount
  5. period open                        -> *PeriodClosedError

  When no accounting periods are defined at all, or the date falls
  outside all of them, posting is permitted.

EXAMPLE (a $100 sale in Miami-Dade):
  Dr 1100 Accounts Receivable   107.00
     Cr 4000 Sales Revenue             100.00
     Cr 2100 Sales Tax Payable           7.00

SEE ALSO:
  - period.go: accounting periods
  - balance.go: trial balance
*/
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/books-engine/core"
)

// Chart of accounts seeded by the schema.
const (
	AccountsReceivable = "1100"
	Inventory          = "1200"
	SalesTaxPayable    = "2100"
	SalesRevenue       = "4000"
	CostOfGoodsSold    = "5000"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrTooFewLines    = fmt.Errorf("%w: journal entry needs at least two lines", core.ErrValidation)
	ErrInvalidLine    = fmt.Errorf("%w: journal line must carry exactly one positive side", core.ErrValidation)
	ErrUnknownAccount = fmt.Errorf("%w: unknown account", core.ErrValidation)
)

// UnbalancedEntryError reports the two sides of an entry that does not balance.
type UnbalancedEntryError struct {
	Debits  decimal.Decimal
	Credits decimal.Decimal
}

func (e *UnbalancedEntryError) Error() string {
	return fmt.Sprintf("unbalanced journal entry: debits %s, credits %s, difference %s",
		e.Debits, e.Credits, e.Debits.Sub(e.Credits))
}

func (e *UnbalancedEntryError) Unwrap() error {
	return core.ErrUnbalancedEntry
}

// PeriodClosedError reports an attempt to post into a non-open period.
type PeriodClosedError struct {
	Period string
	Status PeriodStatus
	Date   time.Time
}

func (e *PeriodClosedError) Error() string {
	return fmt.Sprintf("accounting period %q is %s: cannot post on %s",
		e.Period, e.Status, core.FormatDate(e.Date))
}

func (e *PeriodClosedError) Unwrap() error {
	return core.ErrPeriodClosed
}

// =============================================================================
// TYPES
// =============================================================================

// Line is one side of a journal entry. Exactly one of Debit and Credit is
// non-zero.
type Line struct {
	Account string
	Debit   decimal.Decimal
	Credit  decimal.Decimal
	Memo    string
}

// Debit builds a debit line.
func Debit(account string, amount decimal.Decimal, memo string) Line {
	return Line{Account: account, Debit: amount, Memo: memo}
}

// Credit builds a credit line.
func Credit(account string, amount decimal.Decimal, memo string) Line {
	return Line{Account: account, Credit: amount, Memo: memo}
}

// Entry is a journal entry header with its lines.
type Entry struct {
	ID          int64
	Date        time.Time
	Description string
	Reference   string
	Total       decimal.Decimal // sum of debits; set on Post
	Lines       []Line
	CreatedAt   time.Time
}

// Totals returns the sums of both sides.
func (e Entry) Totals() (debits, credits decimal.Decimal) {
	for _, l := range e.Lines {
		debits = debits.Add(l.Debit)
		credits = credits.Add(l.Credit)
	}
	return debits, credits
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger posts and reads journal entries.
type Ledger struct {
	now func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the clock used for created_at.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Validate runs the structural checks (line count, sides, balance).
// It performs no I/O.
func (e Entry) Validate() error {
	if e.Date.IsZero() {
		return core.Invalid("date", "is required")
	}
	if e.Description == "" {
		return core.Invalid("description", "is required")
	}
	if len(e.Lines) < 2 {
		return ErrTooFewLines
	}
	for i, l := range e.Lines {
		if l.Account == "" {
			return fmt.Errorf("line %d: account is required: %w", i, ErrInvalidLine)
		}
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			return fmt.Errorf("line %d: negative amount: %w", i, ErrInvalidLine)
		}
		if l.Debit.IsZero() == l.Credit.IsZero() {
			return fmt.Errorf("line %d: %w", i, ErrInvalidLine)
		}
	}
	return nil
}

// Post validates and writes entry through q, returning the new entry ID.
func (l *Ledger) Post(ctx context.Context, q core.Querier, entry Entry) (int64, error) {
	if err := entry.Validate(); err != nil {
		return 0, err
	}

	debits, credits := entry.Totals()
	if !debits.Equal(credits) {
		return 0, &UnbalancedEntryError{Debits: debits, Credits: credits}
	}

	for i, line := range entry.Lines {
		ok, err := accountExists(ctx, q, line.Account)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("line %d: account %s: %w", i, line.Account, ErrUnknownAccount)
		}
	}

	if err := l.checkPeriod(ctx, q, entry.Date); err != nil {
		return 0, err
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO journal_entries (entry_date, description, reference, total, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		core.FormatDate(entry.Date), entry.Description, nullString(entry.Reference),
		debits.String(), core.FormatTimestamp(l.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("insert journal entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert journal entry: %w", err)
	}

	for _, line := range entry.Lines {
		_, err := q.ExecContext(ctx, `
			INSERT INTO journal_lines (entry_id, account_code, debit, credit, memo)
			VALUES (?, ?, ?, ?, ?)`,
			id, line.Account, side(line.Debit), side(line.Credit), nullString(line.Memo),
		)
		if err != nil {
			return 0, fmt.Errorf("insert journal line: %w", err)
		}
	}

	return id, nil
}

func (l *Ledger) checkPeriod(ctx context.Context, q core.Querier, date time.Time) error {
	period, err := l.PeriodFor(ctx, q, date)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if period.Status != PeriodOpen {
		return &PeriodClosedError{Period: period.Name, Status: period.Status, Date: date}
	}
	return nil
}

// Get returns an entry with its lines.
func (l *Ledger) Get(ctx context.Context, q core.Querier, id int64) (*Entry, error) {
	var e Entry
	var entryDate, createdAt, total string
	var reference sql.NullString

	err := q.QueryRowContext(ctx, `
		SELECT id, entry_date, description, reference, total, created_at
		FROM journal_entries WHERE id = ?`, id,
	).Scan(&e.ID, &entryDate, &e.Description, &reference, &total, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("journal entry %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get journal entry %d: %w", id, err)
	}

	e.Reference = reference.String
	if e.Date, err = core.ParseDate(entryDate); err != nil {
		return nil, err
	}
	if e.Total, err = core.ParseDecimal(total); err != nil {
		return nil, err
	}
	e.CreatedAt, _ = time.Parse(core.TimestampLayout, createdAt)

	if e.Lines, err = loadLines(ctx, q, id); err != nil {
		return nil, err
	}
	return &e, nil
}

// EntriesByReference returns the entries posted with the given reference,
// oldest first.
func (l *Ledger) EntriesByReference(ctx context.Context, q core.Querier, reference string) ([]Entry, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id FROM journal_entries WHERE reference = ? ORDER BY id", reference)
	if err != nil {
		return nil, fmt.Errorf("query journal entries: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		e, err := l.Get(ctx, q, id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

func loadLines(ctx context.Context, q core.Querier, entryID int64) ([]Line, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT account_code, debit, credit, memo
		FROM journal_lines WHERE entry_id = ? ORDER BY id`, entryID)
	if err != nil {
		return nil, fmt.Errorf("query journal lines: %w", err)
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var line Line
		var debit, credit, memo sql.NullString
		if err := rows.Scan(&line.Account, &debit, &credit, &memo); err != nil {
			return nil, err
		}
		if line.Debit, err = core.ParseDecimal(debit.String); err != nil {
			return nil, err
		}
		if line.Credit, err = core.ParseDecimal(credit.String); err != nil {
			return nil, err
		}
		line.Memo = memo.String
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func accountExists(ctx context.Context, q core.Querier, code string) (bool, error) {
	var found string
	err := q.QueryRowContext(ctx, "SELECT code FROM accounts WHERE code = ?", code).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup account %s: %w", code, err)
	}
	return true, nil
}

// side renders a zero amount as NULL.
func side(amount decimal.Decimal) sql.NullString {
	if amount.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: amount.String(), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
