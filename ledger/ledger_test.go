package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/books-engine/core"
	"github.com/warp/books-engine/ledger"
	"github.com/warp/books-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*ledger.Ledger, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return ledger.New(), store
}

func d(s string) decimal.Decimal { return core.MustParseDecimal(s) }

var march10 = core.Date(2025, time.March, 10)

func saleEntry(date time.Time) ledger.Entry {
	return ledger.Entry{
		Date:        date,
		Description: "Sale INV-2025-00001",
		Reference:   "INV-2025-00001",
		Lines: []ledger.Line{
			ledger.Debit(ledger.AccountsReceivable, d("107.00"), ""),
			ledger.Credit(ledger.SalesRevenue, d("100.00"), ""),
			ledger.Credit(ledger.SalesTaxPayable, d("7.00"), "Miami-Dade"),
		},
	}
}

func journalCount(t *testing.T, q core.Querier) (entries, lines int) {
	ctx := context.Background()
	require.NoError(t, q.QueryRowContext(ctx, "SELECT COUNT(*) FROM journal_entries").Scan(&entries))
	require.NoError(t, q.QueryRowContext(ctx, "SELECT COUNT(*) FROM journal_lines").Scan(&lines))
	return entries, lines
}

// =============================================================================
// POST TESTS
// =============================================================================

func TestPost_BalancedEntry(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	id, err := l.Post(ctx, store, saleEntry(march10))
	require.NoError(t, err)

	got, err := l.Get(ctx, store, id)
	require.NoError(t, err)
	assert.Equal(t, "INV-2025-00001", got.Reference)
	assert.Equal(t, "107", got.Total.String())
	assert.Equal(t, march10, got.Date)
	require.Len(t, got.Lines, 3)
	assert.Equal(t, ledger.AccountsReceivable, got.Lines[0].Account)
	assert.True(t, got.Lines[0].Credit.IsZero())
	assert.Equal(t, "Miami-Dade", got.Lines[2].Memo)

	debits, credits := got.Totals()
	assert.True(t, debits.Equal(credits))
}

func TestPost_RejectsBeforeAnyWrite(t *testing.T) {
	cases := []struct {
		name  string
		lines []ledger.Line
		check func(t *testing.T, err error)
	}{
		{
			name:  "single line",
			lines: []ledger.Line{ledger.Debit(ledger.AccountsReceivable, d("1"), "")},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ledger.ErrTooFewLines) },
		},
		{
			name: "both sides",
			lines: []ledger.Line{
				{Account: ledger.AccountsReceivable, Debit: d("1"), Credit: d("1")},
				ledger.Credit(ledger.SalesRevenue, d("1"), ""),
			},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ledger.ErrInvalidLine) },
		},
		{
			name: "neither side",
			lines: []ledger.Line{
				{Account: ledger.AccountsReceivable},
				ledger.Credit(ledger.SalesRevenue, d("1"), ""),
			},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ledger.ErrInvalidLine) },
		},
		{
			name: "negative amount",
			lines: []ledger.Line{
				ledger.Debit(ledger.AccountsReceivable, d("-1"), ""),
				ledger.Credit(ledger.SalesRevenue, d("-1"), ""),
			},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ledger.ErrInvalidLine) },
		},
		{
			name: "unbalanced by a cent",
			lines: []ledger.Line{
				ledger.Debit(ledger.AccountsReceivable, d("107.00"), ""),
				ledger.Credit(ledger.SalesRevenue, d("100.00"), ""),
				ledger.Credit(ledger.SalesTaxPayable, d("6.99"), ""),
			},
			check: func(t *testing.T, err error) {
				var unbalanced *ledger.UnbalancedEntryError
				require.ErrorAs(t, err, &unbalanced)
				assert.Equal(t, "107", unbalanced.Debits.String())
				assert.Equal(t, "106.99", unbalanced.Credits.String())
				assert.ErrorIs(t, err, core.ErrUnbalancedEntry)
				assert.True(t, core.IsBusinessRule(err))
			},
		},
		{
			name: "unknown account",
			lines: []ledger.Line{
				ledger.Debit("9999", d("1"), ""),
				ledger.Credit(ledger.SalesRevenue, d("1"), ""),
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ledger.ErrUnknownAccount)
				assert.True(t, core.IsValidation(err))
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, store := newTestLedger(t)

			_, err := l.Post(context.Background(), store, ledger.Entry{
				Date: march10, Description: tc.name, Lines: tc.lines,
			})

			require.Error(t, err)
			tc.check(t, err)
			entries, lines := journalCount(t, store)
			assert.Zero(t, entries)
			assert.Zero(t, lines)
		})
	}
}

func TestPost_RollsBackWithCallerTransaction(t *testing.T) {
	// GIVEN: An entry posted inside the caller's transaction
	// WHEN: The caller's transaction fails afterwards
	// THEN: The entry disappears with it

	l, store := newTestLedger(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(q core.Querier) error {
		_, err := l.Post(ctx, q, saleEntry(march10))
		require.NoError(t, err)
		return assert.AnError
	})

	assert.ErrorIs(t, err, assert.AnError)
	entries, lines := journalCount(t, store)
	assert.Zero(t, entries)
	assert.Zero(t, lines)
}

func TestGet_NotFound(t *testing.T) {
	l, store := newTestLedger(t)

	_, err := l.Get(context.Background(), store, 42)

	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestEntriesByReference(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Post(ctx, store, saleEntry(march10))
	require.NoError(t, err)

	entries, err := l.EntriesByReference(ctx, store, "INV-2025-00001")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].Lines, 3)

	entries, err = l.EntriesByReference(ctx, store, "INV-2025-99999")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// =============================================================================
// PERIOD TESTS
// =============================================================================

func TestPost_NoPeriodsDefined_Permitted(t *testing.T) {
	l, store := newTestLedger(t)

	_, err := l.Post(context.Background(), store, saleEntry(march10))

	assert.NoError(t, err)
}

func TestPost_ClosedPeriod_Refused(t *testing.T) {
	// GIVEN: March 2025 is closed
	// WHEN: Posting an entry dated March 10
	// THEN: PeriodClosed is returned and nothing is written

	l, store := newTestLedger(t)
	ctx := context.Background()

	_, err := l.CreatePeriod(ctx, store, ledger.Period{
		Name:   "2025-03",
		Start:  core.Date(2025, time.March, 1),
		End:    core.Date(2025, time.March, 31),
		Status: ledger.PeriodClosed,
	})
	require.NoError(t, err)

	_, err = l.Post(ctx, store, saleEntry(march10))

	var closed *ledger.PeriodClosedError
	require.ErrorAs(t, err, &closed)
	assert.Equal(t, "2025-03", closed.Period)
	assert.Equal(t, ledger.PeriodClosed, closed.Status)
	assert.ErrorIs(t, err, core.ErrPeriodClosed)
	entries, _ := journalCount(t, store)
	assert.Zero(t, entries)
}

func TestPost_OutsideAllPeriods_Permitted(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	_, err := l.CreatePeriod(ctx, store, ledger.Period{
		Name:   "2025-01",
		Start:  core.Date(2025, time.January, 1),
		End:    core.Date(2025, time.January, 31),
		Status: ledger.PeriodClosed,
	})
	require.NoError(t, err)

	_, err = l.Post(ctx, store, saleEntry(march10))
	assert.NoError(t, err)
}

func TestPost_PeriodBoundariesInclusive(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	_, err := l.CreatePeriod(ctx, store, ledger.Period{
		Name:   "2025-03",
		Start:  core.Date(2025, time.March, 1),
		End:    core.Date(2025, time.March, 31),
		Status: ledger.PeriodLocked,
	})
	require.NoError(t, err)

	_, err = l.Post(ctx, store, saleEntry(core.Date(2025, time.March, 31)))
	assert.ErrorIs(t, err, core.ErrPeriodClosed)

	_, err = l.Post(ctx, store, saleEntry(core.Date(2025, time.April, 1)))
	assert.NoError(t, err)
}

func TestSetPeriodStatus(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	id, err := l.CreatePeriod(ctx, store, ledger.Period{
		Name:  "2025-03",
		Start: core.Date(2025, time.March, 1),
		End:   core.Date(2025, time.March, 31),
	})
	require.NoError(t, err)

	require.NoError(t, l.SetPeriodStatus(ctx, store, id, ledger.PeriodClosed))
	_, err = l.Post(ctx, store, saleEntry(march10))
	assert.ErrorIs(t, err, core.ErrPeriodClosed)

	require.NoError(t, l.SetPeriodStatus(ctx, store, id, ledger.PeriodOpen))
	_, err = l.Post(ctx, store, saleEntry(march10))
	assert.NoError(t, err)

	require.NoError(t, l.SetPeriodStatus(ctx, store, id, ledger.PeriodLocked))
	err = l.SetPeriodStatus(ctx, store, id, ledger.PeriodOpen)
	assert.ErrorIs(t, err, ledger.ErrPeriodLocked)

	period, err := l.PeriodFor(ctx, store, march10)
	require.NoError(t, err)
	assert.Equal(t, ledger.PeriodLocked, period.Status)
}

func TestCreatePeriod_Validation(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	_, err := l.CreatePeriod(ctx, store, ledger.Period{
		Name:  "backwards",
		Start: core.Date(2025, time.March, 31),
		End:   core.Date(2025, time.March, 1),
	})
	assert.True(t, core.IsValidation(err))

	_, err = l.CreatePeriod(ctx, store, ledger.Period{
		Name:  "Q1",
		Start: core.Date(2025, time.January, 1),
		End:   core.Date(2025, time.March, 31),
	})
	require.NoError(t, err)

	_, err = l.CreatePeriod(ctx, store, ledger.Period{
		Name:  "March",
		Start: core.Date(2025, time.March, 1),
		End:   core.Date(2025, time.March, 31),
	})
	assert.ErrorIs(t, err, ledger.ErrPeriodOverlap)

	periods, err := l.ListPeriods(ctx, store)
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, ledger.PeriodOpen, periods[0].Status)
}

// =============================================================================
// TRIAL BALANCE TESTS
// =============================================================================

func TestTrialBalance(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Post(ctx, store, saleEntry(march10))
	require.NoError(t, err)
	_, err = l.Post(ctx, store, ledger.Entry{
		Date:        march10,
		Description: "COGS",
		Lines: []ledger.Line{
			ledger.Debit(ledger.CostOfGoodsSold, d("40.00"), ""),
			ledger.Credit(ledger.Inventory, d("40.00"), ""),
		},
	})
	require.NoError(t, err)

	balances, err := l.TrialBalance(ctx, store)
	require.NoError(t, err)
	require.Len(t, balances, 5)

	byCode := map[string]ledger.AccountBalance{}
	totalDr, totalCr := decimal.Zero, decimal.Zero
	for _, b := range balances {
		byCode[b.Code] = b
		totalDr = totalDr.Add(b.Debits)
		totalCr = totalCr.Add(b.Credits)
	}

	assert.True(t, totalDr.Equal(totalCr))
	assert.Equal(t, "107", byCode[ledger.AccountsReceivable].Balance.String())
	assert.Equal(t, "100", byCode[ledger.SalesRevenue].Balance.String())
	assert.Equal(t, "7", byCode[ledger.SalesTaxPayable].Balance.String())
	assert.Equal(t, "40", byCode[ledger.CostOfGoodsSold].Balance.String())
	assert.Equal(t, "-40", byCode[ledger.Inventory].Balance.String())
}
