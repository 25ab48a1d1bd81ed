package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/books-engine/core"
)

// =============================================================================
// TRIAL BALANCE
// =============================================================================

// AccountBalance is one row of the trial balance. Balance is expressed on
// the account's normal side: debit for assets and expenses, credit otherwise.
type AccountBalance struct {
	Code    string
	Name    string
	Type    string
	Debits  decimal.Decimal
	Credits decimal.Decimal
	Balance decimal.Decimal
}

// TrialBalance sums every posted line per account. Sums are computed in Go:
// amounts are stored as decimal text and SQLite arithmetic would be float.
func (l *Ledger) TrialBalance(ctx context.Context, q core.Querier) ([]AccountBalance, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT a.code, a.name, a.type, jl.debit, jl.credit
		FROM accounts a
		LEFT JOIN journal_lines jl ON jl.account_code = a.code`)
	if err != nil {
		return nil, fmt.Errorf("query trial balance: %w", err)
	}
	defer rows.Close()

	byCode := make(map[string]*AccountBalance)
	for rows.Next() {
		var code, name, typ string
		var debit, credit sql.NullString
		if err := rows.Scan(&code, &name, &typ, &debit, &credit); err != nil {
			return nil, err
		}
		ab, ok := byCode[code]
		if !ok {
			ab = &AccountBalance{Code: code, Name: name, Type: typ}
			byCode[code] = ab
		}
		dr, err := core.ParseDecimal(debit.String)
		if err != nil {
			return nil, err
		}
		cr, err := core.ParseDecimal(credit.String)
		if err != nil {
			return nil, err
		}
		ab.Debits = ab.Debits.Add(dr)
		ab.Credits = ab.Credits.Add(cr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balances := make([]AccountBalance, 0, len(byCode))
	for _, ab := range byCode {
		if debitNormal(ab.Type) {
			ab.Balance = ab.Debits.Sub(ab.Credits)
		} else {
			ab.Balance = ab.Credits.Sub(ab.Debits)
		}
		balances = append(balances, *ab)
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Code < balances[j].Code })
	return balances, nil
}

func debitNormal(accountType string) bool {
	return accountType == "asset" || accountType == "expense"
}
