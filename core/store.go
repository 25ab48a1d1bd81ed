/*
store.go - Storage contract between the engine and the embedded database

PURPOSE:
  Defines the minimal capability the engine needs from its store:
  execute statements, query rows, and run a function atomically.
  The ledger, inventory allocator and audit chain depend only on Querier;
  the sale orchestrator additionally needs TxStore.

KEY INTERFACES:
  Querier: ExecContext / QueryContext / QueryRowContext.
           Satisfied by *sql.DB, *sql.Tx and the sqlite Store.
  TxStore: Querier plus WithTx (BEGIN IMMEDIATE ... COMMIT / ROLLBACK).

ATOMICITY:
  Components never open their own transaction. They receive the Querier
  of the caller's active transaction and write through it, so a single
  WithTx scope commits or discards every effect of a sale together.

APPEND-ONLY CONTRACT:
  Invoices, lines, tax transactions, journal entries, movements and audit
  records are inserted once. The schema refuses UPDATE/DELETE on the
  immutable tables with triggers.

SEE ALSO:
  - store/sqlite/sqlite.go: concrete implementation
*/
package core

import (
	"context"
	"database/sql"
)

// Querier executes statements and queries. Implementations may be a
// database handle or an open transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxStore wraps Querier with transaction support.
type TxStore interface {
	Querier

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(q Querier) error) error
}
