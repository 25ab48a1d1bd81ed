/*
Package sqlite provides the SQLite-backed storage substrate of the books engine.

PURPOSE:
  Implements core.TxStore on top of database/sql and mattn/go-sqlite3,
  owns the schema (embedded golang-migrate migrations, applied on New)
  and keeps the catalog records the sale pipeline reads.

INTERFACES IMPLEMENTED:
  core.Querier: ExecContext / QueryContext / QueryRowContext
  core.TxStore: WithTx (BEGIN IMMEDIATE ... COMMIT / ROLLBACK)

APPEND-ONLY ENFORCEMENT:
  Posted records are protected by refusal triggers (0002_immutability):
  - tax_transactions, journal_entries, journal_lines,
    inventory_movements, invoice_lines, audit_log: no UPDATE, no DELETE
  - invoices: only the status column may change
  - accounting_periods: a locked period cannot be modified
  Corrections are new records, never edits.

KEY TABLES:
  customers, products:          catalog (products.stock_quantity is derived)
  invoices, invoice_lines:      sales documents
  tax_transactions:             one row per jurisdiction component
  journal_entries/lines:        double-entry journal
  product_batches:              lots consumed FIFO
  inventory_movements:          signed quantity ledger
  audit_log:                    hash-linked audit trail
  accounting_periods:           posting windows

CONCURRENCY:
  Single writer. The pool is pinned to one connection (which also keeps
  ":memory:" databases shared) and WithTx holds the store mutex for the
  whole transaction. Inside fn, every read and write must go through the
  Querier handed to fn; using the Store itself there would wait on the
  mutex held by the same goroutine.

WAL MODE:
  Opened with WAL, foreign keys on, a busy timeout, and _txlock=immediate
  so BeginTx issues BEGIN IMMEDIATE.

USAGE:
  store, err := sqlite.New("./data/books.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - core/store.go: interface definitions
  - migrate.go: schema provider
  - catalog.go: customers and products
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/books-engine/core"
)

const dsnParams = "?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"

// Store implements core.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ core.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path and applies
// pending migrations. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// QUERIER (outside a transaction)
// =============================================================================

func (s *Store) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.ExecContext(ctx, query, args...)
}

// QueryContext holds the read lock only while the statement starts. Rows
// must be closed before the next statement is issued: the pool has one
// connection.
func (s *Store) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.QueryContext(ctx, query, args...)
}

func (s *Store) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.QueryRowContext(ctx, query, args...)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
// If fn returns an error (or panics) the transaction is rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(q core.Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// IsConstraint reports whether err is a SQLite constraint violation
// (unique, foreign key, check or trigger refusal).
func IsConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

// IsImmutable reports whether err was raised by a refusal trigger.
func IsImmutable(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintTrigger
}

// IsUnique reports whether err is a unique constraint violation.
func IsUnique(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
