/*
errors.go - Centralized error types for the books engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Component packages return these (or structured errors unwrapping to
  them) so callers can classify failures with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Validation   - malformed input, rejected before any I/O
  2. Business     - stock, customer, balance, period, tax compliance
  3. Integrity    - audit chain cannot be trusted (fatal, never suppressed)
  4. Storage      - driver errors, propagated wrapped with %w

Nothing in the engine retries. A failed sale may be resubmitted by the
caller once the underlying condition is fixed.

SEE ALSO:
  - ledger/ledger.go: UnbalancedEntryError, PeriodClosedError
  - inventory/allocator.go: InsufficientStockError
  - audit/chain.go: IntegrityError
*/
package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a queried record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCustomerNotFound is returned when a sale references an unknown customer.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrProductNotFound is returned when a sale or movement references an unknown product.
	ErrProductNotFound = errors.New("product not found")

	// ErrInsufficientStock is returned when aggregate stock cannot cover a request.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrUnbalancedEntry is returned when a journal entry's debits and credits differ.
	ErrUnbalancedEntry = errors.New("unbalanced journal entry")

	// ErrPeriodClosed is returned when posting into a closed or locked accounting period.
	ErrPeriodClosed = errors.New("accounting period closed")

	// ErrTaxCompliance is returned when computed tax fails the compliance recheck.
	ErrTaxCompliance = errors.New("tax compliance failure")

	// ErrAuditIntegrity is returned when the audit chain cannot be sealed or verified.
	ErrAuditIntegrity = errors.New("audit integrity failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid is shorthand for a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientStockError provides details about a stock shortage.
type InsufficientStockError struct {
	ProductID ProductID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %s, requested %s, shortfall %s",
		e.ProductID, e.Available, e.Requested, e.Requested.Sub(e.Available))
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// TaxComplianceError reports a tax amount the canonical rates do not reproduce.
type TaxComplianceError struct {
	Jurisdiction string
	Taxable      decimal.Decimal
	Collected    decimal.Decimal
}

func (e *TaxComplianceError) Error() string {
	return fmt.Sprintf("tax compliance failure in %q: taxable %s, collected %s",
		e.Jurisdiction, e.Taxable, e.Collected)
}

func (e *TaxComplianceError) Unwrap() error {
	return ErrTaxCompliance
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true if the error is due to malformed input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsBusinessRule returns true if the error is a refused business operation.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrUnbalancedEntry) ||
		errors.Is(err, ErrPeriodClosed) ||
		errors.Is(err, ErrTaxCompliance)
}

// IsIntegrity returns true if the audit trail can no longer be trusted.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrAuditIntegrity)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrProductNotFound)
}
