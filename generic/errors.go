/*
errors.go - Centralized error types for the advance engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The advance package wraps these errors with additional context.

ERROR CATEGORIES:
  1. Input errors - invalid rent, invalid amount, bad status transition
  2. Consumption errors - out of window (fatal), already consumed (soft)
  3. Lookup errors - missing contract, advance or payment
  4. Store errors - uniqueness violations surfaced by the storage layer

USAGE:
  if errors.Is(err, generic.ErrOutOfWindow) {
      // caller asked for a month the advance does not cover
  }

SEE ALSO:
  - advance/tracker.go: maps ErrAlreadyConsumed to a soft result
  - api/handlers.go: maps categories to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRent is returned when a monthly rent is zero or negative.
	ErrInvalidRent = errors.New("invalid monthly rent: must be positive")

	// ErrInvalidAmount is returned when a monetary value cannot be parsed.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrNegativeAmount is returned when an amount must not be negative.
	ErrNegativeAmount = errors.New("amount must not be negative")

	// ErrTooManyMonths is returned when an amount covers more than
	// MaxMonthsCovered months.
	ErrTooManyMonths = errors.New("amount covers too many months")

	// ErrAlreadyConsumed is returned by stores when (advance, month) already
	// has a consumption record. The tracker reports it as a soft result.
	ErrAlreadyConsumed = errors.New("month already consumed by this advance")

	// ErrOutOfWindow is returned when a month is outside an advance's coverage.
	ErrOutOfWindow = errors.New("month outside advance coverage window")

	// ErrAdvanceNotActive is returned when consuming an exhausted or cancelled advance.
	ErrAdvanceNotActive = errors.New("advance is not active")

	// ErrDuplicateAdvanceForPayment is returned when a payment already funds an advance.
	ErrDuplicateAdvanceForPayment = errors.New("payment already linked to an advance")

	// ErrDuplicateContractNumber is returned when a contract number is reused.
	ErrDuplicateContractNumber = errors.New("duplicate contract number")

	// ErrInvalidPaymentType is returned for an unknown payment type.
	ErrInvalidPaymentType = errors.New("invalid payment type")

	// ErrInvalidStatusTransition is returned for a forbidden payment status change.
	ErrInvalidStatusTransition = errors.New("invalid payment status transition")

	// ErrContractNotFound is returned when a referenced contract doesn't exist.
	ErrContractNotFound = errors.New("contract not found")

	// ErrContractInactive is returned when a contract is deleted or terminated.
	ErrContractInactive = errors.New("contract is not active")

	// ErrAdvanceNotFound is returned when a referenced advance doesn't exist.
	ErrAdvanceNotFound = errors.New("advance not found")

	// ErrPaymentNotFound is returned when a referenced payment doesn't exist.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrNotAdvancePayment is returned when an advance is requested from a
	// payment that is not a validated advance payment.
	ErrNotAdvancePayment = errors.New("payment is not a validated advance payment")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidRentError reports the offending rent value.
type InvalidRentError struct {
	ContractID ContractID
	Rent       decimal.Decimal
}

func (e *InvalidRentError) Error() string {
	if e.ContractID != "" {
		return fmt.Sprintf("invalid monthly rent %s for contract %s: must be positive", e.Rent, e.ContractID)
	}
	return fmt.Sprintf("invalid monthly rent %s: must be positive", e.Rent)
}

func (e *InvalidRentError) Unwrap() error { return ErrInvalidRent }

// InvalidAmountError keeps the raw input that failed to parse.
type InvalidAmountError struct {
	Raw any
	Err error
}

func (e *InvalidAmountError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid amount %v: %v", e.Raw, e.Err)
	}
	return fmt.Sprintf("invalid amount %v", e.Raw)
}

func (e *InvalidAmountError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidAmount, e.Err}
	}
	return []error{ErrInvalidAmount}
}

// OutOfWindowError provides details about a rejected consumption month.
type OutOfWindowError struct {
	AdvanceID AdvanceID
	Month     Month
	Window    CoverageWindow
}

func (e *OutOfWindowError) Error() string {
	return fmt.Sprintf("month %s outside coverage %s of advance %s", e.Month, e.Window, e.AdvanceID)
}

func (e *OutOfWindowError) Unwrap() error { return ErrOutOfWindow }

// LookupError wraps a failed read of a collaborator record.
type LookupError struct {
	What string // "contract", "advances", "payments"
	ID   string
	Err  error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup %s %s: %v", e.What, e.ID, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRent) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrNegativeAmount) ||
		errors.Is(err, ErrInvalidPaymentType) ||
		errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, ErrNotAdvancePayment) ||
		errors.Is(err, ErrContractInactive)
}

// IsConflict returns true if the error is a uniqueness or state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyConsumed) ||
		errors.Is(err, ErrDuplicateAdvanceForPayment) ||
		errors.Is(err, ErrDuplicateContractNumber) ||
		errors.Is(err, ErrAdvanceNotActive)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrContractNotFound) ||
		errors.Is(err, ErrAdvanceNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}
