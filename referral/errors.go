/*
errors.go - Centralized error types for the commission engine

ERROR CATEGORIES:
  1. Validation - malformed input, rejected before any write
  2. Not found - referenced affiliate/commission/withdrawal is missing
  3. State conflict - transition not legal from the current state
  4. Insufficient balance - withdrawal exceeds approved balance
  5. Store - uniqueness violations raised by persistence

Structured errors unwrap to a sentinel, so callers can use either
errors.Is(err, ErrNotFound) or errors.As(err, &notFound).

Chain termination (missing or inactive ancestor) is NOT an error. The walker
reports it as a Termination value.
*/
package referral

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrStateConflict       = errors.New("state conflict")
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateCommission is returned by stores when a CommissionKey is
	// already present.
	ErrDuplicateCommission = errors.New("duplicate commission key")

	// ErrDuplicateAffiliate is returned by stores when the affiliate ID exists.
	ErrDuplicateAffiliate = errors.New("affiliate already exists")

	// ErrCycle is returned when a registration would close a loop in the upline.
	ErrCycle = errors.New("referral cycle")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InvalidPurchaseError is a failed fan-out precondition. Nothing was written.
type InvalidPurchaseError struct {
	TransactionID string
	Reason        string
}

func (e *InvalidPurchaseError) Error() string {
	return fmt.Sprintf("invalid purchase %s: %s", e.TransactionID, e.Reason)
}

func (e *InvalidPurchaseError) Unwrap() error { return ErrValidation }

type NotFoundError struct {
	Kind string // "affiliate", "commission", "withdrawal"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// StateConflictError names the state a record is in and the one requested.
type StateConflictError struct {
	Kind      string
	ID        string
	Current   string
	Requested string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s %s: cannot move from %s to %s", e.Kind, e.ID, e.Current, e.Requested)
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

type InsufficientBalanceError struct {
	UserID    AffiliateID
	Available Amount
	Requested Amount
	Shortfall Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %d, requested %d, shortfall %d",
		e.UserID, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

func newInsufficient(user AffiliateID, available, requested Amount) *InsufficientBalanceError {
	return &InsufficientBalanceError{
		UserID:    user,
		Available: available,
		Requested: requested,
		Shortfall: requested - available,
	}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the caller can act on the error.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrStateConflict) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrDuplicateAffiliate) ||
		errors.Is(err, ErrCycle)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
