/*
errors.go - Centralized error types for the donation ledger

PURPOSE:
  All error types in one place. Callers classify with errors.Is/errors.As
  or the Is* helpers at the bottom of this file.

ERROR CATEGORIES:
  1. Validation errors - rejected before any persistence attempt
  2. Not-found errors - missing donation or user, no partial effect
  3. Conflict errors - donation is no longer pending
  4. Store errors - persistence failures, wrapped and propagated

  Notification failures are NOT errors of this package: the lifecycle
  logs them and still reports success.

SEE ALSO:
  - lifecycle.go: Produces most of these
  - api/handlers.go: Maps them to HTTP status codes
*/
package donation

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInvalidStatus        = errors.New("invalid target status")
	ErrInvalidRole          = errors.New("invalid role")
	ErrInvalidAccountStatus = errors.New("invalid account status")
	ErrMissingName          = errors.New("name is required")
	ErrMissingProof         = errors.New("proof of payment is required")
	ErrMissingDonor         = errors.New("donor is required")
	ErrMissingActor         = errors.New("actor is required")

	// ErrRejectionNotesRequired is the caller-level soft rule for rejections.
	// Transition itself accepts empty notes.
	ErrRejectionNotesRequired = errors.New("notes are required when rejecting a donation")

	ErrDonationNotFound     = errors.New("donation not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrNoHistory means a donation has no status entries. The submit
	// transaction makes this impossible; seeing it means the data is damaged.
	ErrNoHistory = errors.New("donation has no status history")

	// ErrNotPending is returned when a transition targets a donation that
	// already reached a terminal status.
	ErrNotPending = errors.New("donation is not pending")

	// ErrStatusConflict is returned by Store.AppendStatus when the expected
	// current status does not match.
	ErrStatusConflict = errors.New("status changed concurrently")

	ErrDuplicateEmail = errors.New("email already in use")

	ErrInactiveDonor = errors.New("donor account is inactive")
	ErrNotDonor      = errors.New("user is not a donor")
	ErrForbidden     = errors.New("actor is not allowed to perform this operation")

	ErrInvalidThresholds = errors.New("tier thresholds must be non-negative and ascending")
	ErrInvalidPeriod     = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field string
	Value any
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("%s: %v (got %v)", e.Field, e.Err, e.Value)
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NotPendingError provides the status a donation is actually in.
type NotPendingError struct {
	DonationID DonationID
	Current    Status
}

func (e *NotPendingError) Error() string {
	return fmt.Sprintf("donation %d is %s, only pending donations can be reviewed", e.DonationID, e.Current)
}

func (e *NotPendingError) Unwrap() error { return ErrNotPending }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidPaymentMethod) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidRole) ||
		errors.Is(err, ErrInvalidAccountStatus) ||
		errors.Is(err, ErrMissingName) ||
		errors.Is(err, ErrMissingProof) ||
		errors.Is(err, ErrMissingDonor) ||
		errors.Is(err, ErrMissingActor) ||
		errors.Is(err, ErrRejectionNotesRequired) ||
		errors.Is(err, ErrInactiveDonor) ||
		errors.Is(err, ErrNotDonor) ||
		errors.Is(err, ErrDuplicateEmail) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDonationNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrNotificationNotFound)
}

// IsConflict returns true if the donation was already reviewed.
func IsConflict(err error) bool {
	return errors.Is(err, ErrNotPending) || errors.Is(err, ErrStatusConflict)
}
