/*
errors.go - Centralized error types for the allocation engine

ERROR CATEGORIES:
  1. Validation      - Missing or malformed input. Never retried.
  2. Business rules  - Insufficient stock, exhausted pool, usage over
                       allocation. Caller re-queries and retries with an
                       adjusted quantity.
  3. Policy          - Not eligible for vendor, forbidden role, rejected
                       claim. Not retried.
  4. Concurrency     - The serializing boundary lost a race. Safe to
                       retry automatically a bounded number of times.
  5. Not found       - Record, claim, pool or actor absent.

USAGE:
  if errors.Is(err, core.ErrInsufficientStock) {
      var detail *core.InsufficientStockError
      errors.As(err, &detail)
  }
*/
package core

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientStock is returned when an allocation exceeds what the
	// assigner has available for the item.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrStockPoolExhausted is returned when a root allocation exceeds the
	// pool balance.
	ErrStockPoolExhausted = errors.New("stock pool exhausted")

	ErrUsageExceedsAvailable = errors.New("usage exceeds available quantity")

	ErrNotEligibleForVendor = errors.New("allocation purpose is not eligible for vendor dispatch")

	// ErrConcurrentModification is returned when the serializing boundary
	// could not be obtained or detected a conflicting write.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrNotFound = errors.New("not found")

	ErrForbidden = errors.New("forbidden")

	// ErrClaimRejected is returned for any transition out of a rejected claim.
	ErrClaimRejected = errors.New("revenue claim is rejected")

	ErrAlreadyExists = errors.New("already exists")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FieldError names one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// RecipientError names one recipient of a multi-recipient allocation that
// could not be accepted.
type RecipientError struct {
	ActorCode ActorCode `json:"actor_code"`
	Reason    string    `json:"reason"`
}

// ValidationError lists every field and recipient that failed. A
// multi-recipient allocation is rejected as a whole and the caller is told
// exactly which recipients caused it.
type ValidationError struct {
	Message    string
	Fields     []FieldError
	Recipients []RecipientError
}

func (e *ValidationError) Error() string {
	var parts []string
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	for _, r := range e.Recipients {
		parts = append(parts, "recipient "+string(r.ActorCode)+": "+r.Reason)
	}
	msg := e.Message
	if msg == "" {
		msg = "validation failed"
	}
	if len(parts) == 0 {
		return msg
	}
	return msg + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Empty reports whether nothing has been recorded.
func (e *ValidationError) Empty() bool {
	return len(e.Fields) == 0 && len(e.Recipients) == 0
}

func (e *ValidationError) AddField(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

func (e *ValidationError) AddRecipient(code ActorCode, reason string) {
	e.Recipients = append(e.Recipients, RecipientError{ActorCode: code, Reason: reason})
}

// OrNil returns nil when nothing was recorded, so callers can build the
// error incrementally and return it unconditionally.
func (e *ValidationError) OrNil() error {
	if e == nil || e.Empty() {
		return nil
	}
	return e
}

// NewValidationError is a shorthand for a single-field failure.
func NewValidationError(field, msg string) *ValidationError {
	e := &ValidationError{}
	e.AddField(field, msg)
	return e
}

// InsufficientStockError provides details about a stock shortage.
type InsufficientStockError struct {
	Actor     ActorCode
	Item      string
	Available Quantity
	Requested Quantity
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s on %s: available %d, requested %d, shortfall %d",
		e.Actor, e.Item, e.Available, e.Requested, e.Requested-e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

type StockPoolExhaustedError struct {
	Item      string
	Balance   Quantity
	Requested Quantity
}

func (e *StockPoolExhaustedError) Error() string {
	return fmt.Sprintf("stock pool %s exhausted: balance %d, requested %d", e.Item, e.Balance, e.Requested)
}

func (e *StockPoolExhaustedError) Unwrap() error { return ErrStockPoolExhausted }

type UsageExceedsAvailableError struct {
	RecordID  string
	Recipient ActorCode
	Remaining Quantity
	Requested Quantity
}

func (e *UsageExceedsAvailableError) Error() string {
	return fmt.Sprintf("usage of %d on record %s for %s exceeds remaining %d",
		e.Requested, e.RecordID, e.Recipient, e.Remaining)
}

func (e *UsageExceedsAvailableError) Unwrap() error { return ErrUsageExceedsAvailable }

// NotFoundError names what was missing.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(kind, id string) error { return &NotFoundError{Kind: kind, ID: id} }

// Forbidden wraps ErrForbidden with a reason.
func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsBusinessRule returns true for violations the caller fixes by adjusting quantity.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrStockPoolExhausted) ||
		errors.Is(err, ErrUsageExceedsAvailable)
}

// IsClientError returns true if the error is due to invalid client input
// or a policy the client violated.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		IsBusinessRule(err) ||
		errors.Is(err, ErrNotEligibleForVendor) ||
		errors.Is(err, ErrClaimRejected) ||
		errors.Is(err, ErrAlreadyExists)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
