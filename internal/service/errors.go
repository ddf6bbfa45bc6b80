package service

import (
	"errors"
	"fmt"

	"savings/internal/domain"
	"savings/internal/gateway"
	"savings/internal/repository"
)

var (
	// ErrInvalidSignature is returned when a webhook fails authentication.
	ErrInvalidSignature = gateway.ErrInvalidSignature

	// ErrPaymentNotFound is returned when no payment has the given reference.
	ErrPaymentNotFound = fmt.Errorf("payment: %w", repository.ErrNotFound)

	// ErrTargetNotFound is returned when a contribution names an unknown target.
	ErrTargetNotFound = fmt.Errorf("target: %w", repository.ErrNotFound)

	// ErrInvalidReference is returned when a reference is empty.
	ErrInvalidReference = errors.New("invalid payment reference")

	// ErrInvalidUserID is returned when the caller is not identified.
	ErrInvalidUserID = errors.New("invalid user id")

	// ErrNotPaymentOwner is returned when a user acts on another user's payment.
	ErrNotPaymentOwner = errors.New("payment belongs to another user")

	// ErrDuplicateReference is returned when a freshly minted reference collides. Retry the request.
	ErrDuplicateReference = errors.New("payment reference already exists, retry")

	// ErrMalformedWebhook is returned when a signed notification cannot be decoded.
	ErrMalformedWebhook = errors.New("malformed webhook payload")
)

// ValidationError is returned when a request is rejected before any side effect.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// GatewayError is returned when the gateway could not be reached or refused a
// request. The payment is left untouched and the call can be retried.
type GatewayError struct {
	Reference string
	Err       error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment %s: %v", e.Reference, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// StateConflictError is returned when a payment is not in the status an
// operation requires.
type StateConflictError struct {
	Reference string
	Status    domain.PaymentStatus
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("payment %s is already %s", e.Reference, e.Status)
}

// CreditingError describes a post-settlement step that failed after the
// payment was marked successful. It is queued for replay and reported to the
// caller as a warning, never as a failure of the payment.
type CreditingError struct {
	Reference string
	Step      domain.CreditingStep
	Err       error
	// Queued is false when the step could not be recorded for replay either.
	Queued bool
}

func (e *CreditingError) Error() string {
	return fmt.Sprintf("payment %s: %s failed: %v", e.Reference, e.Step, e.Err)
}

func (e *CreditingError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the caller may safely repeat the request.
func IsRetryable(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) || errors.Is(err, ErrDuplicateReference)
}
