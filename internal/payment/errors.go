package payment

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no payment matches the given id or gateway reference.
	ErrNotFound = errors.New("payment not found")

	// ErrDuplicateOrder means a payment already exists for the order id.
	// Callers treat it as a benign redelivery, not a failure.
	ErrDuplicateOrder = errors.New("payment already exists for order")

	// ErrGatewayUnavailable is a transient gateway or transport failure.
	// The inbound message or webhook should be redelivered.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrGatewayRejected means the gateway refused to open the payment.
	// Retrying will not help; the payment stays OPENED for operators.
	ErrGatewayRejected = errors.New("payment gateway rejected the request")

	// ErrOpenInFlight means another delivery holds the open claim for the
	// order. The message should be redelivered and re-checked later.
	ErrOpenInFlight = errors.New("payment open already in flight")

	// ErrUnrecognizedStatus means the gateway reported a status the state
	// machine does not model.
	ErrUnrecognizedStatus = errors.New("unrecognized gateway status")

	// ErrNoQRCode means the payment was never opened with the gateway.
	ErrNoQRCode = errors.New("payment has no QR code")
)

// ValidationError marks malformed inbound data. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
