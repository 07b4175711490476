package booking

import (
	"errors"
	"fmt"
)

// Error taxonomy surfaced by the lifecycle controller and reconciler.
var (
	ErrInvalidTransition           = errors.New("invalid transition")
	ErrPaymentAdapterFailure       = errors.New("payment adapter failure")
	ErrConcurrentModification      = errors.New("concurrent modification")
	ErrSignatureVerificationFailed = errors.New("signature verification failed")
	ErrStaleEvent                  = errors.New("stale event")
	ErrNotFound                    = errors.New("not found")
)

// Payment adapter failure kinds. Adapters wrap one of these; the controller translates them.
var (
	ErrPaymentInvalidRequest   = errors.New("payment request invalid")
	ErrPaymentNotFound         = errors.New("payment authorization unknown")
	ErrPaymentAlreadyFinalized = errors.New("payment authorization already finalized")
	ErrPaymentDeclined         = errors.New("payment declined")
	ErrPaymentTransient        = errors.New("payment processor unavailable")
	ErrPaymentAmbiguous        = errors.New("payment outcome unknown")
)

// Validation and store-level error values.
var (
	ErrInvalidBookingID     = errors.New("invalid booking id")
	ErrInvalidOperatorID    = errors.New("invalid operator id")
	ErrInvalidPaymentRef    = errors.New("invalid payment reference")
	ErrInvalidAmountCents   = errors.New("invalid amount cents")
	ErrInvalidPricingConfig = errors.New("invalid pricing config")
	ErrInvalidTripDate      = errors.New("invalid trip date")
	ErrInvalidTripType      = errors.New("invalid trip type")
	ErrInvalidPartySize     = errors.New("invalid party size")
	ErrInvalidCustomer      = errors.New("invalid customer")
	ErrInvalidStatus        = errors.New("invalid status")
	ErrInvalidAction        = errors.New("invalid action")
	ErrInvalidHoldKind      = errors.New("invalid hold kind")
	ErrInvalidServiceConfig = errors.New("invalid service config")
	ErrInvariantViolation   = errors.New("booking invariant violation")
	ErrSlotUnavailable      = errors.New("slot unavailable")
	ErrHoldNotEnabled       = errors.New("hold not enabled for operator")
	ErrBookingExists        = errors.New("booking already exists")
	ErrDuplicateEvent       = errors.New("duplicate processor event")
	ErrMissingPaymentMethod = errors.New("missing payment method")
	ErrInvalidEvent         = errors.New("invalid processor event")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// paymentKinds lists the adapter kinds in translation order.
var paymentKinds = []error{
	ErrPaymentInvalidRequest,
	ErrPaymentNotFound,
	ErrPaymentAlreadyFinalized,
	ErrPaymentDeclined,
	ErrPaymentTransient,
	ErrPaymentAmbiguous,
}

// translatePaymentError converts an adapter error into ErrPaymentAdapterFailure joined with its kind.
// The adapter message is dropped so processor internals never reach callers.
func translatePaymentError(operation string, subject string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range paymentKinds {
		if errors.Is(err, kind) {
			return WrapError(operation, subject, "payment_failed", fmt.Errorf("%w: %w", ErrPaymentAdapterFailure, kind))
		}
	}
	return WrapError(operation, subject, "payment_failed", fmt.Errorf("%w: %w", ErrPaymentAdapterFailure, ErrPaymentAmbiguous))
}

// isAmbiguousPaymentError treats unclassified adapter errors as ambiguous, matching translatePaymentError.
func isAmbiguousPaymentError(err error) bool {
	if err == nil {
		return false
	}
	for _, kind := range paymentKinds {
		if errors.Is(err, kind) {
			return kind == ErrPaymentAmbiguous
		}
	}
	return true
}

func invalidTransition(operation string, message string) error {
	return WrapError(operation, "booking", "invalid_transition", fmt.Errorf("%w: %s", ErrInvalidTransition, message))
}
