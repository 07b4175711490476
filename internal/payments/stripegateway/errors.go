package stripegateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/castoff/charterpay/pkg/booking"
	"github.com/stripe/stripe-go/v82"
)

const (
	codeResourceMissing        = "resource_missing"
	codeUnexpectedState        = "payment_intent_unexpected_state"
	codeChargeAlreadyCaptured  = "charge_already_captured"
	codeChargeAlreadyRefunded  = "charge_already_refunded"
	codeLockTimeout            = "lock_timeout"
	codeRateLimit              = "rate_limit"
	errorTypeCard              = "card_error"
	errorTypeIdempotency       = "idempotency_error"
	errorTypeAPI               = "api_error"
	errorTypeInvalidRequest    = "invalid_request_error"
	classifiedUnknownErrorCode = "unclassified"
	classifiedConnectErrorCode = "connect_failed"
	netOpDial                  = "dial"
)

var paymentKinds = []error{
	booking.ErrPaymentInvalidRequest,
	booking.ErrPaymentNotFound,
	booking.ErrPaymentAlreadyFinalized,
	booking.ErrPaymentDeclined,
	booking.ErrPaymentTransient,
	booking.ErrPaymentAmbiguous,
}

// classifyError maps a processor or transport failure onto one payment kind. Only the processor
// code travels with the kind; messages stay out of the error chain.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range paymentKinds {
		if errors.Is(err, kind) {
			return err
		}
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return classifyStripeError(stripeErr)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == netOpDial {
		return fmt.Errorf("%w: %s", booking.ErrPaymentTransient, classifiedConnectErrorCode)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: request interrupted", booking.ErrPaymentAmbiguous)
	}
	return fmt.Errorf("%w: %s", booking.ErrPaymentAmbiguous, classifiedUnknownErrorCode)
}

func classifyStripeError(stripeErr *stripe.Error) error {
	code := string(stripeErr.Code)
	errorType := string(stripeErr.Type)
	switch {
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests || code == codeRateLimit || code == codeLockTimeout:
		return fmt.Errorf("%w: %s", booking.ErrPaymentTransient, codeOrStatus(code, stripeErr.HTTPStatusCode))
	case errorType == errorTypeCard:
		return fmt.Errorf("%w: %s", booking.ErrPaymentDeclined, codeOrStatus(string(stripeErr.DeclineCode), stripeErr.HTTPStatusCode))
	case code == codeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", booking.ErrPaymentNotFound, codeOrStatus(code, stripeErr.HTTPStatusCode))
	case code == codeUnexpectedState || code == codeChargeAlreadyCaptured || code == codeChargeAlreadyRefunded:
		return fmt.Errorf("%w: %s", booking.ErrPaymentAlreadyFinalized, code)
	case errorType == errorTypeIdempotency:
		return fmt.Errorf("%w: %s", booking.ErrPaymentInvalidRequest, errorType)
	case errorType == errorTypeAPI || stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", booking.ErrPaymentAmbiguous, codeOrStatus(code, stripeErr.HTTPStatusCode))
	case errorType == errorTypeInvalidRequest || stripeErr.HTTPStatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%w: %s", booking.ErrPaymentInvalidRequest, codeOrStatus(code, stripeErr.HTTPStatusCode))
	default:
		return fmt.Errorf("%w: %s", booking.ErrPaymentAmbiguous, codeOrStatus(code, stripeErr.HTTPStatusCode))
	}
}

// retryable reports failures where the processor did not act on the request. Ambiguous failures
// are left to the caller's pending intent and webhook reconciliation.
func retryable(err error) bool {
	return errors.Is(err, booking.ErrPaymentTransient)
}

func codeOrStatus(code string, status int) string {
	if code != "" {
		return code
	}
	return fmt.Sprintf("status_%d", status)
}
