package httpapi

import (
	"errors"
	"net/http"

	"github.com/castoff/charterpay/pkg/booking"
	"github.com/gin-gonic/gin"
)

var paymentKindCodes = []struct {
	kind error
	code string
}{
	{kind: booking.ErrPaymentDeclined, code: "payment_declined"},
	{kind: booking.ErrPaymentAlreadyFinalized, code: "payment_already_finalized"},
	{kind: booking.ErrPaymentNotFound, code: "payment_not_found"},
	{kind: booking.ErrPaymentInvalidRequest, code: "payment_invalid_request"},
	{kind: booking.ErrPaymentTransient, code: "payment_unavailable"},
	{kind: booking.ErrPaymentAmbiguous, code: "payment_outcome_unknown"},
}

var validationErrors = []error{
	booking.ErrInvalidBookingID,
	booking.ErrInvalidOperatorID,
	booking.ErrInvalidPaymentRef,
	booking.ErrInvalidAmountCents,
	booking.ErrInvalidPricingConfig,
	booking.ErrInvalidTripDate,
	booking.ErrInvalidTripType,
	booking.ErrInvalidPartySize,
	booking.ErrInvalidCustomer,
	booking.ErrInvalidStatus,
	booking.ErrInvalidAction,
	booking.ErrInvalidHoldKind,
	booking.ErrMissingPaymentMethod,
	booking.ErrHoldNotEnabled,
}

// mapError maps the booking error taxonomy onto an HTTP status, a stable code and a caller-safe message.
// Payment adapter failures only expose their kind.
func mapError(source error) (int, string, string) {
	switch {
	case errors.Is(source, errUnauthenticated):
		return http.StatusUnauthorized, "unauthorized", "invalid session"
	case errors.Is(source, booking.ErrNotFound):
		return http.StatusNotFound, "not_found", "not found"
	case errors.Is(source, booking.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification", "booking changed concurrently, reload and retry"
	case errors.Is(source, booking.ErrSlotUnavailable):
		return http.StatusConflict, "slot_unavailable", "that trip slot is already booked"
	case errors.Is(source, booking.ErrBookingExists):
		return http.StatusConflict, "booking_exists", "booking already exists"
	case errors.Is(source, booking.ErrPaymentAdapterFailure):
		for _, candidate := range paymentKindCodes {
			if errors.Is(source, candidate.kind) {
				return http.StatusBadGateway, candidate.code, candidate.kind.Error()
			}
		}
		return http.StatusBadGateway, "payment_failed", booking.ErrPaymentAdapterFailure.Error()
	case errors.Is(source, booking.ErrInvalidTransition):
		return http.StatusBadRequest, "invalid_transition", source.Error()
	case errors.Is(source, booking.ErrSignatureVerificationFailed):
		return http.StatusBadRequest, "invalid_signature", booking.ErrSignatureVerificationFailed.Error()
	}
	for _, validation := range validationErrors {
		if errors.Is(source, validation) {
			return http.StatusBadRequest, "invalid_request", source.Error()
		}
	}
	return http.StatusInternalServerError, "internal_error", "internal error"
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
