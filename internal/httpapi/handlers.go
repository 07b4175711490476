package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/castoff/charterpay/pkg/booking"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type httpHandler struct {
	logger    *zap.Logger
	service   BookingService
	operators OperatorDirectory
	verifier  EventVerifier
	cache     EventCache
	cfg       Config
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func (handler *httpHandler) respondError(ctx *gin.Context, operation string, err error) {
	status, code, message := mapError(err)
	if status >= http.StatusInternalServerError {
		handler.logger.Error(operation+" failed", zap.Error(err))
	}
	ctx.JSON(status, errorResponse(code, message))
}

func (handler *httpHandler) handleCheckout(ctx *gin.Context) {
	var request checkoutRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	tripDate, err := civil.ParseDate(strings.TrimSpace(request.TripDate))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "trip_date must be YYYY-MM-DD"))
		return
	}
	customer, err := booking.NewCustomer(request.Customer.Name, request.Customer.Email, request.Customer.Phone)
	if err != nil {
		handler.respondError(ctx, "checkout", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	operator, err := handler.operators.GetOperatorBySlug(requestCtx, request.OperatorSlug)
	if err != nil {
		handler.respondError(ctx, "checkout", err)
		return
	}
	result, err := handler.service.SubmitBooking(requestCtx, booking.SubmitRequest{
		OperatorID:      operator.ID,
		BoatID:          strings.TrimSpace(request.BoatID),
		TripType:        booking.TripType(strings.TrimSpace(request.TripType)),
		TripDate:        tripDate,
		PartySize:       request.PartySize,
		Customer:        customer,
		SpecialRequests: strings.TrimSpace(request.SpecialRequests),
		PaymentMethod:   strings.TrimSpace(request.PaymentMethod),
	})
	if err != nil {
		handler.respondError(ctx, "checkout", err)
		return
	}
	ctx.JSON(http.StatusCreated, newCheckoutPayload(result))
}

func (handler *httpHandler) handleQuote(ctx *gin.Context) {
	var request quoteRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	tripDate, err := civil.ParseDate(strings.TrimSpace(request.TripDate))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "trip_date must be YYYY-MM-DD"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	operator, err := handler.operators.GetOperatorBySlug(requestCtx, request.OperatorSlug)
	if err != nil {
		handler.respondError(ctx, "quote", err)
		return
	}
	breakdown, err := handler.service.Quote(requestCtx, booking.QuoteRequest{
		OperatorID: operator.ID,
		TripType:   booking.TripType(strings.TrimSpace(request.TripType)),
		TripDate:   tripDate,
	})
	if err != nil {
		handler.respondError(ctx, "quote", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"price": newPricePayload(breakdown)})
}

// handleWebhook rejects unverifiable payloads and acknowledges every verified one, so processor
// retries only happen for deliveries that never authenticated.
func (handler *httpHandler) handleWebhook(ctx *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, handler.cfg.MaxWebhookBytes))
	if err != nil {
		ctx.JSON(http.StatusRequestEntityTooLarge, errorResponse("invalid_payload", "payload unreadable or too large"))
		return
	}
	event, err := handler.verifier.Verify(payload, ctx.GetHeader(signatureHeader))
	if errors.Is(err, booking.ErrSignatureVerificationFailed) {
		handler.logger.Warn("webhook rejected", zap.Error(err))
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_signature", booking.ErrSignatureVerificationFailed.Error()))
		return
	}
	if err != nil {
		handler.logger.Error("webhook payload undecodable", zap.Error(err))
		ctx.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	if handler.cache != nil {
		seen, cacheErr := handler.cache.Seen(requestCtx, event.ID)
		if cacheErr != nil {
			handler.logger.Warn("event cache lookup failed", zap.String("event_id", event.ID), zap.Error(cacheErr))
		}
		if seen {
			ctx.JSON(http.StatusOK, gin.H{"received": true, "outcome": string(booking.ReconcileDuplicate)})
			return
		}
	}

	outcome, err := handler.service.ReconcileEvent(requestCtx, event)
	switch {
	case errors.Is(err, booking.ErrStaleEvent):
		handler.markEvent(requestCtx, event.ID)
		ctx.JSON(http.StatusOK, gin.H{"received": true, "outcome": string(booking.ReconcileStale)})
		return
	case err != nil:
		handler.logger.Error("webhook processing failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
		ctx.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	handler.markEvent(requestCtx, event.ID)
	ctx.JSON(http.StatusOK, gin.H{"received": true, "outcome": string(outcome)})
}

func (handler *httpHandler) markEvent(ctx context.Context, eventID string) {
	if handler.cache == nil {
		return
	}
	if _, err := handler.cache.Mark(ctx, eventID); err != nil {
		handler.logger.Warn("event cache mark failed", zap.String("event_id", eventID), zap.Error(err))
	}
}

func (handler *httpHandler) handleListBookings(ctx *gin.Context) {
	operatorID, ok := getOperatorID(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	filter := booking.BookingFilter{}
	if rawStatus := strings.TrimSpace(ctx.Query("status")); rawStatus != "" {
		status, err := booking.ParseBookingStatus(rawStatus)
		if err != nil {
			handler.respondError(ctx, "list bookings", err)
			return
		}
		filter.Status = status
	}
	if rawLimit := strings.TrimSpace(ctx.Query("limit")); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit <= 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", "limit must be a positive integer"))
			return
		}
		filter.Limit = limit
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	bookings, err := handler.service.ListBookings(requestCtx, operatorID, filter)
	if err != nil {
		handler.respondError(ctx, "list bookings", err)
		return
	}
	payloads := make([]bookingPayload, 0, len(bookings))
	for _, record := range bookings {
		payloads = append(payloads, newBookingPayload(record))
	}
	ctx.JSON(http.StatusOK, gin.H{"bookings": payloads})
}

func (handler *httpHandler) handleGetBooking(ctx *gin.Context) {
	operatorID, bookingID, ok := handler.bookingScope(ctx, ctx.Param("id"))
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	record, err := handler.service.GetBooking(requestCtx, operatorID, bookingID)
	if err != nil {
		handler.respondError(ctx, "get booking", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"booking": newBookingPayload(record)})
}

func (handler *httpHandler) handleAction(ctx *gin.Context) {
	operatorID, bookingID, ok := handler.bookingScope(ctx, ctx.Param("id"))
	if !ok {
		return
	}
	var request actionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	action, err := booking.ParseLifecycleAction(request.Action)
	if err != nil {
		handler.respondError(ctx, "booking action", err)
		return
	}
	charge, err := booking.NewAmountCents(request.NoShowChargeCents)
	if err != nil {
		handler.respondError(ctx, "booking action", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.service.ApplyAction(requestCtx, booking.ActionRequest{
		OperatorID:   operatorID,
		BookingID:    bookingID,
		Action:       action,
		Notes:        request.Notes,
		NoShowCharge: charge,
	})
	if err != nil {
		handler.respondError(ctx, "booking action", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"booking": newBookingPayload(result.Booking), "message": result.Message})
}

func (handler *httpHandler) handleHoldAction(ctx *gin.Context) {
	operatorID, ok := getOperatorID(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	action, err := booking.ParseHoldAction(ctx.Param("action"))
	if err != nil {
		handler.respondError(ctx, "hold action", err)
		return
	}
	var request holdActionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	bookingID, err := booking.NewBookingID(request.BookingID)
	if err != nil {
		handler.respondError(ctx, "hold action", err)
		return
	}
	ref, err := booking.NewPaymentRef(request.PaymentIntentID)
	if err != nil {
		handler.respondError(ctx, "hold action", err)
		return
	}
	amount, err := booking.NewAmountCents(request.AmountCents)
	if err != nil {
		handler.respondError(ctx, "hold action", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.service.ApplyHoldAction(requestCtx, booking.HoldActionRequest{
		OperatorID: operatorID,
		BookingID:  bookingID,
		Action:     action,
		PaymentRef: ref,
		Amount:     amount,
	})
	if err != nil {
		handler.respondError(ctx, "hold action", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"booking": newBookingPayload(result.Booking), "message": result.Message})
}

func (handler *httpHandler) handlePlaceHold(ctx *gin.Context) {
	operatorID, bookingID, ok := handler.bookingScope(ctx, ctx.Param("id"))
	if !ok {
		return
	}
	kind, err := booking.ParseHoldKind(ctx.Param("kind"))
	if err != nil {
		handler.respondError(ctx, "place hold", err)
		return
	}
	var request placeHoldRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	record, err := handler.service.PlaceHold(requestCtx, booking.PlaceHoldRequest{
		OperatorID:    operatorID,
		BookingID:     bookingID,
		Kind:          kind,
		PaymentMethod: request.PaymentMethod,
	})
	if err != nil {
		handler.respondError(ctx, "place hold", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"booking": newBookingPayload(record)})
}

func (handler *httpHandler) bookingScope(ctx *gin.Context, rawBookingID string) (booking.OperatorID, booking.BookingID, bool) {
	operatorID, ok := getOperatorID(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return booking.OperatorID{}, booking.BookingID{}, false
	}
	bookingID, err := booking.NewBookingID(rawBookingID)
	if err != nil {
		handler.respondError(ctx, "booking scope", err)
		return booking.OperatorID{}, booking.BookingID{}, false
	}
	return operatorID, bookingID, true
}
