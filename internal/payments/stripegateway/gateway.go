package stripegateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/castoff/charterpay/pkg/booking"
	"github.com/cenkalti/backoff/v4"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

const (
	captureMethodManual   = "manual"
	paymentMethodTypeCard = "card"
	checkoutModePayment   = "payment"
	checkoutProductName   = "Charter deposit"
	checkoutSessionToken  = "{CHECKOUT_SESSION_ID}"
	basisPointsDivisor    = 10000
	sdkLoggerName         = "sdk"

	intentStatusRequiresCapture = "requires_capture"
	intentStatusSucceeded       = "succeeded"
	intentStatusCanceled        = "canceled"
	refundStatusSucceeded       = "succeeded"
	refundStatusPending         = "pending"

	callAuthorize      = "authorize"
	callCheckout       = "checkout"
	callCapture        = "capture"
	callCancel         = "cancel"
	callRetrieve       = "retrieve"
	callRefund         = "refund"
	callExpireCheckout = "expire_checkout"
)

// Gateway implements booking.PaymentGateway on the Stripe API.
type Gateway struct {
	client *stripe.Client
	cfg    Config
	logger *zap.Logger
}

// New validates cfg and returns a Gateway. Stripe's own network retries are disabled; Gateway retries
// with exponential backoff under the caller's idempotency key. SDK logs go to logger under "sdk".
func New(cfg Config, logger *zap.Logger) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	backendConfig := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     logger.Named(sdkLoggerName).Sugar(),
	}
	if strings.TrimSpace(cfg.APIBaseURL) != "" {
		backendConfig.URL = stripe.String(strings.TrimRight(cfg.APIBaseURL, "/"))
	}
	client := stripe.NewClient(cfg.SecretKey, stripe.WithBackends(stripe.NewBackendsWithConfig(backendConfig)))
	return &Gateway{client: client, cfg: cfg, logger: logger}, nil
}

// Authorize creates a manual-capture authorization. Without a payment method a hosted checkout session
// is started instead and the authorization reference arrives later by webhook.
func (gateway *Gateway) Authorize(ctx context.Context, request booking.AuthorizationRequest) (booking.Authorization, error) {
	if request.Amount <= 0 {
		return booking.Authorization{}, fmt.Errorf("%w: amount must be positive", booking.ErrPaymentInvalidRequest)
	}
	if strings.TrimSpace(request.PaymentMethod) == "" {
		return gateway.startCheckout(ctx, request)
	}
	params := &stripe.PaymentIntentCreateParams{
		Amount:             stripe.Int64(request.Amount.Int64()),
		Currency:           stripe.String(gateway.cfg.Currency),
		CaptureMethod:      stripe.String(captureMethodManual),
		Confirm:            stripe.Bool(true),
		PaymentMethod:      stripe.String(strings.TrimSpace(request.PaymentMethod)),
		PaymentMethodTypes: stripe.StringSlice([]string{paymentMethodTypeCard}),
		Description:        stripe.String(request.Description),
	}
	if request.Customer.Email != "" {
		params.ReceiptEmail = stripe.String(request.Customer.Email)
	}
	for key, value := range request.Metadata {
		params.AddMetadata(key, value)
	}
	if destination := strings.TrimSpace(request.Destination); destination != "" {
		params.TransferData = &stripe.PaymentIntentCreateTransferDataParams{Destination: stripe.String(destination)}
		if fee := gateway.platformFee(request.Amount); fee > 0 {
			params.ApplicationFeeAmount = stripe.Int64(fee)
		}
	}
	params.SetIdempotencyKey(request.IdempotencyKey)

	var intent *stripe.PaymentIntent
	err := gateway.call(ctx, callAuthorize, func(ctx context.Context) error {
		var callErr error
		intent, callErr = gateway.client.V1PaymentIntents.Create(ctx, params)
		return callErr
	})
	if err != nil {
		return booking.Authorization{}, err
	}
	ref, err := booking.NewPaymentRef(intent.ID)
	if err != nil {
		return booking.Authorization{}, fmt.Errorf("%w: missing intent id", booking.ErrPaymentAmbiguous)
	}
	return booking.Authorization{Ref: ref, Status: intentStatus(string(intent.Status))}, nil
}

func (gateway *Gateway) startCheckout(ctx context.Context, request booking.AuthorizationRequest) (booking.Authorization, error) {
	paymentIntentData := &stripe.CheckoutSessionCreatePaymentIntentDataParams{
		CaptureMethod: stripe.String(captureMethodManual),
		Description:   stripe.String(request.Description),
		Metadata:      copyMetadata(request.Metadata),
	}
	if destination := strings.TrimSpace(request.Destination); destination != "" {
		paymentIntentData.TransferData = &stripe.CheckoutSessionCreatePaymentIntentDataTransferDataParams{Destination: stripe.String(destination)}
		if fee := gateway.platformFee(request.Amount); fee > 0 {
			paymentIntentData.ApplicationFeeAmount = stripe.Int64(fee)
		}
	}
	params := &stripe.CheckoutSessionCreateParams{
		Mode:              stripe.String(checkoutModePayment),
		ClientReferenceID: stripe.String(request.BookingID.String()),
		SuccessURL:        stripe.String(gateway.successURL(request.OperatorSlug)),
		CancelURL:         stripe.String(gateway.cancelURL(request.OperatorSlug)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{{
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency:   stripe.String(gateway.cfg.Currency),
				UnitAmount: stripe.Int64(request.Amount.Int64()),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name:        stripe.String(checkoutProductName),
					Description: stripe.String(request.Description),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		PaymentIntentData: paymentIntentData,
	}
	if request.Customer.Email != "" {
		params.CustomerEmail = stripe.String(request.Customer.Email)
	}
	for key, value := range request.Metadata {
		params.AddMetadata(key, value)
	}
	params.SetIdempotencyKey(request.IdempotencyKey)

	var session *stripe.CheckoutSession
	err := gateway.call(ctx, callCheckout, func(ctx context.Context) error {
		var callErr error
		session, callErr = gateway.client.V1CheckoutSessions.Create(ctx, params)
		return callErr
	})
	if err != nil {
		return booking.Authorization{}, err
	}
	return booking.Authorization{
		CheckoutSessionRef: session.ID,
		RedirectURL:        session.URL,
		Status:             booking.PaymentStatusPending,
	}, nil
}

// Capture captures request.Amount, or everything authorized when the amount is zero.
func (gateway *Gateway) Capture(ctx context.Context, request booking.CaptureRequest) (booking.CaptureResult, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	if request.Amount > 0 {
		params.AmountToCapture = stripe.Int64(request.Amount.Int64())
	}
	params.SetIdempotencyKey(request.IdempotencyKey)

	var intent *stripe.PaymentIntent
	err := gateway.call(ctx, callCapture, func(ctx context.Context) error {
		var callErr error
		intent, callErr = gateway.client.V1PaymentIntents.Capture(ctx, request.Ref.String(), params)
		return callErr
	})
	if err != nil {
		return booking.CaptureResult{}, err
	}
	return booking.CaptureResult{
		Status:         intentStatus(string(intent.Status)),
		AmountCaptured: booking.AmountCents(intent.AmountReceived),
	}, nil
}

// Cancel releases an authorization. An authorization that is already cancelled counts as released.
func (gateway *Gateway) Cancel(ctx context.Context, request booking.CancelRequest) (booking.PaymentStatus, error) {
	params := &stripe.PaymentIntentCancelParams{}
	params.SetIdempotencyKey(request.IdempotencyKey)

	var intent *stripe.PaymentIntent
	err := gateway.call(ctx, callCancel, func(ctx context.Context) error {
		var callErr error
		intent, callErr = gateway.client.V1PaymentIntents.Cancel(ctx, request.Ref.String(), params)
		return callErr
	})
	if errors.Is(err, booking.ErrPaymentAlreadyFinalized) {
		status, retrieveErr := gateway.currentStatus(ctx, request.Ref)
		if retrieveErr == nil && status == booking.PaymentStatusCancelled {
			return booking.PaymentStatusCancelled, nil
		}
		return "", err
	}
	if err != nil {
		return "", err
	}
	return intentStatus(string(intent.Status)), nil
}

// Refund refunds a captured payment, fully when request.Amount is zero.
func (gateway *Gateway) Refund(ctx context.Context, request booking.RefundRequest) (booking.PaymentStatus, error) {
	params := &stripe.RefundCreateParams{PaymentIntent: stripe.String(request.Ref.String())}
	if request.Amount > 0 {
		params.Amount = stripe.Int64(request.Amount.Int64())
	}
	params.SetIdempotencyKey(request.IdempotencyKey)

	var refund *stripe.Refund
	err := gateway.call(ctx, callRefund, func(ctx context.Context) error {
		var callErr error
		refund, callErr = gateway.client.V1Refunds.Create(ctx, params)
		return callErr
	})
	if err != nil {
		return "", err
	}
	switch string(refund.Status) {
	case refundStatusSucceeded, refundStatusPending:
		return booking.PaymentStatusRefunded, nil
	default:
		return "", fmt.Errorf("%w: refund %s", booking.ErrPaymentDeclined, refund.Status)
	}
}

// ExpireCheckout closes a hosted checkout session that was never completed.
func (gateway *Gateway) ExpireCheckout(ctx context.Context, checkoutSessionRef string) error {
	if strings.TrimSpace(checkoutSessionRef) == "" {
		return fmt.Errorf("%w: checkout session reference is required", booking.ErrPaymentInvalidRequest)
	}
	return gateway.call(ctx, callExpireCheckout, func(ctx context.Context) error {
		_, callErr := gateway.client.V1CheckoutSessions.Expire(ctx, checkoutSessionRef, &stripe.CheckoutSessionExpireParams{})
		return callErr
	})
}

func (gateway *Gateway) currentStatus(ctx context.Context, ref booking.PaymentRef) (booking.PaymentStatus, error) {
	var intent *stripe.PaymentIntent
	err := gateway.call(ctx, callRetrieve, func(ctx context.Context) error {
		var callErr error
		intent, callErr = gateway.client.V1PaymentIntents.Retrieve(ctx, ref.String(), &stripe.PaymentIntentRetrieveParams{})
		return callErr
	})
	if err != nil {
		return "", err
	}
	return intentStatus(string(intent.Status)), nil
}

// call runs fn with a per-attempt timeout, retrying only transient failures with backoff. An
// ambiguous failure returns on the first attempt.
func (gateway *Gateway) call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, gateway.cfg.RequestTimeout)
		defer cancel()
		classified := classifyError(fn(attemptCtx))
		if classified == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(classified) {
			return backoff.Permanent(classified)
		}
		gateway.logger.Warn("stripe call failed",
			zap.String("call", name),
			zap.Int("attempt", attempt),
			zap.Error(classified),
		)
		return classified
	}
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(gateway.newBackOff(), uint64(gateway.cfg.MaxAttempts-1)), ctx))
	return classifyError(err)
}

func (gateway *Gateway) newBackOff() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = gateway.cfg.InitialInterval
	policy.MaxInterval = gateway.cfg.MaxInterval
	policy.MaxElapsedTime = 0
	return policy
}

func (gateway *Gateway) platformFee(amount booking.AmountCents) int64 {
	return amount.Int64() * gateway.cfg.PlatformFeeBps / basisPointsDivisor
}

func (gateway *Gateway) successURL(operatorSlug string) string {
	return gateway.cfg.PublicBaseURL + "/book/" + url.PathEscape(operatorSlug) + "/confirmation?session_id=" + checkoutSessionToken
}

func (gateway *Gateway) cancelURL(operatorSlug string) string {
	return gateway.cfg.PublicBaseURL + "/book/" + url.PathEscape(operatorSlug) + "?cancelled=true"
}

func intentStatus(raw string) booking.PaymentStatus {
	switch raw {
	case intentStatusRequiresCapture:
		return booking.PaymentStatusAuthorized
	case intentStatusSucceeded:
		return booking.PaymentStatusCaptured
	case intentStatusCanceled:
		return booking.PaymentStatusCancelled
	default:
		return booking.PaymentStatusPending
	}
}

func copyMetadata(metadata map[string]string) map[string]string {
	copied := make(map[string]string, len(metadata))
	for key, value := range metadata {
		copied[key] = value
	}
	return copied
}
