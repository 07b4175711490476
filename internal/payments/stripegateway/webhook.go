package stripegateway

import (
	"encoding/json"
	"fmt"

	"github.com/castoff/charterpay/pkg/booking"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	eventAmountCapturableUpdated = "payment_intent.amount_capturable_updated"
	eventIntentSucceeded         = "payment_intent.succeeded"
	eventIntentCanceled          = "payment_intent.canceled"
	eventChargeRefunded          = "charge.refunded"
	eventCheckoutCompleted       = "checkout.session.completed"
	eventCheckoutExpired         = "checkout.session.expired"
	cancellationReasonAutomatic  = "automatic"
)

// WebhookVerifier checks Stripe-Signature headers and decodes the events the reconciler consumes.
type WebhookVerifier struct {
	secret  string
	options webhook.ConstructEventOptions
}

// NewWebhookVerifier builds a verifier from a validated Config.
func NewWebhookVerifier(cfg Config) (*WebhookVerifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &WebhookVerifier{
		secret: cfg.WebhookSecret,
		options: webhook.ConstructEventOptions{
			Tolerance:                cfg.WebhookTolerance,
			IgnoreAPIVersionMismatch: true,
		},
	}, nil
}

// Verify authenticates the payload and maps it to a booking.ProcessorEvent. Event types the reconciler
// does not handle decode to booking.EventUnknown.
func (verifier *WebhookVerifier) Verify(payload []byte, signatureHeader string) (booking.ProcessorEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, verifier.secret, verifier.options)
	if err != nil {
		return booking.ProcessorEvent{}, fmt.Errorf("%w: %s", booking.ErrSignatureVerificationFailed, signatureFailureReason(err))
	}
	return decodeEvent(event)
}

func decodeEvent(event stripe.Event) (booking.ProcessorEvent, error) {
	decoded := booking.ProcessorEvent{ID: event.ID, Type: booking.EventUnknown, CreatedUnixUTC: event.Created}
	if event.Data == nil {
		return decoded, nil
	}
	switch string(event.Type) {
	case eventAmountCapturableUpdated, eventIntentSucceeded, eventIntentCanceled:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return booking.ProcessorEvent{}, fmt.Errorf("%w: payment intent payload", booking.ErrInvalidEvent)
		}
		return decodeIntentEvent(decoded, string(event.Type), intent)
	case eventChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return booking.ProcessorEvent{}, fmt.Errorf("%w: charge payload", booking.ErrInvalidEvent)
		}
		if charge.PaymentIntent == nil {
			return decoded, nil
		}
		ref, err := booking.NewPaymentRef(charge.PaymentIntent.ID)
		if err != nil {
			return booking.ProcessorEvent{}, fmt.Errorf("%w: %w", booking.ErrInvalidEvent, err)
		}
		decoded.Type = booking.EventChargeRefunded
		decoded.PaymentRef = ref
		decoded.Metadata = charge.Metadata
		decoded.Amount = booking.AmountCents(charge.AmountRefunded)
		decoded.FullyRefunded = charge.Refunded
		return decoded, nil
	case eventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return booking.ProcessorEvent{}, fmt.Errorf("%w: checkout session payload", booking.ErrInvalidEvent)
		}
		if session.PaymentIntent == nil || session.PaymentIntent.ID == "" {
			return decoded, nil
		}
		ref, err := booking.NewPaymentRef(session.PaymentIntent.ID)
		if err != nil {
			return booking.ProcessorEvent{}, fmt.Errorf("%w: %w", booking.ErrInvalidEvent, err)
		}
		decoded.Type = booking.EventAuthorizationUpdated
		decoded.PaymentRef = ref
		decoded.CheckoutSessionRef = session.ID
		decoded.Metadata = session.Metadata
		decoded.Amount = booking.AmountCents(session.AmountTotal)
		return decoded, nil
	case eventCheckoutExpired:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return booking.ProcessorEvent{}, fmt.Errorf("%w: checkout session payload", booking.ErrInvalidEvent)
		}
		if session.ID == "" {
			return booking.ProcessorEvent{}, fmt.Errorf("%w: checkout session without id", booking.ErrInvalidEvent)
		}
		decoded.Type = booking.EventCheckoutExpired
		decoded.CheckoutSessionRef = session.ID
		decoded.Metadata = session.Metadata
		return decoded, nil
	default:
		return decoded, nil
	}
}

func decodeIntentEvent(decoded booking.ProcessorEvent, eventType string, intent stripe.PaymentIntent) (booking.ProcessorEvent, error) {
	ref, err := booking.NewPaymentRef(intent.ID)
	if err != nil {
		return booking.ProcessorEvent{}, fmt.Errorf("%w: %w", booking.ErrInvalidEvent, err)
	}
	decoded.PaymentRef = ref
	decoded.Metadata = intent.Metadata
	switch eventType {
	case eventAmountCapturableUpdated:
		decoded.Type = booking.EventAuthorizationUpdated
		decoded.Amount = booking.AmountCents(intent.AmountCapturable)
	case eventIntentSucceeded:
		decoded.Type = booking.EventPaymentSucceeded
		decoded.Amount = booking.AmountCents(intent.AmountReceived)
	case eventIntentCanceled:
		decoded.Type = booking.EventPaymentCanceled
		decoded.CancellationReason = string(intent.CancellationReason)
		if decoded.CancellationReason == cancellationReasonAutomatic {
			decoded.CancellationReason = booking.CancellationReasonExpired
		}
	}
	return decoded, nil
}

func signatureFailureReason(err error) string {
	switch err {
	case webhook.ErrNotSigned:
		return "missing signature"
	case webhook.ErrTooOld:
		return "timestamp outside tolerance"
	case webhook.ErrNoValidSignature:
		return "no valid signature"
	case webhook.ErrInvalidHeader:
		return "malformed signature header"
	default:
		return "unverifiable payload"
	}
}
