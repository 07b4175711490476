package booking

import "context"

// PaymentStatus is the processor-side state of an authorization as seen by the adapter.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusCaptured   PaymentStatus = "captured"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// AuthorizationRequest asks the processor for a manual-capture hold.
// An empty Destination keeps funds platform-held. An empty PaymentMethod starts a hosted checkout.
type AuthorizationRequest struct {
	BookingID      BookingID
	OperatorID     OperatorID
	OperatorSlug   string
	Hold           HoldKind
	Amount         AmountCents
	Destination    string
	Customer       Customer
	Description    string
	PaymentMethod  string
	IdempotencyKey string
	Metadata       map[string]string
}

// Authorization is the adapter's answer to an AuthorizationRequest.
type Authorization struct {
	Ref                PaymentRef
	CheckoutSessionRef string
	RedirectURL        string
	Status             PaymentStatus
}

// CaptureRequest captures an authorization. A zero Amount captures the full authorized amount.
type CaptureRequest struct {
	Ref            PaymentRef
	Amount         AmountCents
	IdempotencyKey string
}

// CaptureResult reports the captured amount.
type CaptureResult struct {
	Status         PaymentStatus
	AmountCaptured AmountCents
}

// CancelRequest releases an authorization without charge.
type CancelRequest struct {
	Ref            PaymentRef
	IdempotencyKey string
}

// RefundRequest refunds a captured payment. A zero Amount refunds everything.
type RefundRequest struct {
	Ref            PaymentRef
	Amount         AmountCents
	IdempotencyKey string
}

// PaymentGateway is the processor capability used by Service.
// Errors wrap one of the ErrPayment* kinds; Cancel treats an already cancelled authorization as success.
type PaymentGateway interface {
	Authorize(ctx context.Context, request AuthorizationRequest) (Authorization, error)
	Capture(ctx context.Context, request CaptureRequest) (CaptureResult, error)
	Cancel(ctx context.Context, request CancelRequest) (PaymentStatus, error)
	Refund(ctx context.Context, request RefundRequest) (PaymentStatus, error)
	ExpireCheckout(ctx context.Context, checkoutSessionRef string) error
}
