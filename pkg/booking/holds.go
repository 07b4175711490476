package booking

import (
	"context"
	"fmt"
	"strings"
)

// HoldAction is an operator action on a secondary hold.
type HoldAction string

const (
	HoldActionReleaseHold        HoldAction = "release-hold"
	HoldActionCaptureHold        HoldAction = "capture-hold"
	HoldActionPartialCaptureHold HoldAction = "partial-capture-hold"
	HoldActionReleaseDeposit     HoldAction = "release-deposit"
	HoldActionCaptureDeposit     HoldAction = "capture-deposit"
)

// ParseHoldAction validates a hold action name.
func ParseHoldAction(raw string) (HoldAction, error) {
	action := HoldAction(strings.TrimSpace(raw))
	switch action {
	case HoldActionReleaseHold, HoldActionCaptureHold, HoldActionPartialCaptureHold,
		HoldActionReleaseDeposit, HoldActionCaptureDeposit:
		return action, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, raw)
	}
}

// Kind returns the hold the action targets.
func (action HoldAction) Kind() HoldKind {
	switch action {
	case HoldActionReleaseDeposit, HoldActionCaptureDeposit:
		return HoldKindSecurityDeposit
	case HoldActionReleaseHold, HoldActionCaptureHold, HoldActionPartialCaptureHold:
		return HoldKindTripHold
	default:
		return ""
	}
}

// HoldActionRequest names the authorization being acted on; it must match the booking's hold.
// Amount is required for partial-capture-hold and optional for capture-deposit.
type HoldActionRequest struct {
	OperatorID OperatorID
	BookingID  BookingID
	Action     HoldAction
	PaymentRef PaymentRef
	Amount     AmountCents
}

// ApplyHoldAction captures or releases a secondary hold.
func (service *Service) ApplyHoldAction(ctx context.Context, request HoldActionRequest) (ActionResult, error) {
	kind := request.Action.Kind()
	if kind == "" {
		return ActionResult{}, fmt.Errorf("%w: %q", ErrInvalidAction, request.Action)
	}
	if request.PaymentRef.IsZero() {
		return ActionResult{}, fmt.Errorf("%w: empty value", ErrInvalidPaymentRef)
	}
	booking, err := service.GetBooking(ctx, request.OperatorID, request.BookingID)
	if err != nil {
		return ActionResult{}, err
	}
	hold := booking.Hold(kind)
	operation := operationReleaseHold
	if request.Action != HoldActionReleaseHold && request.Action != HoldActionReleaseDeposit {
		operation = operationCaptureHold
	}

	var rejection error
	switch {
	case hold.PaymentRef != request.PaymentRef:
		rejection = WrapError(operation, string(kind), "not_found", fmt.Errorf("%w: authorization is not attached to this booking", ErrNotFound))
	case hold.Status != HoldStatusAuthorized:
		rejection = invalidTransition(operation, fmt.Sprintf("%s is %s; it must be authorized", kind, hold.Status))
	case request.Action == HoldActionPartialCaptureHold && request.Amount <= 0:
		rejection = WrapError(operation, string(kind), "missing_amount", fmt.Errorf("%w: amount required for partial capture", ErrInvalidAmountCents))
	case request.Amount < 0 || request.Amount > hold.Amount:
		rejection = WrapError(operation, string(kind), "amount_exceeds_hold",
			fmt.Errorf("%w: amount %s outside hold %s", ErrInvalidAmountCents, FormatCents(request.Amount), FormatCents(hold.Amount)))
	}
	if rejection != nil {
		service.logTransition(ctx, operation, kind, request.Amount, booking, booking, rejection)
		return ActionResult{Booking: booking}, rejection
	}

	var step paymentStep
	switch request.Action {
	case HoldActionReleaseHold, HoldActionReleaseDeposit:
		step = holdReleaseStep(service, kind)
	case HoldActionCaptureHold:
		step = holdCaptureStep(service, operation, kind, 0)
	case HoldActionPartialCaptureHold, HoldActionCaptureDeposit:
		step = holdCaptureStep(service, operation, kind, request.Amount)
	}
	outcome, err := service.runPaymentStep(ctx, booking, step)
	service.logTransition(ctx, operation, kind, request.Amount, booking, outcome.booking, err)
	if err != nil {
		return ActionResult{Booking: outcome.booking}, err
	}
	return ActionResult{Booking: outcome.booking, Message: holdActionMessage(request.Action, outcome.booking.Hold(kind))}, nil
}

// holdCaptureStep captures amount (zero means the full hold). The processor releases any remainder,
// so no cancel follows a partial capture.
func holdCaptureStep(service *Service, operation string, kind HoldKind, amount AmountCents) paymentStep {
	var captured AmountCents
	return paymentStep{
		operation: operation,
		intent:    intentCapture,
		hold:      kind,
		call: func(ctx context.Context, claimed Booking, idempotencyKey string) error {
			result, err := service.gateway.Capture(ctx, CaptureRequest{
				Ref:            claimed.Hold(kind).PaymentRef,
				Amount:         amount,
				IdempotencyKey: idempotencyKey,
			})
			captured = result.AmountCaptured
			return err
		},
		apply: func(current Booking) Booking {
			hold := current.Hold(kind)
			hold.Status = HoldStatusCaptured
			switch {
			case captured > 0 && captured <= hold.Amount:
				hold.CapturedAmount = captured
			case amount > 0:
				hold.CapturedAmount = amount
			default:
				hold.CapturedAmount = hold.Amount
			}
			return current.withHold(kind, hold)
		},
		reached: func(current Booking) bool {
			return current.Hold(kind).Status == HoldStatusCaptured
		},
	}
}

func holdReleaseStep(service *Service, kind HoldKind) paymentStep {
	return paymentStep{
		operation: operationReleaseHold,
		intent:    intentCancel,
		hold:      kind,
		call: func(ctx context.Context, claimed Booking, idempotencyKey string) error {
			_, err := service.gateway.Cancel(ctx, CancelRequest{Ref: claimed.Hold(kind).PaymentRef, IdempotencyKey: idempotencyKey})
			return err
		},
		apply: func(current Booking) Booking {
			hold := current.Hold(kind)
			hold.Status = HoldStatusReleased
			return current.withHold(kind, hold)
		},
		reached: func(current Booking) bool {
			status := current.Hold(kind).Status
			return status == HoldStatusReleased || status == HoldStatusExpired
		},
	}
}

func holdActionMessage(action HoldAction, hold Hold) string {
	switch action {
	case HoldActionReleaseDeposit:
		return "Security deposit hold has been released."
	case HoldActionCaptureDeposit:
		return fmt.Sprintf("Security deposit of %s has been captured for damage claim.", FormatCents(hold.CapturedAmount))
	case HoldActionReleaseHold:
		return "Trip hold has been released. Customer paid cash."
	case HoldActionCaptureHold:
		return "Full trip amount has been captured."
	case HoldActionPartialCaptureHold:
		return fmt.Sprintf("Partial capture of %s completed.", FormatCents(hold.CapturedAmount))
	default:
		return ""
	}
}

// PlaceHoldRequest authorizes a secondary hold on a saved payment method.
type PlaceHoldRequest struct {
	OperatorID    OperatorID
	BookingID     BookingID
	Kind          HoldKind
	PaymentMethod string
}

// PlaceHold authorizes a security deposit (operator-configured amount) or a trip hold (the booking's final price).
func (service *Service) PlaceHold(ctx context.Context, request PlaceHoldRequest) (Booking, error) {
	if request.Kind != HoldKindSecurityDeposit && request.Kind != HoldKindTripHold {
		return Booking{}, fmt.Errorf("%w: %q is not a secondary hold", ErrInvalidHoldKind, request.Kind)
	}
	paymentMethod := strings.TrimSpace(request.PaymentMethod)
	if paymentMethod == "" {
		return Booking{}, fmt.Errorf("%w: a saved payment method is required", ErrMissingPaymentMethod)
	}
	booking, err := service.GetBooking(ctx, request.OperatorID, request.BookingID)
	if err != nil {
		return Booking{}, err
	}
	operator, err := service.store.GetOperator(ctx, booking.OperatorID)
	if err != nil {
		return booking, err
	}

	var amount AmountCents
	var rejection error
	switch request.Kind {
	case HoldKindSecurityDeposit:
		amount = operator.SecurityDepositAmount
		if !operator.SecurityDepositEnabled || amount <= 0 {
			rejection = WrapError(operationPlaceHold, string(request.Kind), "not_enabled", ErrHoldNotEnabled)
		}
	case HoldKindTripHold:
		amount = booking.Price.FinalPrice
		if !operator.TripHoldEnabled || amount <= 0 {
			rejection = WrapError(operationPlaceHold, string(request.Kind), "not_enabled", ErrHoldNotEnabled)
		}
	}
	existing := booking.Hold(request.Kind)
	switch {
	case rejection != nil:
	case !booking.Status.IsActive():
		rejection = invalidTransition(operationPlaceHold, fmt.Sprintf("cannot place a hold on %s booking", booking.Status))
	case existing.Status != HoldStatusNone || !existing.PaymentRef.IsZero():
		rejection = invalidTransition(operationPlaceHold, fmt.Sprintf("%s already placed", request.Kind))
	}
	if rejection != nil {
		service.logTransition(ctx, operationPlaceHold, request.Kind, amount, booking, booking, rejection)
		return booking, rejection
	}

	var authorization Authorization
	outcome, err := service.runPaymentStep(ctx, booking, paymentStep{
		operation: operationPlaceHold,
		intent:    intentAuthorize,
		hold:      request.Kind,
		call: func(ctx context.Context, claimed Booking, idempotencyKey string) error {
			result, err := service.gateway.Authorize(ctx, AuthorizationRequest{
				BookingID:      claimed.ID,
				OperatorID:     claimed.OperatorID,
				OperatorSlug:   operator.Slug,
				Hold:           request.Kind,
				Amount:         amount,
				Destination:    operator.PayoutDestination(),
				Customer:       claimed.Customer,
				Description:    fmt.Sprintf("%s - %s for %s on %s", operator.BusinessName, holdLabel(request.Kind), claimed.TripType, claimed.TripDate),
				PaymentMethod:  paymentMethod,
				IdempotencyKey: idempotencyKey,
				Metadata:       paymentMetadata(claimed, request.Kind),
			})
			if err == nil && result.Ref.IsZero() {
				return fmt.Errorf("%w: authorization returned no reference", ErrPaymentAmbiguous)
			}
			authorization = result
			return err
		},
		apply: func(current Booking) Booking {
			hold := current.Hold(request.Kind)
			hold.Amount = amount
			hold.PaymentRef = authorization.Ref
			if authorization.Status == PaymentStatusAuthorized && hold.Status == HoldStatusNone {
				hold.Status = HoldStatusAuthorized
			}
			return current.withHold(request.Kind, hold)
		},
		reached: func(current Booking) bool {
			return current.Hold(request.Kind).PaymentRef == authorization.Ref
		},
	})
	service.logTransition(ctx, operationPlaceHold, request.Kind, amount, booking, outcome.booking, err)
	return outcome.booking, err
}

func holdLabel(kind HoldKind) string {
	switch kind {
	case HoldKindSecurityDeposit:
		return "Security deposit hold"
	case HoldKindTripHold:
		return "Trip hold"
	case HoldKindDeposit:
		return "Deposit"
	default:
		return string(kind)
	}
}
