package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// LifecycleAction is an operator action on a booking.
type LifecycleAction string

const (
	ActionConfirm  LifecycleAction = "confirm"
	ActionDecline  LifecycleAction = "decline"
	ActionComplete LifecycleAction = "complete"
	ActionNoShow   LifecycleAction = "no_show"
	ActionRefund   LifecycleAction = "refund"
)

// ParseLifecycleAction validates an action name.
func ParseLifecycleAction(raw string) (LifecycleAction, error) {
	action := LifecycleAction(strings.TrimSpace(raw))
	switch action {
	case ActionConfirm, ActionDecline, ActionComplete, ActionNoShow, ActionRefund:
		return action, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, raw)
	}
}

// ActionRequest is an operator lifecycle action. NoShowCharge optionally captures part or all of the trip hold.
type ActionRequest struct {
	OperatorID   OperatorID
	BookingID    BookingID
	Action       LifecycleAction
	Notes        string
	NoShowCharge AmountCents
}

// ActionResult carries the updated booking and a message for the operator.
type ActionResult struct {
	Booking Booking
	Message string
}

// ApplyAction runs an operator lifecycle action.
func (service *Service) ApplyAction(ctx context.Context, request ActionRequest) (ActionResult, error) {
	booking, err := service.GetBooking(ctx, request.OperatorID, request.BookingID)
	if err != nil {
		return ActionResult{}, err
	}
	switch request.Action {
	case ActionConfirm:
		return service.confirm(ctx, booking, request)
	case ActionDecline:
		return service.decline(ctx, booking, request)
	case ActionComplete:
		return service.closeTrip(ctx, booking, request, operationComplete, BookingStatusCompleted)
	case ActionNoShow:
		return service.noShow(ctx, booking, request)
	case ActionRefund:
		return service.refund(ctx, booking, request)
	default:
		return ActionResult{Booking: booking}, fmt.Errorf("%w: %q", ErrInvalidAction, request.Action)
	}
}

func (service *Service) confirm(ctx context.Context, booking Booking, request ActionRequest) (ActionResult, error) {
	if booking.Status != BookingStatusPending || booking.DepositStatus != DepositStatusAuthorized {
		err := invalidTransition(operationConfirm, fmt.Sprintf("cannot confirm %s booking with %s deposit; deposit must be authorized", booking.Status, booking.DepositStatus))
		service.logTransition(ctx, operationConfirm, HoldKindDeposit, 0, booking, booking, err)
		return ActionResult{Booking: booking}, err
	}
	confirmedAt := service.nowTime()
	outcome, err := service.runPaymentStep(ctx, booking, paymentStep{
		operation: operationConfirm,
		intent:    intentCapture,
		hold:      HoldKindDeposit,
		call: func(ctx context.Context, claimed Booking, idempotencyKey string) error {
			_, err := service.gateway.Capture(ctx, CaptureRequest{Ref: claimed.PaymentRef, IdempotencyKey: idempotencyKey})
			return err
		},
		apply: func(current Booking) Booking {
			current.Status = BookingStatusConfirmed
			current.DepositStatus = DepositStatusCaptured
			if current.CustomerConfirmedAt == nil {
				current.CustomerConfirmedAt = &confirmedAt
			}
			return withNotes(current, request.Notes)
		},
		reached: func(current Booking) bool {
			return current.DepositStatus == DepositStatusCaptured
		},
	})
	service.logTransition(ctx, operationConfirm, HoldKindDeposit, booking.Price.DepositAmount, booking, outcome.booking, err)
	if err != nil {
		return ActionResult{Booking: outcome.booking}, err
	}
	if !outcome.preempted {
		service.notify(ctx, NotificationConfirmed, outcome.booking)
	}
	return ActionResult{Booking: outcome.booking, Message: "Booking confirmed - customer has been notified"}, nil
}

func (service *Service) decline(ctx context.Context, booking Booking, request ActionRequest) (ActionResult, error) {
	var rejection error
	switch booking.DepositStatus {
	case DepositStatusCaptured:
		rejection = invalidTransition(operationDecline, "deposit already captured; use refund instead")
	case DepositStatusCancelled, DepositStatusRefunded:
		rejection = invalidTransition(operationDecline, fmt.Sprintf("deposit already %s", booking.DepositStatus))
	case DepositStatusPending, DepositStatusAuthorized:
		if booking.Status != BookingStatusPending {
			rejection = invalidTransition(operationDecline, fmt.Sprintf("cannot decline %s booking", booking.Status))
		}
	default:
		rejection = invalidTransition(operationDecline, fmt.Sprintf("unknown deposit status %q", booking.DepositStatus))
	}
	if rejection != nil {
		service.logTransition(ctx, operationDecline, HoldKindDeposit, 0, booking, booking, rejection)
		return ActionResult{Booking: booking}, rejection
	}

	declined := func(current Booking) Booking {
		current.Status = BookingStatusDeclined
		current.DepositStatus = DepositStatusCancelled
		return withNotes(current, request.Notes)
	}
	var (
		outcome stepOutcome
		err     error
	)
	switch {
	case booking.DepositStatus == DepositStatusAuthorized:
		outcome, err = service.runPaymentStep(ctx, booking, cancelStep(service, operationDecline, declined))
	case !booking.PaymentRef.IsZero():
		step := cancelStep(service, operationDecline, declined)
		step.bestEffort = true
		outcome, err = service.runPaymentStep(ctx, booking, step)
	default:
		if booking.CheckoutSessionRef != "" {
			if expireErr := service.gateway.ExpireCheckout(ctx, booking.CheckoutSessionRef); expireErr != nil {
				service.logTransition(ctx, operationDecline, HoldKindDeposit, 0, booking, booking,
					translatePaymentError(operationDecline, "checkout", expireErr))
			}
		}
		updated := booking
		updated.Status = BookingStatusDeclined
		outcome.booking, err = service.commit(ctx, booking, withNotes(updated, request.Notes))
	}
	service.logTransition(ctx, operationDecline, HoldKindDeposit, booking.Price.DepositAmount, booking, outcome.booking, err)
	if err != nil {
		return ActionResult{Booking: outcome.booking}, err
	}
	if !outcome.preempted {
		service.notify(ctx, NotificationDeclined, outcome.booking)
	}
	return ActionResult{Booking: outcome.booking, Message: "Booking declined - hold released, no charges"}, nil
}

func cancelStep(service *Service, operation string, apply func(Booking) Booking) paymentStep {
	return paymentStep{
		operation: operation,
		intent:    intentCancel,
		hold:      HoldKindDeposit,
		call: func(ctx context.Context, claimed Booking, idempotencyKey string) error {
			_, err := service.gateway.Cancel(ctx, CancelRequest{Ref: claimed.PaymentRef, IdempotencyKey: idempotencyKey})
			return err
		},
		apply: apply,
		reached: func(current Booking) bool {
			return current.DepositStatus == DepositStatusCancelled
		},
	}
}

// closeTrip moves a confirmed booking to a terminal trip status without touching any authorization.
func (service *Service) closeTrip(ctx context.Context, booking Booking, request ActionRequest, operation string, target BookingStatus) (ActionResult, error) {
	if booking.Status != BookingStatusConfirmed {
		err := invalidTransition(operation, fmt.Sprintf("cannot mark %s booking as %s", booking.Status, target))
		service.logTransition(ctx, operation, HoldKindDeposit, 0, booking, booking, err)
		return ActionResult{Booking: booking}, err
	}
	updated := booking
	updated.Status = target
	stored, err := service.commit(ctx, booking, withNotes(updated, request.Notes))
	service.logTransition(ctx, operation, HoldKindDeposit, 0, booking, stored, err)
	if err != nil {
		return ActionResult{Booking: stored}, err
	}
	return ActionResult{Booking: stored, Message: fmt.Sprintf("Booking marked as %s", target)}, nil
}

func (service *Service) noShow(ctx context.Context, booking Booking, request ActionRequest) (ActionResult, error) {
	if request.NoShowCharge <= 0 {
		return service.closeTrip(ctx, booking, request, operationNoShow, BookingStatusNoShow)
	}
	hold := booking.TripHold
	var rejection error
	switch {
	case booking.Status != BookingStatusConfirmed:
		rejection = invalidTransition(operationNoShow, fmt.Sprintf("cannot mark %s booking as no_show", booking.Status))
	case hold.Status != HoldStatusAuthorized:
		rejection = invalidTransition(operationNoShow, fmt.Sprintf("trip hold is %s", hold.Status))
	case request.NoShowCharge > hold.Amount:
		rejection = WrapError(operationNoShow, string(HoldKindTripHold), "amount_exceeds_hold",
			fmt.Errorf("%w: charge %s exceeds hold %s", ErrInvalidAmountCents, FormatCents(request.NoShowCharge), FormatCents(hold.Amount)))
	}
	if rejection != nil {
		service.logTransition(ctx, operationNoShow, HoldKindTripHold, request.NoShowCharge, booking, booking, rejection)
		return ActionResult{Booking: booking}, rejection
	}
	step := holdCaptureStep(service, operationNoShow, HoldKindTripHold, request.NoShowCharge)
	captureApply := step.apply
	step.apply = func(current Booking) Booking {
		current = captureApply(current)
		current.Status = BookingStatusNoShow
		return withNotes(current, request.Notes)
	}
	outcome, err := service.runPaymentStep(ctx, booking, step)
	service.logTransition(ctx, operationNoShow, HoldKindTripHold, request.NoShowCharge, booking, outcome.booking, err)
	if err != nil {
		return ActionResult{Booking: outcome.booking}, err
	}
	return ActionResult{
		Booking: outcome.booking,
		Message: fmt.Sprintf("Booking marked as no_show - %s captured from trip hold", FormatCents(outcome.booking.TripHold.CapturedAmount)),
	}, nil
}

func (service *Service) refund(ctx context.Context, booking Booking, request ActionRequest) (ActionResult, error) {
	if booking.Status != BookingStatusConfirmed || booking.DepositStatus != DepositStatusCaptured {
		err := invalidTransition(operationRefund, fmt.Sprintf("cannot refund %s booking with %s deposit", booking.Status, booking.DepositStatus))
		service.logTransition(ctx, operationRefund, HoldKindDeposit, 0, booking, booking, err)
		return ActionResult{Booking: booking}, err
	}
	outcome, err := service.runPaymentStep(ctx, booking, paymentStep{
		operation: operationRefund,
		intent:    intentRefund,
		hold:      HoldKindDeposit,
		call: func(ctx context.Context, claimed Booking, idempotencyKey string) error {
			_, err := service.gateway.Refund(ctx, RefundRequest{Ref: claimed.PaymentRef, IdempotencyKey: idempotencyKey})
			return err
		},
		apply: func(current Booking) Booking {
			current.Status = BookingStatusCancelled
			current.DepositStatus = DepositStatusRefunded
			return withNotes(current, request.Notes)
		},
		reached: func(current Booking) bool {
			return current.DepositStatus == DepositStatusRefunded
		},
	})
	service.logTransition(ctx, operationRefund, HoldKindDeposit, booking.Price.DepositAmount, booking, outcome.booking, err)
	if err != nil {
		return ActionResult{Booking: outcome.booking}, err
	}
	if !outcome.preempted {
		service.notify(ctx, NotificationRefunded, outcome.booking)
	}
	return ActionResult{Booking: outcome.booking, Message: "Booking cancelled - deposit refunded"}, nil
}

// paymentStep is one processor call bracketed by a pending-intent claim and a conditional commit.
type paymentStep struct {
	operation  string
	intent     string
	hold       HoldKind
	bestEffort bool
	call       func(ctx context.Context, claimed Booking, idempotencyKey string) error
	apply      func(current Booking) Booking
	reached    func(current Booking) bool
}

type stepOutcome struct {
	booking   Booking
	preempted bool
}

// runPaymentStep never holds a store transaction across the processor call. A non-ambiguous failure
// clears the claim and leaves the booking state as it was; an ambiguous one keeps the claim until
// a webhook resolves it or the lease elapses.
func (service *Service) runPaymentStep(ctx context.Context, current Booking, step paymentStep) (stepOutcome, error) {
	claimed, err := service.claimIntent(ctx, current, step)
	if err != nil {
		return stepOutcome{booking: current}, err
	}
	callErr := step.call(ctx, claimed, claimed.Pending.IdempotencyKey)
	if callErr != nil && !step.bestEffort {
		translated := translatePaymentError(step.operation, string(step.hold), callErr)
		if isAmbiguousPaymentError(callErr) {
			return stepOutcome{booking: claimed}, translated
		}
		return stepOutcome{booking: service.releaseIntent(ctx, claimed)}, translated
	}
	if callErr != nil {
		service.logTransition(ctx, step.operation, step.hold, 0, claimed, claimed,
			translatePaymentError(step.operation, string(step.hold), callErr))
	}

	prior := claimed
	preempted := false
	var lastErr error
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		target := step.apply(prior)
		target.Pending = PendingIntent{}
		stored, err := service.commit(ctx, prior, target)
		if err == nil {
			return stepOutcome{booking: stored, preempted: preempted}, nil
		}
		lastErr = err
		if !errors.Is(err, ErrConcurrentModification) {
			return stepOutcome{booking: prior}, err
		}
		latest, getErr := service.store.GetBooking(ctx, claimed.ID)
		if getErr != nil {
			return stepOutcome{booking: prior}, getErr
		}
		if step.reached(latest) {
			preempted = true
		} else if latest.Pending != claimed.Pending {
			return stepOutcome{booking: latest}, lastErr
		}
		prior = latest
	}
	return stepOutcome{booking: prior}, lastErr
}

func (service *Service) claimIntent(ctx context.Context, current Booking, step paymentStep) (Booking, error) {
	if !current.Pending.IsZero() && service.intentActive(current.Pending) {
		return current, WrapError(step.operation, "booking", "intent_in_flight",
			fmt.Errorf("%w: %s on %s already in progress", ErrConcurrentModification, current.Pending.Action, current.Pending.Hold))
	}
	key := deriveIdempotencyKey(current.ID, current.Version+1, step.intent, step.hold)
	if current.Pending.Action == step.intent && current.Pending.Hold == step.hold && current.Pending.IdempotencyKey != "" {
		key = current.Pending.IdempotencyKey
	}
	claimed := current
	claimed.Pending = PendingIntent{Action: step.intent, Hold: step.hold, StartedUnixUTC: service.nowUnix(), IdempotencyKey: key}
	stored, err := service.commit(ctx, current, claimed)
	if err != nil {
		return current, err
	}
	return stored, nil
}

// releaseIntent clears a claim after a definitive processor failure. Failing to clear only delays
// the next action until the lease elapses.
func (service *Service) releaseIntent(ctx context.Context, claimed Booking) Booking {
	released := claimed
	released.Pending = PendingIntent{}
	stored, err := service.commit(ctx, claimed, released)
	if err != nil {
		return claimed
	}
	return stored
}

func (service *Service) intentActive(intent PendingIntent) bool {
	return service.nowUnix() < intent.StartedUnixUTC+int64(service.intentLease.Seconds())
}

func (service *Service) logTransition(ctx context.Context, operation string, kind HoldKind, amount AmountCents, before Booking, after Booking, err error) {
	service.logOperation(ctx, OperationLog{
		Operation:  operation,
		BookingID:  before.ID,
		OperatorID: before.OperatorID,
		Hold:       kind,
		Amount:     amount,
		From:       stateLabel(before, kind),
		To:         stateLabel(after, kind),
		Error:      err,
	})
}

func withNotes(booking Booking, notes string) Booking {
	if trimmed := strings.TrimSpace(notes); trimmed != "" {
		booking.Notes = trimmed
	}
	return booking
}
