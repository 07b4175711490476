package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// EventType is a processor event the reconciler understands.
type EventType string

const (
	EventAuthorizationUpdated EventType = "authorization.updated"
	EventPaymentSucceeded     EventType = "payment.succeeded"
	EventPaymentCanceled      EventType = "payment.canceled"
	EventChargeRefunded       EventType = "charge.refunded"
	EventCheckoutExpired      EventType = "checkout.expired"
	EventUnknown              EventType = "unknown"
)

// CancellationReasonExpired marks a processor-side authorization expiry.
const CancellationReasonExpired = "expired"

// ProcessorEvent is a decoded, signature-verified processor event.
// Amount is the capturable amount, the received amount or the refunded amount depending on Type.
// CheckoutSessionRef is set only for hosted checkout events.
type ProcessorEvent struct {
	ID                 string
	Type               EventType
	PaymentRef         PaymentRef
	CheckoutSessionRef string
	Metadata           map[string]string
	CreatedUnixUTC     int64
	Amount             AmountCents
	FullyRefunded      bool
	CancellationReason string
}

// ReconcileOutcome reports what an event did.
type ReconcileOutcome string

const (
	ReconcileApplied   ReconcileOutcome = "applied"
	ReconcileDuplicate ReconcileOutcome = "duplicate"
	ReconcileStale     ReconcileOutcome = "stale"
	ReconcileIgnored   ReconcileOutcome = "ignored"
)

type reconciliation struct {
	outcome ReconcileOutcome
	kind    HoldKind
	before  Booking
	after   Booking
}

// ReconcileEvent applies a processor event to the booking it refers to. Processor state wins over local
// state as long as the event moves the authorization forward; older or backward events are stale.
// State is committed before any notification or compensating call is attempted.
func (service *Service) ReconcileEvent(ctx context.Context, event ProcessorEvent) (ReconcileOutcome, error) {
	if strings.TrimSpace(event.ID) == "" {
		return ReconcileIgnored, WrapError(operationReconcile, "event", "invalid", fmt.Errorf("%w: missing event id", ErrInvalidEvent))
	}
	switch event.Type {
	case EventAuthorizationUpdated, EventPaymentSucceeded, EventPaymentCanceled, EventChargeRefunded, EventCheckoutExpired:
	default:
		return ReconcileIgnored, nil
	}

	var (
		result reconciliation
		err    error
	)
	for attempt := 0; attempt < maxReconcileAttempts; attempt++ {
		result, err = service.reconcileOnce(ctx, event)
		if !errors.Is(err, ErrConcurrentModification) {
			break
		}
	}
	if errors.Is(err, ErrDuplicateEvent) {
		result.outcome = ReconcileDuplicate
		err = nil
	}
	service.logOperation(ctx, OperationLog{
		Operation:  operationReconcile,
		BookingID:  result.before.ID,
		OperatorID: result.before.OperatorID,
		Hold:       result.kind,
		From:       stateLabel(result.before, result.kind),
		To:         stateLabel(result.after, result.kind),
		EventID:    event.ID,
		Status:     reconcileLogStatus(result.outcome, err),
		Error:      err,
	})
	if err != nil {
		if result.outcome == "" {
			result.outcome = ReconcileIgnored
		}
		return result.outcome, err
	}

	switch result.outcome {
	case ReconcileApplied:
		service.afterReconcile(ctx, result)
		return ReconcileApplied, nil
	case ReconcileStale:
		return ReconcileStale, WrapError(operationReconcile, "event", "stale", fmt.Errorf("%w: %s", ErrStaleEvent, event.ID))
	case ReconcileDuplicate, ReconcileIgnored:
		return result.outcome, nil
	default:
		return ReconcileIgnored, nil
	}
}

func (service *Service) reconcileOnce(ctx context.Context, event ProcessorEvent) (reconciliation, error) {
	var result reconciliation
	txErr := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		booking, kind, err := locateBooking(ctx, txStore, event)
		if err != nil {
			return err
		}
		result = reconciliation{kind: kind, before: booking, after: booking}
		next, outcome := evaluateEvent(booking, kind, event, service.nowTime().Unix())
		result.outcome = outcome
		if outcome == ReconcileApplied {
			stored, err := service.commitIn(ctx, txStore, booking, next)
			if err != nil {
				return err
			}
			result.after = stored
		}
		return txStore.RecordProcessorEvent(ctx, EventReceipt{
			EventID:         event.ID,
			EventType:       event.Type,
			BookingID:       booking.ID,
			ReceivedUnixUTC: service.nowUnix(),
		})
	})
	if txErr != nil {
		result.after = result.before
		return result, txErr
	}
	return result, nil
}

// locateBooking finds the booking by authorization reference, then by the booking id metadata
// attached when the authorization was requested (hosted checkout links the reference this way).
func locateBooking(ctx context.Context, store Store, event ProcessorEvent) (Booking, HoldKind, error) {
	if !event.PaymentRef.IsZero() {
		booking, kind, err := store.FindBookingByPaymentRef(ctx, event.PaymentRef)
		if err == nil {
			return booking, kind, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Booking{}, "", err
		}
	}
	bookingID, err := NewBookingID(event.Metadata[MetadataBookingID])
	if err != nil {
		return Booking{}, "", WrapError(operationReconcile, "booking", "not_found", fmt.Errorf("%w: no booking for %s", ErrNotFound, event.PaymentRef))
	}
	booking, err := store.GetBooking(ctx, bookingID)
	if err != nil {
		return Booking{}, "", err
	}
	if operatorID := strings.TrimSpace(event.Metadata[MetadataOperatorID]); operatorID != "" && operatorID != booking.OperatorID.String() {
		return Booking{}, "", WrapError(operationReconcile, "booking", "not_found", fmt.Errorf("%w: operator mismatch", ErrNotFound))
	}
	kind, err := ParseHoldKind(event.Metadata[MetadataHoldKind])
	if err != nil {
		return Booking{}, "", err
	}
	return booking, kind, nil
}

func evaluateEvent(booking Booking, kind HoldKind, event ProcessorEvent, nowUnixUTC int64) (Booking, ReconcileOutcome) {
	switch kind {
	case HoldKindSecurityDeposit, HoldKindTripHold:
		return evaluateHoldEvent(booking, kind, event)
	case HoldKindDeposit:
		return evaluateDepositEvent(booking, event, nowUnixUTC)
	default:
		return booking, ReconcileIgnored
	}
}

func evaluateDepositEvent(booking Booking, event ProcessorEvent, nowUnixUTC int64) (Booking, ReconcileOutcome) {
	mark := booking.DepositEvent
	if event.ID == mark.EventID {
		return booking, ReconcileDuplicate
	}
	if event.CreatedUnixUTC < mark.ObservedUnixUTC {
		return booking, ReconcileStale
	}
	if event.Type == EventCheckoutExpired {
		return evaluateCheckoutExpiry(booking, event)
	}
	linking := booking.PaymentRef.IsZero()
	if !linking && booking.PaymentRef != event.PaymentRef {
		return booking, ReconcileIgnored
	}
	var target DepositStatus
	switch event.Type {
	case EventAuthorizationUpdated:
		target = DepositStatusAuthorized
	case EventPaymentSucceeded:
		target = DepositStatusCaptured
	case EventPaymentCanceled:
		target = DepositStatusCancelled
	case EventChargeRefunded:
		if !event.FullyRefunded {
			return booking, ReconcileIgnored
		}
		target = DepositStatusRefunded
	default:
		return booking, ReconcileIgnored
	}
	if target == booking.DepositStatus && !linking {
		return booking, ReconcileDuplicate
	}
	if !depositAdvances(booking.DepositStatus, target) {
		return booking, ReconcileStale
	}

	next := booking
	next.PaymentRef = event.PaymentRef
	next.DepositStatus = target
	switch target {
	case DepositStatusCaptured:
		switch next.Status {
		case BookingStatusConfirmed, BookingStatusCompleted, BookingStatusNoShow:
		default:
			next.Status = BookingStatusConfirmed
		}
		if next.CustomerConfirmedAt == nil {
			confirmedAt := unixTime(nowUnixUTC)
			next.CustomerConfirmedAt = &confirmedAt
		}
	case DepositStatusCancelled:
		next.Status = BookingStatusDeclined
	case DepositStatusRefunded:
		next.Status = BookingStatusCancelled
	case DepositStatusAuthorized, DepositStatusPending:
	}
	next.DepositEvent = EventMark{EventID: event.ID, ObservedUnixUTC: event.CreatedUnixUTC}
	if next.Pending.Hold == HoldKindDeposit {
		next.Pending = PendingIntent{}
	}
	return next, ReconcileApplied
}

// evaluateCheckoutExpiry frees the slot of a booking whose hosted checkout was abandoned. The deposit
// stays pending because no authorization was ever created.
func evaluateCheckoutExpiry(booking Booking, event ProcessorEvent) (Booking, ReconcileOutcome) {
	if booking.CheckoutSessionRef == "" || booking.CheckoutSessionRef != event.CheckoutSessionRef {
		return booking, ReconcileIgnored
	}
	if booking.Status != BookingStatusPending || booking.DepositStatus != DepositStatusPending {
		return booking, ReconcileIgnored
	}
	next := booking
	next.Status = BookingStatusCancelled
	next.DepositEvent = EventMark{EventID: event.ID, ObservedUnixUTC: event.CreatedUnixUTC}
	if next.Pending.Hold == HoldKindDeposit {
		next.Pending = PendingIntent{}
	}
	return next, ReconcileApplied
}

func evaluateHoldEvent(booking Booking, kind HoldKind, event ProcessorEvent) (Booking, ReconcileOutcome) {
	hold := booking.Hold(kind)
	if event.ID == hold.LastEvent.EventID {
		return booking, ReconcileDuplicate
	}
	if event.CreatedUnixUTC < hold.LastEvent.ObservedUnixUTC {
		return booking, ReconcileStale
	}
	if !hold.PaymentRef.IsZero() && hold.PaymentRef != event.PaymentRef {
		return booking, ReconcileIgnored
	}
	var target HoldStatus
	switch event.Type {
	case EventAuthorizationUpdated:
		target = HoldStatusAuthorized
	case EventPaymentSucceeded:
		target = HoldStatusCaptured
	case EventPaymentCanceled:
		target = HoldStatusReleased
		if event.CancellationReason == CancellationReasonExpired {
			target = HoldStatusExpired
		}
	case EventChargeRefunded:
		return booking, ReconcileIgnored
	default:
		return booking, ReconcileIgnored
	}
	if target == hold.Status {
		return booking, ReconcileDuplicate
	}
	if !holdAdvances(hold.Status, target) {
		return booking, ReconcileStale
	}

	hold.PaymentRef = event.PaymentRef
	hold.Status = target
	switch target {
	case HoldStatusAuthorized:
		if hold.Amount == 0 {
			hold.Amount = event.Amount
		}
	case HoldStatusCaptured:
		if hold.Amount == 0 {
			hold.Amount = event.Amount
		}
		if event.Amount > 0 && event.Amount <= hold.Amount {
			hold.CapturedAmount = event.Amount
		} else if hold.CapturedAmount == 0 {
			hold.CapturedAmount = hold.Amount
		}
	case HoldStatusReleased, HoldStatusExpired, HoldStatusNone:
	}
	hold.LastEvent = EventMark{EventID: event.ID, ObservedUnixUTC: event.CreatedUnixUTC}
	next := booking.withHold(kind, hold)
	if next.Pending.Hold == kind {
		next.Pending = PendingIntent{}
	}
	return next, ReconcileApplied
}

func depositAdvances(from DepositStatus, to DepositStatus) bool {
	switch from {
	case DepositStatusPending:
		return to == DepositStatusAuthorized || to == DepositStatusCaptured || to == DepositStatusCancelled
	case DepositStatusAuthorized:
		return to == DepositStatusCaptured || to == DepositStatusCancelled
	case DepositStatusCaptured:
		return to == DepositStatusRefunded
	case DepositStatusCancelled, DepositStatusRefunded:
		return false
	default:
		return false
	}
}

func holdAdvances(from HoldStatus, to HoldStatus) bool {
	switch from {
	case HoldStatusNone:
		return to != HoldStatusNone
	case HoldStatusAuthorized:
		return to == HoldStatusCaptured || to == HoldStatusReleased || to == HoldStatusExpired
	case HoldStatusCaptured, HoldStatusReleased, HoldStatusExpired:
		return false
	default:
		return false
	}
}

// afterReconcile runs the side effects of an applied event. Nothing here can undo the committed state.
func (service *Service) afterReconcile(ctx context.Context, result reconciliation) {
	if result.kind != HoldKindDeposit {
		return
	}
	before, after := result.before, result.after
	if before.DepositStatus == after.DepositStatus {
		return
	}
	switch after.DepositStatus {
	case DepositStatusAuthorized:
		if after.Status == BookingStatusDeclined || after.Status == BookingStatusCancelled {
			service.releaseOrphanedDeposit(ctx, after)
			return
		}
		if after.OperatorNotifiedAt == nil {
			service.notify(ctx, NotificationNewRequest, after)
		}
	case DepositStatusCaptured:
		if before.Status != BookingStatusConfirmed {
			service.notify(ctx, NotificationConfirmed, after)
		}
	case DepositStatusCancelled:
		if before.Status != BookingStatusDeclined {
			service.notify(ctx, NotificationDeclined, after)
		}
	case DepositStatusRefunded:
		service.notify(ctx, NotificationRefunded, after)
	case DepositStatusPending:
	}
}

// releaseOrphanedDeposit cancels an authorization that arrived after the booking was already closed.
func (service *Service) releaseOrphanedDeposit(ctx context.Context, booking Booking) {
	outcome, err := service.runPaymentStep(ctx, booking, cancelStep(service, operationReconcile, func(current Booking) Booking {
		current.Status = BookingStatusDeclined
		current.DepositStatus = DepositStatusCancelled
		return current
	}))
	service.logTransition(ctx, operationReleaseHold, HoldKindDeposit, booking.Price.DepositAmount, booking, outcome.booking, err)
}

func reconcileLogStatus(outcome ReconcileOutcome, err error) string {
	if err != nil {
		return operationStatusError
	}
	if outcome == ReconcileApplied {
		return operationStatusOK
	}
	return operationStatusNoop
}
