package booking

import "context"

// NotificationKind enumerates the emails triggered by transitions.
type NotificationKind string

const (
	NotificationNewRequest NotificationKind = "new_request"
	NotificationConfirmed  NotificationKind = "confirmed"
	NotificationDeclined   NotificationKind = "declined"
	NotificationRefunded   NotificationKind = "refunded"
)

// Notification is handed to the Notifier after a transition committed.
type Notification struct {
	Kind     NotificationKind
	Booking  Booking
	Operator Operator
}

// Notifier delivers or enqueues notifications. Failures never roll back committed state.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

func (service *Service) notify(ctx context.Context, kind NotificationKind, booking Booking) {
	if service.notifier == nil {
		return
	}
	operator, err := service.store.GetOperator(ctx, booking.OperatorID)
	if err == nil {
		err = service.notifier.Notify(ctx, Notification{Kind: kind, Booking: booking, Operator: operator})
	}
	if err != nil {
		service.logOperation(ctx, OperationLog{
			Operation:  operationNotify,
			BookingID:  booking.ID,
			OperatorID: booking.OperatorID,
			To:         string(kind),
			Error:      WrapError(operationNotify, "booking", "notify_failed", err),
		})
		return
	}
	if kind == NotificationNewRequest && booking.OperatorNotifiedAt == nil {
		service.markOperatorNotified(ctx, booking)
	}
}

// markOperatorNotified stamps operator_notified_at. Losing the race to another writer is ignored.
func (service *Service) markOperatorNotified(ctx context.Context, booking Booking) {
	notifiedAt := service.now().UTC()
	updated := booking
	updated.OperatorNotifiedAt = &notifiedAt
	if _, err := service.commit(ctx, booking, updated); err != nil {
		service.logOperation(ctx, OperationLog{
			Operation:  operationNotify,
			BookingID:  booking.ID,
			OperatorID: booking.OperatorID,
			To:         string(NotificationNewRequest),
			Status:     operationStatusNoop,
			Error:      err,
		})
	}
}
