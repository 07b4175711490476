package booking

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes one transition attempt.
type OperationLog struct {
	Operation  string
	BookingID  BookingID
	OperatorID OperatorID
	Hold       HoldKind
	Amount     AmountCents
	From       string
	To         string
	EventID    string
	Status     string
	Error      error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithNotifier wires the notification collaborator.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(service *Service) {
		service.notifier = notifier
	}
}

// WithIDGenerator overrides booking id generation.
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.newID = generate
		}
	}
}

// WithIntentLease sets how long an unresolved processor call blocks further payment actions.
func WithIntentLease(lease time.Duration) ServiceOption {
	return func(service *Service) {
		if lease > 0 {
			service.intentLease = lease
		}
	}
}

func stateLabel(booking Booking, kind HoldKind) string {
	switch kind {
	case HoldKindSecurityDeposit, HoldKindTripHold:
		return string(booking.Status) + "/" + string(kind) + ":" + string(booking.Hold(kind).Status)
	case HoldKindDeposit:
		return string(booking.Status) + "/" + string(booking.DepositStatus)
	default:
		return string(booking.Status) + "/" + string(booking.DepositStatus)
	}
}
