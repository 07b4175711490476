package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/castoff/charterpay/pkg/booking"
)

// ErrInvalidMessage reports an outbox message that cannot be delivered.
var ErrInvalidMessage = errors.New("invalid notification message")

// Message is one rendered email waiting in the outbox.
type Message struct {
	ID             string
	Kind           booking.NotificationKind
	BookingID      string
	Recipient      string
	Subject        string
	Body           string
	Attempts       int
	CreatedUnixUTC int64
}

// Validate rejects messages without a recipient or content.
func (message Message) Validate() error {
	if strings.TrimSpace(message.Recipient) == "" || !strings.Contains(message.Recipient, "@") {
		return fmt.Errorf("%w: recipient %q", ErrInvalidMessage, message.Recipient)
	}
	if strings.TrimSpace(message.Subject) == "" || strings.TrimSpace(message.Body) == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidMessage)
	}
	return nil
}

// Failure describes a failed delivery attempt.
type Failure struct {
	Attempts           int
	LastError          string
	NextAttemptUnixUTC int64
	Final              bool
}

// Outbox persists messages between enqueue and delivery.
type Outbox interface {
	Enqueue(ctx context.Context, message Message) error
	ListDue(ctx context.Context, nowUnixUTC int64, limit int) ([]Message, error)
	MarkSent(ctx context.Context, messageID string, sentUnixUTC int64) error
	MarkFailed(ctx context.Context, messageID string, failure Failure) error
}

// OutboxNotifier renders booking notifications and enqueues them. It implements booking.Notifier.
type OutboxNotifier struct {
	outbox    Outbox
	templates *Templates
	now       func() time.Time
}

// NewOutboxNotifier validates collaborators and returns an OutboxNotifier.
func NewOutboxNotifier(outbox Outbox, templates *Templates, now func() time.Time) (*OutboxNotifier, error) {
	if outbox == nil {
		return nil, fmt.Errorf("%w: outbox is required", ErrInvalidConfig)
	}
	if templates == nil {
		return nil, fmt.Errorf("%w: templates are required", ErrInvalidConfig)
	}
	if now == nil {
		now = time.Now
	}
	return &OutboxNotifier{outbox: outbox, templates: templates, now: now}, nil
}

// Notify renders the notification for its recipient and stores it for the dispatcher.
func (notifier *OutboxNotifier) Notify(ctx context.Context, notification booking.Notification) error {
	rendered, err := notifier.templates.Render(notification)
	if err != nil {
		return err
	}
	message := Message{
		Kind:           notification.Kind,
		BookingID:      notification.Booking.ID.String(),
		Recipient:      recipientFor(notification),
		Subject:        rendered.Subject,
		Body:           rendered.Body,
		CreatedUnixUTC: notifier.now().UTC().Unix(),
	}
	if err := message.Validate(); err != nil {
		return err
	}
	return notifier.outbox.Enqueue(ctx, message)
}

// recipientFor sends new requests to the operator and every other kind to the customer.
func recipientFor(notification booking.Notification) string {
	switch notification.Kind {
	case booking.NotificationNewRequest:
		return strings.TrimSpace(notification.Operator.Email)
	case booking.NotificationConfirmed, booking.NotificationDeclined, booking.NotificationRefunded:
		return notification.Booking.Customer.Email
	default:
		return notification.Booking.Customer.Email
	}
}
