package booking

import (
	"context"

	"cloud.google.com/go/civil"
)

// EventReceipt records a processor event the reconciler has consumed.
type EventReceipt struct {
	EventID         string
	EventType       EventType
	BookingID       BookingID
	ReceivedUnixUTC int64
}

// Store is the persistence contract used by Service.
// UpdateBooking is a compare-and-swap on prior.Version and must fail with ErrConcurrentModification
// when the stored row moved on. RecordProcessorEvent fails with ErrDuplicateEvent for a known event id.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateBooking(ctx context.Context, booking Booking) error
	GetBooking(ctx context.Context, bookingID BookingID) (Booking, error)
	FindBookingByPaymentRef(ctx context.Context, ref PaymentRef) (Booking, HoldKind, error)
	ListBookings(ctx context.Context, operatorID OperatorID, filter BookingFilter) ([]Booking, error)
	UpdateBooking(ctx context.Context, prior Booking, updated Booking) error
	CountBookingsCreatedSince(ctx context.Context, operatorID OperatorID, sinceUnixUTC int64) (int, error)
	ListActiveTripTypes(ctx context.Context, operatorID OperatorID, tripDate civil.Date) ([]TripType, error)
	GetOperator(ctx context.Context, operatorID OperatorID) (Operator, error)
	GetPricingRule(ctx context.Context, operatorID OperatorID, tripType TripType) (PricingRule, error)
	RecordProcessorEvent(ctx context.Context, receipt EventReceipt) error
}
