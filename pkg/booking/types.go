package booking

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// AmountCents is an integer currency amount in minor units. Adjustments may be negative.
type AmountCents int64

// NewAmountCents validates a non-negative amount.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// NewPositiveAmountCents validates an amount and ensures it is strictly positive.
func NewPositiveAmountCents(raw int64) (AmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// Int64 exposes the raw minor-unit value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// BookingID identifies a booking.
type BookingID struct {
	value string
}

// OperatorID identifies a charter operator.
type OperatorID struct {
	value string
}

// PaymentRef is the processor-side authorization reference.
type PaymentRef struct {
	value string
}

// NewBookingID validates and normalizes a booking id.
func NewBookingID(raw string) (BookingID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BookingID{}, fmt.Errorf("%w: empty value", ErrInvalidBookingID)
	}
	return BookingID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id BookingID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id BookingID) IsZero() bool {
	return id.value == ""
}

// NewOperatorID validates and normalizes an operator id.
func NewOperatorID(raw string) (OperatorID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return OperatorID{}, fmt.Errorf("%w: empty value", ErrInvalidOperatorID)
	}
	return OperatorID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id OperatorID) String() string {
	return id.value
}

// NewPaymentRef validates and normalizes a processor authorization reference.
func NewPaymentRef(raw string) (PaymentRef, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PaymentRef{}, fmt.Errorf("%w: empty value", ErrInvalidPaymentRef)
	}
	return PaymentRef{value: trimmed}, nil
}

// String returns the normalized reference.
func (ref PaymentRef) String() string {
	return ref.value
}

// IsZero reports whether no authorization exists yet.
func (ref PaymentRef) IsZero() bool {
	return ref.value == ""
}

// BookingStatus is the booking lifecycle status.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusDeclined  BookingStatus = "declined"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusNoShow    BookingStatus = "no_show"
)

// ParseBookingStatus validates a stored or requested lifecycle status.
func ParseBookingStatus(raw string) (BookingStatus, error) {
	status := BookingStatus(strings.TrimSpace(raw))
	switch status {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusDeclined,
		BookingStatusCompleted, BookingStatusCancelled, BookingStatusNoShow:
		return status, nil
	default:
		return "", fmt.Errorf("%w: booking status %q", ErrInvalidStatus, raw)
	}
}

// IsActive reports whether the booking still occupies its slot.
func (status BookingStatus) IsActive() bool {
	switch status {
	case BookingStatusPending, BookingStatusConfirmed:
		return true
	case BookingStatusDeclined, BookingStatusCompleted, BookingStatusCancelled, BookingStatusNoShow:
		return false
	default:
		return false
	}
}

// DepositStatus tracks the primary deposit authorization.
type DepositStatus string

const (
	DepositStatusPending    DepositStatus = "pending"
	DepositStatusAuthorized DepositStatus = "authorized"
	DepositStatusCaptured   DepositStatus = "captured"
	DepositStatusCancelled  DepositStatus = "cancelled"
	DepositStatusRefunded   DepositStatus = "refunded"
)

// ParseDepositStatus validates a deposit status.
func ParseDepositStatus(raw string) (DepositStatus, error) {
	status := DepositStatus(strings.TrimSpace(raw))
	switch status {
	case DepositStatusPending, DepositStatusAuthorized, DepositStatusCaptured,
		DepositStatusCancelled, DepositStatusRefunded:
		return status, nil
	default:
		return "", fmt.Errorf("%w: deposit status %q", ErrInvalidStatus, raw)
	}
}

// requiresPaymentRef reports whether the status can only exist once an authorization does.
func (status DepositStatus) requiresPaymentRef() bool {
	switch status {
	case DepositStatusAuthorized, DepositStatusCaptured, DepositStatusCancelled, DepositStatusRefunded:
		return true
	case DepositStatusPending:
		return false
	default:
		return false
	}
}

// HoldStatus tracks a secondary authorization.
type HoldStatus string

const (
	HoldStatusNone       HoldStatus = "none"
	HoldStatusAuthorized HoldStatus = "authorized"
	HoldStatusCaptured   HoldStatus = "captured"
	HoldStatusReleased   HoldStatus = "released"
	HoldStatusExpired    HoldStatus = "expired"
)

// ParseHoldStatus validates a secondary hold status.
func ParseHoldStatus(raw string) (HoldStatus, error) {
	status := HoldStatus(strings.TrimSpace(raw))
	switch status {
	case HoldStatusNone, HoldStatusAuthorized, HoldStatusCaptured, HoldStatusReleased, HoldStatusExpired:
		return status, nil
	case "":
		return HoldStatusNone, nil
	default:
		return "", fmt.Errorf("%w: hold status %q", ErrInvalidStatus, raw)
	}
}

// HoldKind names one of the authorizations a booking can carry.
type HoldKind string

const (
	HoldKindDeposit         HoldKind = "deposit"
	HoldKindSecurityDeposit HoldKind = "security_deposit"
	HoldKindTripHold        HoldKind = "trip_hold"
)

// ParseHoldKind validates a hold kind. An empty value means the primary deposit.
func ParseHoldKind(raw string) (HoldKind, error) {
	kind := HoldKind(strings.TrimSpace(raw))
	switch kind {
	case HoldKindDeposit, HoldKindSecurityDeposit, HoldKindTripHold:
		return kind, nil
	case "":
		return HoldKindDeposit, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidHoldKind, raw)
	}
}

// TripType is the bookable slot.
type TripType string

const (
	TripTypeHalfDayMorning   TripType = "half-am"
	TripTypeHalfDayAfternoon TripType = "half-pm"
	TripTypeFullDay          TripType = "full"
)

// ParseTripType validates a trip type.
func ParseTripType(raw string) (TripType, error) {
	tripType := TripType(strings.TrimSpace(raw))
	switch tripType {
	case TripTypeHalfDayMorning, TripTypeHalfDayAfternoon, TripTypeFullDay:
		return tripType, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTripType, raw)
	}
}

// slots returns the half-day slots a trip occupies.
func (tripType TripType) slots() []TripType {
	switch tripType {
	case TripTypeHalfDayMorning, TripTypeHalfDayAfternoon:
		return []TripType{tripType}
	case TripTypeFullDay:
		return []TripType{TripTypeHalfDayMorning, TripTypeHalfDayAfternoon}
	default:
		return nil
	}
}

// Customer is the person requesting the trip.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// NewCustomer validates customer contact details.
func NewCustomer(name string, email string, phone string) (Customer, error) {
	trimmedName := strings.TrimSpace(name)
	trimmedEmail := strings.TrimSpace(email)
	if trimmedName == "" {
		return Customer{}, fmt.Errorf("%w: name is required", ErrInvalidCustomer)
	}
	if trimmedEmail == "" || !strings.Contains(trimmedEmail, "@") {
		return Customer{}, fmt.Errorf("%w: email is required", ErrInvalidCustomer)
	}
	return Customer{Name: trimmedName, Email: trimmedEmail, Phone: strings.TrimSpace(phone)}, nil
}

// EventMark records the newest processor event applied to an authorization.
type EventMark struct {
	EventID         string
	ObservedUnixUTC int64
}

// PendingIntent marks a processor call in flight for a booking. IdempotencyKey is fixed when the
// intent is first claimed and reused by every re-claim of the same action.
type PendingIntent struct {
	Action         string
	Hold           HoldKind
	StartedUnixUTC int64
	IdempotencyKey string
}

// IsZero reports whether no call is in flight.
func (intent PendingIntent) IsZero() bool {
	return intent.Action == ""
}

// Hold is a secondary authorization (security deposit or trip hold).
type Hold struct {
	Amount         AmountCents
	CapturedAmount AmountCents
	PaymentRef     PaymentRef
	Status         HoldStatus
	LastEvent      EventMark
}

func (hold Hold) validate(kind HoldKind) error {
	switch hold.Status {
	case HoldStatusNone:
	case HoldStatusAuthorized, HoldStatusCaptured, HoldStatusReleased, HoldStatusExpired:
		if hold.PaymentRef.IsZero() {
			return fmt.Errorf("%w: %s %s without authorization reference", ErrInvariantViolation, kind, hold.Status)
		}
	default:
		return fmt.Errorf("%w: %s status %q", ErrInvariantViolation, kind, hold.Status)
	}
	if hold.CapturedAmount > hold.Amount {
		return fmt.Errorf("%w: %s captured more than authorized", ErrInvariantViolation, kind)
	}
	return nil
}

// Booking is one reservation request and the state of its authorizations.
type Booking struct {
	ID                  BookingID
	OperatorID          OperatorID
	BoatID              string
	Customer            Customer
	TripDate            civil.Date
	TripType            TripType
	PartySize           int
	SpecialRequests     string
	Notes               string
	Price               PriceBreakdown
	Status              BookingStatus
	DepositStatus       DepositStatus
	PaymentRef          PaymentRef
	CheckoutSessionRef  string
	DepositEvent        EventMark
	SecurityDeposit     Hold
	TripHold            Hold
	Pending             PendingIntent
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
	OperatorNotifiedAt  *time.Time
	CustomerConfirmedAt *time.Time
}

// Hold returns the secondary hold of the given kind.
func (booking Booking) Hold(kind HoldKind) Hold {
	switch kind {
	case HoldKindSecurityDeposit:
		return booking.SecurityDeposit
	case HoldKindTripHold:
		return booking.TripHold
	default:
		return Hold{}
	}
}

// withHold returns a copy of the booking carrying the given secondary hold.
func (booking Booking) withHold(kind HoldKind, hold Hold) Booking {
	switch kind {
	case HoldKindSecurityDeposit:
		booking.SecurityDeposit = hold
	case HoldKindTripHold:
		booking.TripHold = hold
	}
	return booking
}

// Validate enforces the cross-field invariants of a persisted booking.
func (booking Booking) Validate() error {
	if booking.ID.IsZero() {
		return fmt.Errorf("%w: missing id", ErrInvariantViolation)
	}
	if booking.PartySize <= 0 {
		return fmt.Errorf("%w: party size must be positive", ErrInvariantViolation)
	}
	if booking.Price.DepositAmount < 0 || booking.Price.FinalPrice < 0 || booking.Price.BasePrice < 0 {
		return fmt.Errorf("%w: negative price", ErrInvariantViolation)
	}
	if booking.Price.DepositAmount > booking.Price.FinalPrice {
		return fmt.Errorf("%w: deposit exceeds final price", ErrInvariantViolation)
	}
	if _, err := ParseBookingStatus(string(booking.Status)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	}
	switch booking.DepositStatus {
	case DepositStatusCaptured:
		switch booking.Status {
		case BookingStatusConfirmed, BookingStatusCompleted, BookingStatusNoShow:
		default:
			return fmt.Errorf("%w: captured deposit on %s booking", ErrInvariantViolation, booking.Status)
		}
	case DepositStatusCancelled:
		if booking.Status != BookingStatusDeclined {
			return fmt.Errorf("%w: cancelled deposit on %s booking", ErrInvariantViolation, booking.Status)
		}
	case DepositStatusRefunded:
		if booking.Status != BookingStatusCancelled {
			return fmt.Errorf("%w: refunded deposit on %s booking", ErrInvariantViolation, booking.Status)
		}
	case DepositStatusPending, DepositStatusAuthorized:
	default:
		return fmt.Errorf("%w: deposit status %q", ErrInvariantViolation, booking.DepositStatus)
	}
	if booking.DepositStatus.requiresPaymentRef() && booking.PaymentRef.IsZero() {
		return fmt.Errorf("%w: %s deposit without authorization reference", ErrInvariantViolation, booking.DepositStatus)
	}
	if err := booking.SecurityDeposit.validate(HoldKindSecurityDeposit); err != nil {
		return err
	}
	return booking.TripHold.validate(HoldKindTripHold)
}

// Operator owns bookings and pricing and holds the payout account reference.
type Operator struct {
	ID                     OperatorID
	Slug                   string
	BusinessName           string
	Email                  string
	Phone                  string
	PaymentAccountRef      string
	OnboardingComplete     bool
	SecurityDepositEnabled bool
	SecurityDepositAmount  AmountCents
	TripHoldEnabled        bool
}

// PayoutDestination returns the destination account for split payments, or "" when funds stay platform-held.
func (operator Operator) PayoutDestination() string {
	if !operator.OnboardingComplete {
		return ""
	}
	return strings.TrimSpace(operator.PaymentAccountRef)
}

// PricingRule is an operator's pricing for one trip type.
type PricingRule struct {
	OperatorID  OperatorID
	TripType    TripType
	DisplayName string
	Config      PricingConfig
	Active      bool
}

// BookingFilter narrows operator booking listings.
type BookingFilter struct {
	Status BookingStatus
	Limit  int
}
