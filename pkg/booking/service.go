package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// Service is the booking lifecycle controller over a Store and a PaymentGateway.
type Service struct {
	store       Store
	gateway     PaymentGateway
	now         func() time.Time
	logger      OperationLogger
	notifier    Notifier
	newID       func() string
	intentLease time.Duration
}

// NewService wires a Service.
func NewService(store Store, gateway PaymentGateway, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if gateway == nil {
		return nil, fmt.Errorf("%w: payment gateway dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:       store,
		gateway:     gateway,
		now:         now,
		newID:       uuid.NewString,
		intentLease: defaultIntentLease,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// SubmitRequest is a customer's booking request.
type SubmitRequest struct {
	OperatorID      OperatorID
	BoatID          string
	TripType        TripType
	TripDate        civil.Date
	PartySize       int
	Customer        Customer
	SpecialRequests string
	PaymentMethod   string
}

func (request SubmitRequest) validate() error {
	if request.OperatorID.String() == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidOperatorID)
	}
	if _, err := ParseTripType(string(request.TripType)); err != nil {
		return err
	}
	if !request.TripDate.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidTripDate, request.TripDate)
	}
	if request.PartySize <= 0 {
		return fmt.Errorf("%w: must be positive", ErrInvalidPartySize)
	}
	if _, err := NewCustomer(request.Customer.Name, request.Customer.Email, request.Customer.Phone); err != nil {
		return err
	}
	return nil
}

// SubmitResult carries the stored booking and, for hosted checkout, where to send the customer.
type SubmitResult struct {
	Booking     Booking
	RedirectURL string
}

// SubmitBooking prices the trip, records a (pending, pending) booking and requests the deposit authorization.
func (service *Service) SubmitBooking(ctx context.Context, request SubmitRequest) (SubmitResult, error) {
	booking, operator, err := service.createBooking(ctx, request)
	if err != nil {
		service.logOperation(ctx, OperationLog{
			Operation:  operationSubmit,
			OperatorID: request.OperatorID,
			Hold:       HoldKindDeposit,
			Error:      err,
		})
		return SubmitResult{}, err
	}

	authorization, authorizeErr := service.gateway.Authorize(ctx, AuthorizationRequest{
		BookingID:      booking.ID,
		OperatorID:     booking.OperatorID,
		OperatorSlug:   operator.Slug,
		Hold:           HoldKindDeposit,
		Amount:         booking.Price.DepositAmount,
		Destination:    operator.PayoutDestination(),
		Customer:       booking.Customer,
		Description:    depositDescription(operator, booking),
		PaymentMethod:  strings.TrimSpace(request.PaymentMethod),
		IdempotencyKey: deriveIdempotencyKey(booking.ID, booking.Version, intentAuthorize, HoldKindDeposit),
		Metadata:       paymentMetadata(booking, HoldKindDeposit),
	})
	if authorizeErr != nil {
		translated := translatePaymentError(operationSubmit, string(HoldKindDeposit), authorizeErr)
		latest := booking
		if !isAmbiguousPaymentError(authorizeErr) {
			closed := booking
			closed.Status = BookingStatusCancelled
			if stored, err := service.commit(ctx, booking, closed); err == nil {
				latest = stored
			}
		}
		service.logOperation(ctx, OperationLog{
			Operation:  operationSubmit,
			BookingID:  booking.ID,
			OperatorID: booking.OperatorID,
			Hold:       HoldKindDeposit,
			Amount:     booking.Price.DepositAmount,
			From:       stateLabel(booking, HoldKindDeposit),
			To:         stateLabel(latest, HoldKindDeposit),
			Error:      translated,
		})
		return SubmitResult{Booking: latest}, translated
	}

	stored, err := service.linkAuthorization(ctx, booking, authorization)
	service.logOperation(ctx, OperationLog{
		Operation:  operationSubmit,
		BookingID:  booking.ID,
		OperatorID: booking.OperatorID,
		Hold:       HoldKindDeposit,
		Amount:     booking.Price.DepositAmount,
		From:       stateLabel(booking, HoldKindDeposit),
		To:         stateLabel(stored, HoldKindDeposit),
		Error:      err,
	})
	if err != nil {
		return SubmitResult{Booking: stored}, err
	}
	if stored.DepositStatus == DepositStatusAuthorized && stored.OperatorNotifiedAt == nil {
		service.notify(ctx, NotificationNewRequest, stored)
	}
	return SubmitResult{Booking: stored, RedirectURL: authorization.RedirectURL}, nil
}

func (service *Service) createBooking(ctx context.Context, request SubmitRequest) (Booking, Operator, error) {
	if err := request.validate(); err != nil {
		return Booking{}, Operator{}, err
	}
	today := service.today()
	if request.TripDate.Before(today) {
		return Booking{}, Operator{}, fmt.Errorf("%w: %s is in the past", ErrInvalidTripDate, request.TripDate)
	}
	customer, err := NewCustomer(request.Customer.Name, request.Customer.Email, request.Customer.Phone)
	if err != nil {
		return Booking{}, Operator{}, err
	}
	bookingID, err := NewBookingID(service.newID())
	if err != nil {
		return Booking{}, Operator{}, err
	}

	var (
		booking  Booking
		operator Operator
	)
	txErr := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		loadedOperator, err := txStore.GetOperator(ctx, request.OperatorID)
		if err != nil {
			return err
		}
		rule, err := txStore.GetPricingRule(ctx, request.OperatorID, request.TripType)
		if err != nil {
			return err
		}
		demand, occupied, err := service.demand(ctx, txStore, request.OperatorID, request.TripDate)
		if err != nil {
			return err
		}
		if !slotAvailable(occupied, request.TripType) {
			return WrapError(operationSubmit, "slot", "unavailable", fmt.Errorf("%w: %s on %s", ErrSlotUnavailable, request.TripType, request.TripDate))
		}
		price, err := ComputePrice(rule.Config, request.TripDate, demand, today)
		if err != nil {
			return err
		}
		now := service.nowTime()
		created := Booking{
			ID:              bookingID,
			OperatorID:      request.OperatorID,
			BoatID:          strings.TrimSpace(request.BoatID),
			Customer:        customer,
			TripDate:        request.TripDate,
			TripType:        request.TripType,
			PartySize:       request.PartySize,
			SpecialRequests: strings.TrimSpace(request.SpecialRequests),
			Price:           price,
			Status:          BookingStatusPending,
			DepositStatus:   DepositStatusPending,
			SecurityDeposit: Hold{Status: HoldStatusNone},
			TripHold:        Hold{Status: HoldStatusNone},
			Version:         1,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := created.Validate(); err != nil {
			return err
		}
		if err := txStore.CreateBooking(ctx, created); err != nil {
			return err
		}
		booking = created
		operator = loadedOperator
		return nil
	})
	if txErr != nil {
		return Booking{}, Operator{}, txErr
	}
	return booking, operator, nil
}

// linkAuthorization stores the processor references, tolerating a webhook that linked them first.
func (service *Service) linkAuthorization(ctx context.Context, booking Booking, authorization Authorization) (Booking, error) {
	prior := booking
	var lastErr error
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		if !authorization.Ref.IsZero() && prior.PaymentRef == authorization.Ref && prior.DepositStatus != DepositStatusPending {
			return prior, nil
		}
		linked := prior
		if !authorization.Ref.IsZero() {
			linked.PaymentRef = authorization.Ref
		}
		if authorization.CheckoutSessionRef != "" {
			linked.CheckoutSessionRef = authorization.CheckoutSessionRef
		}
		if authorization.Status == PaymentStatusAuthorized && linked.DepositStatus == DepositStatusPending {
			linked.DepositStatus = DepositStatusAuthorized
		}
		stored, err := service.commit(ctx, prior, linked)
		if err == nil {
			return stored, nil
		}
		lastErr = err
		if !errors.Is(err, ErrConcurrentModification) {
			return prior, err
		}
		latest, getErr := service.store.GetBooking(ctx, booking.ID)
		if getErr != nil {
			return prior, getErr
		}
		prior = latest
	}
	return prior, lastErr
}

// QuoteRequest asks for a price without creating anything.
type QuoteRequest struct {
	OperatorID OperatorID
	TripType   TripType
	TripDate   civil.Date
}

// Quote computes the price breakdown a booking request would receive right now.
func (service *Service) Quote(ctx context.Context, request QuoteRequest) (PriceBreakdown, error) {
	if _, err := ParseTripType(string(request.TripType)); err != nil {
		return PriceBreakdown{}, err
	}
	if !request.TripDate.IsValid() {
		return PriceBreakdown{}, fmt.Errorf("%w: %s", ErrInvalidTripDate, request.TripDate)
	}
	rule, err := service.store.GetPricingRule(ctx, request.OperatorID, request.TripType)
	if err != nil {
		return PriceBreakdown{}, err
	}
	demand, _, err := service.demand(ctx, service.store, request.OperatorID, request.TripDate)
	if err != nil {
		return PriceBreakdown{}, err
	}
	return ComputePrice(rule.Config, request.TripDate, demand, service.today())
}

// GetBooking returns a booking owned by the operator.
func (service *Service) GetBooking(ctx context.Context, operatorID OperatorID, bookingID BookingID) (Booking, error) {
	booking, err := service.store.GetBooking(ctx, bookingID)
	if err != nil {
		return Booking{}, err
	}
	if booking.OperatorID != operatorID {
		return Booking{}, WrapError("get", "booking", "not_found", ErrNotFound)
	}
	return booking, nil
}

// ListBookings lists an operator's bookings newest first.
func (service *Service) ListBookings(ctx context.Context, operatorID OperatorID, filter BookingFilter) ([]Booking, error) {
	if filter.Status != "" {
		if _, err := ParseBookingStatus(string(filter.Status)); err != nil {
			return nil, err
		}
	}
	return service.store.ListBookings(ctx, operatorID, filter)
}

func (service *Service) demand(ctx context.Context, store Store, operatorID OperatorID, tripDate civil.Date) (DemandSnapshot, map[TripType]bool, error) {
	since := service.nowTime().Add(-demandWindowDays * 24 * time.Hour).Unix()
	weekCount, err := store.CountBookingsCreatedSince(ctx, operatorID, since)
	if err != nil {
		return DemandSnapshot{}, nil, err
	}
	activeTrips, err := store.ListActiveTripTypes(ctx, operatorID, tripDate)
	if err != nil {
		return DemandSnapshot{}, nil, err
	}
	occupied := map[TripType]bool{}
	for _, tripType := range activeTrips {
		for _, slot := range tripType.slots() {
			occupied[slot] = true
		}
	}
	available := halfDaySlotsPerDay - len(occupied)
	if available < 0 {
		available = 0
	}
	return DemandSnapshot{WeekBookingCount: weekCount, AvailableSlotsForDate: available}, occupied, nil
}

func slotAvailable(occupied map[TripType]bool, tripType TripType) bool {
	for _, slot := range tripType.slots() {
		if occupied[slot] {
			return false
		}
	}
	return true
}

// commit writes updated over prior with the next version.
func (service *Service) commit(ctx context.Context, prior Booking, updated Booking) (Booking, error) {
	return service.commitIn(ctx, service.store, prior, updated)
}

func (service *Service) commitIn(ctx context.Context, store Store, prior Booking, updated Booking) (Booking, error) {
	updated.Version = prior.Version + 1
	updated.UpdatedAt = service.nowTime()
	if err := updated.Validate(); err != nil {
		return prior, err
	}
	if err := store.UpdateBooking(ctx, prior, updated); err != nil {
		return prior, err
	}
	return updated, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func (service *Service) today() civil.Date {
	return civil.DateOf(service.now())
}

func (service *Service) nowTime() time.Time {
	return service.now().UTC()
}

func (service *Service) nowUnix() int64 {
	return service.nowTime().Unix()
}

func deriveIdempotencyKey(bookingID BookingID, version int64, intent string, kind HoldKind) string {
	return strings.Join([]string{bookingID.String(), intent, string(kind), fmt.Sprint(version)}, idempotencyKeyDelimiter)
}

func paymentMetadata(booking Booking, kind HoldKind) map[string]string {
	return map[string]string{
		MetadataBookingID:  booking.ID.String(),
		MetadataOperatorID: booking.OperatorID.String(),
		MetadataHoldKind:   string(kind),
		"trip_date":        booking.TripDate.String(),
		"trip_type":        string(booking.TripType),
	}
}

func depositDescription(operator Operator, booking Booking) string {
	return fmt.Sprintf("%s - %s on %s. Deposit to reserve your spot. Remainder (%s) paid day of trip.",
		operator.BusinessName, booking.TripType, booking.TripDate, FormatCents(booking.Price.RemainderDue()))
}

// FormatCents renders an amount as dollars and cents.
func FormatCents(amount AmountCents) string {
	sign := ""
	raw := amount.Int64()
	if raw < 0 {
		sign = "-"
		raw = -raw
	}
	return fmt.Sprintf("%s$%d.%02d", sign, raw/100, raw%100)
}

func unixTime(seconds int64) time.Time {
	return time.Unix(seconds, 0).UTC()
}
