package gormstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/castoff/charterpay/internal/notify"
	"github.com/castoff/charterpay/pkg/booking"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const (
	errorMismatch   = "expected %v, got %v"
	operatorIDValue = "op-1"
)

var createdAt = time.Date(2026, time.February, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(test *testing.T) *Store {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(test.TempDir()+"/charterpay.db"), &gorm.Config{})
	if err != nil {
		test.Fatalf("sqlite open failed: %v", err)
	}
	if err := Migrate(db); err != nil {
		test.Fatalf("automigrate failed: %v", err)
	}
	store := New(db)
	operatorID := mustOperatorID(test, operatorIDValue)
	if err := store.UpsertOperator(context.Background(), booking.Operator{
		ID:                     operatorID,
		Slug:                   "angelo",
		BusinessName:           "Bahamas Water Tours",
		Email:                  "captain@example.com",
		PaymentAccountRef:      "acct_operator",
		OnboardingComplete:     true,
		SecurityDepositEnabled: true,
		SecurityDepositAmount:  25000,
	}); err != nil {
		test.Fatalf("operator upsert failed: %v", err)
	}
	return store
}

func mustOperatorID(test *testing.T, raw string) booking.OperatorID {
	test.Helper()
	operatorID, err := booking.NewOperatorID(raw)
	if err != nil {
		test.Fatalf("operator id: %v", err)
	}
	return operatorID
}

func mustBookingID(test *testing.T, raw string) booking.BookingID {
	test.Helper()
	bookingID, err := booking.NewBookingID(raw)
	if err != nil {
		test.Fatalf("booking id: %v", err)
	}
	return bookingID
}

func mustPaymentRef(test *testing.T, raw string) booking.PaymentRef {
	test.Helper()
	ref, err := booking.NewPaymentRef(raw)
	if err != nil {
		test.Fatalf("payment ref: %v", err)
	}
	return ref
}

func sampleBooking(test *testing.T, id string, paymentRef string) booking.Booking {
	test.Helper()
	return booking.Booking{
		ID:         mustBookingID(test, id),
		OperatorID: mustOperatorID(test, operatorIDValue),
		Customer:   booking.Customer{Name: "Dana", Email: "dana@example.com"},
		TripDate:   civil.Date{Year: 2026, Month: time.February, Day: 20},
		TripType:   booking.TripTypeHalfDayMorning,
		PartySize:  4,
		Price: booking.PriceBreakdown{
			BasePrice:     60000,
			Adjustments:   []booking.PriceAdjustment{{Reason: "High Season", Type: booking.AdjustmentPercentage, Value: 20, Amount: 12000}},
			FinalPrice:    72000,
			DepositAmount: 10000,
		},
		Status:          booking.BookingStatusPending,
		DepositStatus:   booking.DepositStatusAuthorized,
		PaymentRef:      mustPaymentRef(test, paymentRef),
		SecurityDeposit: booking.Hold{Status: booking.HoldStatusNone},
		TripHold:        booking.Hold{Status: booking.HoldStatusNone},
		Version:         1,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

func TestBookingRoundTrip(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()

	original := sampleBooking(test, "booking-1", "pi_deposit")
	if err := store.CreateBooking(ctx, original); err != nil {
		test.Fatalf("create failed: %v", err)
	}
	loaded, err := store.GetBooking(ctx, original.ID)
	if err != nil {
		test.Fatalf("get failed: %v", err)
	}
	if loaded.PaymentRef.String() != "pi_deposit" || loaded.TripDate != original.TripDate || loaded.Price.FinalPrice != 72000 {
		test.Fatalf("unexpected booking %+v", loaded)
	}
	if len(loaded.Price.Adjustments) != 1 || loaded.Price.Adjustments[0].Reason != "High Season" {
		test.Fatalf("unexpected adjustments %+v", loaded.Price.Adjustments)
	}
	if !loaded.CreatedAt.Equal(createdAt) {
		test.Fatalf(errorMismatch, createdAt, loaded.CreatedAt)
	}
	if err := store.CreateBooking(ctx, original); !errors.Is(err, booking.ErrBookingExists) {
		test.Fatalf(errorMismatch, booking.ErrBookingExists, err)
	}
	if _, err := store.GetBooking(ctx, mustBookingID(test, "missing")); !errors.Is(err, booking.ErrNotFound) {
		test.Fatalf(errorMismatch, booking.ErrNotFound, err)
	}
}

func TestUpdateBookingCompareAndSwap(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()

	original := sampleBooking(test, "booking-1", "pi_deposit")
	if err := store.CreateBooking(ctx, original); err != nil {
		test.Fatalf("create failed: %v", err)
	}
	notifiedAt := createdAt.Add(time.Minute)
	updated := original
	updated.Status = booking.BookingStatusConfirmed
	updated.DepositStatus = booking.DepositStatusCaptured
	updated.Version = 2
	updated.OperatorNotifiedAt = &notifiedAt
	updated.TripHold = booking.Hold{Amount: 72000, PaymentRef: mustPaymentRef(test, "pi_trip_hold"), Status: booking.HoldStatusAuthorized}
	if err := store.UpdateBooking(ctx, original, updated); err != nil {
		test.Fatalf("update failed: %v", err)
	}

	stale := updated
	stale.Notes = "late writer"
	stale.Version = 2
	if err := store.UpdateBooking(ctx, original, stale); !errors.Is(err, booking.ErrConcurrentModification) {
		test.Fatalf(errorMismatch, booking.ErrConcurrentModification, err)
	}

	loaded, err := store.GetBooking(ctx, original.ID)
	if err != nil {
		test.Fatalf("get failed: %v", err)
	}
	if loaded.Status != booking.BookingStatusConfirmed || loaded.Version != 2 || loaded.Notes != "" {
		test.Fatalf("unexpected booking %+v", loaded)
	}
	if loaded.OperatorNotifiedAt == nil || !loaded.OperatorNotifiedAt.Equal(notifiedAt) {
		test.Fatalf(errorMismatch, notifiedAt, loaded.OperatorNotifiedAt)
	}

	missing := sampleBooking(test, "booking-missing", "pi_other")
	if err := store.UpdateBooking(ctx, missing, missing); !errors.Is(err, booking.ErrNotFound) {
		test.Fatalf(errorMismatch, booking.ErrNotFound, err)
	}
}

func TestPendingIntentPersists(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()

	original := sampleBooking(test, "booking-1", "pi_deposit")
	if err := store.CreateBooking(ctx, original); err != nil {
		test.Fatalf("create failed: %v", err)
	}
	claimed := original
	claimed.Version = 2
	claimed.Pending = booking.PendingIntent{
		Action:         "capture",
		Hold:           booking.HoldKindDeposit,
		StartedUnixUTC: createdAt.Unix(),
		IdempotencyKey: "booking-1:capture:deposit:2",
	}
	if err := store.UpdateBooking(ctx, original, claimed); err != nil {
		test.Fatalf("update failed: %v", err)
	}
	loaded, err := store.GetBooking(ctx, original.ID)
	if err != nil {
		test.Fatalf("get failed: %v", err)
	}
	if loaded.Pending != claimed.Pending {
		test.Fatalf(errorMismatch, claimed.Pending, loaded.Pending)
	}
}

func TestFindBookingByPaymentRef(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()

	value := sampleBooking(test, "booking-1", "pi_deposit")
	value.SecurityDeposit = booking.Hold{Amount: 25000, PaymentRef: mustPaymentRef(test, "pi_security"), Status: booking.HoldStatusAuthorized}
	value.TripHold = booking.Hold{Amount: 72000, PaymentRef: mustPaymentRef(test, "pi_trip_hold"), Status: booking.HoldStatusAuthorized}
	if err := store.CreateBooking(ctx, value); err != nil {
		test.Fatalf("create failed: %v", err)
	}

	testCases := []struct {
		ref  string
		kind booking.HoldKind
	}{
		{ref: "pi_deposit", kind: booking.HoldKindDeposit},
		{ref: "pi_security", kind: booking.HoldKindSecurityDeposit},
		{ref: "pi_trip_hold", kind: booking.HoldKindTripHold},
	}
	for _, testCase := range testCases {
		found, kind, err := store.FindBookingByPaymentRef(ctx, mustPaymentRef(test, testCase.ref))
		if err != nil {
			test.Fatalf("lookup %s failed: %v", testCase.ref, err)
		}
		if found.ID != value.ID || kind != testCase.kind {
			test.Fatalf(errorMismatch, testCase.kind, kind)
		}
	}
	if _, _, err := store.FindBookingByPaymentRef(ctx, mustPaymentRef(test, "pi_unknown")); !errors.Is(err, booking.ErrNotFound) {
		test.Fatalf(errorMismatch, booking.ErrNotFound, err)
	}
}

func TestListingAndDemandQueries(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()
	operatorID := mustOperatorID(test, operatorIDValue)

	first := sampleBooking(test, "booking-1", "pi_one")
	second := sampleBooking(test, "booking-2", "pi_two")
	second.TripType = booking.TripTypeHalfDayAfternoon
	second.CreatedAt = createdAt.Add(time.Hour)
	declined := sampleBooking(test, "booking-3", "pi_three")
	declined.Status = booking.BookingStatusDeclined
	declined.DepositStatus = booking.DepositStatusCancelled
	declined.TripType = booking.TripTypeFullDay
	declined.CreatedAt = createdAt.Add(-10 * 24 * time.Hour)
	for _, value := range []booking.Booking{first, second, declined} {
		if err := store.CreateBooking(ctx, value); err != nil {
			test.Fatalf("create failed: %v", err)
		}
	}

	listed, err := store.ListBookings(ctx, operatorID, booking.BookingFilter{})
	if err != nil {
		test.Fatalf("list failed: %v", err)
	}
	if len(listed) != 3 || listed[0].ID.String() != "booking-2" {
		test.Fatalf("unexpected order %+v", listed)
	}
	pending, err := store.ListBookings(ctx, operatorID, booking.BookingFilter{Status: booking.BookingStatusPending, Limit: 1})
	if err != nil || len(pending) != 1 {
		test.Fatalf("unexpected filtered list %v %v", pending, err)
	}

	count, err := store.CountBookingsCreatedSince(ctx, operatorID, createdAt.Add(-7*24*time.Hour).Unix())
	if err != nil || count != 2 {
		test.Fatalf(errorMismatch, 2, count)
	}
	tripTypes, err := store.ListActiveTripTypes(ctx, operatorID, first.TripDate)
	if err != nil {
		test.Fatalf("trip types failed: %v", err)
	}
	if len(tripTypes) != 2 {
		test.Fatalf("expected only active bookings, got %v", tripTypes)
	}
}

func TestCatalogUpserts(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()
	operatorID := mustOperatorID(test, operatorIDValue)

	rule := booking.PricingRule{
		OperatorID:  operatorID,
		TripType:    booking.TripTypeFullDay,
		DisplayName: "Full Day",
		Config: booking.PricingConfig{
			BasePrice:             100000,
			DepositAmount:         20000,
			DynamicPricingEnabled: true,
			SeasonalRules:         booking.DefaultSeasonalRules(),
		},
		Active: true,
	}
	if err := store.UpsertPricingRule(ctx, rule); err != nil {
		test.Fatalf("upsert failed: %v", err)
	}
	rule.Config.BasePrice = 110000
	if err := store.UpsertPricingRule(ctx, rule); err != nil {
		test.Fatalf("second upsert failed: %v", err)
	}
	loaded, err := store.GetPricingRule(ctx, operatorID, booking.TripTypeFullDay)
	if err != nil {
		test.Fatalf("get pricing failed: %v", err)
	}
	if loaded.Config.BasePrice != 110000 || len(loaded.Config.SeasonalRules) != 4 {
		test.Fatalf("unexpected pricing %+v", loaded)
	}

	rule.Active = false
	if err := store.UpsertPricingRule(ctx, rule); err != nil {
		test.Fatalf("deactivate failed: %v", err)
	}
	if _, err := store.GetPricingRule(ctx, operatorID, booking.TripTypeFullDay); !errors.Is(err, booking.ErrNotFound) {
		test.Fatalf(errorMismatch, booking.ErrNotFound, err)
	}

	operator, err := store.GetOperatorBySlug(ctx, "angelo")
	if err != nil || operator.ID != operatorID || operator.SecurityDepositAmount != 25000 {
		test.Fatalf("unexpected operator %+v %v", operator, err)
	}
	if _, err := store.GetOperator(ctx, mustOperatorID(test, "op-missing")); !errors.Is(err, booking.ErrNotFound) {
		test.Fatalf(errorMismatch, booking.ErrNotFound, err)
	}
}

func TestRecordProcessorEventDuplicate(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()

	receipt := booking.EventReceipt{
		EventID:         "evt_1",
		EventType:       booking.EventPaymentSucceeded,
		BookingID:       mustBookingID(test, "booking-1"),
		ReceivedUnixUTC: createdAt.Unix(),
	}
	if err := store.RecordProcessorEvent(ctx, receipt); err != nil {
		test.Fatalf("record failed: %v", err)
	}
	if err := store.RecordProcessorEvent(ctx, receipt); !errors.Is(err, booking.ErrDuplicateEvent) {
		test.Fatalf(errorMismatch, booking.ErrDuplicateEvent, err)
	}
}

func TestWithTxRollsBack(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()
	sentinel := errors.New("abort")

	err := store.WithTx(ctx, func(ctx context.Context, txStore booking.Store) error {
		if err := txStore.CreateBooking(ctx, sampleBooking(test, "booking-1", "pi_deposit")); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		test.Fatalf(errorMismatch, sentinel, err)
	}
	if _, err := store.GetBooking(ctx, mustBookingID(test, "booking-1")); !errors.Is(err, booking.ErrNotFound) {
		test.Fatalf(errorMismatch, booking.ErrNotFound, err)
	}
}

func TestOutboxLifecycle(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	ctx := context.Background()
	now := createdAt.Unix()

	message := notify.Message{
		Kind:           booking.NotificationConfirmed,
		BookingID:      "booking-1",
		Recipient:      "dana@example.com",
		Subject:        "Your trip is confirmed",
		Body:           "See you on the water.",
		CreatedUnixUTC: now,
	}
	if err := store.Enqueue(ctx, message); err != nil {
		test.Fatalf("enqueue failed: %v", err)
	}
	due, err := store.ListDue(ctx, now, 10)
	if err != nil || len(due) != 1 || due[0].ID == "" {
		test.Fatalf("unexpected due messages %+v %v", due, err)
	}

	if err := store.MarkFailed(ctx, due[0].ID, notify.Failure{Attempts: 1, LastError: "dial", NextAttemptUnixUTC: now + 60}); err != nil {
		test.Fatalf("mark failed: %v", err)
	}
	if due, _ := store.ListDue(ctx, now, 10); len(due) != 0 {
		test.Fatalf("expected retry to wait, got %+v", due)
	}
	retry, err := store.ListDue(ctx, now+60, 10)
	if err != nil || len(retry) != 1 || retry[0].Attempts != 1 {
		test.Fatalf("unexpected retry %+v %v", retry, err)
	}

	if err := store.MarkSent(ctx, retry[0].ID, now+61); err != nil {
		test.Fatalf("mark sent: %v", err)
	}
	if due, _ := store.ListDue(ctx, now+120, 10); len(due) != 0 {
		test.Fatalf("expected sent message to leave the queue, got %+v", due)
	}
	if err := store.MarkSent(ctx, "00000000-0000-0000-0000-000000000000", now); !errors.Is(err, booking.ErrNotFound) {
		test.Fatalf(errorMismatch, booking.ErrNotFound, err)
	}
}
