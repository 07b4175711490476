package booking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
)

const (
	operatorIDValue  = "op-1"
	operatorSlug     = "angelo"
	depositRefValue  = "pi_deposit"
	tripHoldRefValue = "pi_trip_hold"
	securityRefValue = "pi_security"
	bookingIDValue   = "booking-1"
	errorMismatch    = "expected %v, got %v"
)

var fixedNow = time.Date(2026, time.February, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: fixedNow}
}

func (clock *testClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *testClock) Advance(duration time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(duration)
}

type memoryStore struct {
	txMu      sync.Mutex
	mu        sync.Mutex
	bookings  map[BookingID]Booking
	operators map[OperatorID]Operator
	rules     map[string]PricingRule
	receipts  map[string]EventReceipt
	updates   int
	createErr error
	updateErr error
	getErr    error
}

func newMemoryStore(test *testing.T) *memoryStore {
	test.Helper()
	store := &memoryStore{
		bookings:  make(map[BookingID]Booking),
		operators: make(map[OperatorID]Operator),
		rules:     make(map[string]PricingRule),
		receipts:  make(map[string]EventReceipt),
	}
	operator := testOperator(test)
	store.operators[operator.ID] = operator
	store.putRule(PricingRule{
		OperatorID:  operator.ID,
		TripType:    TripTypeHalfDayMorning,
		DisplayName: "Half Day AM (8am-12pm)",
		Config:      PricingConfig{BasePrice: 60000, DepositAmount: 10000},
		Active:      true,
	})
	store.putRule(PricingRule{
		OperatorID:  operator.ID,
		TripType:    TripTypeHalfDayAfternoon,
		DisplayName: "Half Day PM (1pm-5pm)",
		Config:      PricingConfig{BasePrice: 60000, DepositAmount: 10000},
		Active:      true,
	})
	store.putRule(PricingRule{
		OperatorID:  operator.ID,
		TripType:    TripTypeFullDay,
		DisplayName: "Full Day (8am-5pm)",
		Config:      PricingConfig{BasePrice: 100000, DepositAmount: 10000},
		Active:      true,
	})
	return store
}

func ruleKey(operatorID OperatorID, tripType TripType) string {
	return operatorID.String() + "/" + string(tripType)
}

func (store *memoryStore) putRule(rule PricingRule) {
	store.rules[ruleKey(rule.OperatorID, rule.TripType)] = rule
}

// WithTx runs transactions one at a time, the way the SQL stores serialize on the operator row lock.
func (store *memoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.txMu.Lock()
	defer store.txMu.Unlock()
	store.mu.Lock()
	bookings := make(map[BookingID]Booking, len(store.bookings))
	for id, booking := range store.bookings {
		bookings[id] = booking
	}
	receipts := make(map[string]EventReceipt, len(store.receipts))
	for id, receipt := range store.receipts {
		receipts[id] = receipt
	}
	store.mu.Unlock()
	if err := fn(ctx, store); err != nil {
		store.mu.Lock()
		store.bookings = bookings
		store.receipts = receipts
		store.mu.Unlock()
		return err
	}
	return nil
}

func (store *memoryStore) CreateBooking(ctx context.Context, booking Booking) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.createErr != nil {
		return store.createErr
	}
	if _, exists := store.bookings[booking.ID]; exists {
		return ErrBookingExists
	}
	store.bookings[booking.ID] = booking
	return nil
}

func (store *memoryStore) GetBooking(ctx context.Context, bookingID BookingID) (Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.getErr != nil {
		return Booking{}, store.getErr
	}
	booking, ok := store.bookings[bookingID]
	if !ok {
		return Booking{}, ErrNotFound
	}
	return booking, nil
}

func (store *memoryStore) FindBookingByPaymentRef(ctx context.Context, ref PaymentRef) (Booking, HoldKind, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, booking := range store.bookings {
		switch ref {
		case booking.PaymentRef:
			return booking, HoldKindDeposit, nil
		case booking.SecurityDeposit.PaymentRef:
			return booking, HoldKindSecurityDeposit, nil
		case booking.TripHold.PaymentRef:
			return booking, HoldKindTripHold, nil
		}
	}
	return Booking{}, "", ErrNotFound
}

func (store *memoryStore) ListBookings(ctx context.Context, operatorID OperatorID, filter BookingFilter) ([]Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var bookings []Booking
	for _, booking := range store.bookings {
		if booking.OperatorID != operatorID {
			continue
		}
		if filter.Status != "" && booking.Status != filter.Status {
			continue
		}
		bookings = append(bookings, booking)
	}
	sort.Slice(bookings, func(left, right int) bool {
		return bookings[left].CreatedAt.After(bookings[right].CreatedAt)
	})
	if filter.Limit > 0 && len(bookings) > filter.Limit {
		bookings = bookings[:filter.Limit]
	}
	return bookings, nil
}

func (store *memoryStore) UpdateBooking(ctx context.Context, prior Booking, updated Booking) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.updateErr != nil {
		return store.updateErr
	}
	current, ok := store.bookings[prior.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != prior.Version {
		return WrapError("update", "booking", "version_mismatch", ErrConcurrentModification)
	}
	store.bookings[prior.ID] = updated
	store.updates++
	return nil
}

func (store *memoryStore) CountBookingsCreatedSince(ctx context.Context, operatorID OperatorID, sinceUnixUTC int64) (int, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	count := 0
	for _, booking := range store.bookings {
		if booking.OperatorID == operatorID && booking.CreatedAt.Unix() >= sinceUnixUTC {
			count++
		}
	}
	return count, nil
}

func (store *memoryStore) ListActiveTripTypes(ctx context.Context, operatorID OperatorID, tripDate civil.Date) ([]TripType, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var tripTypes []TripType
	for _, booking := range store.bookings {
		if booking.OperatorID == operatorID && booking.TripDate == tripDate && booking.Status.IsActive() {
			tripTypes = append(tripTypes, booking.TripType)
		}
	}
	return tripTypes, nil
}

func (store *memoryStore) GetOperator(ctx context.Context, operatorID OperatorID) (Operator, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	operator, ok := store.operators[operatorID]
	if !ok {
		return Operator{}, ErrNotFound
	}
	return operator, nil
}

func (store *memoryStore) GetPricingRule(ctx context.Context, operatorID OperatorID, tripType TripType) (PricingRule, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	rule, ok := store.rules[ruleKey(operatorID, tripType)]
	if !ok || !rule.Active {
		return PricingRule{}, ErrNotFound
	}
	return rule, nil
}

func (store *memoryStore) RecordProcessorEvent(ctx context.Context, receipt EventReceipt) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, exists := store.receipts[receipt.EventID]; exists {
		return ErrDuplicateEvent
	}
	store.receipts[receipt.EventID] = receipt
	return nil
}

func (store *memoryStore) put(booking Booking) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.bookings[booking.ID] = booking
}

func (store *memoryStore) mustBooking(test *testing.T, bookingID BookingID) Booking {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	booking, ok := store.bookings[bookingID]
	if !ok {
		test.Fatalf("booking %s not found", bookingID)
	}
	return booking
}

type stubGateway struct {
	mu            sync.Mutex
	authorization Authorization
	authorizeErr  error
	captureErr    error
	cancelErr     error
	refundErr     error
	expireErr     error
	fullCapture   AmountCents
	onCapture     func()
	authorizes    []AuthorizationRequest
	captures      []CaptureRequest
	cancels       []CancelRequest
	refunds       []RefundRequest
	expired       []string
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		authorization: Authorization{Ref: PaymentRef{value: depositRefValue}, Status: PaymentStatusAuthorized},
		fullCapture:   10000,
	}
}

func (gateway *stubGateway) Authorize(ctx context.Context, request AuthorizationRequest) (Authorization, error) {
	gateway.mu.Lock()
	defer gateway.mu.Unlock()
	gateway.authorizes = append(gateway.authorizes, request)
	if gateway.authorizeErr != nil {
		return Authorization{}, gateway.authorizeErr
	}
	return gateway.authorization, nil
}

func (gateway *stubGateway) Capture(ctx context.Context, request CaptureRequest) (CaptureResult, error) {
	if gateway.onCapture != nil {
		gateway.onCapture()
	}
	gateway.mu.Lock()
	defer gateway.mu.Unlock()
	gateway.captures = append(gateway.captures, request)
	if gateway.captureErr != nil {
		return CaptureResult{}, gateway.captureErr
	}
	amount := request.Amount
	if amount == 0 {
		amount = gateway.fullCapture
	}
	return CaptureResult{Status: PaymentStatusCaptured, AmountCaptured: amount}, nil
}

func (gateway *stubGateway) Cancel(ctx context.Context, request CancelRequest) (PaymentStatus, error) {
	gateway.mu.Lock()
	defer gateway.mu.Unlock()
	gateway.cancels = append(gateway.cancels, request)
	if gateway.cancelErr != nil {
		return "", gateway.cancelErr
	}
	return PaymentStatusCancelled, nil
}

func (gateway *stubGateway) Refund(ctx context.Context, request RefundRequest) (PaymentStatus, error) {
	gateway.mu.Lock()
	defer gateway.mu.Unlock()
	gateway.refunds = append(gateway.refunds, request)
	if gateway.refundErr != nil {
		return "", gateway.refundErr
	}
	return PaymentStatusRefunded, nil
}

func (gateway *stubGateway) ExpireCheckout(ctx context.Context, checkoutSessionRef string) error {
	gateway.mu.Lock()
	defer gateway.mu.Unlock()
	gateway.expired = append(gateway.expired, checkoutSessionRef)
	return gateway.expireErr
}

func (gateway *stubGateway) captureCount() int {
	gateway.mu.Lock()
	defer gateway.mu.Unlock()
	return len(gateway.captures)
}

type recorderLogger struct {
	mu      sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recorderLogger) operations() []string {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	names := make([]string, 0, len(logger.entries))
	for _, entry := range logger.entries {
		names = append(names, entry.Operation+":"+entry.Status)
	}
	return names
}

type recorderNotifier struct {
	mu            sync.Mutex
	notifications []Notification
	err           error
}

func (notifier *recorderNotifier) Notify(_ context.Context, notification Notification) error {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	notifier.notifications = append(notifier.notifications, notification)
	return notifier.err
}

func (notifier *recorderNotifier) kinds() []NotificationKind {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	kinds := make([]NotificationKind, 0, len(notifier.notifications))
	for _, notification := range notifier.notifications {
		kinds = append(kinds, notification.Kind)
	}
	return kinds
}

type serviceFixture struct {
	service  *Service
	store    *memoryStore
	gateway  *stubGateway
	clock    *testClock
	logger   *recorderLogger
	notifier *recorderNotifier
}

func newServiceFixture(test *testing.T) serviceFixture {
	test.Helper()
	fixture := serviceFixture{
		store:    newMemoryStore(test),
		gateway:  newStubGateway(),
		clock:    newTestClock(),
		logger:   &recorderLogger{},
		notifier: &recorderNotifier{},
	}
	sequence := 0
	var sequenceMu sync.Mutex
	service, err := NewService(fixture.store, fixture.gateway, fixture.clock.Now,
		WithOperationLogger(fixture.logger),
		WithNotifier(fixture.notifier),
		WithIDGenerator(func() string {
			sequenceMu.Lock()
			defer sequenceMu.Unlock()
			sequence++
			return fmt.Sprintf("booking-%d", sequence)
		}),
	)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	fixture.service = service
	return fixture
}

func testOperator(test *testing.T) Operator {
	test.Helper()
	return Operator{
		ID:                     mustOperatorID(test, operatorIDValue),
		Slug:                   operatorSlug,
		BusinessName:           "Bahamas Water Tours",
		Email:                  "captain@example.com",
		PaymentAccountRef:      "acct_operator",
		OnboardingComplete:     true,
		SecurityDepositEnabled: true,
		SecurityDepositAmount:  25000,
		TripHoldEnabled:        true,
	}
}

// seedBooking stores a (pending, authorized) half-day booking; mutate adjusts it before insertion.
func seedBooking(test *testing.T, store *memoryStore, mutate func(booking *Booking)) Booking {
	test.Helper()
	booking := Booking{
		ID:         mustBookingID(test, bookingIDValue),
		OperatorID: mustOperatorID(test, operatorIDValue),
		Customer:   Customer{Name: "Ada Diver", Email: "ada@example.com"},
		TripDate:   civil.Date{Year: 2026, Month: time.February, Day: 20},
		TripType:   TripTypeHalfDayMorning,
		PartySize:  4,
		Price: PriceBreakdown{
			BasePrice:     60000,
			Adjustments:   []PriceAdjustment{},
			FinalPrice:    60000,
			DepositAmount: 10000,
		},
		Status:          BookingStatusPending,
		DepositStatus:   DepositStatusAuthorized,
		PaymentRef:      mustPaymentRef(test, depositRefValue),
		SecurityDeposit: Hold{Status: HoldStatusNone},
		TripHold:        Hold{Status: HoldStatusNone},
		Version:         1,
		CreatedAt:       fixedNow.Add(-time.Hour),
		UpdatedAt:       fixedNow.Add(-time.Hour),
	}
	if mutate != nil {
		mutate(&booking)
	}
	if err := booking.Validate(); err != nil {
		test.Fatalf("seed booking invalid: %v", err)
	}
	store.put(booking)
	return booking
}

func mustBookingID(test *testing.T, raw string) BookingID {
	test.Helper()
	bookingID, err := NewBookingID(raw)
	if err != nil {
		test.Fatalf("booking id: %v", err)
	}
	return bookingID
}

func mustOperatorID(test *testing.T, raw string) OperatorID {
	test.Helper()
	operatorID, err := NewOperatorID(raw)
	if err != nil {
		test.Fatalf("operator id: %v", err)
	}
	return operatorID
}

func mustPaymentRef(test *testing.T, raw string) PaymentRef {
	test.Helper()
	ref, err := NewPaymentRef(raw)
	if err != nil {
		test.Fatalf("payment ref: %v", err)
	}
	return ref
}

func mustDate(test *testing.T, raw string) civil.Date {
	test.Helper()
	date, err := civil.ParseDate(raw)
	if err != nil {
		test.Fatalf("parse date: %v", err)
	}
	return date
}

func actionRequest(test *testing.T, action LifecycleAction) ActionRequest {
	test.Helper()
	return ActionRequest{
		OperatorID: mustOperatorID(test, operatorIDValue),
		BookingID:  mustBookingID(test, bookingIDValue),
		Action:     action,
	}
}
