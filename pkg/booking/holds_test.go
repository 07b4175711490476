package booking

import (
	"context"
	"errors"
	"testing"
)

func withTripHold(test *testing.T, amount AmountCents) func(booking *Booking) {
	test.Helper()
	ref := mustPaymentRef(test, tripHoldRefValue)
	return func(booking *Booking) {
		booking.Status = BookingStatusConfirmed
		booking.DepositStatus = DepositStatusCaptured
		booking.TripHold = Hold{Amount: amount, PaymentRef: ref, Status: HoldStatusAuthorized}
	}
}

func TestTripHoldCapture(test *testing.T) {
	test.Parallel()

	testCases := []struct {
		name            string
		action          HoldAction
		amount          AmountCents
		expectedCapture AmountCents
		expectedMessage string
	}{
		{
			name:            "partial capture of the full amount",
			action:          HoldActionPartialCaptureHold,
			amount:          100000,
			expectedCapture: 100000,
			expectedMessage: "Partial capture of $1000.00 completed.",
		},
		{
			name:            "partial capture of half",
			action:          HoldActionPartialCaptureHold,
			amount:          50000,
			expectedCapture: 50000,
			expectedMessage: "Partial capture of $500.00 completed.",
		},
		{
			name:            "full capture",
			action:          HoldActionCaptureHold,
			expectedCapture: 100000,
			expectedMessage: "Full trip amount has been captured.",
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			fixture := newServiceFixture(test)
			fixture.gateway.fullCapture = 100000
			seeded := seedBooking(test, fixture.store, withTripHold(test, 100000))

			result, err := fixture.service.ApplyHoldAction(context.Background(), HoldActionRequest{
				OperatorID: seeded.OperatorID,
				BookingID:  seeded.ID,
				Action:     testCase.action,
				PaymentRef: mustPaymentRef(test, tripHoldRefValue),
				Amount:     testCase.amount,
			})
			if err != nil {
				test.Fatalf("hold action: %v", err)
			}
			hold := result.Booking.TripHold
			if hold.Status != HoldStatusCaptured || hold.CapturedAmount != testCase.expectedCapture {
				test.Fatalf(errorMismatch, testCase.expectedCapture, hold)
			}
			if result.Message != testCase.expectedMessage {
				test.Fatalf(errorMismatch, testCase.expectedMessage, result.Message)
			}
			if len(fixture.gateway.captures) != 1 || fixture.gateway.captures[0].Amount != testCase.amount {
				test.Fatalf("unexpected captures %+v", fixture.gateway.captures)
			}
			if len(fixture.gateway.cancels) != 0 {
				test.Fatalf("expected no cancel after capture, got %d", len(fixture.gateway.cancels))
			}
			if result.Booking.Status != BookingStatusConfirmed || result.Booking.DepositStatus != DepositStatusCaptured {
				test.Fatalf("deposit state changed: %s", stateLabel(result.Booking, HoldKindDeposit))
			}
		})
	}
}

func TestHoldActionRejections(test *testing.T) {
	test.Parallel()

	testCases := []struct {
		name     string
		mutate   func(booking *Booking)
		request  func(request HoldActionRequest) HoldActionRequest
		expected error
	}{
		{
			name: "reference mismatch",
			request: func(request HoldActionRequest) HoldActionRequest {
				request.PaymentRef = PaymentRef{value: "pi_someone_else"}
				return request
			},
			expected: ErrNotFound,
		},
		{
			name: "missing reference",
			request: func(request HoldActionRequest) HoldActionRequest {
				request.PaymentRef = PaymentRef{}
				return request
			},
			expected: ErrInvalidPaymentRef,
		},
		{
			name: "hold already captured",
			mutate: func(booking *Booking) {
				booking.TripHold.Status = HoldStatusCaptured
				booking.TripHold.CapturedAmount = booking.TripHold.Amount
			},
			expected: ErrInvalidTransition,
		},
		{
			name: "partial capture without amount",
			request: func(request HoldActionRequest) HoldActionRequest {
				request.Amount = 0
				return request
			},
			expected: ErrInvalidAmountCents,
		},
		{
			name: "amount above hold",
			request: func(request HoldActionRequest) HoldActionRequest {
				request.Amount = 100001
				return request
			},
			expected: ErrInvalidAmountCents,
		},
		{
			name: "unknown action",
			request: func(request HoldActionRequest) HoldActionRequest {
				request.Action = HoldAction("void")
				return request
			},
			expected: ErrInvalidAction,
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			fixture := newServiceFixture(test)
			mutate := withTripHold(test, 100000)
			seeded := seedBooking(test, fixture.store, func(booking *Booking) {
				mutate(booking)
				if testCase.mutate != nil {
					testCase.mutate(booking)
				}
			})
			request := HoldActionRequest{
				OperatorID: seeded.OperatorID,
				BookingID:  seeded.ID,
				Action:     HoldActionPartialCaptureHold,
				PaymentRef: mustPaymentRef(test, tripHoldRefValue),
				Amount:     50000,
			}
			if testCase.request != nil {
				request = testCase.request(request)
			}

			_, err := fixture.service.ApplyHoldAction(context.Background(), request)
			if !errors.Is(err, testCase.expected) {
				test.Fatalf(errorMismatch, testCase.expected, err)
			}
			if fixture.gateway.captureCount() != 0 {
				test.Fatalf("expected no capture call")
			}
			if stored := fixture.store.mustBooking(test, seeded.ID); stored.Version != seeded.Version {
				test.Fatalf(errorMismatch, seeded.Version, stored.Version)
			}
		})
	}
}

func TestSecurityDepositRelease(test *testing.T) {
	test.Parallel()

	fixture := newServiceFixture(test)
	seeded := seedBooking(test, fixture.store, func(booking *Booking) {
		booking.Status = BookingStatusCompleted
		booking.DepositStatus = DepositStatusCaptured
		booking.SecurityDeposit = Hold{Amount: 25000, PaymentRef: PaymentRef{value: securityRefValue}, Status: HoldStatusAuthorized}
	})

	result, err := fixture.service.ApplyHoldAction(context.Background(), HoldActionRequest{
		OperatorID: seeded.OperatorID,
		BookingID:  seeded.ID,
		Action:     HoldActionReleaseDeposit,
		PaymentRef: mustPaymentRef(test, securityRefValue),
	})
	if err != nil {
		test.Fatalf("release deposit: %v", err)
	}
	if result.Booking.SecurityDeposit.Status != HoldStatusReleased {
		test.Fatalf(errorMismatch, HoldStatusReleased, result.Booking.SecurityDeposit.Status)
	}
	if result.Message != "Security deposit hold has been released." {
		test.Fatalf(errorMismatch, "release message", result.Message)
	}
	if len(fixture.gateway.cancels) != 1 || fixture.gateway.cancels[0].Ref.String() != securityRefValue {
		test.Fatalf("unexpected cancels %+v", fixture.gateway.cancels)
	}
	if fixture.gateway.cancels[0].IdempotencyKey != "booking-1:cancel:security_deposit:2" {
		test.Fatalf(errorMismatch, "booking-1:cancel:security_deposit:2", fixture.gateway.cancels[0].IdempotencyKey)
	}
}

func TestPlaceHold(test *testing.T) {
	test.Parallel()

	fixture := newServiceFixture(test)
	seeded := seedBooking(test, fixture.store, func(booking *Booking) {
		booking.Status = BookingStatusConfirmed
		booking.DepositStatus = DepositStatusCaptured
	})
	fixture.gateway.authorization = Authorization{Ref: PaymentRef{value: securityRefValue}, Status: PaymentStatusAuthorized}

	stored, err := fixture.service.PlaceHold(context.Background(), PlaceHoldRequest{
		OperatorID:    seeded.OperatorID,
		BookingID:     seeded.ID,
		Kind:          HoldKindSecurityDeposit,
		PaymentMethod: "pm_card_visa",
	})
	if err != nil {
		test.Fatalf("place hold: %v", err)
	}
	hold := stored.SecurityDeposit
	if hold.Status != HoldStatusAuthorized || hold.Amount != 25000 || hold.PaymentRef.String() != securityRefValue {
		test.Fatalf("unexpected security deposit %+v", hold)
	}
	request := fixture.gateway.authorizes[0]
	if request.Hold != HoldKindSecurityDeposit || request.Amount != 25000 || request.PaymentMethod != "pm_card_visa" {
		test.Fatalf("unexpected authorization request %+v", request)
	}
	if request.Metadata[MetadataHoldKind] != string(HoldKindSecurityDeposit) || request.Metadata[MetadataBookingID] != seeded.ID.String() {
		test.Fatalf("unexpected metadata %v", request.Metadata)
	}

	_, err = fixture.service.PlaceHold(context.Background(), PlaceHoldRequest{
		OperatorID:    seeded.OperatorID,
		BookingID:     seeded.ID,
		Kind:          HoldKindSecurityDeposit,
		PaymentMethod: "pm_card_visa",
	})
	if !errors.Is(err, ErrInvalidTransition) {
		test.Fatalf(errorMismatch, ErrInvalidTransition, err)
	}
}

func TestPlaceHoldRejections(test *testing.T) {
	test.Parallel()

	testCases := []struct {
		name     string
		kind     HoldKind
		method   string
		operator func(operator *Operator)
		expected error
	}{
		{name: "deposit is not a secondary hold", kind: HoldKindDeposit, method: "pm_card_visa", expected: ErrInvalidHoldKind},
		{name: "missing payment method", kind: HoldKindTripHold, method: " ", expected: ErrMissingPaymentMethod},
		{
			name:   "trip hold disabled",
			kind:   HoldKindTripHold,
			method: "pm_card_visa",
			operator: func(operator *Operator) {
				operator.TripHoldEnabled = false
			},
			expected: ErrHoldNotEnabled,
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			fixture := newServiceFixture(test)
			if testCase.operator != nil {
				operator := fixture.store.operators[mustOperatorID(test, operatorIDValue)]
				testCase.operator(&operator)
				fixture.store.operators[operator.ID] = operator
			}
			seeded := seedBooking(test, fixture.store, nil)

			_, err := fixture.service.PlaceHold(context.Background(), PlaceHoldRequest{
				OperatorID:    seeded.OperatorID,
				BookingID:     seeded.ID,
				Kind:          testCase.kind,
				PaymentMethod: testCase.method,
			})
			if !errors.Is(err, testCase.expected) {
				test.Fatalf(errorMismatch, testCase.expected, err)
			}
			if len(fixture.gateway.authorizes) != 0 {
				test.Fatalf("expected no authorization call")
			}
		})
	}
}

func TestParseHoldAction(test *testing.T) {
	test.Parallel()

	testCases := []struct {
		raw      string
		expected HoldKind
	}{
		{raw: "release-hold", expected: HoldKindTripHold},
		{raw: "partial-capture-hold", expected: HoldKindTripHold},
		{raw: "capture-deposit", expected: HoldKindSecurityDeposit},
	}
	for _, testCase := range testCases {
		action, err := ParseHoldAction(testCase.raw)
		if err != nil {
			test.Fatalf("parse %q: %v", testCase.raw, err)
		}
		if action.Kind() != testCase.expected {
			test.Fatalf(errorMismatch, testCase.expected, action.Kind())
		}
	}
	if _, err := ParseHoldAction("refund-hold"); !errors.Is(err, ErrInvalidAction) {
		test.Fatalf(errorMismatch, ErrInvalidAction, err)
	}
}
