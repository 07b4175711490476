package booking

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestOperationErrorFormatting(test *testing.T) {
	test.Parallel()

	err := WrapError(operationConfirm, "booking", "invalid_transition", ErrInvalidTransition)
	if err.Error() != "confirm.booking.invalid_transition: invalid transition" {
		test.Fatalf("unexpected message %q", err.Error())
	}
	var operationError OperationError
	if !errors.As(err, &operationError) {
		test.Fatalf("expected OperationError")
	}
	if operationError.Operation() != operationConfirm || operationError.Subject() != "booking" || operationError.Code() != "invalid_transition" {
		test.Fatalf("unexpected segments %+v", operationError)
	}
	if WrapError("op", "subject", "code", nil) != nil {
		test.Fatalf("expected nil for nil cause")
	}
}

func TestTranslatePaymentError(test *testing.T) {
	test.Parallel()

	testCases := []struct {
		name      string
		cause     error
		kind      error
		ambiguous bool
	}{
		{name: "declined", cause: fmt.Errorf("%w: card_declined", ErrPaymentDeclined), kind: ErrPaymentDeclined},
		{name: "already finalized", cause: ErrPaymentAlreadyFinalized, kind: ErrPaymentAlreadyFinalized},
		{name: "transient", cause: fmt.Errorf("%w: 503", ErrPaymentTransient), kind: ErrPaymentTransient},
		{name: "ambiguous", cause: ErrPaymentAmbiguous, kind: ErrPaymentAmbiguous, ambiguous: true},
		{name: "unclassified", cause: context.DeadlineExceeded, kind: ErrPaymentAmbiguous, ambiguous: true},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			translated := translatePaymentError(operationConfirm, "deposit", testCase.cause)
			if !errors.Is(translated, ErrPaymentAdapterFailure) || !errors.Is(translated, testCase.kind) {
				test.Fatalf(errorMismatch, testCase.kind, translated)
			}
			if errors.Is(translated, context.DeadlineExceeded) {
				test.Fatalf("adapter cause leaked through translation")
			}
			if isAmbiguousPaymentError(testCase.cause) != testCase.ambiguous {
				test.Fatalf(errorMismatch, testCase.ambiguous, !testCase.ambiguous)
			}
		})
	}
	if translatePaymentError(operationConfirm, "deposit", nil) != nil {
		test.Fatalf("expected nil translation for nil error")
	}
}
