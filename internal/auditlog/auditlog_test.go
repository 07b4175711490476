package auditlog

import (
	"context"
	"errors"
	"testing"

	"github.com/castoff/charterpay/pkg/booking"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogOperationLevels(test *testing.T) {
	test.Parallel()
	bookingID, _ := booking.NewBookingID("booking-1")
	operatorID, _ := booking.NewOperatorID("op-1")

	testCases := []struct {
		name  string
		entry booking.OperationLog
		level zapcore.Level
	}{
		{name: "ok", entry: booking.OperationLog{Operation: "confirm", BookingID: bookingID, OperatorID: operatorID, From: "pending/authorized", To: "confirmed/captured", Status: "ok"}, level: zapcore.InfoLevel},
		{name: "noop", entry: booking.OperationLog{Operation: "reconcile", EventID: "evt_1", Status: "noop"}, level: zapcore.InfoLevel},
		{name: "error", entry: booking.OperationLog{Operation: "confirm", BookingID: bookingID, Status: "error", Error: errors.New("declined")}, level: zapcore.WarnLevel},
		{name: "error without status", entry: booking.OperationLog{Operation: "notify", Error: errors.New("smtp")}, level: zapcore.WarnLevel},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			core, logs := observer.New(zapcore.DebugLevel)
			New(zap.New(core)).LogOperation(context.Background(), testCase.entry)

			entries := logs.All()
			if len(entries) != 1 {
				test.Fatalf("expected one entry, got %d", len(entries))
			}
			if entries[0].Level != testCase.level {
				test.Fatalf("expected %v, got %v", testCase.level, entries[0].Level)
			}
			fields := entries[0].ContextMap()
			if fields["operation"] != testCase.entry.Operation {
				test.Fatalf("expected %v, got %v", testCase.entry.Operation, fields["operation"])
			}
			if testCase.entry.BookingID.IsZero() {
				if _, ok := fields["booking_id"]; ok {
					test.Fatalf("empty booking id must be omitted")
				}
			} else if fields["booking_id"] != "booking-1" {
				test.Fatalf("expected booking-1, got %v", fields["booking_id"])
			}
		})
	}
}

func TestNilLoggerIsSafe(test *testing.T) {
	test.Parallel()
	New(nil).LogOperation(context.Background(), booking.OperationLog{Operation: "submit", Status: "ok"})
}
