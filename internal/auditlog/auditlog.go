// Package auditlog writes booking operation logs as structured zap entries.
package auditlog

import (
	"context"

	"github.com/castoff/charterpay/pkg/booking"
	"go.uber.org/zap"
)

const (
	entryMessage = "booking operation"
	statusError  = "error"
)

// Logger implements booking.OperationLogger.
type Logger struct {
	logger *zap.Logger
}

// New returns a Logger writing to logger, or a no-op Logger when logger is nil.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("audit")}
}

// LogOperation writes ok and noop entries at Info and failures at Warn.
func (auditLogger *Logger) LogOperation(ctx context.Context, entry booking.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if !entry.BookingID.IsZero() {
		fields = append(fields, zap.String("booking_id", entry.BookingID.String()))
	}
	if entry.OperatorID.String() != "" {
		fields = append(fields, zap.String("operator_id", entry.OperatorID.String()))
	}
	if entry.Hold != "" {
		fields = append(fields, zap.String("hold", string(entry.Hold)))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.Amount.Int64()))
	}
	if entry.From != "" {
		fields = append(fields, zap.String("from", entry.From))
	}
	if entry.To != "" {
		fields = append(fields, zap.String("to", entry.To))
	}
	if entry.EventID != "" {
		fields = append(fields, zap.String("event_id", entry.EventID))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	if entry.Status == statusError || (entry.Error != nil && entry.Status == "") {
		auditLogger.logger.Warn(entryMessage, fields...)
		return
	}
	auditLogger.logger.Info(entryMessage, fields...)
}
