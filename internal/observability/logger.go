// Package observability holds the zap operation logger and tracing setup.
package observability

import (
	"context"

	"github.com/aop00-00/GRIND-PROJECT/pkg/booking"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapOperationLogger writes booking operation logs as structured zap entries.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger adapts logger to booking.OperationLogger.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger}
}

// LogOperation implements booking.OperationLogger. Compensation failures are
// logged at error level so they can be reconciled by hand.
func (operationLogger *ZapOperationLogger) LogOperation(ctx context.Context, entry booking.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.Time("occurred_at", entry.OccurredAt),
	}
	if userID := entry.UserID.String(); userID != "" {
		fields = append(fields, zap.String("user_id", userID))
	}
	if classID := entry.ClassID.String(); classID != "" {
		fields = append(fields, zap.String("class_id", classID))
	}
	if bookingID := entry.BookingID.String(); bookingID != "" {
		fields = append(fields, zap.String("booking_id", bookingID))
	}
	if key := entry.IdempotencyKey.String(); key != "" {
		fields = append(fields, zap.String("idempotency_key", key))
	}
	if entry.Path != "" {
		fields = append(fields, zap.String("path", entry.Path))
	}
	fields = append(fields, zap.Int64("credits", entry.Credits.Int64()))

	level := zapcore.InfoLevel
	if entry.Error != nil {
		kind := booking.KindOf(entry.Error)
		fields = append(fields, zap.String("error_kind", string(kind)), zap.Error(entry.Error))
		level = levelForKind(kind)
		if kind == booking.KindCompensationFailed {
			fields = append(fields, zap.Bool("reconciliation_required", true))
		}
	}
	operationLogger.logger.Log(level, "booking operation", fields...)
}

func levelForKind(kind booking.ErrorKind) zapcore.Level {
	switch kind {
	case booking.KindCompensationFailed, booking.KindInternal:
		return zapcore.ErrorLevel
	case booking.KindAvailabilityCheckFailed, booking.KindBookingInsertFailed, booking.KindCreditDebitFailed,
		booking.KindBookingCancelFailed, booking.KindCreditRefundFailed:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
