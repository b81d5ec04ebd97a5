package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aop00-00/GRIND-PROJECT/pkg/booking"
	"go.uber.org/zap"
)

// Routing keys for booking events.
const (
	RoutingKeyBooked             = "booking.booked"
	RoutingKeyCancelled          = "booking.cancelled"
	RoutingKeyCreditsToppedUp    = "credits.topped_up"
	RoutingKeyCompensationFailed = "booking.compensation_failed"

	defaultPublishTimeout = 5 * time.Second
)

// Event is the JSON body of every published message.
type Event struct {
	Type           string    `json:"type"`
	UserID         string    `json:"user_id"`
	ClassID        string    `json:"class_id,omitempty"`
	BookingID      string    `json:"booking_id,omitempty"`
	Credits        int64     `json:"credits"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Path           string    `json:"path,omitempty"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	FailedStep     string    `json:"failed_step,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// OperationPublisher turns booking operation logs into domain events.
// Publish failures are logged and never surface to the caller.
type OperationPublisher struct {
	publisher Publisher
	logger    *zap.Logger
	timeout   time.Duration
}

// NewOperationPublisher adapts publisher to booking.OperationLogger.
func NewOperationPublisher(publisher Publisher, logger *zap.Logger) *OperationPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperationPublisher{publisher: publisher, logger: logger, timeout: defaultPublishTimeout}
}

// LogOperation implements booking.OperationLogger.
func (operationPublisher *OperationPublisher) LogOperation(ctx context.Context, entry booking.OperationLog) {
	event, ok := eventFor(entry)
	if !ok {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		operationPublisher.logger.Error("encode event failed", zap.String("type", event.Type), zap.Error(err))
		return
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), operationPublisher.timeout)
	defer cancel()
	if err := operationPublisher.publisher.Publish(publishCtx, event.Type, payload); err != nil {
		operationPublisher.logger.Warn("publish event failed",
			zap.String("type", event.Type),
			zap.String("user_id", event.UserID),
			zap.String("booking_id", event.BookingID),
			zap.Error(err),
		)
	}
}

func eventFor(entry booking.OperationLog) (Event, bool) {
	event := Event{
		UserID:         entry.UserID.String(),
		ClassID:        entry.ClassID.String(),
		BookingID:      entry.BookingID.String(),
		Credits:        entry.Credits.Int64(),
		IdempotencyKey: entry.IdempotencyKey.String(),
		Path:           entry.Path,
		OccurredAt:     entry.OccurredAt.UTC(),
	}
	if entry.Error != nil {
		if booking.KindOf(entry.Error) != booking.KindCompensationFailed {
			return Event{}, false
		}
		event.Type = RoutingKeyCompensationFailed
		event.ErrorKind = string(booking.KindCompensationFailed)
		if step, ok := failedStep(entry.Error); ok {
			event.FailedStep = step
		}
		return event, true
	}
	switch entry.Operation {
	case booking.OperationBookClass:
		event.Type = RoutingKeyBooked
	case booking.OperationCancelBooking:
		event.Type = RoutingKeyCancelled
	case booking.OperationTopUpCredits:
		event.Type = RoutingKeyCreditsToppedUp
	default:
		return Event{}, false
	}
	return event, true
}

func failedStep(err error) (string, bool) {
	var compensationError *booking.CompensationError
	if !errors.As(err, &compensationError) {
		return "", false
	}
	return compensationError.FailedStep(), true
}
