package booking

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing booking operation.
type OperationLog struct {
	Operation      string
	UserID         UserID
	ClassID        ClassID
	BookingID      BookingID
	Credits        Credits
	IdempotencyKey IdempotencyKey
	Path           string
	OccurredAt     time.Time
	Status         string
	Error          error
}

// Succeeded reports whether the operation completed without error.
func (entry OperationLog) Succeeded() bool {
	return entry.Status == operationStatusOK
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
// Passing the option more than once fans entries out to every logger.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		if logger != nil {
			service.loggers = append(service.loggers, logger)
		}
	}
}

// WithTracer overrides the tracer used for operation spans.
func WithTracer(tracer trace.Tracer) ServiceOption {
	return func(service *Service) {
		if tracer != nil {
			service.tracer = tracer
		}
	}
}

// WithAtomicBookingDisabled forces the compensating fallback even when the
// store advertises atomic support.
func WithAtomicBookingDisabled() ServiceOption {
	return func(service *Service) {
		service.atomicDisabled = true
	}
}
