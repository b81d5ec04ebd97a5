package booking

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Service coordinates booking and cancellation over a Store.
type Service struct {
	store          Store
	nowFn          func() time.Time
	loggers        []OperationLogger
	tracer         trace.Tracer
	atomicDisabled bool
	committer      committer
	canceller      canceller
}

// NewService wires a Service. The commit strategy is chosen here from the
// store's capabilities and stays fixed for the lifetime of the Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.tracer == nil {
		service.tracer = otel.Tracer(tracerInstrumentID)
	}
	service.committer = selectCommitter(store, service.atomicDisabled)
	service.canceller = selectCanceller(store, service.atomicDisabled)
	return service, nil
}

// CommitPath reports which booking strategy the Service selected.
func (service *Service) CommitPath() string {
	return service.committer.path()
}

// BookClass checks eligibility and commits a confirmed booking, debiting one credit.
func (service *Service) BookClass(ctx context.Context, userID UserID, classID ClassID) (Booking, error) {
	ctx, span := service.tracer.Start(ctx, "booking.BookClass", trace.WithAttributes(
		attribute.String("booking.user_id", userID.String()),
		attribute.String("booking.class_id", classID.String()),
		attribute.String("booking.path", service.committer.path()),
	))
	defer span.End()

	booking, operationError := service.bookClass(ctx, userID, classID)
	recordSpanError(span, operationError)
	service.logOperation(ctx, OperationLog{
		Operation: OperationBookClass,
		UserID:    userID,
		ClassID:   classID,
		BookingID: bookingIDFor(booking, operationError),
		Credits:   bookingCreditCost,
		Path:      service.committer.path(),
		Error:     operationError,
	})
	return booking, operationError
}

func (service *Service) bookClass(ctx context.Context, userID UserID, classID ClassID) (Booking, error) {
	if _, err := service.CheckEligibility(ctx, userID, classID); err != nil {
		return Booking{}, err
	}
	return service.committer.commit(ctx, userID, classID, service.nowFn())
}

// CancelBooking cancels a confirmed booking owned by userID and refunds one
// credit. A booking that does not exist, belongs to someone else, or is no
// longer confirmed is reported uniformly as ErrBookingNotFound.
func (service *Service) CancelBooking(ctx context.Context, userID UserID, bookingID BookingID) (Booking, error) {
	ctx, span := service.tracer.Start(ctx, "booking.CancelBooking", trace.WithAttributes(
		attribute.String("booking.user_id", userID.String()),
		attribute.String("booking.booking_id", bookingID.String()),
		attribute.String("booking.path", service.canceller.path()),
	))
	defer span.End()

	var classID ClassID
	cancelled, operationError := func() (Booking, error) {
		booking, err := service.store.GetBooking(ctx, bookingID, userID)
		if err != nil {
			return Booking{}, classifyBookingLookupError(err)
		}
		classID = booking.ClassID()
		return service.canceller.cancel(ctx, booking, service.nowFn())
	}()
	recordSpanError(span, operationError)
	service.logOperation(ctx, OperationLog{
		Operation: OperationCancelBooking,
		UserID:    userID,
		ClassID:   classID,
		BookingID: bookingID,
		Credits:   bookingCreditCost,
		Path:      service.canceller.path(),
		Error:     operationError,
	})
	return cancelled, operationError
}

// TopUpCredits adds credits from an approved payment or an admin grant. A
// repeated idempotency key returns ErrDuplicateGrant without changing the balance.
func (service *Service) TopUpCredits(ctx context.Context, userID UserID, amount PositiveCredits, idempotencyKey IdempotencyKey, metadata MetadataJSON) (Credits, error) {
	ctx, span := service.tracer.Start(ctx, "booking.TopUpCredits", trace.WithAttributes(
		attribute.String("booking.user_id", userID.String()),
		attribute.Int64("booking.credits", amount.Int64()),
	))
	defer span.End()

	var balance Credits
	operationError := func() error {
		granter, ok := service.store.(CreditGranter)
		if !ok {
			return fmt.Errorf("%w: store cannot grant credits", ErrUnsupportedOperation)
		}
		updated, err := granter.GrantCredits(ctx, userID, amount, idempotencyKey, metadata, service.nowFn())
		if err != nil {
			return err
		}
		balance = updated
		return nil
	}()
	recordSpanError(span, operationError)
	service.logOperation(ctx, OperationLog{
		Operation:      OperationTopUpCredits,
		UserID:         userID,
		Credits:        amount.ToCredits(),
		IdempotencyKey: idempotencyKey,
		Error:          operationError,
	})
	return balance, operationError
}

// ScheduleClass stores a new class session.
func (service *Service) ScheduleClass(ctx context.Context, class ClassSchedule) error {
	operationError := func() error {
		scheduler, ok := service.store.(ClassScheduler)
		if !ok {
			return fmt.Errorf("%w: store cannot schedule classes", ErrUnsupportedOperation)
		}
		return scheduler.CreateClass(ctx, class)
	}()
	service.logOperation(ctx, OperationLog{
		Operation: OperationScheduleClass,
		ClassID:   class.ID(),
		Error:     operationError,
	})
	return operationError
}

// EnsureProfile returns the member's profile, creating it with zero credits
// when the store supports provisioning and the profile does not exist yet.
func (service *Service) EnsureProfile(ctx context.Context, userID UserID, role Role) (Profile, error) {
	provisioner, ok := service.store.(ProfileProvisioner)
	if !ok {
		profile, err := service.store.GetProfile(ctx, userID)
		if err != nil {
			return Profile{}, classifyProfileError(err)
		}
		return profile, nil
	}
	return provisioner.EnsureProfile(ctx, userID, role, service.nowFn())
}

// Credits returns the member's current balance.
func (service *Service) Credits(ctx context.Context, userID UserID) (Credits, error) {
	profile, err := service.store.GetProfile(ctx, userID)
	if err != nil {
		return 0, classifyProfileError(err)
	}
	return profile.Credits(), nil
}

// ListBookings returns the member's bookings, newest first.
func (service *Service) ListBookings(ctx context.Context, userID UserID, limit int) ([]Booking, error) {
	lister, ok := service.store.(BookingLister)
	if !ok {
		return nil, fmt.Errorf("%w: store cannot list bookings", ErrUnsupportedOperation)
	}
	return lister.ListBookings(ctx, userID, normalizeListLimit(limit))
}

// Availability reports confirmed and remaining seats for a class.
func (service *Service) Availability(ctx context.Context, classID ClassID) (Availability, error) {
	class, err := service.store.GetClass(ctx, classID)
	if err != nil {
		return Availability{}, classifyClassError(err)
	}
	confirmed, err := service.store.CountConfirmedBookings(ctx, classID)
	if err != nil {
		return Availability{}, fmt.Errorf("%w: %w", ErrAvailabilityCheckFailed, err)
	}
	remaining := class.Capacity().Int64() - confirmed
	if remaining < 0 {
		remaining = 0
	}
	return Availability{Class: class, Confirmed: confirmed, Remaining: remaining}, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if len(service.loggers) == 0 {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = service.nowFn().UTC()
	}
	for _, logger := range service.loggers {
		logger.LogOperation(ctx, entry)
	}
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, string(KindOf(err)))
}

// A failed compensation still names the booking that needs reconciliation.
func bookingIDFor(booking Booking, err error) BookingID {
	if compensationError, ok := asCompensationError(err); ok {
		return compensationError.BookingID()
	}
	return booking.ID()
}

func normalizeListLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maximumListLimit {
		return maximumListLimit
	}
	return limit
}
