package booking

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the booking service.
var (
	ErrUserNotFound            = errors.New("user not found")
	ErrInsufficientCredits     = errors.New("insufficient credits")
	ErrClassNotFound           = errors.New("class not found")
	ErrAvailabilityCheckFailed = errors.New("availability check failed")
	ErrClassFull               = errors.New("class full")
	ErrDuplicateBooking        = errors.New("duplicate booking")
	ErrBookingInsertFailed     = errors.New("booking insert failed")
	ErrCreditDebitFailed       = errors.New("credit debit failed")
	ErrCompensationFailed      = errors.New("compensation failed")
	ErrBookingNotFound         = errors.New("booking not found")
	ErrBookingCancelFailed     = errors.New("booking cancel failed")
	ErrCreditRefundFailed      = errors.New("credit refund failed")
	ErrCreditsChanged          = errors.New("credits changed concurrently")
	ErrDuplicateGrant          = errors.New("duplicate grant")
	ErrUnsupportedOperation    = errors.New("unsupported operation")
	ErrInvalidUserID           = errors.New("invalid user id")
	ErrInvalidClassID          = errors.New("invalid class id")
	ErrInvalidBookingID        = errors.New("invalid booking id")
	ErrInvalidIdempotencyKey   = errors.New("invalid idempotency key")
	ErrInvalidMetadataJSON     = errors.New("invalid metadata json")
	ErrInvalidCredits          = errors.New("invalid credits")
	ErrInvalidCapacity         = errors.New("invalid capacity")
	ErrInvalidRole             = errors.New("invalid role")
	ErrInvalidBookingStatus    = errors.New("invalid booking status")
	ErrInvalidClassTitle       = errors.New("invalid class title")
	ErrInvalidClassWindow      = errors.New("invalid class window")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
)

// ClassFullError reports a class at capacity and carries its title.
type ClassFullError struct {
	title string
}

// NewClassFullError builds a ClassFullError for the given class title.
func NewClassFullError(title string) *ClassFullError {
	return &ClassFullError{title: title}
}

// Error returns the formatted error message.
func (classFullError *ClassFullError) Error() string {
	return fmt.Sprintf("%v: %q", ErrClassFull, classFullError.title)
}

// Is matches ErrClassFull.
func (classFullError *ClassFullError) Is(target error) bool {
	return target == ErrClassFull
}

// Title returns the class title.
func (classFullError *ClassFullError) Title() string {
	return classFullError.title
}

// CompensationError reports a rollback that did not complete. The system may
// hold a booking without a matching debit (or the reverse) and needs reconciliation.
type CompensationError struct {
	failedStep      string
	bookingID       BookingID
	cause           error
	compensationErr error
}

// Error returns the formatted error message.
func (compensationError *CompensationError) Error() string {
	return fmt.Sprintf("%v: step %s failed (%v), rollback failed (%v)", ErrCompensationFailed, compensationError.failedStep, compensationError.cause, compensationError.compensationErr)
}

// Unwrap exposes the sentinel and the rollback failure. The original step
// failure is available through Cause so it does not shadow the sentinel.
func (compensationError *CompensationError) Unwrap() []error {
	return []error{ErrCompensationFailed, compensationError.compensationErr}
}

// FailedStep returns the name of the step whose failure triggered the rollback.
func (compensationError *CompensationError) FailedStep() string {
	return compensationError.failedStep
}

// BookingID returns the booking left in an inconsistent state.
func (compensationError *CompensationError) BookingID() BookingID {
	return compensationError.bookingID
}

// Cause returns the step failure that triggered the rollback.
func (compensationError *CompensationError) Cause() error {
	return compensationError.cause
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
