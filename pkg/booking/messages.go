package booking

import (
	"errors"
	"fmt"
)

// ErrorKind is a stable, transport-neutral classification of a failure.
type ErrorKind string

const (
	KindUserNotFound            ErrorKind = "user_not_found"
	KindInsufficientCredits     ErrorKind = "insufficient_credits"
	KindClassNotFound           ErrorKind = "class_not_found"
	KindAvailabilityCheckFailed ErrorKind = "availability_check_failed"
	KindClassFull               ErrorKind = "class_full"
	KindDuplicateBooking        ErrorKind = "duplicate_booking"
	KindBookingInsertFailed     ErrorKind = "booking_insert_failed"
	KindCreditDebitFailed       ErrorKind = "credit_debit_failed"
	KindCompensationFailed      ErrorKind = "compensation_failed"
	KindBookingNotFound         ErrorKind = "booking_not_found"
	KindBookingCancelFailed     ErrorKind = "booking_cancel_failed"
	KindCreditRefundFailed      ErrorKind = "credit_refund_failed"
	KindDuplicateGrant          ErrorKind = "duplicate_grant"
	KindUnsupported             ErrorKind = "unsupported"
	KindInvalidInput            ErrorKind = "invalid_input"
	KindInternal                ErrorKind = "internal"
)

// Order matters: a compensation failure outranks the step failure it carries,
// credit write failures outrank the lookup error behind them, and a duplicate
// or missing booking outranks the insert or cancel failure that wraps it.
var kindMatchers = []struct {
	sentinel error
	kind     ErrorKind
}{
	{ErrCompensationFailed, KindCompensationFailed},
	{ErrCreditDebitFailed, KindCreditDebitFailed},
	{ErrCreditRefundFailed, KindCreditRefundFailed},
	{ErrUserNotFound, KindUserNotFound},
	{ErrInsufficientCredits, KindInsufficientCredits},
	{ErrClassNotFound, KindClassNotFound},
	{ErrClassFull, KindClassFull},
	{ErrDuplicateBooking, KindDuplicateBooking},
	{ErrAvailabilityCheckFailed, KindAvailabilityCheckFailed},
	{ErrBookingInsertFailed, KindBookingInsertFailed},
	{ErrBookingNotFound, KindBookingNotFound},
	{ErrBookingCancelFailed, KindBookingCancelFailed},
	{ErrDuplicateGrant, KindDuplicateGrant},
	{ErrUnsupportedOperation, KindUnsupported},
	{ErrInvalidUserID, KindInvalidInput},
	{ErrInvalidClassID, KindInvalidInput},
	{ErrInvalidBookingID, KindInvalidInput},
	{ErrInvalidIdempotencyKey, KindInvalidInput},
	{ErrInvalidMetadataJSON, KindInvalidInput},
	{ErrInvalidCredits, KindInvalidInput},
	{ErrInvalidCapacity, KindInvalidInput},
	{ErrInvalidRole, KindInvalidInput},
	{ErrInvalidBookingStatus, KindInvalidInput},
	{ErrInvalidClassTitle, KindInvalidInput},
	{ErrInvalidClassWindow, KindInvalidInput},
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, matcher := range kindMatchers {
		if errors.Is(err, matcher.sentinel) {
			return matcher.kind
		}
	}
	return KindInternal
}

// UserMessage returns the member-facing text for err. Every kind has its own
// message; a full class names the class.
func UserMessage(err error) string {
	switch KindOf(err) {
	case "":
		return ""
	case KindUserNotFound:
		return "User not found."
	case KindInsufficientCredits:
		return "You have no credits available. Buy a package to continue."
	case KindClassNotFound:
		return "Class not found."
	case KindAvailabilityCheckFailed:
		return "Could not verify class availability. Please try again."
	case KindClassFull:
		var classFullError *ClassFullError
		if errors.As(err, &classFullError) {
			return fmt.Sprintf("The class %q is full. No spots available.", classFullError.Title())
		}
		return "The class is full. No spots available."
	case KindDuplicateBooking:
		return "You already have a confirmed booking for this class."
	case KindBookingInsertFailed:
		return "The booking could not be created. Please try again."
	case KindCreditDebitFailed:
		return "Credits could not be deducted. The booking was cancelled."
	case KindCompensationFailed:
		return "The operation could not be completed and is pending review. Contact the front desk before retrying."
	case KindBookingNotFound:
		return "Booking not found or already cancelled."
	case KindBookingCancelFailed:
		return "The booking could not be cancelled. Please try again."
	case KindCreditRefundFailed:
		return "The credit could not be refunded. Your booking is still confirmed."
	case KindDuplicateGrant:
		return "These credits were already applied."
	case KindUnsupported:
		return "This operation is not available."
	case KindInvalidInput:
		return "The request is invalid."
	default:
		return "Unexpected error. Please try again."
	}
}

func asCompensationError(err error) (*CompensationError, bool) {
	var compensationError *CompensationError
	if errors.As(err, &compensationError) {
		return compensationError, true
	}
	return nil, false
}
