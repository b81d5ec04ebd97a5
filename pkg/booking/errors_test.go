package booking

import (
	"errors"
	"fmt"
	"testing"
)

func TestOperationErrorFormatting(test *testing.T) {
	test.Parallel()
	baseErr := errors.New("boom")
	err := WrapError("gormstore", "insert_booking", "insert_failed", baseErr)
	var operationError OperationError
	if !errors.As(err, &operationError) {
		test.Fatalf("expected OperationError")
	}
	if operationError.Operation() != "gormstore" || operationError.Subject() != "insert_booking" || operationError.Code() != "insert_failed" {
		test.Fatalf("unexpected segments: %+v", operationError)
	}
	if err.Error() != "gormstore.insert_booking.insert_failed: boom" {
		test.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, baseErr) {
		test.Fatalf("expected unwrap to base error")
	}
	if WrapError("a", "b", "c", nil) != nil {
		test.Fatalf("expected nil for nil error")
	}
}

func TestKindOfClassifiesWrappedErrors(test *testing.T) {
	test.Parallel()
	storeFailure := errors.New("timeout")
	testCases := []struct {
		name     string
		err      error
		expected ErrorKind
	}{
		{name: "nil", err: nil, expected: ""},
		{name: "user", err: fmt.Errorf("%w: %w", ErrUserNotFound, storeFailure), expected: KindUserNotFound},
		{name: "credits", err: ErrInsufficientCredits, expected: KindInsufficientCredits},
		{name: "class", err: ErrClassNotFound, expected: KindClassNotFound},
		{name: "availability", err: fmt.Errorf("%w: %w", ErrAvailabilityCheckFailed, storeFailure), expected: KindAvailabilityCheckFailed},
		{name: "full", err: NewClassFullError("Yoga"), expected: KindClassFull},
		{name: "duplicate", err: ErrDuplicateBooking, expected: KindDuplicateBooking},
		{name: "insert", err: fmt.Errorf("%w: %w", ErrBookingInsertFailed, storeFailure), expected: KindBookingInsertFailed},
		{name: "insert duplicate", err: fmt.Errorf("%w: %w", ErrBookingInsertFailed, ErrDuplicateBooking), expected: KindDuplicateBooking},
		{name: "debit", err: fmt.Errorf("%w: %w", ErrCreditDebitFailed, ErrUserNotFound), expected: KindCreditDebitFailed},
		{name: "compensation", err: &CompensationError{failedStep: stepDebitCredit, cause: ErrCreditDebitFailed, compensationErr: storeFailure}, expected: KindCompensationFailed},
		{name: "booking", err: ErrBookingNotFound, expected: KindBookingNotFound},
		{name: "cancel racing cancel", err: fmt.Errorf("%w: %w", ErrBookingCancelFailed, ErrBookingNotFound), expected: KindBookingNotFound},
		{name: "cancel", err: fmt.Errorf("%w: %w", ErrBookingCancelFailed, storeFailure), expected: KindBookingCancelFailed},
		{name: "refund", err: fmt.Errorf("%w: %w", ErrCreditRefundFailed, storeFailure), expected: KindCreditRefundFailed},
		{name: "grant", err: ErrDuplicateGrant, expected: KindDuplicateGrant},
		{name: "invalid", err: fmt.Errorf("%w: empty value", ErrInvalidUserID), expected: KindInvalidInput},
		{name: "unknown", err: storeFailure, expected: KindInternal},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if kind := KindOf(testCase.err); kind != testCase.expected {
				test.Fatalf("expected %q, got %q", testCase.expected, kind)
			}
		})
	}
}

func TestUserMessagesAreDistinct(test *testing.T) {
	test.Parallel()
	failures := []error{
		ErrUserNotFound,
		ErrInsufficientCredits,
		ErrClassNotFound,
		ErrAvailabilityCheckFailed,
		NewClassFullError("Yoga"),
		ErrDuplicateBooking,
		ErrBookingInsertFailed,
		ErrCreditDebitFailed,
		&CompensationError{compensationErr: errors.New("x")},
		ErrBookingNotFound,
		ErrBookingCancelFailed,
		ErrCreditRefundFailed,
		ErrDuplicateGrant,
		ErrUnsupportedOperation,
		ErrInvalidClassID,
		errors.New("unknown"),
	}
	seen := map[string]error{}
	for _, failure := range failures {
		message := UserMessage(failure)
		if message == "" {
			test.Fatalf("empty message for %v", failure)
		}
		if previous, ok := seen[message]; ok {
			test.Fatalf("message %q shared by %v and %v", message, previous, failure)
		}
		seen[message] = failure
	}
}

func TestClassFullMessageNamesTheClass(test *testing.T) {
	test.Parallel()
	err := fmt.Errorf("commit: %w", NewClassFullError("Crossfit 7AM"))
	expected := `The class "Crossfit 7AM" is full. No spots available.`
	if UserMessage(err) != expected {
		test.Fatalf("expected %q, got %q", expected, UserMessage(err))
	}
	if !errors.Is(err, ErrClassFull) {
		test.Fatalf("expected class full sentinel match")
	}
}
