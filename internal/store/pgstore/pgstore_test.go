package pgstore

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aop00-00/GRIND-PROJECT/pkg/booking"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	values []any
	err    error
}

func (row fakeRow) Scan(destinations ...any) error {
	if row.err != nil {
		return row.err
	}
	if len(destinations) != len(row.values) {
		return fmt.Errorf("expected %d destinations, got %d", len(row.values), len(destinations))
	}
	for index, destination := range destinations {
		switch target := destination.(type) {
		case *string:
			*target = row.values[index].(string)
		case *time.Time:
			*target = row.values[index].(time.Time)
		default:
			return fmt.Errorf("unsupported destination %T", destination)
		}
	}
	return nil
}

func TestTranslateFunctionError(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		target error
	}{
		{name: "user", err: &pgconn.PgError{Code: sqlStateUserNotFound}, target: booking.ErrUserNotFound},
		{name: "credits", err: &pgconn.PgError{Code: sqlStateInsufficientCredits}, target: booking.ErrInsufficientCredits},
		{name: "class", err: &pgconn.PgError{Code: sqlStateClassNotFound}, target: booking.ErrClassNotFound},
		{name: "full", err: &pgconn.PgError{Code: sqlStateClassFull, Hint: "Spin 7am"}, target: booking.ErrClassFull},
		{name: "duplicate", err: &pgconn.PgError{Code: sqlStateDuplicateBooking}, target: booking.ErrDuplicateBooking},
		{name: "duplicate index", err: &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintConfirmedBooking}, target: booking.ErrDuplicateBooking},
		{name: "booking", err: &pgconn.PgError{Code: sqlStateBookingNotFound}, target: booking.ErrBookingNotFound},
		{name: "refund", err: &pgconn.PgError{Code: sqlStateRefundFailed, Message: "profile gone"}, target: booking.ErrCreditRefundFailed},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			translated := translateFunctionError(errorCodeAtomicBook, testCase.err)
			assert.ErrorIs(t, translated, testCase.target)
			var operationError booking.OperationError
			require.ErrorAs(t, translated, &operationError)
			assert.Equal(t, errorOperationStore, operationError.Operation())
		})
	}
}

func TestTranslateFunctionErrorKeepsClassTitle(t *testing.T) {
	translated := translateFunctionError(errorCodeAtomicBook, &pgconn.PgError{Code: sqlStateClassFull, Hint: "Spin 7am"})
	var fullError *booking.ClassFullError
	require.ErrorAs(t, translated, &fullError)
	assert.Equal(t, "Spin 7am", fullError.Title())
	assert.Equal(t, booking.KindClassFull, booking.KindOf(translated))
}

func TestTranslateFunctionErrorReportsUnknownFailuresAsRetryable(t *testing.T) {
	connectionErr := errors.New("connection reset")
	translated := translateFunctionError(errorCodeAtomicCancel, connectionErr)
	assert.ErrorIs(t, translated, connectionErr)
	assert.Equal(t, booking.KindBookingCancelFailed, booking.KindOf(translated))

	serialization := &pgconn.PgError{Code: "40001"}
	translated = translateFunctionError(errorCodeAtomicBook, serialization)
	assert.ErrorIs(t, translated, serialization)
	assert.Equal(t, booking.KindBookingInsertFailed, booking.KindOf(translated))

	otherConstraint := &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: "bookings_pkey"}
	translated = translateFunctionError(errorCodeAtomicBook, otherConstraint)
	assert.NotErrorIs(t, translated, booking.ErrDuplicateBooking)
	assert.Equal(t, booking.KindBookingInsertFailed, booking.KindOf(translated))
}

func TestIsUniqueViolation(t *testing.T) {
	grantConflict := fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintGrantIdempotency})
	assert.True(t, isUniqueViolation(grantConflict, constraintGrantIdempotency))
	assert.True(t, isUniqueViolation(grantConflict, ""))
	assert.False(t, isUniqueViolation(grantConflict, constraintConfirmedBooking))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}, ""))
	assert.False(t, isUniqueViolation(errors.New("plain"), ""))
	assert.False(t, isUniqueViolation(nil, ""))
}

func TestScanBookingMapsColumns(t *testing.T) {
	createdAt := time.Date(2026, time.June, 1, 9, 0, 0, 0, time.UTC)
	record, err := scanBooking(fakeRow{values: []any{"b-1", "u-1", "c-1", "confirmed", createdAt, createdAt}})
	require.NoError(t, err)
	assert.Equal(t, "b-1", record.ID().String())
	assert.Equal(t, "u-1", record.UserID().String())
	assert.Equal(t, "c-1", record.ClassID().String())
	assert.Equal(t, booking.BookingStatusConfirmed, record.Status())
	assert.True(t, record.CreatedAt().Equal(createdAt))

	_, err = scanBooking(fakeRow{values: []any{"b-1", "u-1", "c-1", "pending", createdAt, createdAt}})
	assert.ErrorIs(t, err, booking.ErrInvalidBookingStatus)
}

func TestStoreReportsAtomicOption(t *testing.T) {
	assert.True(t, New(nil, Options{AtomicFunctions: true}).SupportsAtomicBooking())
	assert.False(t, New(nil, Options{}).SupportsAtomicBooking())
}

func TestMapClassKeepsOpenWindow(t *testing.T) {
	class, err := mapClass("c-9", "Open gym", 20, nil, nil, "")
	require.NoError(t, err)
	assert.True(t, class.StartsAt().IsZero())
	assert.Equal(t, booking.Capacity(20), class.Capacity())

	_, err = mapClass("c-9", "Open gym", 0, nil, nil, "")
	assert.ErrorIs(t, err, booking.ErrInvalidCapacity)
}

func TestEmbeddedMigrationInstallsBookingFunctions(t *testing.T) {
	raw, err := migrations.ReadFile(migrationsDir + "/00001_booking_schema.sql")
	require.NoError(t, err)
	migration := string(raw)

	for _, fragment := range []string{
		"-- +goose Up",
		"-- +goose Down",
		"uniq_bookings_confirmed_user_class",
		"uniq_credit_grants_idempotency_key",
		"create or replace function book_class_transaction",
		"create or replace function cancel_booking_transaction",
		"errcode = '" + sqlStateClassFull + "'",
		"errcode = '" + sqlStateRefundFailed + "'",
	} {
		assert.Contains(t, migration, fragment)
	}
	assert.Equal(t, 2, strings.Count(migration, "-- +goose StatementBegin"))
	assert.Equal(t, 2, strings.Count(migration, "-- +goose StatementEnd"))
}
