package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aop00-00/GRIND-PROJECT/pkg/booking"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintConfirmedBooking = "uniq_bookings_confirmed_user_class"
	constraintGrantIdempotency = "uniq_credit_grants_idempotency_key"
	pgUniqueViolationCode      = "23505"
	errorOperationStore        = "pgstore"
	errorSubjectProfile        = "profile"
	errorSubjectClass          = "class"
	errorSubjectBooking        = "booking"
	errorSubjectGrant          = "grant"
	errorSubjectSchema         = "schema"
	errorSubjectTransaction    = "transaction"
	errorCodeAtomicBook        = "atomic_book"
	errorCodeAtomicCancel      = "atomic_cancel"
	errorCodeBegin             = "begin"
	errorCodeCommit            = "commit"
	errorCodeCount             = "count"
	errorCodeCreate            = "create"
	errorCodeDelete            = "delete"
	errorCodeDuplicate         = "duplicate"
	errorCodeEnsure            = "ensure"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeMigrate           = "migrate"
	errorCodeLookup            = "lookup"
	errorCodeUpdate            = "update"
	errorCodeUpdateStatus      = "update_status"

	sqlSelectProfile = `
		select id, credits, role from profiles where id = $1
	`

	sqlSelectProfileForUpdate = `
		select id, credits, role from profiles where id = $1 for update
	`

	sqlInsertProfile = `
		insert into profiles(id, role, credits, created_at, updated_at)
		values ($1, $2, 0, $3, $3)
		on conflict (id) do nothing
	`

	sqlUpdateCredits = `
		update profiles set credits = $3, updated_at = now()
		where id = $1 and credits = $2
	`

	sqlSelectClass = `
		select id, title, capacity, start_time, end_time, coalesce(location, '')
		from class_schedules where id = $1
	`

	sqlInsertClass = `
		insert into class_schedules(id, title, capacity, start_time, end_time, location, created_at)
		values ($1, $2, $3, $4, $5, $6, now())
	`

	sqlCountConfirmed = `
		select count(*) from bookings where class_id = $1 and status = 'confirmed'
	`

	sqlFindConfirmed = `
		select id, user_id, class_id, status, created_at, updated_at
		from bookings
		where user_id = $1 and class_id = $2 and status = 'confirmed'
		limit 1
	`

	sqlInsertBooking = `
		insert into bookings(id, user_id, class_id, status, created_at, updated_at)
		values ($1, $2, $3, 'confirmed', $4, $4)
		returning id, user_id, class_id, status, created_at, updated_at
	`

	sqlDeleteBooking = `
		delete from bookings where id = $1
	`

	sqlSelectOwnedConfirmed = `
		select id, user_id, class_id, status, created_at, updated_at
		from bookings
		where id = $1 and user_id = $2 and status = 'confirmed'
	`

	sqlUpdateBookingStatus = `
		update bookings set status = $3, updated_at = $4
		where id = $1 and status = $2
	`

	sqlInsertGrant = `
		insert into credit_grants(id, user_id, amount, idempotency_key, metadata, created_at)
		values ($1, $2, $3, $4, coalesce(nullif($5, ''), '{}')::jsonb, $6)
	`

	sqlListBookings = `
		select id, user_id, class_id, status, created_at, updated_at
		from bookings
		where user_id = $1
		order by created_at desc
		limit $2
	`

	sqlAtomicBook = `
		select id, user_id, class_id, status, created_at, updated_at
		from book_class_transaction($1, $2, $3)
	`

	sqlAtomicCancel = `
		select id, user_id, class_id, status, created_at, updated_at
		from cancel_booking_transaction($1, $2, $3)
	`
)

// SQLSTATE codes raised by the booking functions installed by Migrate.
const (
	sqlStateUserNotFound        = "GB001"
	sqlStateInsufficientCredits = "GB002"
	sqlStateClassNotFound       = "GB003"
	sqlStateClassFull           = "GB004"
	sqlStateDuplicateBooking    = "GB005"
	sqlStateBookingNotFound     = "GB006"
	sqlStateRefundFailed        = "GB007"
)

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// Options configures a Store.
type Options struct {
	// AtomicFunctions routes booking and cancellation through the
	// book_class_transaction and cancel_booking_transaction functions.
	AtomicFunctions bool
}

// Store implements booking.Store using a pgx connection pool.
type Store struct {
	pool    *pgxpool.Pool
	db      querier
	options Options
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool, options Options) *Store {
	return &Store{pool: pool, db: pool, options: options}
}

// WithTx runs fn against a transaction-scoped Store. Nested calls reuse the
// open transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore *Store) error) error {
	if store.pool == nil {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	txStore := &Store{db: tx, options: store.options}
	if err := fn(ctx, txStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

// SupportsAtomicBooking reports whether the booking functions are in use.
func (store *Store) SupportsAtomicBooking() bool {
	return store.options.AtomicFunctions
}

func (store *Store) GetProfile(ctx context.Context, userID booking.UserID) (booking.Profile, error) {
	return store.scanProfile(store.db.QueryRow(ctx, sqlSelectProfile, userID.String()))
}

func (store *Store) scanProfile(row pgx.Row) (booking.Profile, error) {
	var (
		idValue   string
		credits   int64
		roleValue string
	)
	if err := row.Scan(&idValue, &credits, &roleValue); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeGet, booking.ErrUserNotFound)
		}
		return booking.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeGet, err)
	}
	profile, err := mapProfile(idValue, credits, roleValue)
	if err != nil {
		return booking.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeInvalid, err)
	}
	return profile, nil
}

// EnsureProfile implements booking.ProfileProvisioner.
func (store *Store) EnsureProfile(ctx context.Context, userID booking.UserID, role booking.Role, at time.Time) (booking.Profile, error) {
	if role == "" {
		role = booking.RoleMember
	}
	if _, err := store.db.Exec(ctx, sqlInsertProfile, userID.String(), string(role), at.UTC()); err != nil {
		return booking.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeEnsure, err)
	}
	return store.GetProfile(ctx, userID)
}

func (store *Store) UpdateCredits(ctx context.Context, userID booking.UserID, from booking.Credits, to booking.Credits) error {
	tag, err := store.db.Exec(ctx, sqlUpdateCredits, userID.String(), from.Int64(), to.Int64())
	if err != nil {
		return wrapStoreError(errorSubjectProfile, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := store.GetProfile(ctx, userID); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectProfile, errorCodeUpdate, booking.ErrCreditsChanged)
	}
	return nil
}

func (store *Store) GetClass(ctx context.Context, classID booking.ClassID) (booking.ClassSchedule, error) {
	var (
		idValue  string
		title    string
		capacity int64
		startsAt *time.Time
		endsAt   *time.Time
		location string
	)
	err := store.db.QueryRow(ctx, sqlSelectClass, classID.String()).Scan(&idValue, &title, &capacity, &startsAt, &endsAt, &location)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.ClassSchedule{}, wrapStoreError(errorSubjectClass, errorCodeGet, booking.ErrClassNotFound)
		}
		return booking.ClassSchedule{}, wrapStoreError(errorSubjectClass, errorCodeGet, err)
	}
	class, err := mapClass(idValue, title, capacity, startsAt, endsAt, location)
	if err != nil {
		return booking.ClassSchedule{}, wrapStoreError(errorSubjectClass, errorCodeInvalid, err)
	}
	return class, nil
}

// CreateClass implements booking.ClassScheduler.
func (store *Store) CreateClass(ctx context.Context, class booking.ClassSchedule) error {
	_, err := store.db.Exec(ctx, sqlInsertClass,
		class.ID().String(),
		class.Title(),
		class.Capacity().Int64(),
		nullableTime(class.StartsAt()),
		nullableTime(class.EndsAt()),
		class.Location(),
	)
	if isUniqueViolation(err, "") {
		return wrapStoreError(errorSubjectClass, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectClass, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) CountConfirmedBookings(ctx context.Context, classID booking.ClassID) (int64, error) {
	var count int64
	if err := store.db.QueryRow(ctx, sqlCountConfirmed, classID.String()).Scan(&count); err != nil {
		return 0, wrapStoreError(errorSubjectBooking, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) FindConfirmedBooking(ctx context.Context, userID booking.UserID, classID booking.ClassID) (booking.Booking, bool, error) {
	record, err := scanBooking(store.db.QueryRow(ctx, sqlFindConfirmed, userID.String(), classID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.Booking{}, false, nil
	}
	if err != nil {
		return booking.Booking{}, false, wrapStoreError(errorSubjectBooking, errorCodeLookup, err)
	}
	return record, true, nil
}

func (store *Store) InsertBooking(ctx context.Context, userID booking.UserID, classID booking.ClassID, at time.Time) (booking.Booking, error) {
	record, err := scanBooking(store.db.QueryRow(ctx, sqlInsertBooking, uuid.NewString(), userID.String(), classID.String(), at.UTC()))
	if isUniqueViolation(err, constraintConfirmedBooking) {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeDuplicate, booking.ErrDuplicateBooking)
	}
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInsert, err)
	}
	return record, nil
}

func (store *Store) DeleteBooking(ctx context.Context, bookingID booking.BookingID) error {
	if _, err := store.db.Exec(ctx, sqlDeleteBooking, bookingID.String()); err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeDelete, err)
	}
	return nil
}

func (store *Store) GetBooking(ctx context.Context, bookingID booking.BookingID, userID booking.UserID) (booking.Booking, error) {
	record, err := scanBooking(store.db.QueryRow(ctx, sqlSelectOwnedConfirmed, bookingID.String(), userID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, booking.ErrBookingNotFound)
	}
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	return record, nil
}

func (store *Store) UpdateBookingStatus(ctx context.Context, bookingID booking.BookingID, from booking.BookingStatus, to booking.BookingStatus, at time.Time) error {
	tag, err := store.db.Exec(ctx, sqlUpdateBookingStatus, bookingID.String(), string(from), string(to), at.UTC())
	if isUniqueViolation(err, constraintConfirmedBooking) {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, booking.ErrDuplicateBooking)
	}
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, booking.ErrBookingNotFound)
	}
	return nil
}

// AtomicBookClass implements booking.AtomicBooker via book_class_transaction.
func (store *Store) AtomicBookClass(ctx context.Context, userID booking.UserID, classID booking.ClassID, at time.Time) (booking.Booking, error) {
	record, err := scanBooking(store.db.QueryRow(ctx, sqlAtomicBook, userID.String(), classID.String(), at.UTC()))
	if err != nil {
		return booking.Booking{}, translateFunctionError(errorCodeAtomicBook, err)
	}
	return record, nil
}

// AtomicCancelBooking implements booking.AtomicCanceller via cancel_booking_transaction.
func (store *Store) AtomicCancelBooking(ctx context.Context, userID booking.UserID, bookingID booking.BookingID, at time.Time) (booking.Booking, error) {
	record, err := scanBooking(store.db.QueryRow(ctx, sqlAtomicCancel, userID.String(), bookingID.String(), at.UTC()))
	if err != nil {
		return booking.Booking{}, translateFunctionError(errorCodeAtomicCancel, err)
	}
	return record, nil
}

// GrantCredits implements booking.CreditGranter.
func (store *Store) GrantCredits(ctx context.Context, userID booking.UserID, amount booking.PositiveCredits, idempotencyKey booking.IdempotencyKey, metadata booking.MetadataJSON, at time.Time) (booking.Credits, error) {
	var balance booking.Credits
	err := store.WithTx(ctx, func(ctx context.Context, txStore *Store) error {
		profile, err := txStore.scanProfile(txStore.db.QueryRow(ctx, sqlSelectProfileForUpdate, userID.String()))
		if err != nil {
			return err
		}
		_, err = txStore.db.Exec(ctx, sqlInsertGrant,
			uuid.NewString(),
			userID.String(),
			amount.Int64(),
			idempotencyKey.String(),
			metadata.String(),
			at.UTC(),
		)
		if isUniqueViolation(err, constraintGrantIdempotency) {
			return wrapStoreError(errorSubjectGrant, errorCodeDuplicate, booking.ErrDuplicateGrant)
		}
		if err != nil {
			return wrapStoreError(errorSubjectGrant, errorCodeInsert, err)
		}
		updated := profile.Credits() + amount.ToCredits()
		if err := txStore.UpdateCredits(ctx, userID, profile.Credits(), updated); err != nil {
			return err
		}
		balance = updated
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// ListBookings implements booking.BookingLister.
func (store *Store) ListBookings(ctx context.Context, userID booking.UserID, limit int) ([]booking.Booking, error) {
	rows, err := store.db.Query(ctx, sqlListBookings, userID.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	defer rows.Close()
	bookings := make([]booking.Booking, 0)
	for rows.Next() {
		record, err := scanBooking(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
		}
		bookings = append(bookings, record)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	return bookings, nil
}

func scanBooking(row pgx.Row) (booking.Booking, error) {
	var (
		idValue     string
		userValue   string
		classValue  string
		statusValue string
		createdAt   time.Time
		updatedAt   time.Time
	)
	if err := row.Scan(&idValue, &userValue, &classValue, &statusValue, &createdAt, &updatedAt); err != nil {
		return booking.Booking{}, err
	}
	bookingID, err := booking.NewBookingID(idValue)
	if err != nil {
		return booking.Booking{}, err
	}
	userID, err := booking.NewUserID(userValue)
	if err != nil {
		return booking.Booking{}, err
	}
	classID, err := booking.NewClassID(classValue)
	if err != nil {
		return booking.Booking{}, err
	}
	status, err := booking.ParseBookingStatus(statusValue)
	if err != nil {
		return booking.Booking{}, err
	}
	return booking.NewBooking(bookingID, userID, classID, status, createdAt.UTC(), updatedAt.UTC())
}

func mapProfile(idValue string, credits int64, roleValue string) (booking.Profile, error) {
	userID, err := booking.NewUserID(idValue)
	if err != nil {
		return booking.Profile{}, err
	}
	balance, err := booking.NewCredits(credits)
	if err != nil {
		return booking.Profile{}, err
	}
	role, err := booking.ParseRole(roleValue)
	if err != nil {
		return booking.Profile{}, err
	}
	return booking.NewProfile(userID, balance, role)
}

func mapClass(idValue string, title string, capacityValue int64, startsAt *time.Time, endsAt *time.Time, location string) (booking.ClassSchedule, error) {
	classID, err := booking.NewClassID(idValue)
	if err != nil {
		return booking.ClassSchedule{}, err
	}
	capacity, err := booking.NewCapacity(capacityValue)
	if err != nil {
		return booking.ClassSchedule{}, err
	}
	var start, end time.Time
	if startsAt != nil {
		start = startsAt.UTC()
	}
	if endsAt != nil {
		end = endsAt.UTC()
	}
	return booking.NewClassSchedule(classID, title, capacity, start, end, location)
}

func nullableTime(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

// translateFunctionError maps the SQLSTATE codes raised by the booking
// functions back onto the booking error taxonomy. Any other failure rolled the
// function back and is reported as a failed insert or cancel.
func translateFunctionError(code string, err error) error {
	unclassified := booking.ErrBookingInsertFailed
	if code == errorCodeAtomicCancel {
		unclassified = booking.ErrBookingCancelFailed
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return wrapStoreError(errorSubjectBooking, code, fmt.Errorf("%w: %w", unclassified, err))
	}
	switch pgErr.Code {
	case sqlStateUserNotFound:
		return wrapStoreError(errorSubjectProfile, code, booking.ErrUserNotFound)
	case sqlStateInsufficientCredits:
		return wrapStoreError(errorSubjectProfile, code, booking.ErrInsufficientCredits)
	case sqlStateClassNotFound:
		return wrapStoreError(errorSubjectClass, code, booking.ErrClassNotFound)
	case sqlStateClassFull:
		return wrapStoreError(errorSubjectClass, code, booking.NewClassFullError(pgErr.Hint))
	case sqlStateDuplicateBooking:
		return wrapStoreError(errorSubjectBooking, code, booking.ErrDuplicateBooking)
	case sqlStateBookingNotFound:
		return wrapStoreError(errorSubjectBooking, code, booking.ErrBookingNotFound)
	case sqlStateRefundFailed:
		return wrapStoreError(errorSubjectProfile, code, fmt.Errorf("%w: %s", booking.ErrCreditRefundFailed, pgErr.Message))
	case pgUniqueViolationCode:
		if pgErr.ConstraintName == constraintConfirmedBooking {
			return wrapStoreError(errorSubjectBooking, code, booking.ErrDuplicateBooking)
		}
	}
	return wrapStoreError(errorSubjectBooking, code, fmt.Errorf("%w: %w", unclassified, err))
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolationCode && (constraint == "" || pgErr.ConstraintName == constraint)
}

func wrapStoreError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationStore, subject, code, err)
}
