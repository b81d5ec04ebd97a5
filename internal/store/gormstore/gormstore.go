package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aop00-00/GRIND-PROJECT/pkg/booking"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintConfirmedBooking = "uniq_bookings_confirmed_user_class"
	constraintGrantIdempotency = "uniq_credit_grants_idempotency_key"
	defaultMetadataJSON        = "{}"
	pgUniqueViolationCode      = "23505"
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
	lockingStrengthUpdate      = "UPDATE"
	errorOperationStore        = "gormstore"
	errorSubjectProfile        = "profile"
	errorSubjectClass          = "class"
	errorSubjectBooking        = "booking"
	errorSubjectGrant          = "grant"
	errorSubjectSchema         = "schema"
	errorCodeCount             = "count"
	errorCodeCreate            = "create"
	errorCodeDelete            = "delete"
	errorCodeDuplicate         = "duplicate"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeLookup            = "lookup"
	errorCodeMigrate           = "migrate"
	errorCodeUpdate            = "update"
	errorCodeUpdateStatus      = "update_status"
)

// Store implements booking.Store using GORM.
type Store struct {
	db     *gorm.DB
	atomic bool
}

// Option configures a Store.
type Option func(*Store)

// WithAtomicBooking toggles the transactional booking path. It is on by default.
func WithAtomicBooking(enabled bool) Option {
	return func(store *Store) {
		store.atomic = enabled
	}
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB, options ...Option) *Store {
	store := &Store{db: db, atomic: true}
	for _, option := range options {
		if option != nil {
			option(store)
		}
	}
	return store
}

// Migrate creates or updates the tables used by the store.
func (store *Store) Migrate(ctx context.Context) error {
	err := store.db.WithContext(ctx).AutoMigrate(&Profile{}, &ClassSession{}, &BookingRecord{}, &CreditGrant{})
	return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore *Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction, atomic: store.atomic})
	})
}

// SupportsAtomicBooking reports whether the transactional path is enabled.
func (store *Store) SupportsAtomicBooking() bool {
	return store.atomic
}

func (store *Store) GetProfile(ctx context.Context, userID booking.UserID) (booking.Profile, error) {
	return store.loadProfile(ctx, store.db, userID)
}

func (store *Store) lockProfile(ctx context.Context, userID booking.UserID) (booking.Profile, error) {
	return store.loadProfile(ctx, store.db.Clauses(clause.Locking{Strength: lockingStrengthUpdate}), userID)
}

func (store *Store) loadProfile(ctx context.Context, db *gorm.DB, userID booking.UserID) (booking.Profile, error) {
	var model Profile
	err := db.WithContext(ctx).Where("id = ?", userID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeGet, booking.ErrUserNotFound)
		}
		return booking.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeGet, err)
	}
	profile, err := mapProfile(model)
	if err != nil {
		return booking.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeInvalid, err)
	}
	return profile, nil
}

// EnsureProfile inserts a zero-credit profile unless one exists, then returns the stored row.
func (store *Store) EnsureProfile(ctx context.Context, userID booking.UserID, role booking.Role, at time.Time) (booking.Profile, error) {
	if role == "" {
		role = booking.RoleMember
	}
	model := Profile{ID: userID.String(), Role: string(role), CreatedAt: at.UTC(), UpdatedAt: at.UTC()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&model).Error
	if err != nil {
		return booking.Profile{}, wrapStoreError(errorSubjectProfile, errorCodeCreate, err)
	}
	return store.GetProfile(ctx, userID)
}

func (store *Store) UpdateCredits(ctx context.Context, userID booking.UserID, from booking.Credits, to booking.Credits) error {
	result := store.db.WithContext(ctx).
		Model(&Profile{}).
		Where("id = ? AND credits = ?", userID.String(), from.Int64()).
		Updates(map[string]any{"credits": to.Int64(), "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return wrapStoreError(errorSubjectProfile, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := store.GetProfile(ctx, userID); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectProfile, errorCodeUpdate, booking.ErrCreditsChanged)
	}
	return nil
}

func (store *Store) GetClass(ctx context.Context, classID booking.ClassID) (booking.ClassSchedule, error) {
	return store.loadClass(ctx, store.db, classID)
}

func (store *Store) loadClass(ctx context.Context, db *gorm.DB, classID booking.ClassID) (booking.ClassSchedule, error) {
	var model ClassSession
	err := db.WithContext(ctx).Where("id = ?", classID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.ClassSchedule{}, wrapStoreError(errorSubjectClass, errorCodeGet, booking.ErrClassNotFound)
		}
		return booking.ClassSchedule{}, wrapStoreError(errorSubjectClass, errorCodeGet, err)
	}
	class, err := mapClass(model)
	if err != nil {
		return booking.ClassSchedule{}, wrapStoreError(errorSubjectClass, errorCodeInvalid, err)
	}
	return class, nil
}

// CreateClass implements booking.ClassScheduler.
func (store *Store) CreateClass(ctx context.Context, class booking.ClassSchedule) error {
	model := ClassSession{
		ID:        class.ID().String(),
		Title:     class.Title(),
		Capacity:  class.Capacity().Int64(),
		StartTime: timePointer(class.StartsAt()),
		EndTime:   timePointer(class.EndsAt()),
		Location:  class.Location(),
		CreatedAt: time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, "") {
		return wrapStoreError(errorSubjectClass, errorCodeDuplicate, err)
	}
	return wrapStoreError(errorSubjectClass, errorCodeCreate, err)
}

func (store *Store) CountConfirmedBookings(ctx context.Context, classID booking.ClassID) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&BookingRecord{}).
		Where("class_id = ? AND status = ?", classID.String(), string(booking.BookingStatusConfirmed)).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBooking, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) FindConfirmedBooking(ctx context.Context, userID booking.UserID, classID booking.ClassID) (booking.Booking, bool, error) {
	var rows []BookingRecord
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND class_id = ? AND status = ?", userID.String(), classID.String(), string(booking.BookingStatusConfirmed)).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return booking.Booking{}, false, wrapStoreError(errorSubjectBooking, errorCodeLookup, err)
	}
	if len(rows) == 0 {
		return booking.Booking{}, false, nil
	}
	record, err := mapBooking(rows[0])
	if err != nil {
		return booking.Booking{}, false, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return record, true, nil
}

func (store *Store) InsertBooking(ctx context.Context, userID booking.UserID, classID booking.ClassID, at time.Time) (booking.Booking, error) {
	model := BookingRecord{
		UserID:    userID.String(),
		ClassID:   classID.String(),
		Status:    string(booking.BookingStatusConfirmed),
		CreatedAt: at.UTC(),
		UpdatedAt: at.UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintConfirmedBooking) {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeDuplicate, booking.ErrDuplicateBooking)
	}
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInsert, err)
	}
	record, err := mapBooking(model)
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return record, nil
}

func (store *Store) DeleteBooking(ctx context.Context, bookingID booking.BookingID) error {
	err := store.db.WithContext(ctx).Where("id = ?", bookingID.String()).Delete(&BookingRecord{}).Error
	return wrapStoreError(errorSubjectBooking, errorCodeDelete, err)
}

func (store *Store) GetBooking(ctx context.Context, bookingID booking.BookingID, userID booking.UserID) (booking.Booking, error) {
	return store.loadOwnedConfirmed(ctx, store.db, bookingID, userID)
}

func (store *Store) loadOwnedConfirmed(ctx context.Context, db *gorm.DB, bookingID booking.BookingID, userID booking.UserID) (booking.Booking, error) {
	var model BookingRecord
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND status = ?", bookingID.String(), userID.String(), string(booking.BookingStatusConfirmed)).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, booking.ErrBookingNotFound)
		}
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	record, err := mapBooking(model)
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return record, nil
}

func (store *Store) UpdateBookingStatus(ctx context.Context, bookingID booking.BookingID, from booking.BookingStatus, to booking.BookingStatus, at time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&BookingRecord{}).
		Where("id = ? AND status = ?", bookingID.String(), string(from)).
		Updates(map[string]any{"status": string(to), "updated_at": at.UTC()})
	if result.Error != nil {
		if isUniqueViolation(result.Error, constraintConfirmedBooking) {
			return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, booking.ErrDuplicateBooking)
		}
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, booking.ErrBookingNotFound)
	}
	return nil
}

// AtomicBookClass locks the profile and then the class row, re-checks
// eligibility and writes the booking and the debit in one transaction.
func (store *Store) AtomicBookClass(ctx context.Context, userID booking.UserID, classID booking.ClassID, at time.Time) (booking.Booking, error) {
	var created booking.Booking
	err := store.WithTx(ctx, func(ctx context.Context, txStore *Store) error {
		profile, err := txStore.lockProfile(ctx, userID)
		if err != nil {
			return lookupFailure(err, booking.ErrUserNotFound)
		}
		if profile.Credits() <= 0 {
			return booking.ErrInsufficientCredits
		}
		class, err := txStore.loadClass(ctx, txStore.db.Clauses(clause.Locking{Strength: lockingStrengthUpdate}), classID)
		if err != nil {
			return lookupFailure(err, booking.ErrClassNotFound)
		}
		confirmed, err := txStore.CountConfirmedBookings(ctx, classID)
		if err != nil {
			return fmt.Errorf("%w: %w", booking.ErrAvailabilityCheckFailed, err)
		}
		if confirmed >= class.Capacity().Int64() {
			return booking.NewClassFullError(class.Title())
		}
		if _, exists, err := txStore.FindConfirmedBooking(ctx, userID, classID); err != nil {
			return fmt.Errorf("%w: %w", booking.ErrAvailabilityCheckFailed, err)
		} else if exists {
			return booking.ErrDuplicateBooking
		}
		record, err := txStore.InsertBooking(ctx, userID, classID, at)
		if err != nil {
			return fmt.Errorf("%w: %w", booking.ErrBookingInsertFailed, err)
		}
		if err := txStore.UpdateCredits(ctx, userID, profile.Credits(), profile.Credits()-1); err != nil {
			return fmt.Errorf("%w: %w", booking.ErrCreditDebitFailed, err)
		}
		created = record
		return nil
	})
	if err != nil {
		return booking.Booking{}, err
	}
	return created, nil
}

// AtomicCancelBooking flips the booking and refunds the credit in one transaction.
func (store *Store) AtomicCancelBooking(ctx context.Context, userID booking.UserID, bookingID booking.BookingID, at time.Time) (booking.Booking, error) {
	var cancelled booking.Booking
	err := store.WithTx(ctx, func(ctx context.Context, txStore *Store) error {
		record, err := txStore.loadOwnedConfirmed(ctx, txStore.db.Clauses(clause.Locking{Strength: lockingStrengthUpdate}), bookingID, userID)
		if err != nil {
			return lookupFailure(err, booking.ErrBookingNotFound)
		}
		profile, err := txStore.lockProfile(ctx, userID)
		if err != nil {
			return fmt.Errorf("%w: %w", booking.ErrCreditRefundFailed, err)
		}
		if err := txStore.UpdateBookingStatus(ctx, bookingID, booking.BookingStatusConfirmed, booking.BookingStatusCancelled, at); err != nil {
			return fmt.Errorf("%w: %w", booking.ErrBookingCancelFailed, err)
		}
		if err := txStore.UpdateCredits(ctx, userID, profile.Credits(), profile.Credits()+1); err != nil {
			return fmt.Errorf("%w: %w", booking.ErrCreditRefundFailed, err)
		}
		cancelled = record.WithStatus(booking.BookingStatusCancelled, at)
		return nil
	})
	if err != nil {
		return booking.Booking{}, err
	}
	return cancelled, nil
}

// GrantCredits records the grant and raises the balance in one transaction.
func (store *Store) GrantCredits(ctx context.Context, userID booking.UserID, amount booking.PositiveCredits, idempotencyKey booking.IdempotencyKey, metadata booking.MetadataJSON, at time.Time) (booking.Credits, error) {
	var balance booking.Credits
	err := store.WithTx(ctx, func(ctx context.Context, txStore *Store) error {
		profile, err := txStore.lockProfile(ctx, userID)
		if err != nil {
			return err
		}
		grant := CreditGrant{
			UserID:         userID.String(),
			Amount:         amount.Int64(),
			IdempotencyKey: idempotencyKey.String(),
			Metadata:       datatypesJSON(metadata.String()),
			CreatedAt:      at.UTC(),
		}
		if err := txStore.db.WithContext(ctx).Create(&grant).Error; err != nil {
			if isUniqueViolation(err, constraintGrantIdempotency) {
				return wrapStoreError(errorSubjectGrant, errorCodeDuplicate, booking.ErrDuplicateGrant)
			}
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
	var rows []BookingRecord
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	bookings := make([]booking.Booking, 0, len(rows))
	for _, row := range rows {
		record, err := mapBooking(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
		}
		bookings = append(bookings, record)
	}
	return bookings, nil
}

// lookupFailure reports a failed locking read under the sentinel the
// eligibility check uses for the same lookup.
func lookupFailure(err error, sentinel error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

func wrapStoreError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationStore, subject, code, err)
}

func mapProfile(model Profile) (booking.Profile, error) {
	userID, err := booking.NewUserID(model.ID)
	if err != nil {
		return booking.Profile{}, err
	}
	credits, err := booking.NewCredits(model.Credits)
	if err != nil {
		return booking.Profile{}, err
	}
	role, err := booking.ParseRole(model.Role)
	if err != nil {
		return booking.Profile{}, err
	}
	return booking.NewProfile(userID, credits, role)
}

func mapClass(model ClassSession) (booking.ClassSchedule, error) {
	classID, err := booking.NewClassID(model.ID)
	if err != nil {
		return booking.ClassSchedule{}, err
	}
	capacity, err := booking.NewCapacity(model.Capacity)
	if err != nil {
		return booking.ClassSchedule{}, err
	}
	return booking.NewClassSchedule(classID, model.Title, capacity, timeOrZero(model.StartTime), timeOrZero(model.EndTime), model.Location)
}

func mapBooking(model BookingRecord) (booking.Booking, error) {
	bookingID, err := booking.NewBookingID(model.ID)
	if err != nil {
		return booking.Booking{}, err
	}
	userID, err := booking.NewUserID(model.UserID)
	if err != nil {
		return booking.Booking{}, err
	}
	classID, err := booking.NewClassID(model.ClassID)
	if err != nil {
		return booking.Booking{}, err
	}
	status, err := booking.ParseBookingStatus(model.Status)
	if err != nil {
		return booking.Booking{}, err
	}
	return booking.NewBooking(bookingID, userID, classID, status, model.CreatedAt, model.UpdatedAt)
}

func timePointer(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func timeOrZero(value *time.Time) time.Time {
	if value == nil {
		return time.Time{}
	}
	return value.UTC()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

// isUniqueViolation matches a unique-constraint failure. An empty constraint
// name matches any unique violation. sqlite errors carry no index name, so
// only the extended result code is checked there.
func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqliteConstraintUnique || code == sqliteConstraintPrimaryKey
	}
	return false
}
