// Package memstore keeps profiles, classes and bookings in process memory.
// It backs the memory:// driver and the transport tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aop00-00/GRIND-PROJECT/pkg/booking"
	"github.com/google/uuid"
)

const (
	FaultUpdateCredits = "update_credits"
	FaultInsertBooking = "insert_booking"
	FaultDeleteBooking = "delete_booking"
	FaultUpdateStatus  = "update_status"
	FaultCountBookings = "count_bookings"
)

// Option configures a Store.
type Option func(*Store)

// WithoutAtomicBooking makes the store report no atomic capability so the
// service falls back to compensating writes.
func WithoutAtomicBooking() Option {
	return func(store *Store) {
		store.atomic = false
	}
}

// WithIDGenerator overrides booking id generation.
func WithIDGenerator(generate func() string) Option {
	return func(store *Store) {
		if generate != nil {
			store.newID = generate
		}
	}
}

type profileRecord struct {
	credits booking.Credits
	role    booking.Role
}

// Store is a mutex-guarded implementation of booking.Store and all optional
// capabilities.
type Store struct {
	mu       sync.Mutex
	atomic   bool
	newID    func() string
	profiles map[booking.UserID]profileRecord
	classes  map[booking.ClassID]booking.ClassSchedule
	bookings map[booking.BookingID]booking.Booking
	order    []booking.BookingID
	grants   map[string]struct{}
	faults   map[string]error
}

// New builds an empty Store with atomic booking enabled.
func New(options ...Option) *Store {
	store := &Store{
		atomic:   true,
		newID:    uuid.NewString,
		profiles: map[booking.UserID]profileRecord{},
		classes:  map[booking.ClassID]booking.ClassSchedule{},
		bookings: map[booking.BookingID]booking.Booking{},
		grants:   map[string]struct{}{},
		faults:   map[string]error{},
	}
	for _, option := range options {
		if option != nil {
			option(store)
		}
	}
	return store
}

// PutProfile creates or replaces a member profile.
func (store *Store) PutProfile(userID booking.UserID, credits booking.Credits, role booking.Role) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if role == "" {
		role = booking.RoleMember
	}
	store.profiles[userID] = profileRecord{credits: credits, role: role}
}

// FailNext makes the next call of the named operation return err.
func (store *Store) FailNext(operation string, err error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.faults[operation] = err
}

func (store *Store) takeFaultLocked(operation string) error {
	err, ok := store.faults[operation]
	if !ok {
		return nil
	}
	delete(store.faults, operation)
	return err
}

// SupportsAtomicBooking reports whether AtomicBookClass and AtomicCancelBooking may be used.
func (store *Store) SupportsAtomicBooking() bool {
	return store.atomic
}

// GetProfile implements booking.Store.
func (store *Store) GetProfile(_ context.Context, userID booking.UserID) (booking.Profile, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.profileLocked(userID)
}

func (store *Store) profileLocked(userID booking.UserID) (booking.Profile, error) {
	record, ok := store.profiles[userID]
	if !ok {
		return booking.Profile{}, booking.ErrUserNotFound
	}
	return booking.NewProfile(userID, record.credits, record.role)
}

// EnsureProfile implements booking.ProfileProvisioner.
func (store *Store) EnsureProfile(_ context.Context, userID booking.UserID, role booking.Role, _ time.Time) (booking.Profile, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.profiles[userID]; !ok {
		if role == "" {
			role = booking.RoleMember
		}
		store.profiles[userID] = profileRecord{role: role}
	}
	return store.profileLocked(userID)
}

// UpdateCredits implements booking.Store.
func (store *Store) UpdateCredits(_ context.Context, userID booking.UserID, from booking.Credits, to booking.Credits) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if err := store.takeFaultLocked(FaultUpdateCredits); err != nil {
		return err
	}
	return store.updateCreditsLocked(userID, from, to)
}

func (store *Store) updateCreditsLocked(userID booking.UserID, from booking.Credits, to booking.Credits) error {
	record, ok := store.profiles[userID]
	if !ok {
		return booking.ErrUserNotFound
	}
	if record.credits != from {
		return booking.ErrCreditsChanged
	}
	if to < 0 {
		return booking.ErrInvalidCredits
	}
	record.credits = to
	store.profiles[userID] = record
	return nil
}

// GetClass implements booking.Store.
func (store *Store) GetClass(_ context.Context, classID booking.ClassID) (booking.ClassSchedule, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	class, ok := store.classes[classID]
	if !ok {
		return booking.ClassSchedule{}, booking.ErrClassNotFound
	}
	return class, nil
}

// CreateClass implements booking.ClassScheduler.
func (store *Store) CreateClass(_ context.Context, class booking.ClassSchedule) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.classes[class.ID()] = class
	return nil
}

// CountConfirmedBookings implements booking.Store.
func (store *Store) CountConfirmedBookings(_ context.Context, classID booking.ClassID) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if err := store.takeFaultLocked(FaultCountBookings); err != nil {
		return 0, err
	}
	return store.countLocked(classID), nil
}

func (store *Store) countLocked(classID booking.ClassID) int64 {
	var count int64
	for _, record := range store.bookings {
		if record.ClassID() == classID && record.Status() == booking.BookingStatusConfirmed {
			count++
		}
	}
	return count
}

// FindConfirmedBooking implements booking.Store.
func (store *Store) FindConfirmedBooking(_ context.Context, userID booking.UserID, classID booking.ClassID) (booking.Booking, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	record, ok := store.findLocked(userID, classID)
	return record, ok, nil
}

func (store *Store) findLocked(userID booking.UserID, classID booking.ClassID) (booking.Booking, bool) {
	for _, record := range store.bookings {
		if record.UserID() == userID && record.ClassID() == classID && record.Status() == booking.BookingStatusConfirmed {
			return record, true
		}
	}
	return booking.Booking{}, false
}

// InsertBooking implements booking.Store. A second confirmed booking for the
// same pair is rejected like a partial unique index would.
func (store *Store) InsertBooking(_ context.Context, userID booking.UserID, classID booking.ClassID, at time.Time) (booking.Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if err := store.takeFaultLocked(FaultInsertBooking); err != nil {
		return booking.Booking{}, err
	}
	return store.insertLocked(userID, classID, at)
}

func (store *Store) insertLocked(userID booking.UserID, classID booking.ClassID, at time.Time) (booking.Booking, error) {
	if _, exists := store.findLocked(userID, classID); exists {
		return booking.Booking{}, booking.ErrDuplicateBooking
	}
	bookingID, err := booking.NewBookingID(store.newID())
	if err != nil {
		return booking.Booking{}, err
	}
	record, err := booking.NewBooking(bookingID, userID, classID, booking.BookingStatusConfirmed, at, at)
	if err != nil {
		return booking.Booking{}, err
	}
	store.bookings[bookingID] = record
	store.order = append(store.order, bookingID)
	return record, nil
}

// DeleteBooking implements booking.Store.
func (store *Store) DeleteBooking(_ context.Context, bookingID booking.BookingID) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if err := store.takeFaultLocked(FaultDeleteBooking); err != nil {
		return err
	}
	store.deleteLocked(bookingID)
	return nil
}

func (store *Store) deleteLocked(bookingID booking.BookingID) {
	delete(store.bookings, bookingID)
	for index, candidate := range store.order {
		if candidate == bookingID {
			store.order = append(store.order[:index], store.order[index+1:]...)
			break
		}
	}
}

// GetBooking implements booking.Store.
func (store *Store) GetBooking(_ context.Context, bookingID booking.BookingID, userID booking.UserID) (booking.Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.ownedConfirmedLocked(bookingID, userID)
}

func (store *Store) ownedConfirmedLocked(bookingID booking.BookingID, userID booking.UserID) (booking.Booking, error) {
	record, ok := store.bookings[bookingID]
	if !ok || record.UserID() != userID || record.Status() != booking.BookingStatusConfirmed {
		return booking.Booking{}, booking.ErrBookingNotFound
	}
	return record, nil
}

// UpdateBookingStatus implements booking.Store.
func (store *Store) UpdateBookingStatus(_ context.Context, bookingID booking.BookingID, from booking.BookingStatus, to booking.BookingStatus, at time.Time) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if err := store.takeFaultLocked(FaultUpdateStatus); err != nil {
		return err
	}
	record, ok := store.bookings[bookingID]
	if !ok || record.Status() != from {
		return booking.ErrBookingNotFound
	}
	store.bookings[bookingID] = record.WithStatus(to, at)
	return nil
}

// AtomicBookClass implements booking.AtomicBooker under the store mutex.
func (store *Store) AtomicBookClass(_ context.Context, userID booking.UserID, classID booking.ClassID, at time.Time) (booking.Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	profile, err := store.profileLocked(userID)
	if err != nil {
		return booking.Booking{}, err
	}
	if profile.Credits() <= 0 {
		return booking.Booking{}, booking.ErrInsufficientCredits
	}
	class, ok := store.classes[classID]
	if !ok {
		return booking.Booking{}, booking.ErrClassNotFound
	}
	if store.countLocked(classID) >= class.Capacity().Int64() {
		return booking.Booking{}, booking.NewClassFullError(class.Title())
	}
	if err := store.takeFaultLocked(FaultInsertBooking); err != nil {
		return booking.Booking{}, fmt.Errorf("%w: %w", booking.ErrBookingInsertFailed, err)
	}
	record, err := store.insertLocked(userID, classID, at)
	if err != nil {
		return booking.Booking{}, fmt.Errorf("%w: %w", booking.ErrBookingInsertFailed, err)
	}
	err = store.takeFaultLocked(FaultUpdateCredits)
	if err == nil {
		err = store.updateCreditsLocked(userID, profile.Credits(), profile.Credits()-1)
	}
	if err != nil {
		store.deleteLocked(record.ID())
		return booking.Booking{}, fmt.Errorf("%w: %w", booking.ErrCreditDebitFailed, err)
	}
	return record, nil
}

// AtomicCancelBooking implements booking.AtomicCanceller under the store mutex.
func (store *Store) AtomicCancelBooking(_ context.Context, userID booking.UserID, bookingID booking.BookingID, at time.Time) (booking.Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	record, err := store.ownedConfirmedLocked(bookingID, userID)
	if err != nil {
		return booking.Booking{}, err
	}
	profile, err := store.profileLocked(userID)
	if err != nil {
		return booking.Booking{}, fmt.Errorf("%w: %w", booking.ErrCreditRefundFailed, err)
	}
	err = store.takeFaultLocked(FaultUpdateCredits)
	if err == nil {
		err = store.updateCreditsLocked(userID, profile.Credits(), profile.Credits()+1)
	}
	if err != nil {
		return booking.Booking{}, fmt.Errorf("%w: %w", booking.ErrCreditRefundFailed, err)
	}
	cancelled := record.WithStatus(booking.BookingStatusCancelled, at)
	store.bookings[bookingID] = cancelled
	return cancelled, nil
}

// GrantCredits implements booking.CreditGranter.
func (store *Store) GrantCredits(_ context.Context, userID booking.UserID, amount booking.PositiveCredits, idempotencyKey booking.IdempotencyKey, _ booking.MetadataJSON, _ time.Time) (booking.Credits, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, seen := store.grants[idempotencyKey.String()]; seen {
		return 0, booking.ErrDuplicateGrant
	}
	record, ok := store.profiles[userID]
	if !ok {
		return 0, booking.ErrUserNotFound
	}
	record.credits += amount.ToCredits()
	store.profiles[userID] = record
	store.grants[idempotencyKey.String()] = struct{}{}
	return record.credits, nil
}

// ListBookings implements booking.BookingLister, newest first.
func (store *Store) ListBookings(_ context.Context, userID booking.UserID, limit int) ([]booking.Booking, error) {
	if limit <= 0 {
		return nil, nil
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	result := make([]booking.Booking, 0)
	for index := len(store.order) - 1; index >= 0; index-- {
		record := store.bookings[store.order[index]]
		if record.UserID() == userID {
			result = append(result, record)
		}
	}
	sort.SliceStable(result, func(left, right int) bool {
		return result[left].CreatedAt().After(result[right].CreatedAt())
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
