package booking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

// stubStore is an in-memory Store with switchable atomic support and
// per-call failure injection.
type stubStore struct {
	mu       sync.Mutex
	atomic   bool
	profiles map[string]Profile
	classes  map[string]ClassSchedule
	bookings map[string]Booking
	grants   map[string]struct{}
	nextID   int

	profileErr       error
	countErr         error
	findErr          error
	insertErr        error
	updateCreditsErr error
	deleteErr        error
	statusErrs       map[BookingStatus]error
	atomicErr        error
	insertHook       func()
}

func newStubStore(test *testing.T, atomic bool) *stubStore {
	test.Helper()
	return &stubStore{
		atomic:     atomic,
		profiles:   map[string]Profile{},
		classes:    map[string]ClassSchedule{},
		bookings:   map[string]Booking{},
		grants:     map[string]struct{}{},
		statusErrs: map[BookingStatus]error{},
	}
}

func (store *stubStore) addProfile(test *testing.T, userID string, credits int64) UserID {
	test.Helper()
	id := mustUserID(test, userID)
	store.mu.Lock()
	defer store.mu.Unlock()
	store.profiles[id.String()] = mustProfile(test, id, credits)
	return id
}

func (store *stubStore) addClass(test *testing.T, classID string, title string, capacity int64) ClassID {
	test.Helper()
	id := mustClassID(test, classID)
	store.mu.Lock()
	defer store.mu.Unlock()
	store.classes[id.String()] = mustClass(test, id, title, capacity)
	return id
}

func (store *stubStore) credits(userID UserID) Credits {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.profiles[userID.String()].Credits()
}

func (store *stubStore) booking(bookingID BookingID) (Booking, bool) {
	store.mu.Lock()
	defer store.mu.Unlock()
	booking, ok := store.bookings[bookingID.String()]
	return booking, ok
}

func (store *stubStore) confirmedCount(classID ClassID) int64 {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.countLocked(classID)
}

func (store *stubStore) SupportsAtomicBooking() bool {
	return store.atomic
}

func (store *stubStore) GetProfile(_ context.Context, userID UserID) (Profile, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.profileErr != nil {
		return Profile{}, store.profileErr
	}
	profile, ok := store.profiles[userID.String()]
	if !ok {
		return Profile{}, ErrUserNotFound
	}
	return profile, nil
}

func (store *stubStore) UpdateCredits(_ context.Context, userID UserID, from Credits, to Credits) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.updateCreditsErr != nil {
		return store.updateCreditsErr
	}
	return store.updateCreditsLocked(userID, from, to)
}

func (store *stubStore) updateCreditsLocked(userID UserID, from Credits, to Credits) error {
	profile, ok := store.profiles[userID.String()]
	if !ok {
		return ErrUserNotFound
	}
	if profile.Credits() != from {
		return ErrCreditsChanged
	}
	profile.credits = to
	store.profiles[userID.String()] = profile
	return nil
}

func (store *stubStore) GetClass(_ context.Context, classID ClassID) (ClassSchedule, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	class, ok := store.classes[classID.String()]
	if !ok {
		return ClassSchedule{}, ErrClassNotFound
	}
	return class, nil
}

func (store *stubStore) CountConfirmedBookings(_ context.Context, classID ClassID) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.countErr != nil {
		return 0, store.countErr
	}
	return store.countLocked(classID), nil
}

func (store *stubStore) countLocked(classID ClassID) int64 {
	var count int64
	for _, booking := range store.bookings {
		if booking.ClassID() == classID && booking.Status() == BookingStatusConfirmed {
			count++
		}
	}
	return count
}

func (store *stubStore) FindConfirmedBooking(_ context.Context, userID UserID, classID ClassID) (Booking, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.findErr != nil {
		return Booking{}, false, store.findErr
	}
	booking, ok := store.findLocked(userID, classID)
	return booking, ok, nil
}

func (store *stubStore) findLocked(userID UserID, classID ClassID) (Booking, bool) {
	for _, booking := range store.bookings {
		if booking.UserID() == userID && booking.ClassID() == classID && booking.Status() == BookingStatusConfirmed {
			return booking, true
		}
	}
	return Booking{}, false
}

func (store *stubStore) InsertBooking(_ context.Context, userID UserID, classID ClassID, at time.Time) (Booking, error) {
	if store.insertHook != nil {
		store.insertHook()
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.insertErr != nil {
		return Booking{}, store.insertErr
	}
	return store.insertLocked(userID, classID, at)
}

func (store *stubStore) insertLocked(userID UserID, classID ClassID, at time.Time) (Booking, error) {
	store.nextID++
	id, err := NewBookingID(fmt.Sprintf("booking-%03d", store.nextID))
	if err != nil {
		return Booking{}, err
	}
	booking, err := NewBooking(id, userID, classID, BookingStatusConfirmed, at, at)
	if err != nil {
		return Booking{}, err
	}
	store.bookings[id.String()] = booking
	return booking, nil
}

func (store *stubStore) DeleteBooking(_ context.Context, bookingID BookingID) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.deleteErr != nil {
		return store.deleteErr
	}
	delete(store.bookings, bookingID.String())
	return nil
}

func (store *stubStore) GetBooking(_ context.Context, bookingID BookingID, userID UserID) (Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	booking, ok := store.bookings[bookingID.String()]
	if !ok || booking.UserID() != userID || booking.Status() != BookingStatusConfirmed {
		return Booking{}, ErrBookingNotFound
	}
	return booking, nil
}

func (store *stubStore) UpdateBookingStatus(_ context.Context, bookingID BookingID, from BookingStatus, to BookingStatus, at time.Time) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if err := store.statusErrs[to]; err != nil {
		return err
	}
	return store.updateStatusLocked(bookingID, from, to, at)
}

func (store *stubStore) updateStatusLocked(bookingID BookingID, from BookingStatus, to BookingStatus, at time.Time) error {
	booking, ok := store.bookings[bookingID.String()]
	if !ok || booking.Status() != from {
		return ErrBookingNotFound
	}
	store.bookings[bookingID.String()] = booking.WithStatus(to, at)
	return nil
}

func (store *stubStore) AtomicBookClass(_ context.Context, userID UserID, classID ClassID, at time.Time) (Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.atomicErr != nil {
		return Booking{}, store.atomicErr
	}
	profile, ok := store.profiles[userID.String()]
	if !ok {
		return Booking{}, ErrUserNotFound
	}
	if profile.Credits() <= 0 {
		return Booking{}, ErrInsufficientCredits
	}
	class, ok := store.classes[classID.String()]
	if !ok {
		return Booking{}, ErrClassNotFound
	}
	if store.countLocked(classID) >= class.Capacity().Int64() {
		return Booking{}, NewClassFullError(class.Title())
	}
	if _, exists := store.findLocked(userID, classID); exists {
		return Booking{}, ErrDuplicateBooking
	}
	booking, err := store.insertLocked(userID, classID, at)
	if err != nil {
		return Booking{}, err
	}
	if err := store.updateCreditsLocked(userID, profile.Credits(), profile.Credits()-1); err != nil {
		delete(store.bookings, booking.ID().String())
		return Booking{}, err
	}
	return booking, nil
}

func (store *stubStore) AtomicCancelBooking(_ context.Context, userID UserID, bookingID BookingID, at time.Time) (Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.atomicErr != nil {
		return Booking{}, store.atomicErr
	}
	booking, ok := store.bookings[bookingID.String()]
	if !ok || booking.UserID() != userID || booking.Status() != BookingStatusConfirmed {
		return Booking{}, ErrBookingNotFound
	}
	profile, ok := store.profiles[userID.String()]
	if !ok {
		return Booking{}, ErrUserNotFound
	}
	cancelled := booking.WithStatus(BookingStatusCancelled, at)
	store.bookings[bookingID.String()] = cancelled
	profile.credits++
	store.profiles[userID.String()] = profile
	return cancelled, nil
}

func (store *stubStore) GrantCredits(_ context.Context, userID UserID, amount PositiveCredits, idempotencyKey IdempotencyKey, _ MetadataJSON, _ time.Time) (Credits, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, seen := store.grants[idempotencyKey.String()]; seen {
		return 0, ErrDuplicateGrant
	}
	profile, ok := store.profiles[userID.String()]
	if !ok {
		return 0, ErrUserNotFound
	}
	profile.credits += amount.ToCredits()
	store.profiles[userID.String()] = profile
	store.grants[idempotencyKey.String()] = struct{}{}
	return profile.credits, nil
}

func (store *stubStore) CreateClass(_ context.Context, class ClassSchedule) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.classes[class.ID().String()] = class
	return nil
}

func (store *stubStore) ListBookings(_ context.Context, userID UserID, limit int) ([]Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	result := make([]Booking, 0)
	for _, booking := range store.bookings {
		if booking.UserID() == userID {
			result = append(result, booking)
		}
	}
	sort.Slice(result, func(left, right int) bool {
		return result[left].ID().String() > result[right].ID().String()
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// minimalStore hides every optional capability of the wrapped stub.
type minimalStore struct {
	Store
}

type recorderLogger struct {
	mu      sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recorderLogger) snapshot() []OperationLog {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	return append([]OperationLog(nil), logger.entries...)
}

func fixedClock() time.Time {
	return time.Date(2026, time.March, 2, 7, 0, 0, 0, time.UTC)
}

func newTestService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, fixedClock, options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	id, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return id
}

func mustClassID(test *testing.T, raw string) ClassID {
	test.Helper()
	id, err := NewClassID(raw)
	if err != nil {
		test.Fatalf("class id: %v", err)
	}
	return id
}

func mustBookingID(test *testing.T, raw string) BookingID {
	test.Helper()
	id, err := NewBookingID(raw)
	if err != nil {
		test.Fatalf("booking id: %v", err)
	}
	return id
}

func mustIdempotencyKey(test *testing.T, raw string) IdempotencyKey {
	test.Helper()
	key, err := NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return key
}

func mustPositiveCredits(test *testing.T, raw int64) PositiveCredits {
	test.Helper()
	amount, err := NewPositiveCredits(raw)
	if err != nil {
		test.Fatalf("positive credits: %v", err)
	}
	return amount
}

func mustProfile(test *testing.T, userID UserID, credits int64) Profile {
	test.Helper()
	balance, err := NewCredits(credits)
	if err != nil {
		test.Fatalf("credits: %v", err)
	}
	profile, err := NewProfile(userID, balance, RoleMember)
	if err != nil {
		test.Fatalf("profile: %v", err)
	}
	return profile
}

func mustClass(test *testing.T, classID ClassID, title string, capacity int64) ClassSchedule {
	test.Helper()
	seats, err := NewCapacity(capacity)
	if err != nil {
		test.Fatalf("capacity: %v", err)
	}
	start := fixedClock().Add(24 * time.Hour)
	class, err := NewClassSchedule(classID, title, seats, start, start.Add(time.Hour), "Studio A")
	if err != nil {
		test.Fatalf("class: %v", err)
	}
	return class
}

func (store *stubStore) EnsureProfile(_ context.Context, userID UserID, role Role, _ time.Time) (Profile, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if profile, ok := store.profiles[userID.String()]; ok {
		return profile, nil
	}
	profile, err := NewProfile(userID, 0, role)
	if err != nil {
		return Profile{}, err
	}
	store.profiles[userID.String()] = profile
	return profile, nil
}
