package booking

import (
	"context"
	"time"
)

// Store abstracts persistence of profiles, classes and bookings.
//
// Lookups report absence with ErrUserNotFound, ErrClassNotFound and
// ErrBookingNotFound. UpdateCredits and UpdateBookingStatus are conditional
// writes: they fail with ErrCreditsChanged or ErrBookingNotFound when the
// stored value no longer matches from.
type Store interface {
	GetProfile(ctx context.Context, userID UserID) (Profile, error)
	UpdateCredits(ctx context.Context, userID UserID, from Credits, to Credits) error
	GetClass(ctx context.Context, classID ClassID) (ClassSchedule, error)
	CountConfirmedBookings(ctx context.Context, classID ClassID) (int64, error)
	FindConfirmedBooking(ctx context.Context, userID UserID, classID ClassID) (Booking, bool, error)
	InsertBooking(ctx context.Context, userID UserID, classID ClassID, at time.Time) (Booking, error)
	DeleteBooking(ctx context.Context, bookingID BookingID) error
	// GetBooking returns the booking only when it belongs to userID and is confirmed.
	GetBooking(ctx context.Context, bookingID BookingID, userID UserID) (Booking, error)
	UpdateBookingStatus(ctx context.Context, bookingID BookingID, from BookingStatus, to BookingStatus, at time.Time) error
}

// AtomicCapable is implemented by stores that can run a whole booking
// transition indivisibly.
type AtomicCapable interface {
	SupportsAtomicBooking() bool
}

// AtomicBooker re-checks eligibility and applies the insert and the debit as
// one unit. It returns the same typed errors as the eligibility check.
type AtomicBooker interface {
	AtomicCapable
	AtomicBookClass(ctx context.Context, userID UserID, classID ClassID, at time.Time) (Booking, error)
}

// AtomicCanceller flips a confirmed booking to cancelled and refunds the
// credit as one unit.
type AtomicCanceller interface {
	AtomicCapable
	AtomicCancelBooking(ctx context.Context, userID UserID, bookingID BookingID, at time.Time) (Booking, error)
}

// CreditGranter applies idempotent credit top-ups. A repeated key returns
// ErrDuplicateGrant and leaves the balance untouched.
type CreditGranter interface {
	GrantCredits(ctx context.Context, userID UserID, amount PositiveCredits, idempotencyKey IdempotencyKey, metadata MetadataJSON, at time.Time) (Credits, error)
}

// ProfileProvisioner creates a zero-credit profile on first sight of a user
// and returns the stored one otherwise.
type ProfileProvisioner interface {
	EnsureProfile(ctx context.Context, userID UserID, role Role, at time.Time) (Profile, error)
}

// ClassScheduler persists new class sessions.
type ClassScheduler interface {
	CreateClass(ctx context.Context, class ClassSchedule) error
}

// BookingLister lists a member's bookings, newest first.
type BookingLister interface {
	ListBookings(ctx context.Context, userID UserID, limit int) ([]Booking, error)
}

func supportsAtomic(capable AtomicCapable) bool {
	return capable != nil && capable.SupportsAtomicBooking()
}
