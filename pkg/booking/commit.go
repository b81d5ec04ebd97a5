package booking

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// committer applies the write half of a booking once eligibility passed.
type committer interface {
	commit(ctx context.Context, userID UserID, classID ClassID, at time.Time) (Booking, error)
	path() string
}

// canceller applies the write half of a cancellation for a booking already
// verified as confirmed and owned by the caller.
type canceller interface {
	cancel(ctx context.Context, booking Booking, at time.Time) (Booking, error)
	path() string
}

func selectCommitter(store Store, atomicDisabled bool) committer {
	if booker, ok := store.(AtomicBooker); ok && !atomicDisabled && supportsAtomic(booker) {
		return atomicCommitter{booker: booker}
	}
	return sagaCommitter{store: store}
}

func selectCanceller(store Store, atomicDisabled bool) canceller {
	if atomicCanceller, ok := store.(AtomicCanceller); ok && !atomicDisabled && supportsAtomic(atomicCanceller) {
		return atomicCancellerAdapter{canceller: atomicCanceller}
	}
	return sagaCanceller{store: store}
}

type atomicCommitter struct {
	booker AtomicBooker
}

// An atomic failure that carries no domain error left nothing written, so it
// is reported like a failed insert on the fallback path.
func (committer atomicCommitter) commit(ctx context.Context, userID UserID, classID ClassID, at time.Time) (Booking, error) {
	booking, err := committer.booker.AtomicBookClass(ctx, userID, classID, at)
	if err != nil {
		return Booking{}, classifyAtomicError(err, ErrBookingInsertFailed)
	}
	return booking, nil
}

func (committer atomicCommitter) path() string {
	return CommitPathAtomic
}

// sagaCommitter is the fallback for stores without an indivisible booking
// path: insert the booking, then debit one credit, deleting the booking if the
// debit fails. Capacity is not re-checked between the eligibility read and the
// insert, so two concurrent callers may both take the last seat on this path.
type sagaCommitter struct {
	store Store
}

func (committer sagaCommitter) commit(ctx context.Context, userID UserID, classID ClassID, at time.Time) (Booking, error) {
	profile, err := committer.store.GetProfile(ctx, userID)
	if err != nil {
		return Booking{}, classifyProfileError(err)
	}
	if profile.Credits() <= 0 {
		return Booking{}, ErrInsufficientCredits
	}
	var booking Booking
	steps := []sagaStep{
		{
			name: stepInsertBooking,
			run: func(ctx context.Context) error {
				inserted, insertErr := committer.store.InsertBooking(ctx, userID, classID, at)
				if insertErr != nil {
					return fmt.Errorf("%w: %w", ErrBookingInsertFailed, insertErr)
				}
				booking = inserted
				return nil
			},
			compensate: func(ctx context.Context) error {
				return committer.store.DeleteBooking(ctx, booking.ID())
			},
		},
		{
			name: stepDebitCredit,
			run: func(ctx context.Context) error {
				if debitErr := committer.store.UpdateCredits(ctx, userID, profile.Credits(), profile.Credits()-bookingCreditCost); debitErr != nil {
					return fmt.Errorf("%w: %w", ErrCreditDebitFailed, debitErr)
				}
				return nil
			},
		},
	}
	if err := runSaga(ctx, steps); err != nil {
		return Booking{}, attachBookingID(err, booking.ID())
	}
	return booking, nil
}

func (committer sagaCommitter) path() string {
	return CommitPathSaga
}

type atomicCancellerAdapter struct {
	canceller AtomicCanceller
}

func (adapter atomicCancellerAdapter) cancel(ctx context.Context, booking Booking, at time.Time) (Booking, error) {
	cancelled, err := adapter.canceller.AtomicCancelBooking(ctx, booking.UserID(), booking.ID(), at)
	if err != nil {
		return Booking{}, classifyAtomicError(err, ErrBookingCancelFailed)
	}
	return cancelled, nil
}

func (adapter atomicCancellerAdapter) path() string {
	return CommitPathAtomic
}

// sagaCanceller flips the status first and restores it if the refund fails.
type sagaCanceller struct {
	store Store
}

func (canceller sagaCanceller) cancel(ctx context.Context, booking Booking, at time.Time) (Booking, error) {
	steps := []sagaStep{
		{
			name: stepCancelBooking,
			run: func(ctx context.Context) error {
				if err := canceller.store.UpdateBookingStatus(ctx, booking.ID(), BookingStatusConfirmed, BookingStatusCancelled, at); err != nil {
					return fmt.Errorf("%w: %w", ErrBookingCancelFailed, err)
				}
				return nil
			},
			compensate: func(ctx context.Context) error {
				return canceller.store.UpdateBookingStatus(ctx, booking.ID(), BookingStatusCancelled, BookingStatusConfirmed, booking.UpdatedAt())
			},
		},
		{
			name: stepRefundCredit,
			run: func(ctx context.Context) error {
				profile, err := canceller.store.GetProfile(ctx, booking.UserID())
				if err != nil {
					return fmt.Errorf("%w: %w", ErrCreditRefundFailed, err)
				}
				if err := canceller.store.UpdateCredits(ctx, booking.UserID(), profile.Credits(), profile.Credits()+bookingCreditCost); err != nil {
					return fmt.Errorf("%w: %w", ErrCreditRefundFailed, err)
				}
				return nil
			},
		},
	}
	if err := runSaga(ctx, steps); err != nil {
		return Booking{}, attachBookingID(err, booking.ID())
	}
	return booking.WithStatus(BookingStatusCancelled, at), nil
}

func (canceller sagaCanceller) path() string {
	return CommitPathSaga
}

func classifyAtomicError(err error, fallback error) error {
	if KindOf(err) != KindInternal {
		return err
	}
	return fmt.Errorf("%w: %w", fallback, err)
}

func attachBookingID(err error, bookingID BookingID) error {
	var compensationError *CompensationError
	if errors.As(err, &compensationError) {
		compensationError.bookingID = bookingID
	}
	return err
}
