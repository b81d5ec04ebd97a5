package booking

import (
	"context"
	"errors"
	"fmt"
)

// CheckEligibility decides whether userID may book classID. It reads only and
// returns the first failing condition in this order: profile, credits, class,
// seat count, capacity, existing confirmed booking.
func (service *Service) CheckEligibility(ctx context.Context, userID UserID, classID ClassID) (Eligibility, error) {
	profile, err := service.store.GetProfile(ctx, userID)
	if err != nil {
		return Eligibility{}, classifyProfileError(err)
	}
	if profile.Credits() <= 0 {
		return Eligibility{}, ErrInsufficientCredits
	}
	class, err := service.store.GetClass(ctx, classID)
	if err != nil {
		return Eligibility{}, classifyClassError(err)
	}
	confirmed, err := service.store.CountConfirmedBookings(ctx, classID)
	if err != nil {
		return Eligibility{}, fmt.Errorf("%w: %w", ErrAvailabilityCheckFailed, err)
	}
	if confirmed >= class.Capacity().Int64() {
		return Eligibility{}, NewClassFullError(class.Title())
	}
	_, exists, err := service.store.FindConfirmedBooking(ctx, userID, classID)
	if err != nil {
		return Eligibility{}, fmt.Errorf("%w: %w", ErrAvailabilityCheckFailed, err)
	}
	if exists {
		return Eligibility{}, ErrDuplicateBooking
	}
	return Eligibility{
		Profile:        profile,
		Class:          class,
		ConfirmedCount: confirmed,
	}, nil
}

// A failed profile lookup is reported as a missing user.
func classifyProfileError(err error) error {
	if errors.Is(err, ErrUserNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUserNotFound, err)
}

func classifyClassError(err error) error {
	if errors.Is(err, ErrClassNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrClassNotFound, err)
}

func classifyBookingLookupError(err error) error {
	if errors.Is(err, ErrBookingNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrBookingNotFound, err)
}
