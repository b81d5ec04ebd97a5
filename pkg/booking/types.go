package booking

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// UserID identifies a member profile.
type UserID struct {
	value string
}

// ClassID identifies a scheduled class session.
type ClassID struct {
	value string
}

// BookingID identifies a booking record.
type BookingID struct {
	value string
}

// IdempotencyKey scopes duplicate detection for credit grants.
type IdempotencyKey struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// Credits is a non-negative class credit balance.
type Credits int64

// PositiveCredits is a strictly positive credit amount.
type PositiveCredits int64

// Capacity is the fixed seat count of a class.
type Capacity int64

// Role is the role attached to a session.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleCoach  Role = "coach"
)

// BookingStatus defines the booking lifecycle.
type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewClassID validates and normalizes a class id.
func NewClassID(raw string) (ClassID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ClassID{}, fmt.Errorf("%w: empty value", ErrInvalidClassID)
	}
	return ClassID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ClassID) String() string {
	return id.value
}

// NewBookingID validates and normalizes a booking id.
func NewBookingID(raw string) (BookingID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BookingID{}, fmt.Errorf("%w: empty value", ErrInvalidBookingID)
	}
	return BookingID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id BookingID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id BookingID) IsZero() bool {
	return id.value == ""
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// NewCredits validates a stored credit balance.
func NewCredits(raw int64) (Credits, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidCredits)
	}
	return Credits(raw), nil
}

// Int64 returns the raw balance.
func (credits Credits) Int64() int64 {
	return int64(credits)
}

// NewPositiveCredits validates a grant amount.
func NewPositiveCredits(raw int64) (PositiveCredits, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidCredits)
	}
	return PositiveCredits(raw), nil
}

// ToCredits converts to a balance value.
func (amount PositiveCredits) ToCredits() Credits {
	return Credits(amount)
}

// Int64 returns the raw amount.
func (amount PositiveCredits) Int64() int64 {
	return int64(amount)
}

// NewCapacity validates a class capacity.
func NewCapacity(raw int64) (Capacity, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidCapacity)
	}
	return Capacity(raw), nil
}

// Int64 returns the raw capacity.
func (capacity Capacity) Int64() int64 {
	return int64(capacity)
}

// ParseRole validates a role name.
func ParseRole(raw string) (Role, error) {
	switch role := Role(strings.ToLower(strings.TrimSpace(raw))); role {
	case RoleMember, RoleAdmin, RoleCoach:
		return role, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
}

// ParseBookingStatus validates a booking status.
func ParseBookingStatus(raw string) (BookingStatus, error) {
	switch status := BookingStatus(strings.TrimSpace(raw)); status {
	case BookingStatusConfirmed, BookingStatusCancelled, BookingStatusCompleted:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBookingStatus, raw)
	}
}

// Profile is the member view the booking core reads and debits.
type Profile struct {
	userID  UserID
	credits Credits
	role    Role
}

// NewProfile builds a Profile.
func NewProfile(userID UserID, credits Credits, role Role) (Profile, error) {
	if userID.value == "" {
		return Profile{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if credits < 0 {
		return Profile{}, fmt.Errorf("%w: must not be negative", ErrInvalidCredits)
	}
	if role == "" {
		role = RoleMember
	}
	return Profile{userID: userID, credits: credits, role: role}, nil
}

// UserID returns the owner id.
func (profile Profile) UserID() UserID {
	return profile.userID
}

// Credits returns the current balance.
func (profile Profile) Credits() Credits {
	return profile.credits
}

// Role returns the member role.
func (profile Profile) Role() Role {
	return profile.role
}

// ClassSchedule is a scheduled class session with fixed capacity.
type ClassSchedule struct {
	id       ClassID
	title    string
	capacity Capacity
	startsAt time.Time
	endsAt   time.Time
	location string
}

// NewClassSchedule validates and builds a class session.
func NewClassSchedule(id ClassID, title string, capacity Capacity, startsAt time.Time, endsAt time.Time, location string) (ClassSchedule, error) {
	if id.value == "" {
		return ClassSchedule{}, fmt.Errorf("%w: empty value", ErrInvalidClassID)
	}
	trimmedTitle := strings.TrimSpace(title)
	if trimmedTitle == "" {
		return ClassSchedule{}, fmt.Errorf("%w: empty value", ErrInvalidClassTitle)
	}
	if capacity <= 0 {
		return ClassSchedule{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidCapacity)
	}
	if !startsAt.IsZero() && !endsAt.IsZero() && !endsAt.After(startsAt) {
		return ClassSchedule{}, fmt.Errorf("%w: end must be after start", ErrInvalidClassWindow)
	}
	return ClassSchedule{
		id:       id,
		title:    trimmedTitle,
		capacity: capacity,
		startsAt: startsAt.UTC(),
		endsAt:   endsAt.UTC(),
		location: strings.TrimSpace(location),
	}, nil
}

// ID returns the class id.
func (class ClassSchedule) ID() ClassID {
	return class.id
}

// Title returns the display title.
func (class ClassSchedule) Title() string {
	return class.title
}

// Capacity returns the seat count.
func (class ClassSchedule) Capacity() Capacity {
	return class.capacity
}

// StartsAt returns the start time in UTC.
func (class ClassSchedule) StartsAt() time.Time {
	return class.startsAt
}

// EndsAt returns the end time in UTC.
func (class ClassSchedule) EndsAt() time.Time {
	return class.endsAt
}

// Location returns the room or venue.
func (class ClassSchedule) Location() string {
	return class.location
}

// Booking links a user to a class session.
type Booking struct {
	id        BookingID
	userID    UserID
	classID   ClassID
	status    BookingStatus
	createdAt time.Time
	updatedAt time.Time
}

// NewBooking validates and builds a stored booking.
func NewBooking(id BookingID, userID UserID, classID ClassID, status BookingStatus, createdAt time.Time, updatedAt time.Time) (Booking, error) {
	if id.value == "" {
		return Booking{}, fmt.Errorf("%w: empty value", ErrInvalidBookingID)
	}
	if userID.value == "" {
		return Booking{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if classID.value == "" {
		return Booking{}, fmt.Errorf("%w: empty value", ErrInvalidClassID)
	}
	if _, err := ParseBookingStatus(string(status)); err != nil {
		return Booking{}, err
	}
	return Booking{
		id:        id,
		userID:    userID,
		classID:   classID,
		status:    status,
		createdAt: createdAt.UTC(),
		updatedAt: updatedAt.UTC(),
	}, nil
}

// ID returns the booking id.
func (booking Booking) ID() BookingID {
	return booking.id
}

// UserID returns the owner.
func (booking Booking) UserID() UserID {
	return booking.userID
}

// ClassID returns the booked class.
func (booking Booking) ClassID() ClassID {
	return booking.classID
}

// Status returns the lifecycle status.
func (booking Booking) Status() BookingStatus {
	return booking.status
}

// CreatedAt returns the creation time in UTC.
func (booking Booking) CreatedAt() time.Time {
	return booking.createdAt
}

// UpdatedAt returns the last modification time in UTC.
func (booking Booking) UpdatedAt() time.Time {
	return booking.updatedAt
}

// WithStatus returns a copy moved to status at the given time.
func (booking Booking) WithStatus(status BookingStatus, at time.Time) Booking {
	booking.status = status
	booking.updatedAt = at.UTC()
	return booking
}

// Eligibility is the snapshot read by the eligibility check.
type Eligibility struct {
	Profile        Profile
	Class          ClassSchedule
	ConfirmedCount int64
}

// Availability describes remaining seats for a class.
type Availability struct {
	Class     ClassSchedule
	Confirmed int64
	Remaining int64
}
