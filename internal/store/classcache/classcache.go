// Package classcache adds a redis read-through cache in front of class lookups.
// Only class sessions are cached. Credit balances and booking counts are
// always read from the wrapped store.
package classcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aop00-00/GRIND-PROJECT/pkg/booking"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultTTL       = 5 * time.Minute
	defaultKeyPrefix = "grind:class:"
)

// Client is the subset of the redis client used by the cache.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets how long a cached class stays valid.
func WithTTL(ttl time.Duration) Option {
	return func(store *Store) {
		if ttl > 0 {
			store.ttl = ttl
		}
	}
}

// WithKeyPrefix namespaces cache keys.
func WithKeyPrefix(prefix string) Option {
	return func(store *Store) {
		if prefix != "" {
			store.keyPrefix = prefix
		}
	}
}

// WithLogger reports cache failures. Failures never fail a lookup.
func WithLogger(logger *zap.Logger) Option {
	return func(store *Store) {
		if logger != nil {
			store.logger = logger
		}
	}
}

// Store decorates a booking.Store with cached GetClass.
type Store struct {
	booking.Store
	client    Client
	ttl       time.Duration
	keyPrefix string
	logger    *zap.Logger
}

type cachedClass struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Capacity int64     `json:"capacity"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Location string    `json:"location"`
}

// New wraps inner with a redis-backed class cache.
func New(inner booking.Store, client Client, options ...Option) *Store {
	store := &Store{
		Store:     inner,
		client:    client,
		ttl:       defaultTTL,
		keyPrefix: defaultKeyPrefix,
		logger:    zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(store)
		}
	}
	return store
}

func (store *Store) GetClass(ctx context.Context, classID booking.ClassID) (booking.ClassSchedule, error) {
	key := store.key(classID)
	payload, err := store.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		class, decodeErr := decodeClass(payload)
		if decodeErr == nil {
			return class, nil
		}
		store.logger.Warn("discarding unreadable cached class", zap.String("key", key), zap.Error(decodeErr))
	case errors.Is(err, redis.Nil):
	default:
		store.logger.Warn("class cache read failed", zap.String("key", key), zap.Error(err))
	}

	class, err := store.Store.GetClass(ctx, classID)
	if err != nil {
		return booking.ClassSchedule{}, err
	}
	store.put(ctx, class)
	return class, nil
}

// CreateClass stores the class and primes the cache.
func (store *Store) CreateClass(ctx context.Context, class booking.ClassSchedule) error {
	scheduler, ok := store.Store.(booking.ClassScheduler)
	if !ok {
		return fmt.Errorf("%w: store cannot schedule classes", booking.ErrUnsupportedOperation)
	}
	if err := scheduler.CreateClass(ctx, class); err != nil {
		return err
	}
	store.put(ctx, class)
	return nil
}

// Invalidate drops a cached class.
func (store *Store) Invalidate(ctx context.Context, classID booking.ClassID) error {
	return store.client.Del(ctx, store.key(classID)).Err()
}

func (store *Store) SupportsAtomicBooking() bool {
	capable, ok := store.Store.(booking.AtomicCapable)
	if !ok || !capable.SupportsAtomicBooking() {
		return false
	}
	_, booker := store.Store.(booking.AtomicBooker)
	_, canceller := store.Store.(booking.AtomicCanceller)
	return booker && canceller
}

func (store *Store) AtomicBookClass(ctx context.Context, userID booking.UserID, classID booking.ClassID, at time.Time) (booking.Booking, error) {
	booker, ok := store.Store.(booking.AtomicBooker)
	if !ok {
		return booking.Booking{}, fmt.Errorf("%w: store cannot book atomically", booking.ErrUnsupportedOperation)
	}
	return booker.AtomicBookClass(ctx, userID, classID, at)
}

func (store *Store) AtomicCancelBooking(ctx context.Context, userID booking.UserID, bookingID booking.BookingID, at time.Time) (booking.Booking, error) {
	canceller, ok := store.Store.(booking.AtomicCanceller)
	if !ok {
		return booking.Booking{}, fmt.Errorf("%w: store cannot cancel atomically", booking.ErrUnsupportedOperation)
	}
	return canceller.AtomicCancelBooking(ctx, userID, bookingID, at)
}

func (store *Store) GrantCredits(ctx context.Context, userID booking.UserID, amount booking.PositiveCredits, idempotencyKey booking.IdempotencyKey, metadata booking.MetadataJSON, at time.Time) (booking.Credits, error) {
	granter, ok := store.Store.(booking.CreditGranter)
	if !ok {
		return 0, fmt.Errorf("%w: store cannot grant credits", booking.ErrUnsupportedOperation)
	}
	return granter.GrantCredits(ctx, userID, amount, idempotencyKey, metadata, at)
}

func (store *Store) EnsureProfile(ctx context.Context, userID booking.UserID, role booking.Role, at time.Time) (booking.Profile, error) {
	provisioner, ok := store.Store.(booking.ProfileProvisioner)
	if !ok {
		return store.Store.GetProfile(ctx, userID)
	}
	return provisioner.EnsureProfile(ctx, userID, role, at)
}

func (store *Store) ListBookings(ctx context.Context, userID booking.UserID, limit int) ([]booking.Booking, error) {
	lister, ok := store.Store.(booking.BookingLister)
	if !ok {
		return nil, fmt.Errorf("%w: store cannot list bookings", booking.ErrUnsupportedOperation)
	}
	return lister.ListBookings(ctx, userID, limit)
}

func (store *Store) put(ctx context.Context, class booking.ClassSchedule) {
	payload, err := json.Marshal(cachedClass{
		ID:       class.ID().String(),
		Title:    class.Title(),
		Capacity: class.Capacity().Int64(),
		StartsAt: class.StartsAt(),
		EndsAt:   class.EndsAt(),
		Location: class.Location(),
	})
	if err != nil {
		store.logger.Warn("class cache encode failed", zap.String("class_id", class.ID().String()), zap.Error(err))
		return
	}
	if err := store.client.Set(ctx, store.key(class.ID()), payload, store.ttl).Err(); err != nil {
		store.logger.Warn("class cache write failed", zap.String("class_id", class.ID().String()), zap.Error(err))
	}
}

func (store *Store) key(classID booking.ClassID) string {
	return store.keyPrefix + classID.String()
}

func decodeClass(payload []byte) (booking.ClassSchedule, error) {
	var entry cachedClass
	if err := json.Unmarshal(payload, &entry); err != nil {
		return booking.ClassSchedule{}, err
	}
	classID, err := booking.NewClassID(entry.ID)
	if err != nil {
		return booking.ClassSchedule{}, err
	}
	capacity, err := booking.NewCapacity(entry.Capacity)
	if err != nil {
		return booking.ClassSchedule{}, err
	}
	return booking.NewClassSchedule(classID, entry.Title, capacity, entry.StartsAt, entry.EndsAt, entry.Location)
}
