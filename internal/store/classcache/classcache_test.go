package classcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aop00-00/GRIND-PROJECT/internal/store/memstore"
	"github.com/aop00-00/GRIND-PROJECT/pkg/booking"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, time.July, 14, 17, 0, 0, 0, time.UTC)

type fakeClient struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	readErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (client *fakeClient) Get(ctx context.Context, key string) *redis.StringCmd {
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.readErr != nil {
		return redis.NewStringResult("", client.readErr)
	}
	value, ok := client.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (client *fakeClient) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	client.mu.Lock()
	defer client.mu.Unlock()
	switch typed := value.(type) {
	case []byte:
		client.values[key] = string(typed)
	case string:
		client.values[key] = typed
	}
	client.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (client *fakeClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	client.mu.Lock()
	defer client.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := client.values[key]; ok {
			delete(client.values, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

type countingStore struct {
	*memstore.Store
	classReads int
}

func (store *countingStore) GetClass(ctx context.Context, classID booking.ClassID) (booking.ClassSchedule, error) {
	store.classReads++
	return store.Store.GetClass(ctx, classID)
}

func seedClass(t *testing.T, inner *memstore.Store, rawClassID string, capacity int64) booking.ClassSchedule {
	t.Helper()
	classID, err := booking.NewClassID(rawClassID)
	require.NoError(t, err)
	class, err := booking.NewClassSchedule(classID, "HIIT "+rawClassID, booking.Capacity(capacity), testNow, testNow.Add(45*time.Minute), "Box 2")
	require.NoError(t, err)
	require.NoError(t, inner.CreateClass(context.Background(), class))
	return class
}

func TestGetClassReadsThrough(t *testing.T) {
	inner := &countingStore{Store: memstore.New()}
	class := seedClass(t, inner.Store, "hiit-1", 8)
	client := newFakeClient()
	cache := New(inner, client, WithTTL(time.Minute))
	ctx := context.Background()

	first, err := cache.GetClass(ctx, class.ID())
	require.NoError(t, err)
	second, err := cache.GetClass(ctx, class.ID())
	require.NoError(t, err)

	assert.Equal(t, 1, inner.classReads)
	assert.Equal(t, class.Title(), second.Title())
	assert.Equal(t, first.Capacity(), second.Capacity())
	assert.True(t, second.StartsAt().Equal(class.StartsAt()))
	assert.Equal(t, time.Minute, client.ttls[defaultKeyPrefix+"hiit-1"])
}

func TestGetClassFallsBackWhenRedisFails(t *testing.T) {
	inner := &countingStore{Store: memstore.New()}
	class := seedClass(t, inner.Store, "hiit-2", 8)
	client := newFakeClient()
	client.readErr = errors.New("connection refused")
	cache := New(inner, client)

	loaded, err := cache.GetClass(context.Background(), class.ID())
	require.NoError(t, err)
	assert.Equal(t, class.Title(), loaded.Title())
	assert.Equal(t, 1, inner.classReads)
}

func TestGetClassDiscardsCorruptEntries(t *testing.T) {
	inner := &countingStore{Store: memstore.New()}
	class := seedClass(t, inner.Store, "hiit-3", 8)
	client := newFakeClient()
	client.values[defaultKeyPrefix+"hiit-3"] = "not json"
	cache := New(inner, client)

	loaded, err := cache.GetClass(context.Background(), class.ID())
	require.NoError(t, err)
	assert.Equal(t, class.Capacity(), loaded.Capacity())
	assert.Equal(t, 1, inner.classReads)
}

func TestGetClassDoesNotCacheMisses(t *testing.T) {
	inner := &countingStore{Store: memstore.New()}
	client := newFakeClient()
	cache := New(inner, client)
	missing, err := booking.NewClassID("nope")
	require.NoError(t, err)

	_, err = cache.GetClass(context.Background(), missing)
	assert.ErrorIs(t, err, booking.ErrClassNotFound)
	assert.Empty(t, client.values)
}

func TestCreateClassPrimesAndInvalidateDrops(t *testing.T) {
	inner := &countingStore{Store: memstore.New()}
	client := newFakeClient()
	cache := New(inner, client, WithKeyPrefix("test:"))
	ctx := context.Background()
	classID, err := booking.NewClassID("yoga-9")
	require.NoError(t, err)
	class, err := booking.NewClassSchedule(classID, "Yoga flow", 12, testNow, testNow.Add(time.Hour), "Roof")
	require.NoError(t, err)

	require.NoError(t, cache.CreateClass(ctx, class))
	_, err = cache.GetClass(ctx, classID)
	require.NoError(t, err)
	assert.Equal(t, 0, inner.classReads)

	require.NoError(t, cache.Invalidate(ctx, classID))
	_, err = cache.GetClass(ctx, classID)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.classReads)
}

func TestCacheForwardsCapabilities(t *testing.T) {
	atomicCache := New(memstore.New(), newFakeClient())
	sagaCache := New(memstore.New(memstore.WithoutAtomicBooking()), newFakeClient())

	atomicService, err := booking.NewService(atomicCache, func() time.Time { return testNow })
	require.NoError(t, err)
	sagaService, err := booking.NewService(sagaCache, func() time.Time { return testNow })
	require.NoError(t, err)

	assert.Equal(t, booking.CommitPathAtomic, atomicService.CommitPath())
	assert.Equal(t, booking.CommitPathSaga, sagaService.CommitPath())
}

func TestBookingThroughCacheUsesLiveCounts(t *testing.T) {
	inner := memstore.New()
	class := seedClass(t, inner, "spin-1", 1)
	first, err := booking.NewUserID("first")
	require.NoError(t, err)
	second, err := booking.NewUserID("second")
	require.NoError(t, err)
	inner.PutProfile(first, 2, booking.RoleMember)
	inner.PutProfile(second, 2, booking.RoleMember)

	service, err := booking.NewService(New(inner, newFakeClient()), func() time.Time { return testNow })
	require.NoError(t, err)
	ctx := context.Background()

	_, err = service.BookClass(ctx, first, class.ID())
	require.NoError(t, err)
	_, err = service.BookClass(ctx, second, class.ID())
	assert.ErrorIs(t, err, booking.ErrClassFull)
}
