package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aop00-00/GRIND-PROJECT/pkg/booking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, time.April, 6, 18, 30, 0, 0, time.UTC)

func seed(t *testing.T, store *Store, users map[string]int64, classes map[string]int64) {
	t.Helper()
	for rawUser, credits := range users {
		userID, err := booking.NewUserID(rawUser)
		require.NoError(t, err)
		store.PutProfile(userID, booking.Credits(credits), booking.RoleMember)
	}
	for rawClass, capacity := range classes {
		classID, err := booking.NewClassID(rawClass)
		require.NoError(t, err)
		class, err := booking.NewClassSchedule(classID, "Class "+rawClass, booking.Capacity(capacity), testNow, testNow.Add(time.Hour), "Main room")
		require.NoError(t, err)
		require.NoError(t, store.CreateClass(context.Background(), class))
	}
}

func newService(t *testing.T, store *Store) *booking.Service {
	t.Helper()
	service, err := booking.NewService(store, func() time.Time { return testNow })
	require.NoError(t, err)
	return service
}

func userID(t *testing.T, raw string) booking.UserID {
	t.Helper()
	id, err := booking.NewUserID(raw)
	require.NoError(t, err)
	return id
}

func classID(t *testing.T, raw string) booking.ClassID {
	t.Helper()
	id, err := booking.NewClassID(raw)
	require.NoError(t, err)
	return id
}

func TestStoreReportsCapability(t *testing.T) {
	assert.True(t, New().SupportsAtomicBooking())
	assert.False(t, New(WithoutAtomicBooking()).SupportsAtomicBooking())

	atomicService := newService(t, New())
	sagaService := newService(t, New(WithoutAtomicBooking()))
	assert.Equal(t, booking.CommitPathAtomic, atomicService.CommitPath())
	assert.Equal(t, booking.CommitPathSaga, sagaService.CommitPath())
}

func TestBookAndCancelRoundTrip(t *testing.T) {
	for _, options := range [][]Option{nil, {WithoutAtomicBooking()}} {
		store := New(options...)
		seed(t, store, map[string]int64{"ana": 3}, map[string]int64{"yoga": 10})
		service := newService(t, store)
		ctx := context.Background()

		created, err := service.BookClass(ctx, userID(t, "ana"), classID(t, "yoga"))
		require.NoError(t, err)
		assert.Equal(t, booking.BookingStatusConfirmed, created.Status())

		balance, err := service.Credits(ctx, userID(t, "ana"))
		require.NoError(t, err)
		assert.Equal(t, booking.Credits(2), balance)

		cancelled, err := service.CancelBooking(ctx, userID(t, "ana"), created.ID())
		require.NoError(t, err)
		assert.Equal(t, booking.BookingStatusCancelled, cancelled.Status())

		balance, err = service.Credits(ctx, userID(t, "ana"))
		require.NoError(t, err)
		assert.Equal(t, booking.Credits(3), balance)

		_, err = service.CancelBooking(ctx, userID(t, "ana"), created.ID())
		assert.ErrorIs(t, err, booking.ErrBookingNotFound)

		rebooked, err := service.BookClass(ctx, userID(t, "ana"), classID(t, "yoga"))
		require.NoError(t, err, "a cancelled booking must not block a new one")
		assert.NotEqual(t, created.ID(), rebooked.ID())
	}
}

func TestInsertRejectsSecondConfirmedBooking(t *testing.T) {
	store := New()
	seed(t, store, map[string]int64{"ana": 3}, map[string]int64{"yoga": 10})
	ctx := context.Background()

	_, err := store.InsertBooking(ctx, userID(t, "ana"), classID(t, "yoga"), testNow)
	require.NoError(t, err)
	_, err = store.InsertBooking(ctx, userID(t, "ana"), classID(t, "yoga"), testNow)
	assert.ErrorIs(t, err, booking.ErrDuplicateBooking)
}

func TestUpdateCreditsIsConditional(t *testing.T) {
	store := New()
	seed(t, store, map[string]int64{"ana": 3}, nil)
	ctx := context.Background()

	assert.ErrorIs(t, store.UpdateCredits(ctx, userID(t, "ana"), 5, 4), booking.ErrCreditsChanged)
	require.NoError(t, store.UpdateCredits(ctx, userID(t, "ana"), 3, 2))
	assert.ErrorIs(t, store.UpdateCredits(ctx, userID(t, "ghost"), 0, 1), booking.ErrUserNotFound)
}

func TestSagaFallbackRollsBackInjectedDebitFailure(t *testing.T) {
	store := New(WithoutAtomicBooking())
	seed(t, store, map[string]int64{"ana": 1}, map[string]int64{"yoga": 1})
	store.FailNext(FaultUpdateCredits, errors.New("write timeout"))
	service := newService(t, store)
	ctx := context.Background()

	_, err := service.BookClass(ctx, userID(t, "ana"), classID(t, "yoga"))
	require.ErrorIs(t, err, booking.ErrCreditDebitFailed)

	availability, err := service.Availability(ctx, classID(t, "yoga"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), availability.Confirmed)
	assert.Equal(t, int64(1), availability.Remaining)

	_, err = service.BookClass(ctx, userID(t, "ana"), classID(t, "yoga"))
	require.NoError(t, err, "the fault is consumed by the first call")
}

func TestSagaFallbackReportsCompensationFailure(t *testing.T) {
	store := New(WithoutAtomicBooking())
	seed(t, store, map[string]int64{"ana": 1}, map[string]int64{"yoga": 1})
	store.FailNext(FaultUpdateCredits, errors.New("write timeout"))
	store.FailNext(FaultDeleteBooking, errors.New("delete timeout"))
	service := newService(t, store)

	_, err := service.BookClass(context.Background(), userID(t, "ana"), classID(t, "yoga"))
	require.ErrorIs(t, err, booking.ErrCompensationFailed)
	assert.Equal(t, booking.KindCompensationFailed, booking.KindOf(err))
}

func TestAtomicCapacityUnderContention(t *testing.T) {
	const attempts = 40
	const capacity = 7
	store := New()
	users := map[string]int64{}
	for index := 0; index < attempts; index++ {
		users[fmt.Sprintf("member-%02d", index)] = 1
	}
	seed(t, store, users, map[string]int64{"spin": capacity})
	service := newService(t, store)
	spin := classID(t, "spin")

	var waitGroup sync.WaitGroup
	errs := make(chan error, attempts)
	for rawUser := range users {
		member := userID(t, rawUser)
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := service.BookClass(context.Background(), member, spin)
			errs <- err
		}()
	}
	waitGroup.Wait()
	close(errs)

	succeeded, full := 0, 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, booking.ErrClassFull)
		full++
	}
	assert.Equal(t, capacity, succeeded)
	assert.Equal(t, attempts-capacity, full)

	count, err := store.CountConfirmedBookings(context.Background(), spin)
	require.NoError(t, err)
	assert.Equal(t, int64(capacity), count)
}

func TestGrantCreditsIsIdempotent(t *testing.T) {
	store := New()
	seed(t, store, map[string]int64{"ana": 0}, nil)
	key, err := booking.NewIdempotencyKey("payment:42")
	require.NoError(t, err)
	ctx := context.Background()

	balance, err := store.GrantCredits(ctx, userID(t, "ana"), 10, key, booking.MetadataJSON{}, testNow)
	require.NoError(t, err)
	assert.Equal(t, booking.Credits(10), balance)

	_, err = store.GrantCredits(ctx, userID(t, "ana"), 10, key, booking.MetadataJSON{}, testNow)
	assert.ErrorIs(t, err, booking.ErrDuplicateGrant)
}

func TestListBookingsNewestFirst(t *testing.T) {
	store := New()
	seed(t, store, map[string]int64{"ana": 5, "ben": 5}, map[string]int64{"a": 5, "b": 5, "c": 5})
	ctx := context.Background()
	for offset, rawClass := range []string{"a", "b", "c"} {
		_, err := store.InsertBooking(ctx, userID(t, "ana"), classID(t, rawClass), testNow.Add(time.Duration(offset)*time.Minute))
		require.NoError(t, err)
	}
	_, err := store.InsertBooking(ctx, userID(t, "ben"), classID(t, "a"), testNow)
	require.NoError(t, err)

	bookings, err := store.ListBookings(ctx, userID(t, "ana"), 2)
	require.NoError(t, err)
	require.Len(t, bookings, 2)
	assert.Equal(t, classID(t, "c"), bookings[0].ClassID())
	assert.Equal(t, classID(t, "b"), bookings[1].ClassID())
}

func TestListBookingsLimitsAfterOrdering(t *testing.T) {
	store := New()
	seed(t, store, map[string]int64{"ana": 5}, map[string]int64{"a": 5, "b": 5, "c": 5})
	ctx := context.Background()
	inserts := []struct {
		class  string
		offset time.Duration
	}{
		{class: "a", offset: 2 * time.Hour},
		{class: "b", offset: 0},
		{class: "c", offset: time.Hour},
	}
	for _, insert := range inserts {
		_, err := store.InsertBooking(ctx, userID(t, "ana"), classID(t, insert.class), testNow.Add(insert.offset))
		require.NoError(t, err)
	}

	bookings, err := store.ListBookings(ctx, userID(t, "ana"), 2)
	require.NoError(t, err)
	require.Len(t, bookings, 2)
	assert.Equal(t, classID(t, "a"), bookings[0].ClassID())
	assert.Equal(t, classID(t, "c"), bookings[1].ClassID())
}

func TestAtomicPathReportsInjectedWriteFailures(t *testing.T) {
	store := New()
	seed(t, store, map[string]int64{"ana": 2}, map[string]int64{"yoga": 3, "spin": 3})
	service := newService(t, store)
	ctx := context.Background()

	store.FailNext(FaultInsertBooking, errors.New("disk full"))
	_, err := service.BookClass(ctx, userID(t, "ana"), classID(t, "yoga"))
	assert.Equal(t, booking.KindBookingInsertFailed, booking.KindOf(err))

	store.FailNext(FaultUpdateCredits, errors.New("write timeout"))
	_, err = service.BookClass(ctx, userID(t, "ana"), classID(t, "yoga"))
	assert.Equal(t, booking.KindCreditDebitFailed, booking.KindOf(err))

	availability, err := service.Availability(ctx, classID(t, "yoga"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), availability.Confirmed)

	created, err := service.BookClass(ctx, userID(t, "ana"), classID(t, "spin"))
	require.NoError(t, err)
	store.FailNext(FaultUpdateCredits, errors.New("write timeout"))
	_, err = service.CancelBooking(ctx, userID(t, "ana"), created.ID())
	assert.Equal(t, booking.KindCreditRefundFailed, booking.KindOf(err))

	balance, err := service.Credits(ctx, userID(t, "ana"))
	require.NoError(t, err)
	assert.Equal(t, booking.Credits(1), balance)
}
