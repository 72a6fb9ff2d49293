package subscription_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/motorlot/pkg/subscription"
)

func TestMemoryStore_ConditionalUpdate(t *testing.T) {
	t.Parallel()

	store := subscription.NewMemoryStore()
	ctx := context.Background()
	sub := &subscription.Subscription{ID: uuid.New(), UserID: uuid.New(), Status: subscription.StatusActive, AdHocCharges: decimal.Zero}
	require.NoError(t, store.Create(ctx, sub))

	a, err := store.Get(ctx, sub.ID)
	require.NoError(t, err)
	b, err := store.Get(ctx, sub.ID)
	require.NoError(t, err)

	a.CarsAdded = 1
	require.NoError(t, store.Update(ctx, a))
	assert.Equal(t, int64(1), a.Version)

	b.CarsAdded = 2
	err = store.Update(ctx, b)
	assert.ErrorIs(t, err, subscription.ErrConcurrentUpdate)

	got, err := store.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.CarsAdded)
}

func TestMemoryStore_SingleActivePerUser(t *testing.T) {
	t.Parallel()

	store := subscription.NewMemoryStore()
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, store.Create(ctx, &subscription.Subscription{ID: uuid.New(), UserID: userID, Status: subscription.StatusActive}))
	err := store.Create(ctx, &subscription.Subscription{ID: uuid.New(), UserID: userID, Status: subscription.StatusActive})
	assert.ErrorIs(t, err, subscription.ErrConflict)

	// History is unrestricted.
	require.NoError(t, store.Create(ctx, &subscription.Subscription{ID: uuid.New(), UserID: userID, Status: subscription.StatusExpired}))
	require.NoError(t, store.Create(ctx, &subscription.Subscription{ID: uuid.New(), UserID: userID, Status: subscription.StatusPending}))
}

func TestMemoryStore_WithTx(t *testing.T) {
	t.Parallel()

	store := subscription.NewMemoryStore()
	ctx := context.Background()
	sub := &subscription.Subscription{ID: uuid.New(), UserID: uuid.New(), Status: subscription.StatusActive}
	require.NoError(t, store.Create(ctx, sub))
	before, _ := store.Get(ctx, sub.ID)

	created := uuid.New()
	err := store.WithTx(ctx, func(ctx context.Context) error {
		s, _ := store.Get(ctx, sub.ID)
		s.CarsAdded = 10
		require.NoError(t, store.Update(ctx, s))
		require.NoError(t, store.Create(ctx, &subscription.Subscription{ID: created, UserID: uuid.New()}))

		// Nested transactions join the outer one.
		return store.WithTx(ctx, func(ctx context.Context) error {
			s.CarsAdded = 11
			require.NoError(t, store.Update(ctx, s))
			return errors.New("gateway failed")
		})
	})
	require.Error(t, err)

	after, _ := store.Get(ctx, sub.ID)
	assert.Equal(t, before, after)
	_, err = store.Get(ctx, created)
	assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
}

func TestMemoryStore_Lookups(t *testing.T) {
	t.Parallel()

	store := subscription.NewMemoryStore()
	ctx := context.Background()
	userID := uuid.New()
	old := &subscription.Subscription{ID: uuid.New(), UserID: userID, Status: subscription.StatusExpired, CreatedAt: periodStart, GatewaySubscriptionRef: "sub_old"}
	cur := &subscription.Subscription{ID: uuid.New(), UserID: userID, Status: subscription.StatusPending, CreatedAt: periodEnd, CheckoutSessionRef: "cs_new"}
	require.NoError(t, store.Create(ctx, old))
	require.NoError(t, store.Create(ctx, cur))

	latest, err := store.FindLatestByUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, cur.ID, latest.ID)

	byRef, err := store.FindByGatewayRef(ctx, "sub_old")
	require.NoError(t, err)
	assert.Equal(t, old.ID, byRef.ID)

	bySession, err := store.FindByCheckoutSession(ctx, "cs_new")
	require.NoError(t, err)
	assert.Equal(t, cur.ID, bySession.ID)

	_, err = store.FindActiveByUser(ctx, userID)
	assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
	_, err = store.FindByGatewayRef(ctx, "")
	assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
}

func TestLocalLocker(t *testing.T) {
	t.Parallel()

	t.Run("serializes the same key", func(t *testing.T) {
		t.Parallel()
		l := subscription.NewLocalLocker()
		var inside, maxInside atomic.Int32
		done := make(chan struct{})

		for range 10 {
			go func() {
				defer func() { done <- struct{}{} }()
				unlock, err := l.Lock(context.Background(), "subscription:1")
				if !assert.NoError(t, err) {
					return
				}
				n := inside.Add(1)
				if n > maxInside.Load() {
					maxInside.Store(n)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				unlock()
			}()
		}
		for range 10 {
			<-done
		}
		assert.Equal(t, int32(1), maxInside.Load())
	})

	t.Run("different keys do not contend", func(t *testing.T) {
		t.Parallel()
		l := subscription.NewLocalLocker()
		unlockA, err := l.Lock(context.Background(), "a")
		require.NoError(t, err)
		defer unlockA()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		unlockB, err := l.Lock(ctx, "b")
		require.NoError(t, err)
		unlockB()
	})

	t.Run("honours context cancellation", func(t *testing.T) {
		t.Parallel()
		l := subscription.NewLocalLocker()
		unlock, err := l.Lock(context.Background(), "k")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = l.Lock(ctx, "k")
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		unlock()
		unlock() // idempotent
		again, err := l.Lock(context.Background(), "k")
		require.NoError(t, err)
		again()
	})
}
