package notifications_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/motorlot/pkg/notifications"
)

type mockDeliverer struct {
	mock.Mock
}

func (m *mockDeliverer) Deliver(ctx context.Context, notif notifications.Notification) error {
	return m.Called(ctx, notif).Error(0)
}

type failingStorage struct {
	*notifications.MemoryStorage
}

func (failingStorage) Create(context.Context, notifications.Notification) error {
	return errors.New("disk full")
}

func TestManager_Notify(t *testing.T) {
	t.Parallel()

	t.Run("stores then delivers", func(t *testing.T) {
		t.Parallel()
		storage := notifications.NewMemoryStorage()
		d := &mockDeliverer{}
		d.On("Deliver", mock.Anything, mock.MatchedBy(func(n notifications.Notification) bool {
			return n.Category == notifications.CategoryBilling && n.ReferenceID == "sub-1"
		})).Return(nil).Once()

		mgr := notifications.NewManager(storage, notifications.WithDeliverer(d))
		userID := uuid.New()
		require.NoError(t, mgr.Notify(context.Background(), userID, "Overage charged", "sub-1", notifications.CategoryBilling))

		list, err := mgr.List(context.Background(), userID.String(), notifications.ListOptions{})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "Overage charged", list[0].Message)
		assert.NotEmpty(t, list[0].ID)
		assert.False(t, list[0].CreatedAt.IsZero())
		d.AssertExpectations(t)
	})

	t.Run("delivery failure keeps the stored copy", func(t *testing.T) {
		t.Parallel()
		d := &mockDeliverer{}
		d.On("Deliver", mock.Anything, mock.Anything).Return(errors.New("socket closed"))

		mgr := notifications.NewManager(notifications.NewMemoryStorage(), notifications.WithDeliverer(d))
		sent, err := mgr.Send(context.Background(), notifications.Notification{UserID: "u1", Message: "hello"})
		require.NoError(t, err)

		got, err := mgr.Get(context.Background(), "u1", sent.ID)
		require.NoError(t, err)
		assert.Equal(t, "hello", got.Message)
	})

	t.Run("storage failure is returned", func(t *testing.T) {
		t.Parallel()
		d := &mockDeliverer{}
		mgr := notifications.NewManager(failingStorage{notifications.NewMemoryStorage()}, notifications.WithDeliverer(d))
		err := mgr.Notify(context.Background(), uuid.New(), "x", "", notifications.CategorySystem)
		assert.Error(t, err)
		d.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
	})
}

func TestManager_MarkAllRead(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mgr := notifications.NewManager(notifications.NewMemoryStorage())
	for range 3 {
		_, err := mgr.Send(ctx, notifications.Notification{UserID: "u1", Message: "m"})
		require.NoError(t, err)
	}

	n, err := mgr.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, mgr.MarkAllRead(ctx, "u1"))
	n, _ = mgr.CountUnread(ctx, "u1")
	assert.Zero(t, n)

	// Nothing unread is fine.
	require.NoError(t, mgr.MarkAllRead(ctx, "u1"))

	list, _ := mgr.List(ctx, "u1", notifications.ListOptions{})
	require.NoError(t, mgr.Delete(ctx, "u1", list[0].ID))
	list, _ = mgr.List(ctx, "u1", notifications.ListOptions{})
	assert.Len(t, list, 2)
}

func TestMultiDeliverer(t *testing.T) {
	t.Parallel()

	var got []string
	first := notifications.DelivererFunc(func(_ context.Context, n notifications.Notification) error {
		return errors.New("push failed")
	})
	second := notifications.DelivererFunc(func(_ context.Context, n notifications.Notification) error {
		got = append(got, n.ID)
		return nil
	})

	m := notifications.NewMultiDeliverer(nil, first, second)
	require.NoError(t, m.Deliver(context.Background(), notifications.Notification{ID: "n1"}))
	assert.Equal(t, []string{"n1"}, got)
}

func TestNewManager_PanicsWithoutStorage(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { notifications.NewManager(nil) })
}
