package notifications_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/motorlot/pkg/notifications"
)

func seed(t *testing.T, s *notifications.MemoryStorage, userID string, items ...notifications.Notification) {
	t.Helper()
	for _, n := range items {
		n.UserID = userID
		require.NoError(t, s.Create(context.Background(), n))
	}
}

func TestMemoryStorage_Create(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		notif   notifications.Notification
		wantErr bool
	}{
		{name: "valid", notif: notifications.Notification{ID: "n1", UserID: "u1", Message: "hi"}},
		{name: "missing id", notif: notifications.Notification{UserID: "u1", Message: "hi"}, wantErr: true},
		{name: "missing user", notif: notifications.Notification{ID: "n1", Message: "hi"}, wantErr: true},
		{name: "missing message", notif: notifications.Notification{ID: "n1", UserID: "u1"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := notifications.NewMemoryStorage()
			err := s.Create(context.Background(), tt.notif)
			if tt.wantErr {
				assert.ErrorIs(t, err, notifications.ErrInvalidNotification)
				return
			}
			require.NoError(t, err)
			got, err := s.Get(context.Background(), tt.notif.UserID, tt.notif.ID)
			require.NoError(t, err)
			assert.False(t, got.CreatedAt.IsZero())
		})
	}
}

func TestMemoryStorage_Get(t *testing.T) {
	t.Parallel()

	s := notifications.NewMemoryStorage()
	seed(t, s, "u1", notifications.Notification{ID: "n1", Message: "hello"})

	got, err := s.Get(context.Background(), "u1", "n1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Message)

	// The returned value is a copy.
	got.Message = "changed"
	again, _ := s.Get(context.Background(), "u1", "n1")
	assert.Equal(t, "hello", again.Message)

	_, err = s.Get(context.Background(), "u1", "missing")
	assert.ErrorIs(t, err, notifications.ErrNotificationNotFound)
	_, err = s.Get(context.Background(), "u2", "n1")
	assert.ErrorIs(t, err, notifications.ErrNotificationNotFound)
}

func TestMemoryStorage_List(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := notifications.NewMemoryStorage()
	seed(t, s, "u1",
		notifications.Notification{ID: "a", Message: "a", Category: notifications.CategorySubscription, ReferenceID: "sub-1", CreatedAt: base},
		notifications.Notification{ID: "b", Message: "b", Category: notifications.CategoryBilling, ReferenceID: "sub-1", CreatedAt: base.Add(time.Hour)},
		notifications.Notification{ID: "c", Message: "c", Category: notifications.CategoryInventory, CreatedAt: base.Add(2 * time.Hour)},
		notifications.Notification{ID: "d", Message: "d", Category: notifications.CategoryBilling, ReferenceID: "sub-2", CreatedAt: base.Add(3 * time.Hour)},
	)
	require.NoError(t, s.MarkRead(context.Background(), "u1", "d"))
	since := base.Add(90 * time.Minute)

	tests := []struct {
		name string
		opts notifications.ListOptions
		want []string
	}{
		{name: "newest first", want: []string{"d", "c", "b", "a"}},
		{name: "limit", opts: notifications.ListOptions{Limit: 2}, want: []string{"d", "c"}},
		{name: "offset", opts: notifications.ListOptions{Offset: 3, Limit: 5}, want: []string{"a"}},
		{name: "offset past end", opts: notifications.ListOptions{Offset: 10}, want: []string{}},
		{name: "only unread", opts: notifications.ListOptions{OnlyUnread: true}, want: []string{"c", "b", "a"}},
		{name: "category", opts: notifications.ListOptions{Categories: []notifications.Category{notifications.CategoryBilling}}, want: []string{"d", "b"}},
		{name: "reference", opts: notifications.ListOptions{ReferenceID: "sub-1"}, want: []string{"b", "a"}},
		{name: "since", opts: notifications.ListOptions{Since: &since}, want: []string{"d", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := s.List(context.Background(), "u1", tt.opts)
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, n := range got {
				ids = append(ids, n.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	empty, err := s.List(context.Background(), "nobody", notifications.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStorage_ReadAndDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := notifications.NewMemoryStorage()
	seed(t, s, "u1",
		notifications.Notification{ID: "a", Message: "a"},
		notifications.Notification{ID: "b", Message: "b"},
		notifications.Notification{ID: "c", Message: "c"},
	)

	n, err := s.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, s.MarkRead(ctx, "u1", "a", "missing"))
	got, _ := s.Get(ctx, "u1", "a")
	assert.True(t, got.Read)
	require.NotNil(t, got.ReadAt)

	require.NoError(t, s.Delete(ctx, "u1", "b"))
	n, _ = s.CountUnread(ctx, "u1")
	assert.Equal(t, 1, n)
	_, err = s.Get(ctx, "u1", "b")
	assert.ErrorIs(t, err, notifications.ErrNotificationNotFound)

	// Unknown users are a no-op.
	assert.NoError(t, s.MarkRead(ctx, "nobody", "a"))
	assert.NoError(t, s.Delete(ctx, "nobody", "a"))
}

func TestMemoryStorage_Concurrent(t *testing.T) {
	t.Parallel()

	s := notifications.NewMemoryStorage()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := string(rune('A' + i%26)) + string(rune('a'+i/26))
			assert.NoError(t, s.Create(context.Background(), notifications.Notification{ID: id, UserID: "u1", Message: "m"}))
			_, _ = s.CountUnread(context.Background(), "u1")
		}()
	}
	wg.Wait()

	n, err := s.CountUnread(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 50, n)
}
