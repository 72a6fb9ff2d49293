package notifications

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStorage is an in-memory Storage for development and tests.
type MemoryStorage struct {
	mu            sync.RWMutex
	notifications map[string][]Notification // userID -> notifications
	now           func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		notifications: make(map[string][]Notification),
		now:           time.Now,
	}
}

func (s *MemoryStorage) Create(_ context.Context, notif Notification) error {
	if err := validate(notif); err != nil {
		return err
	}
	if notif.CreatedAt.IsZero() {
		notif.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[notif.UserID] = append(s.notifications[notif.UserID], notif)
	return nil
}

func (s *MemoryStorage) Get(_ context.Context, userID, notifID string) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.notifications[userID] {
		if n.ID == notifID {
			return &n, nil
		}
	}
	return nil, ErrNotificationNotFound
}

func (s *MemoryStorage) List(_ context.Context, userID string, opts ListOptions) ([]Notification, error) {
	s.mu.RLock()
	filtered := make([]Notification, 0, len(s.notifications[userID]))
	for _, n := range s.notifications[userID] {
		if opts.Match(n) {
			filtered = append(filtered, n)
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(filtered, func(a, b Notification) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	start := min(opts.Offset, len(filtered))
	end := len(filtered)
	if opts.Limit > 0 {
		end = min(start+opts.Limit, end)
	}
	return filtered[start:end], nil
}

func (s *MemoryStorage) MarkRead(_ context.Context, userID string, notifIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	list := s.notifications[userID]
	for i := range list {
		if !list[i].Read && slices.Contains(notifIDs, list[i].ID) {
			list[i].MarkAsRead(now)
		}
	}
	return nil
}

func (s *MemoryStorage) Delete(_ context.Context, userID string, notifIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications[userID] = slices.DeleteFunc(s.notifications[userID], func(n Notification) bool {
		return slices.Contains(notifIDs, n.ID)
	})
	return nil
}

func (s *MemoryStorage) CountUnread(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.notifications[userID] {
		if !n.Read {
			count++
		}
	}
	return count, nil
}
