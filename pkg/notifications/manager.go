package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/motorlot/pkg/logger"
)

// Manager stores notifications and hands them to a Deliverer.
type Manager struct {
	storage   Storage
	deliverer Deliverer
	logger    *slog.Logger
	now       func() time.Time
}

type ManagerOption func(*Manager)

func WithManagerLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if log != nil {
			m.logger = log
		}
	}
}

func WithDeliverer(d Deliverer) ManagerOption {
	return func(m *Manager) {
		if d != nil {
			m.deliverer = d
		}
	}
}

func NewManager(storage Storage, opts ...ManagerOption) *Manager {
	if storage == nil {
		panic("notifications: storage is required")
	}
	m := &Manager{
		storage:   storage,
		deliverer: noopDeliverer{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Send persists notif and then attempts delivery. Delivery failures are logged
// only: the stored copy stays available through List.
func (m *Manager) Send(ctx context.Context, notif Notification) (Notification, error) {
	if notif.ID == "" {
		notif.ID = uuid.NewString()
	}
	if notif.CreatedAt.IsZero() {
		notif.CreatedAt = m.now()
	}

	if err := m.storage.Create(ctx, notif); err != nil {
		return Notification{}, fmt.Errorf("store notification: %w", err)
	}

	if err := m.deliverer.Deliver(ctx, notif); err != nil {
		m.logger.LogAttrs(ctx, slog.LevelWarn, "notification stored but not delivered",
			slog.String("notification_id", notif.ID),
			logger.UserID(notif.UserID),
			logger.Error(err),
		)
	}
	return notif, nil
}

// Notify is the collaborator entry point used by the billing engine.
func (m *Manager) Notify(ctx context.Context, userID uuid.UUID, message, referenceID string, category Category) error {
	_, err := m.Send(ctx, Notification{
		UserID:      userID.String(),
		Category:    category,
		Message:     message,
		ReferenceID: referenceID,
	})
	return err
}

func (m *Manager) Get(ctx context.Context, userID, notifID string) (*Notification, error) {
	return m.storage.Get(ctx, userID, notifID)
}

func (m *Manager) List(ctx context.Context, userID string, opts ListOptions) ([]Notification, error) {
	return m.storage.List(ctx, userID, opts)
}

func (m *Manager) MarkRead(ctx context.Context, userID string, notifIDs ...string) error {
	return m.storage.MarkRead(ctx, userID, notifIDs...)
}

// MarkAllRead marks every unread notification of the user as read.
func (m *Manager) MarkAllRead(ctx context.Context, userID string) error {
	unread, err := m.storage.List(ctx, userID, ListOptions{OnlyUnread: true})
	if err != nil {
		return err
	}
	if len(unread) == 0 {
		return nil
	}
	ids := make([]string, len(unread))
	for i, n := range unread {
		ids[i] = n.ID
	}
	return m.storage.MarkRead(ctx, userID, ids...)
}

func (m *Manager) Delete(ctx context.Context, userID string, notifIDs ...string) error {
	return m.storage.Delete(ctx, userID, notifIDs...)
}

func (m *Manager) CountUnread(ctx context.Context, userID string) (int, error) {
	return m.storage.CountUnread(ctx, userID)
}
