package notifications

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/motorlot/pkg/logger"
)

// Deliverer pushes a stored notification to the user in real time.
type Deliverer interface {
	Deliver(ctx context.Context, notif Notification) error
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(ctx context.Context, notif Notification) error

func (f DelivererFunc) Deliver(ctx context.Context, notif Notification) error { return f(ctx, notif) }

// MultiDeliverer fans a notification out to several channels. A failing
// channel is logged and does not stop the others.
type MultiDeliverer struct {
	deliverers []Deliverer
	logger     *slog.Logger
}

func NewMultiDeliverer(log *slog.Logger, deliverers ...Deliverer) *MultiDeliverer {
	if log == nil {
		log = slog.Default()
	}
	return &MultiDeliverer{deliverers: deliverers, logger: log}
}

func (m *MultiDeliverer) Deliver(ctx context.Context, notif Notification) error {
	for i, d := range m.deliverers {
		if err := d.Deliver(ctx, notif); err != nil {
			m.logger.LogAttrs(ctx, slog.LevelError, "failed to deliver notification",
				slog.String("notification_id", notif.ID),
				logger.UserID(notif.UserID),
				slog.Int("deliverer_index", i),
				logger.Error(err),
			)
		}
	}
	return nil
}

type noopDeliverer struct{}

func (noopDeliverer) Deliver(context.Context, Notification) error { return nil }
