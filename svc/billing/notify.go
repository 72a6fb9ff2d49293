package billing

import (
	"context"

	"github.com/google/uuid"

	"github.com/dmitrymomot/motorlot/pkg/notifications"
	"github.com/dmitrymomot/motorlot/pkg/subscription"
)

// notifierFor adapts the notifications manager to the engine's Notifier.
// Categories share their string values.
func notifierFor(mgr *notifications.Manager) subscription.Notifier {
	return subscription.NotifierFunc(func(ctx context.Context, userID uuid.UUID, message, referenceID string, category subscription.Category) error {
		return mgr.Notify(ctx, userID, message, referenceID, notifications.Category(category))
	})
}
