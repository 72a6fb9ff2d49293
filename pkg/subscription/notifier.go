package subscription

import (
	"context"

	"github.com/google/uuid"
)

// Notifier delivers user-facing messages. The engine calls it fire-and-forget:
// failures are logged and never fail the transition that triggered them.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, message, referenceID string, category Category) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, userID uuid.UUID, message, referenceID string, category Category) error

func (f NotifierFunc) Notify(ctx context.Context, userID uuid.UUID, message, referenceID string, category Category) error {
	return f(ctx, userID, message, referenceID, category)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, uuid.UUID, string, string, Category) error { return nil }
