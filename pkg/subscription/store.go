package subscription

import (
	"context"

	"github.com/google/uuid"
)

// Store defines subscription persistence.
// Lookups return an error matching ErrSubscriptionNotFound when nothing matches.
type Store interface {
	// Create inserts a new record. Returns ErrConflict if the record is active
	// and the user already holds an active subscription.
	Create(ctx context.Context, sub *Subscription) error

	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)
	FindActiveByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	FindLatestByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	FindByGatewayRef(ctx context.Context, gatewaySubscriptionRef string) (*Subscription, error)
	FindByCheckoutSession(ctx context.Context, sessionRef string) (*Subscription, error)

	// Update is a conditional update: it persists sub only if the stored
	// version equals sub.Version, then increments sub.Version. A mismatch
	// returns ErrConcurrentUpdate. Activating a second subscription for the
	// same user returns ErrConflict.
	Update(ctx context.Context, sub *Subscription) error

	// WithTx runs fn in a transaction. Writes made with the context passed to
	// fn are committed only if fn returns nil.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RoleStore persists the role derived for an account.
type RoleStore interface {
	SetRole(ctx context.Context, userID uuid.UUID, role Role) error
}

// Locker provides the single-writer section for one subscription.
// Implementations must scope the lock to key only.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
