package inventory

import (
	"context"

	"github.com/google/uuid"
)

// Store persists cars. Lookups are scoped to one owner.
type Store interface {
	Create(ctx context.Context, car *Car) error
	Get(ctx context.Context, id uuid.UUID) (*Car, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]Car, error)
	CountByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error)
	ExistsByExternalID(ctx context.Context, ownerID uuid.UUID, externalID string) (bool, error)
	ExistsByKey(ctx context.Context, ownerID uuid.UUID, key CompositeKey) (bool, error)
}

// Reference is a make/variant pair resolved against the catalog.
type Reference struct {
	MakeID    string
	VariantID string
}

// Catalog resolves the make and variant references of an upload. Dealers
// send catalog IDs, sellers send display names; implementations accept both.
type Catalog interface {
	Resolve(ctx context.Context, makeRef, variantRef string) (Reference, error)
}
