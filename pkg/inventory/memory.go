package inventory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu   sync.RWMutex
	cars map[uuid.UUID]Car
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cars: make(map[uuid.UUID]Car), now: time.Now}
}

// Create enforces the same uniqueness as the document store: one external ID
// per owner.
func (s *MemoryStore) Create(_ context.Context, car *Car) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if car.ID == uuid.Nil {
		car.ID = uuid.New()
	}
	if car.CreatedAt.IsZero() {
		car.CreatedAt = s.now().UTC()
	}
	for _, c := range s.cars {
		if c.OwnerID == car.OwnerID && car.ExternalID != "" && c.ExternalID == car.ExternalID {
			return ErrDuplicateCar
		}
	}
	s.cars[car.ID] = *car
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Car, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cars[id]
	if !ok {
		return nil, ErrCarNotFound
	}
	return &c, nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]Car, error) {
	s.mu.RLock()
	out := make([]Car, 0)
	for _, c := range s.cars {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Car) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CountByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	cars, err := s.ListByOwner(ctx, ownerID)
	return int64(len(cars)), err
}

func (s *MemoryStore) ExistsByExternalID(_ context.Context, ownerID uuid.UUID, externalID string) (bool, error) {
	if externalID == "" {
		return false, nil
	}
	return s.any(func(c Car) bool { return c.OwnerID == ownerID && c.ExternalID == externalID }), nil
}

func (s *MemoryStore) ExistsByKey(_ context.Context, ownerID uuid.UUID, key CompositeKey) (bool, error) {
	return s.any(func(c Car) bool { return c.OwnerID == ownerID && c.Key() == key }), nil
}

func (s *MemoryStore) any(match func(Car) bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cars {
		if match(c) {
			return true
		}
	}
	return false
}

// Variant is a catalog entry used by MemoryCatalog.
type Variant struct {
	MakeID      string
	MakeName    string
	VariantID   string
	VariantName string
}

// MemoryCatalog resolves references against a fixed list of variants,
// matching IDs exactly and names case-insensitively.
type MemoryCatalog struct {
	variants []Variant
}

func NewMemoryCatalog(variants ...Variant) *MemoryCatalog {
	return &MemoryCatalog{variants: variants}
}

func (c *MemoryCatalog) Resolve(_ context.Context, makeRef, variantRef string) (Reference, error) {
	makeKnown := false
	for _, v := range c.variants {
		if v.MakeID != makeRef && !strings.EqualFold(v.MakeName, makeRef) {
			continue
		}
		makeKnown = true
		if v.VariantID == variantRef || strings.EqualFold(v.VariantName, variantRef) {
			return Reference{MakeID: v.MakeID, VariantID: v.VariantID}, nil
		}
	}
	if !makeKnown {
		return Reference{}, errors.Join(ErrUnresolvedMake, errors.New(makeRef))
	}
	return Reference{}, errors.Join(ErrUnresolvedVariant, errors.New(variantRef))
}
