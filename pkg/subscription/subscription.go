package subscription

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Subscription is one user's subscription to a package for one active period.
// Records are never deleted; a user accumulates history but holds at most one
// active subscription at a time.
type Subscription struct {
	ID                     uuid.UUID
	UserID                 uuid.UUID
	PackageID              string
	CustomerRef            string // gateway customer
	GatewaySubscriptionRef string // empty until activation
	CheckoutSessionRef     string
	Status                 Status
	Price                  decimal.Decimal // recurring price, includes customization
	CustomCarLimit         *int64
	CustomAdHocPrice       *decimal.Decimal
	CarsAdded              int64
	AdHocCars              int64
	AdHocCharges           decimal.Decimal
	PeriodStart            time.Time
	PeriodEnd              time.Time
	LatestTransactionRef   string
	Version                int64 // bumped by every conditional update
	CreatedAt              time.Time
	UpdatedAt              time.Time
	ActivatedAt            *time.Time
	EndedAt                *time.Time
}

func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

func (s *Subscription) IsPending() bool {
	return s.Status == StatusPending
}

// EffectiveCarLimit resolves the customized limit first, then the package quota.
func (s *Subscription) EffectiveCarLimit(pkg Package) int64 {
	if s.CustomCarLimit != nil {
		return *s.CustomCarLimit
	}
	return pkg.CarLimit
}

// EffectiveAdHocPrice resolves the customized per-unit price first, then the package price.
func (s *Subscription) EffectiveAdHocPrice(pkg Package) decimal.Decimal {
	if s.CustomAdHocPrice != nil {
		return *s.CustomAdHocPrice
	}
	return pkg.AdHocPricePerCar
}

// WithinLimitCars is the number of cars covered by the quota.
func (s *Subscription) WithinLimitCars() int64 {
	return s.CarsAdded - s.AdHocCars
}

// CheckInvariants verifies the counter invariants against the package.
func (s *Subscription) CheckInvariants(pkg Package) error {
	limit := s.EffectiveCarLimit(pkg)
	switch {
	case s.AdHocCars < 0 || s.AdHocCars > s.CarsAdded:
		return fmt.Errorf("%w: ad-hoc cars %d outside [0, %d]", ErrInvariantViolated, s.AdHocCars, s.CarsAdded)
	case s.WithinLimitCars() > limit:
		return fmt.Errorf("%w: %d cars within limit exceed effective limit %d", ErrInvariantViolated, s.WithinLimitCars(), limit)
	}
	want := s.EffectiveAdHocPrice(pkg).Mul(decimal.NewFromInt(s.AdHocCars))
	if !s.AdHocCharges.Equal(want) {
		return fmt.Errorf("%w: ad-hoc charges %s, want %s", ErrInvariantViolated, s.AdHocCharges.StringFixed(2), want.StringFixed(2))
	}
	return nil
}

// Clone returns a deep copy safe to mutate.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	if s.CustomCarLimit != nil {
		v := *s.CustomCarLimit
		c.CustomCarLimit = &v
	}
	if s.CustomAdHocPrice != nil {
		v := *s.CustomAdHocPrice
		c.CustomAdHocPrice = &v
	}
	if s.ActivatedAt != nil {
		v := *s.ActivatedAt
		c.ActivatedAt = &v
	}
	if s.EndedAt != nil {
		v := *s.EndedAt
		c.EndedAt = &v
	}
	return &c
}

// Usage is a read model of a subscription's quota state.
type Usage struct {
	SubscriptionID    uuid.UUID
	CarsAdded         int64
	AdHocCars         int64
	AdHocCharges      decimal.Decimal
	EffectiveCarLimit int64
	EffectiveAdHocFee decimal.Decimal
	RemainingFree     int64
	PeriodStart       time.Time
	PeriodEnd         time.Time
}

func usageOf(s *Subscription, pkg Package) Usage {
	limit := s.EffectiveCarLimit(pkg)
	return Usage{
		SubscriptionID:    s.ID,
		CarsAdded:         s.CarsAdded,
		AdHocCars:         s.AdHocCars,
		AdHocCharges:      s.AdHocCharges,
		EffectiveCarLimit: limit,
		EffectiveAdHocFee: s.EffectiveAdHocPrice(pkg),
		RemainingFree:     max(0, limit-s.WithinLimitCars()),
		PeriodStart:       s.PeriodStart,
		PeriodEnd:         s.PeriodEnd,
	}
}
