package subscription

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Snapshot is the quota state the calculator decides against.
type Snapshot struct {
	CarsAdded  int64
	AdHocCars  int64
	CarLimit   int64 // effective limit
	AdHocPrice decimal.Decimal
}

// SnapshotOf captures the effective quota state of sub under pkg.
func SnapshotOf(sub *Subscription, pkg Package) Snapshot {
	return Snapshot{
		CarsAdded:  sub.CarsAdded,
		AdHocCars:  sub.AdHocCars,
		CarLimit:   sub.EffectiveCarLimit(pkg),
		AdHocPrice: sub.EffectiveAdHocPrice(pkg),
	}
}

// RemainingFree is the number of cars that can still be added within the quota.
func (s Snapshot) RemainingFree() int64 {
	return max(0, s.CarLimit-(s.CarsAdded-s.AdHocCars))
}

// Addition splits an addition into free and chargeable units.
type Addition struct {
	WithinLimitCount int64
	OverageCount     int64
	OverageCharge    decimal.Decimal
}

// Total is the number of cars the addition covers.
func (a Addition) Total() int64 {
	return a.WithinLimitCount + a.OverageCount
}

// Removal splits a removal across the overage and within-limit buckets.
type Removal struct {
	FromOverage     int64
	FromWithinLimit int64
	Refund          decimal.Decimal
}

// Total is the number of cars the removal covers.
func (r Removal) Total() int64 {
	return r.FromOverage + r.FromWithinLimit
}

// DecideAddition decides how many of count new cars fit the quota and what the rest costs.
// It never mutates state; the caller applies the result.
func DecideAddition(s Snapshot, count int64) (Addition, error) {
	if count < 0 {
		return Addition{}, errors.Join(ErrInvalidArgument, ErrNegativeQuantity)
	}
	if count == 0 {
		return Addition{OverageCharge: decimal.Zero}, nil
	}

	within := min(count, s.RemainingFree())
	overage := count - within
	return Addition{
		WithinLimitCount: within,
		OverageCount:     overage,
		OverageCharge:    s.AdHocPrice.Mul(decimal.NewFromInt(overage)),
	}, nil
}

// DecideRemoval takes count cars from the overage bucket first, refunding them
// at the ad-hoc price, then from the within-limit bucket.
func DecideRemoval(s Snapshot, count int64) (Removal, error) {
	if count < 0 {
		return Removal{}, errors.Join(ErrInvalidArgument, ErrNegativeQuantity)
	}
	if count > s.CarsAdded {
		return Removal{}, errors.Join(ErrInsufficientQuantity, ErrRemovalExceedsUsage)
	}
	if count == 0 {
		return Removal{Refund: decimal.Zero}, nil
	}

	fromOverage := min(count, max(0, s.AdHocCars))
	return Removal{
		FromOverage:     fromOverage,
		FromWithinLimit: count - fromOverage,
		Refund:          s.AdHocPrice.Mul(decimal.NewFromInt(fromOverage)),
	}, nil
}

func applyAddition(sub *Subscription, pkg Package, a Addition) {
	sub.CarsAdded += a.Total()
	sub.AdHocCars += a.OverageCount
	recomputeCharges(sub, pkg)
}

func applyRemoval(sub *Subscription, pkg Package, r Removal) {
	sub.CarsAdded -= r.Total()
	sub.AdHocCars -= r.FromOverage
	recomputeCharges(sub, pkg)
}

// recomputeCharges derives adHocCharges from the unit count so it never drifts.
func recomputeCharges(sub *Subscription, pkg Package) {
	sub.AdHocCharges = sub.EffectiveAdHocPrice(pkg).Mul(decimal.NewFromInt(sub.AdHocCars))
}
