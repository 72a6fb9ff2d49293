package inventory

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Car is one inventory item counted against a subscription's quota.
type Car struct {
	ID             uuid.UUID
	OwnerID        uuid.UUID
	SubscriptionID uuid.UUID
	ExternalID     string // VIN or chassis number; optional
	Name           string
	MakeID         string
	VariantID      string
	Year           int
	Price          decimal.Decimal
	CreatedAt      time.Time
}

// CompositeKey identifies a car by what a listing shows when no external ID
// is given.
type CompositeKey struct {
	Name      string
	MakeID    string
	VariantID string
}

// Key returns the normalized composite key of c.
func (c Car) Key() CompositeKey {
	return NewCompositeKey(c.Name, c.MakeID, c.VariantID)
}

func NewCompositeKey(name, makeID, variantID string) CompositeKey {
	return CompositeKey{
		Name:      normalize(name),
		MakeID:    normalize(makeID),
		VariantID: normalize(variantID),
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// NormalizeExternalID upper-cases and strips spaces and dashes so that
// "wvw-zzz 1k" and "WVWZZZ1K" compare equal.
func NormalizeExternalID(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '\t':
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(id)))
}
