package subscription

import "time"

// Status represents the lifecycle state of a subscription.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusCancel  Status = "cancel"
	StatusExpired Status = "expired"
)

// IsTerminal reports whether no further lifecycle transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCancel || s == StatusExpired
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusCancel, StatusExpired:
		return true
	}
	return false
}

// Reason is the terminal status a deactivation moves an active subscription to.
type Reason = Status

const (
	ReasonCancel  Reason = StatusCancel
	ReasonExpired Reason = StatusExpired
)

// Role is an account role granted by the engine.
type Role string

const (
	RoleUser   Role = "user"
	RoleDealer Role = "dealer"
	RoleSeller Role = "seller"
)

// BillingInterval represents the billing frequency of a package.
type BillingInterval string

const (
	BillingIntervalMonthly BillingInterval = "monthly"
	BillingIntervalYearly  BillingInterval = "yearly"
)

// Period is a gateway-tracked billing window.
type Period struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether the period carries no bounds.
func (p Period) IsZero() bool {
	return p.Start.IsZero() && p.End.IsZero()
}

// Category classifies user notifications emitted by the engine.
type Category string

const (
	CategorySubscription Category = "subscription"
	CategoryBilling      Category = "billing"
	CategoryInventory    Category = "inventory"
)
