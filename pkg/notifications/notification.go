package notifications

import (
	"time"
)

// Category groups notifications by the area that produced them.
type Category string

const (
	CategorySubscription Category = "subscription"
	CategoryBilling      Category = "billing"
	CategoryInventory    Category = "inventory"
	CategorySystem       Category = "system"
)

// Notification is a message addressed to one user.
type Notification struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Category    Category   `json:"category"`
	Message     string     `json:"message"`
	ReferenceID string     `json:"reference_id,omitempty"` // subscription or batch the message is about
	Read        bool       `json:"read"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// MarkAsRead marks the notification as read at the given time.
func (n *Notification) MarkAsRead(at time.Time) {
	n.Read = true
	n.ReadAt = &at
}
