package notifications

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrInvalidNotification  = errors.New("invalid notification")
)

// Storage handles notification persistence and retrieval.
type Storage interface {
	Create(ctx context.Context, notif Notification) error
	Get(ctx context.Context, userID, notifID string) (*Notification, error)
	// List returns the user's notifications, newest first.
	List(ctx context.Context, userID string, opts ListOptions) ([]Notification, error)
	MarkRead(ctx context.Context, userID string, notifIDs ...string) error
	Delete(ctx context.Context, userID string, notifIDs ...string) error
	CountUnread(ctx context.Context, userID string) (int, error)
}

// ListOptions filters and paginates List.
type ListOptions struct {
	Limit       int // 0 = no limit
	Offset      int
	OnlyUnread  bool
	Categories  []Category
	ReferenceID string
	Since       *time.Time
}

// Match reports whether n passes the filters in o. Pagination is not applied.
func (o ListOptions) Match(n Notification) bool {
	if o.OnlyUnread && n.Read {
		return false
	}
	if len(o.Categories) > 0 {
		found := false
		for _, c := range o.Categories {
			if n.Category == c {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if o.ReferenceID != "" && n.ReferenceID != o.ReferenceID {
		return false
	}
	if o.Since != nil && n.CreatedAt.Before(*o.Since) {
		return false
	}
	return true
}

func validate(n Notification) error {
	switch {
	case n.ID == "":
		return errors.Join(ErrInvalidNotification, errors.New("notification ID is required"))
	case n.UserID == "":
		return errors.Join(ErrInvalidNotification, errors.New("user ID is required"))
	case n.Message == "":
		return errors.Join(ErrInvalidNotification, errors.New("message is required"))
	}
	return nil
}
