package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	mongopkg "github.com/dmitrymomot/motorlot/pkg/mongo"
	"github.com/dmitrymomot/motorlot/pkg/notifications"
)

const notificationsCollection = "notifications"

type notificationDoc struct {
	ID          string     `bson:"_id"`
	UserID      string     `bson:"user_id"`
	Category    string     `bson:"category"`
	Message     string     `bson:"message"`
	ReferenceID string     `bson:"reference_id,omitempty"`
	Read        bool       `bson:"read"`
	ReadAt      *time.Time `bson:"read_at,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
}

func (d notificationDoc) toNotification() notifications.Notification {
	return notifications.Notification{
		ID:          d.ID,
		UserID:      d.UserID,
		Category:    notifications.Category(d.Category),
		Message:     d.Message,
		ReferenceID: d.ReferenceID,
		Read:        d.Read,
		ReadAt:      utcPtr(d.ReadAt),
		CreatedAt:   utc(d.CreatedAt),
	}
}

// NotificationStorage implements notifications.Storage.
type NotificationStorage struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewNotificationStorage(db *mongo.Database) *NotificationStorage {
	return &NotificationStorage{coll: db.Collection(notificationsCollection), now: time.Now}
}

var _ notifications.Storage = (*NotificationStorage)(nil)

func (s *NotificationStorage) Create(ctx context.Context, n notifications.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	doc := notificationDoc{
		ID:          n.ID,
		UserID:      n.UserID,
		Category:    string(n.Category),
		Message:     n.Message,
		ReferenceID: n.ReferenceID,
		Read:        n.Read,
		ReadAt:      n.ReadAt,
		CreatedAt:   n.CreatedAt,
	}
	if doc.ID == "" || doc.UserID == "" || doc.Message == "" {
		return notifications.ErrInvalidNotification
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *NotificationStorage) Get(ctx context.Context, userID, notifID string) (*notifications.Notification, error) {
	var doc notificationDoc
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: notifID}, {Key: "user_id", Value: userID}}).Decode(&doc)
	if err != nil {
		if mongopkg.IsNotFound(err) {
			return nil, notifications.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("find notification: %w", err)
	}
	n := doc.toNotification()
	return &n, nil
}

func (s *NotificationStorage) List(ctx context.Context, userID string, opts notifications.ListOptions) ([]notifications.Notification, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cur, err := s.coll.Find(ctx, listFilter(userID, opts), findOpts)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	var docs []notificationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	out := make([]notifications.Notification, len(docs))
	for i, d := range docs {
		out[i] = d.toNotification()
	}
	return out, nil
}

func listFilter(userID string, opts notifications.ListOptions) bson.D {
	filter := bson.D{{Key: "user_id", Value: userID}}
	if opts.OnlyUnread {
		filter = append(filter, bson.E{Key: "read", Value: false})
	}
	if len(opts.Categories) > 0 {
		cats := make(bson.A, len(opts.Categories))
		for i, c := range opts.Categories {
			cats[i] = string(c)
		}
		filter = append(filter, bson.E{Key: "category", Value: bson.D{{Key: "$in", Value: cats}}})
	}
	if opts.ReferenceID != "" {
		filter = append(filter, bson.E{Key: "reference_id", Value: opts.ReferenceID})
	}
	if opts.Since != nil {
		filter = append(filter, bson.E{Key: "created_at", Value: bson.D{{Key: "$gte", Value: *opts.Since}}})
	}
	return filter
}

func (s *NotificationStorage) MarkRead(ctx context.Context, userID string, notifIDs ...string) error {
	if len(notifIDs) == 0 {
		return nil
	}
	_, err := s.coll.UpdateMany(ctx,
		bson.D{
			{Key: "user_id", Value: userID},
			{Key: "_id", Value: bson.D{{Key: "$in", Value: notifIDs}}},
			{Key: "read", Value: false},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "read", Value: true},
			{Key: "read_at", Value: s.now().UTC()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}

func (s *NotificationStorage) Delete(ctx context.Context, userID string, notifIDs ...string) error {
	if len(notifIDs) == 0 {
		return nil
	}
	_, err := s.coll.DeleteMany(ctx, bson.D{
		{Key: "user_id", Value: userID},
		{Key: "_id", Value: bson.D{{Key: "$in", Value: notifIDs}}},
	})
	if err != nil {
		return fmt.Errorf("delete notifications: %w", err)
	}
	return nil
}

func (s *NotificationStorage) CountUnread(ctx context.Context, userID string) (int, error) {
	n, err := s.coll.CountDocuments(ctx, bson.D{{Key: "user_id", Value: userID}, {Key: "read", Value: false}})
	if err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return int(n), nil
}
