package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Stores bundles every collection adapter over one database.
type Stores struct {
	Subscriptions *SubscriptionStore
	Packages      *PackageStore
	Roles         *RoleStore
	Cars          *CarStore
	Catalog       *Catalog
	Notifications *NotificationStorage
}

func New(db *mongo.Database) *Stores {
	return &Stores{
		Subscriptions: NewSubscriptionStore(db),
		Packages:      NewPackageStore(db),
		Roles:         NewRoleStore(db),
		Cars:          NewCarStore(db),
		Catalog:       NewCatalog(db),
		Notifications: NewNotificationStorage(db),
	}
}

// Indexes returns the index set each collection needs.
func Indexes() map[string][]mongo.IndexModel {
	nonEmpty := bson.D{{Key: "$type", Value: "string"}, {Key: "$gt", Value: ""}}

	return map[string][]mongo.IndexModel{
		subscriptionsCollection: {
			{
				// At most one active subscription per user.
				Keys: bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().
					SetName("one_active_per_user").
					SetUnique(true).
					SetPartialFilterExpression(bson.D{{Key: "status", Value: "active"}}),
			},
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("user_history"),
			},
			{
				Keys: bson.D{{Key: "gateway_subscription_ref", Value: 1}},
				Options: options.Index().
					SetName("gateway_ref").
					SetPartialFilterExpression(bson.D{{Key: "gateway_subscription_ref", Value: nonEmpty}}),
			},
			{
				Keys: bson.D{{Key: "checkout_session_ref", Value: 1}},
				Options: options.Index().
					SetName("checkout_session").
					SetPartialFilterExpression(bson.D{{Key: "checkout_session_ref", Value: nonEmpty}}),
			},
		},
		carsCollection: {
			{
				Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "external_id", Value: 1}},
				Options: options.Index().
					SetName("owner_external_id").
					SetUnique(true).
					SetPartialFilterExpression(bson.D{{Key: "external_id", Value: nonEmpty}}),
			},
			{
				Keys: bson.D{
					{Key: "owner_id", Value: 1},
					{Key: "key_name", Value: 1},
					{Key: "key_make", Value: 1},
					{Key: "key_variant", Value: 1},
				},
				Options: options.Index().SetName("owner_composite_key"),
			},
		},
		variantsCollection: {
			{Keys: bson.D{{Key: "make_id", Value: 1}}, Options: options.Index().SetName("make_id")},
			{Keys: bson.D{{Key: "make_name_lower", Value: 1}, {Key: "name_lower", Value: 1}}, Options: options.Index().SetName("names")},
		},
		notificationsCollection: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("user_feed"),
			},
		},
	}
}

// EnsureIndexes creates missing indexes. Existing indexes with the same name
// and definition are left alone.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	for coll, models := range Indexes() {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

func upsert() *options.ReplaceOptionsBuilder {
	return options.Replace().SetUpsert(true)
}
