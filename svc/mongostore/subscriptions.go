package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	mongopkg "github.com/dmitrymomot/motorlot/pkg/mongo"
	"github.com/dmitrymomot/motorlot/pkg/subscription"
)

const subscriptionsCollection = "subscriptions"

type subscriptionDoc struct {
	ID                     string           `bson:"_id"`
	UserID                 string           `bson:"user_id"`
	PackageID              string           `bson:"package_id"`
	CustomerRef            string           `bson:"customer_ref,omitempty"`
	GatewaySubscriptionRef string           `bson:"gateway_subscription_ref,omitempty"`
	CheckoutSessionRef     string           `bson:"checkout_session_ref,omitempty"`
	Status                 string           `bson:"status"`
	Price                  bson.Decimal128  `bson:"price"`
	CustomCarLimit         *int64           `bson:"custom_car_limit,omitempty"`
	CustomAdHocPrice       *bson.Decimal128 `bson:"custom_ad_hoc_price,omitempty"`
	CarsAdded              int64            `bson:"cars_added"`
	AdHocCars              int64            `bson:"ad_hoc_cars"`
	AdHocCharges           bson.Decimal128  `bson:"ad_hoc_charges"`
	PeriodStart            time.Time        `bson:"period_start,omitempty"`
	PeriodEnd              time.Time        `bson:"period_end,omitempty"`
	LatestTransactionRef   string           `bson:"latest_transaction_ref,omitempty"`
	Version                int64            `bson:"version"`
	CreatedAt              time.Time        `bson:"created_at"`
	UpdatedAt              time.Time        `bson:"updated_at"`
	ActivatedAt            *time.Time       `bson:"activated_at,omitempty"`
	EndedAt                *time.Time       `bson:"ended_at,omitempty"`
}

func subscriptionToDoc(s *subscription.Subscription) (*subscriptionDoc, error) {
	price, err := toDecimal128(s.Price)
	if err != nil {
		return nil, err
	}
	charges, err := toDecimal128(s.AdHocCharges)
	if err != nil {
		return nil, err
	}
	doc := &subscriptionDoc{
		ID:                     s.ID.String(),
		UserID:                 s.UserID.String(),
		PackageID:              s.PackageID,
		CustomerRef:            s.CustomerRef,
		GatewaySubscriptionRef: s.GatewaySubscriptionRef,
		CheckoutSessionRef:     s.CheckoutSessionRef,
		Status:                 string(s.Status),
		Price:                  price,
		CustomCarLimit:         s.CustomCarLimit,
		CarsAdded:              s.CarsAdded,
		AdHocCars:              s.AdHocCars,
		AdHocCharges:           charges,
		PeriodStart:            s.PeriodStart,
		PeriodEnd:              s.PeriodEnd,
		LatestTransactionRef:   s.LatestTransactionRef,
		Version:                s.Version,
		CreatedAt:              s.CreatedAt,
		UpdatedAt:              s.UpdatedAt,
		ActivatedAt:            s.ActivatedAt,
		EndedAt:                s.EndedAt,
	}
	if s.CustomAdHocPrice != nil {
		v, err := toDecimal128(*s.CustomAdHocPrice)
		if err != nil {
			return nil, err
		}
		doc.CustomAdHocPrice = &v
	}
	return doc, nil
}

func (d *subscriptionDoc) toSubscription() (*subscription.Subscription, error) {
	id, err := parseID(d.ID)
	if err != nil {
		return nil, fmt.Errorf("subscription id: %w", err)
	}
	userID, err := parseID(d.UserID)
	if err != nil {
		return nil, fmt.Errorf("subscription user id: %w", err)
	}
	price, err := fromDecimal128(d.Price)
	if err != nil {
		return nil, err
	}
	charges, err := fromDecimal128(d.AdHocCharges)
	if err != nil {
		return nil, err
	}
	s := &subscription.Subscription{
		ID:                     id,
		UserID:                 userID,
		PackageID:              d.PackageID,
		CustomerRef:            d.CustomerRef,
		GatewaySubscriptionRef: d.GatewaySubscriptionRef,
		CheckoutSessionRef:     d.CheckoutSessionRef,
		Status:                 subscription.Status(d.Status),
		Price:                  price,
		CustomCarLimit:         d.CustomCarLimit,
		CarsAdded:              d.CarsAdded,
		AdHocCars:              d.AdHocCars,
		AdHocCharges:           charges,
		PeriodStart:            utc(d.PeriodStart),
		PeriodEnd:              utc(d.PeriodEnd),
		LatestTransactionRef:   d.LatestTransactionRef,
		Version:                d.Version,
		CreatedAt:              utc(d.CreatedAt),
		UpdatedAt:              utc(d.UpdatedAt),
		ActivatedAt:            utcPtr(d.ActivatedAt),
		EndedAt:                utcPtr(d.EndedAt),
	}
	if d.CustomAdHocPrice != nil {
		v, err := fromDecimal128(*d.CustomAdHocPrice)
		if err != nil {
			return nil, err
		}
		s.CustomAdHocPrice = &v
	}
	return s, nil
}

// SubscriptionStore implements subscription.Store on MongoDB. Conditional
// updates match on the version field; the "one active subscription per user"
// rule is a partial unique index created by EnsureIndexes.
type SubscriptionStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

func NewSubscriptionStore(db *mongo.Database) *SubscriptionStore {
	return &SubscriptionStore{
		client: db.Client(),
		coll:   db.Collection(subscriptionsCollection),
		now:    time.Now,
	}
}

var _ subscription.Store = (*SubscriptionStore)(nil)

func (s *SubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	now := s.now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	if sub.AdHocCharges.IsZero() {
		sub.AdHocCharges = decimal.Zero
	}

	doc, err := subscriptionToDoc(sub)
	if err != nil {
		return err
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongopkg.IsDuplicateKey(err) {
			return errors.Join(subscription.ErrConflict, subscription.ErrActiveSubscriptionExists)
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (s *SubscriptionStore) Get(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	return s.findOne(ctx, bson.D{{Key: "_id", Value: id.String()}})
}

func (s *SubscriptionStore) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*subscription.Subscription, error) {
	return s.findOne(ctx, bson.D{
		{Key: "user_id", Value: userID.String()},
		{Key: "status", Value: string(subscription.StatusActive)},
	})
}

func (s *SubscriptionStore) FindLatestByUser(ctx context.Context, userID uuid.UUID) (*subscription.Subscription, error) {
	return s.findOne(ctx, bson.D{{Key: "user_id", Value: userID.String()}},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}}))
}

func (s *SubscriptionStore) FindByGatewayRef(ctx context.Context, ref string) (*subscription.Subscription, error) {
	if ref == "" {
		return nil, errors.Join(subscription.ErrNotFound, subscription.ErrSubscriptionNotFound)
	}
	return s.findOne(ctx, bson.D{{Key: "gateway_subscription_ref", Value: ref}})
}

func (s *SubscriptionStore) FindByCheckoutSession(ctx context.Context, ref string) (*subscription.Subscription, error) {
	if ref == "" {
		return nil, errors.Join(subscription.ErrNotFound, subscription.ErrSubscriptionNotFound)
	}
	return s.findOne(ctx, bson.D{{Key: "checkout_session_ref", Value: ref}})
}

func (s *SubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	expected := sub.Version
	next := *sub
	next.Version = expected + 1
	next.UpdatedAt = s.now().UTC()

	doc, err := subscriptionToDoc(&next)
	if err != nil {
		return err
	}

	res, err := s.coll.ReplaceOne(ctx, bson.D{
		{Key: "_id", Value: sub.ID.String()},
		{Key: "version", Value: expected},
	}, doc)
	if err != nil {
		if mongopkg.IsDuplicateKey(err) {
			return errors.Join(subscription.ErrConflict, subscription.ErrActiveSubscriptionExists)
		}
		return fmt.Errorf("update subscription: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.Get(ctx, sub.ID); err != nil {
			return err
		}
		return subscription.ErrConcurrentUpdate
	}

	sub.Version = next.Version
	sub.UpdatedAt = next.UpdatedAt
	return nil
}

// WithTx runs fn once in a transaction. A transaction aborted by a write
// conflict or a failover surfaces as ErrConcurrentUpdate so callers retry
// the whole operation, gateway calls included, under their idempotency keys.
func (s *SubscriptionStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := mongopkg.WithTransaction(ctx, s.client, fn)
	if err != nil && !mongopkg.InTransaction(ctx) && mongopkg.IsTransientTransaction(err) {
		return errors.Join(subscription.ErrConcurrentUpdate, err)
	}
	return err
}

func (s *SubscriptionStore) findOne(ctx context.Context, filter bson.D, opts ...options.Lister[options.FindOneOptions]) (*subscription.Subscription, error) {
	var doc subscriptionDoc
	if err := s.coll.FindOne(ctx, filter, opts...).Decode(&doc); err != nil {
		if mongopkg.IsNotFound(err) {
			return nil, errors.Join(subscription.ErrNotFound, subscription.ErrSubscriptionNotFound)
		}
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	return doc.toSubscription()
}
