package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/motorlot/pkg/inventory"
	mongopkg "github.com/dmitrymomot/motorlot/pkg/mongo"
)

const carsCollection = "cars"

type carDoc struct {
	ID             string          `bson:"_id"`
	OwnerID        string          `bson:"owner_id"`
	SubscriptionID string          `bson:"subscription_id,omitempty"`
	ExternalID     string          `bson:"external_id,omitempty"`
	Name           string          `bson:"name"`
	MakeID         string          `bson:"make_id"`
	VariantID      string          `bson:"variant_id"`
	Year           int             `bson:"year,omitempty"`
	Price          bson.Decimal128 `bson:"price"`
	CreatedAt      time.Time       `bson:"created_at"`

	// Normalized composite key for duplicate detection.
	KeyName    string `bson:"key_name"`
	KeyMake    string `bson:"key_make"`
	KeyVariant string `bson:"key_variant"`
}

func carToDoc(c *inventory.Car) (*carDoc, error) {
	price, err := toDecimal128(c.Price)
	if err != nil {
		return nil, err
	}
	key := c.Key()
	return &carDoc{
		ID:             c.ID.String(),
		OwnerID:        c.OwnerID.String(),
		SubscriptionID: idString(c.SubscriptionID),
		ExternalID:     c.ExternalID,
		Name:           c.Name,
		MakeID:         c.MakeID,
		VariantID:      c.VariantID,
		Year:           c.Year,
		Price:          price,
		CreatedAt:      c.CreatedAt,
		KeyName:        key.Name,
		KeyMake:        key.MakeID,
		KeyVariant:     key.VariantID,
	}, nil
}

func (d *carDoc) toCar() (*inventory.Car, error) {
	id, err := parseID(d.ID)
	if err != nil {
		return nil, fmt.Errorf("car id: %w", err)
	}
	owner, err := parseID(d.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("car owner id: %w", err)
	}
	subID, err := parseID(d.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("car subscription id: %w", err)
	}
	price, err := fromDecimal128(d.Price)
	if err != nil {
		return nil, err
	}
	return &inventory.Car{
		ID:             id,
		OwnerID:        owner,
		SubscriptionID: subID,
		ExternalID:     d.ExternalID,
		Name:           d.Name,
		MakeID:         d.MakeID,
		VariantID:      d.VariantID,
		Year:           d.Year,
		Price:          price,
		CreatedAt:      utc(d.CreatedAt),
	}, nil
}

// CarStore implements inventory.Store.
type CarStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewCarStore(db *mongo.Database) *CarStore {
	return &CarStore{coll: db.Collection(carsCollection), now: time.Now}
}

var _ inventory.Store = (*CarStore)(nil)

func (s *CarStore) Create(ctx context.Context, car *inventory.Car) error {
	if car.ID == uuid.Nil {
		car.ID = uuid.New()
	}
	if car.CreatedAt.IsZero() {
		car.CreatedAt = s.now().UTC()
	}
	doc, err := carToDoc(car)
	if err != nil {
		return err
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongopkg.IsDuplicateKey(err) {
			return inventory.ErrDuplicateCar
		}
		return fmt.Errorf("insert car: %w", err)
	}
	return nil
}

func (s *CarStore) Get(ctx context.Context, id uuid.UUID) (*inventory.Car, error) {
	var doc carDoc
	if err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id.String()}}).Decode(&doc); err != nil {
		if mongopkg.IsNotFound(err) {
			return nil, inventory.ErrCarNotFound
		}
		return nil, fmt.Errorf("find car: %w", err)
	}
	return doc.toCar()
}

func (s *CarStore) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]inventory.Car, error) {
	cur, err := s.coll.Find(ctx, bson.D{{Key: "owner_id", Value: ownerID.String()}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list cars: %w", err)
	}
	var docs []carDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode cars: %w", err)
	}
	out := make([]inventory.Car, 0, len(docs))
	for _, d := range docs {
		c, err := d.toCar()
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

func (s *CarStore) CountByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.D{{Key: "owner_id", Value: ownerID.String()}})
	if err != nil {
		return 0, fmt.Errorf("count cars: %w", err)
	}
	return n, nil
}

func (s *CarStore) ExistsByExternalID(ctx context.Context, ownerID uuid.UUID, externalID string) (bool, error) {
	if externalID == "" {
		return false, nil
	}
	return s.exists(ctx, bson.D{
		{Key: "owner_id", Value: ownerID.String()},
		{Key: "external_id", Value: externalID},
	})
}

func (s *CarStore) ExistsByKey(ctx context.Context, ownerID uuid.UUID, key inventory.CompositeKey) (bool, error) {
	return s.exists(ctx, bson.D{
		{Key: "owner_id", Value: ownerID.String()},
		{Key: "key_name", Value: key.Name},
		{Key: "key_make", Value: key.MakeID},
		{Key: "key_variant", Value: key.VariantID},
	})
}

func (s *CarStore) exists(ctx context.Context, filter bson.D) (bool, error) {
	err := s.coll.FindOne(ctx, filter, options.FindOne().SetProjection(bson.D{{Key: "_id", Value: 1}})).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return false, nil
	default:
		return false, fmt.Errorf("lookup car: %w", err)
	}
}
