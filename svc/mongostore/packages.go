package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	mongopkg "github.com/dmitrymomot/motorlot/pkg/mongo"
	"github.com/dmitrymomot/motorlot/pkg/subscription"
)

const packagesCollection = "packages"

type packageDoc struct {
	ID                 string          `bson:"_id"`
	Title              string          `bson:"title"`
	MonthlyPrice       bson.Decimal128 `bson:"monthly_price"`
	YearlyPrice        bson.Decimal128 `bson:"yearly_price"`
	Interval           string          `bson:"interval"`
	CarLimit           int64           `bson:"car_limit"`
	AdHocPricePerCar   bson.Decimal128 `bson:"ad_hoc_price_per_car"`
	TargetRole         string          `bson:"target_role"`
	AllowCustomization bool            `bson:"allow_customization"`
	GatewayPriceID     string          `bson:"gateway_price_id"`
	Currency           string          `bson:"currency"`
	UpdatedAt          time.Time       `bson:"updated_at"`
}

func packageToDoc(p subscription.Package, now time.Time) (*packageDoc, error) {
	monthly, err := toDecimal128(p.MonthlyPrice)
	if err != nil {
		return nil, err
	}
	yearly, err := toDecimal128(p.YearlyPrice)
	if err != nil {
		return nil, err
	}
	adHoc, err := toDecimal128(p.AdHocPricePerCar)
	if err != nil {
		return nil, err
	}
	return &packageDoc{
		ID:                 p.ID,
		Title:              p.Title,
		MonthlyPrice:       monthly,
		YearlyPrice:        yearly,
		Interval:           string(p.Interval),
		CarLimit:           p.CarLimit,
		AdHocPricePerCar:   adHoc,
		TargetRole:         string(p.TargetRole),
		AllowCustomization: p.AllowCustomization,
		GatewayPriceID:     p.GatewayPriceID,
		Currency:           p.Currency,
		UpdatedAt:          now,
	}, nil
}

func (d *packageDoc) toPackage() (*subscription.Package, error) {
	monthly, err := fromDecimal128(d.MonthlyPrice)
	if err != nil {
		return nil, err
	}
	yearly, err := fromDecimal128(d.YearlyPrice)
	if err != nil {
		return nil, err
	}
	adHoc, err := fromDecimal128(d.AdHocPricePerCar)
	if err != nil {
		return nil, err
	}
	return &subscription.Package{
		ID:                 d.ID,
		Title:              d.Title,
		MonthlyPrice:       monthly,
		YearlyPrice:        yearly,
		Interval:           subscription.BillingInterval(d.Interval),
		CarLimit:           d.CarLimit,
		AdHocPricePerCar:   adHoc,
		TargetRole:         subscription.Role(d.TargetRole),
		AllowCustomization: d.AllowCustomization,
		GatewayPriceID:     d.GatewayPriceID,
		Currency:           d.Currency,
	}, nil
}

// PackageStore is the package catalog collection.
type PackageStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewPackageStore(db *mongo.Database) *PackageStore {
	return &PackageStore{coll: db.Collection(packagesCollection), now: time.Now}
}

var _ subscription.PackageStore = (*PackageStore)(nil)

func (s *PackageStore) Get(ctx context.Context, id string) (*subscription.Package, error) {
	var doc packageDoc
	if err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc); err != nil {
		if mongopkg.IsNotFound(err) {
			return nil, errors.Join(subscription.ErrNotFound, subscription.ErrPackageNotFound)
		}
		return nil, fmt.Errorf("find package: %w", err)
	}
	return doc.toPackage()
}

func (s *PackageStore) List(ctx context.Context) ([]subscription.Package, error) {
	cur, err := s.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	var docs []packageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode packages: %w", err)
	}
	out := make([]subscription.Package, 0, len(docs))
	for _, d := range docs {
		p, err := d.toPackage()
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

// Upsert validates and writes packages, replacing existing ones with the
// same ID. Subscriptions keep the price they were created with.
func (s *PackageStore) Upsert(ctx context.Context, pkgs ...subscription.Package) error {
	now := s.now().UTC()
	for _, p := range pkgs {
		if err := p.Validate(); err != nil {
			return err
		}
		doc, err := packageToDoc(p, now)
		if err != nil {
			return err
		}
		if _, err := s.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: p.ID}}, doc, upsert()); err != nil {
			return fmt.Errorf("upsert package %s: %w", p.ID, err)
		}
	}
	return nil
}
