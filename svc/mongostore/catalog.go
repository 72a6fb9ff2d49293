package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dmitrymomot/motorlot/pkg/inventory"
	mongopkg "github.com/dmitrymomot/motorlot/pkg/mongo"
)

const variantsCollection = "variants"

// variantDoc is one make/variant pair of the vehicle catalog. The lower-cased
// names are stored for case-insensitive lookups by display name.
type variantDoc struct {
	ID            string `bson:"_id"`
	MakeID        string `bson:"make_id"`
	MakeName      string `bson:"make_name"`
	MakeNameLower string `bson:"make_name_lower"`
	Name          string `bson:"name"`
	NameLower     string `bson:"name_lower"`
}

// Catalog resolves upload references against the variants collection.
type Catalog struct {
	coll *mongo.Collection
}

func NewCatalog(db *mongo.Database) *Catalog {
	return &Catalog{coll: db.Collection(variantsCollection)}
}

var _ inventory.Catalog = (*Catalog)(nil)

func (c *Catalog) Resolve(ctx context.Context, makeRef, variantRef string) (inventory.Reference, error) {
	makeFilter := bson.A{
		bson.D{{Key: "make_id", Value: makeRef}},
		bson.D{{Key: "make_name_lower", Value: strings.ToLower(makeRef)}},
	}

	var doc variantDoc
	err := c.coll.FindOne(ctx, bson.D{
		{Key: "$and", Value: bson.A{
			bson.D{{Key: "$or", Value: makeFilter}},
			bson.D{{Key: "$or", Value: bson.A{
				bson.D{{Key: "_id", Value: variantRef}},
				bson.D{{Key: "name_lower", Value: strings.ToLower(variantRef)}},
			}}},
		}},
	}).Decode(&doc)
	if err == nil {
		return inventory.Reference{MakeID: doc.MakeID, VariantID: doc.ID}, nil
	}
	if !mongopkg.IsNotFound(err) {
		return inventory.Reference{}, fmt.Errorf("resolve variant: %w", err)
	}

	n, err := c.coll.CountDocuments(ctx, bson.D{{Key: "$or", Value: makeFilter}})
	if err != nil {
		return inventory.Reference{}, fmt.Errorf("resolve make: %w", err)
	}
	if n == 0 {
		return inventory.Reference{}, errors.Join(inventory.ErrUnresolvedMake, errors.New(makeRef))
	}
	return inventory.Reference{}, errors.Join(inventory.ErrUnresolvedVariant, errors.New(variantRef))
}

// PutVariants upserts catalog entries.
func (c *Catalog) PutVariants(ctx context.Context, variants ...inventory.Variant) error {
	for _, v := range variants {
		doc := variantDoc{
			ID:            v.VariantID,
			MakeID:        v.MakeID,
			MakeName:      v.MakeName,
			MakeNameLower: strings.ToLower(v.MakeName),
			Name:          v.VariantName,
			NameLower:     strings.ToLower(v.VariantName),
		}
		if _, err := c.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: doc.ID}}, doc, upsert()); err != nil {
			return fmt.Errorf("upsert variant %s: %w", v.VariantID, err)
		}
	}
	return nil
}
