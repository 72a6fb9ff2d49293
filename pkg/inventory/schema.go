package inventory

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Row is one raw record of a bulk upload, keyed by column name.
type Row map[string]string

// RowSchema maps upload columns to car fields. Dealers and private sellers
// upload different column sets; both feed the same resolver.
type RowSchema struct {
	Name       string
	ExternalID string
	Title      string
	Make       string
	Variant    string
	Year       string
	Price      string
}

var (
	DealerSchema = RowSchema{
		Name:       "dealer",
		ExternalID: "vin",
		Title:      "title",
		Make:       "make_id",
		Variant:    "variant_id",
		Year:       "year",
		Price:      "price",
	}
	SellerSchema = RowSchema{
		Name:       "seller",
		ExternalID: "chassis_number",
		Title:      "name",
		Make:       "make",
		Variant:    "variant",
		Year:       "model_year",
		Price:      "asking_price",
	}
)

// SchemaByName returns the built-in schema with the given name.
func SchemaByName(name string) (RowSchema, error) {
	switch strings.ToLower(name) {
	case DealerSchema.Name:
		return DealerSchema, nil
	case SellerSchema.Name:
		return SellerSchema, nil
	}
	return RowSchema{}, fmt.Errorf("%w: %q", ErrUnknownSchema, name)
}

// Candidate is a decoded row that has not been persisted yet.
type Candidate struct {
	Row        int
	ExternalID string
	Name       string
	MakeRef    string
	VariantRef string
	Year       int
	Price      decimal.Decimal
}

// Decode validates row and maps it to a Candidate. index is the row's
// position in the upload and is carried for error reporting.
func (s RowSchema) Decode(index int, row Row) (Candidate, error) {
	get := func(col string) string { return strings.TrimSpace(row[col]) }

	c := Candidate{
		Row:        index,
		ExternalID: NormalizeExternalID(row[s.ExternalID]),
		Name:       get(s.Title),
		MakeRef:    get(s.Make),
		VariantRef: get(s.Variant),
		Price:      decimal.Zero,
	}

	var errs []error
	for _, f := range [...]struct{ col, val string }{
		{s.Title, c.Name},
		{s.Make, c.MakeRef},
		{s.Variant, c.VariantRef},
	} {
		if f.val == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingField, f.col))
		}
	}

	if raw := get(s.Year); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil || year < 1886 || year > time.Now().Year()+1 {
			errs = append(errs, fmt.Errorf("%w: %s=%q", ErrInvalidField, s.Year, raw))
		}
		c.Year = year
	}

	if raw := get(s.Price); raw != "" {
		price, err := decimal.NewFromString(raw)
		if err != nil || price.IsNegative() {
			errs = append(errs, fmt.Errorf("%w: %s=%q", ErrInvalidField, s.Price, raw))
		} else {
			c.Price = price
		}
	}

	return c, errors.Join(errs...)
}
