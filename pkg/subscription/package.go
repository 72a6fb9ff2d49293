package subscription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Package is a plan template a seller subscribes to.
// GatewayPriceID must match the payment gateway's recurring price identifier.
type Package struct {
	ID                 string
	Title              string
	MonthlyPrice       decimal.Decimal
	YearlyPrice        decimal.Decimal
	Interval           BillingInterval
	CarLimit           int64
	AdHocPricePerCar   decimal.Decimal
	TargetRole         Role
	AllowCustomization bool
	GatewayPriceID     string
	Currency           string
}

// Price returns the recurring price for the package's billing interval.
func (p Package) Price() decimal.Decimal {
	if p.Interval == BillingIntervalYearly {
		return p.YearlyPrice
	}
	return p.MonthlyPrice
}

// Validate checks the package for internally inconsistent values.
func (p Package) Validate() error {
	switch {
	case p.ID == "":
		return errors.Join(ErrInvalidPackage, errors.New("package ID is required"))
	case p.CarLimit < 0:
		return errors.Join(ErrInvalidPackage, fmt.Errorf("package %s has negative car limit", p.ID))
	case p.AdHocPricePerCar.IsNegative():
		return errors.Join(ErrInvalidPackage, fmt.Errorf("package %s has negative ad-hoc price", p.ID))
	case p.MonthlyPrice.IsNegative() || p.YearlyPrice.IsNegative():
		return errors.Join(ErrInvalidPackage, fmt.Errorf("package %s has negative price", p.ID))
	case p.TargetRole == "":
		return errors.Join(ErrInvalidPackage, fmt.Errorf("package %s has no target role", p.ID))
	}
	switch p.Interval {
	case BillingIntervalMonthly, BillingIntervalYearly:
	default:
		return errors.Join(ErrInvalidPackage, fmt.Errorf("package %s has unknown interval %q", p.ID, p.Interval))
	}
	return nil
}

// PackageStore resolves package templates by ID.
// Get returns an error matching ErrPackageNotFound for unknown IDs.
type PackageStore interface {
	Get(ctx context.Context, id string) (*Package, error)
}

type inMemPackages struct {
	mu       sync.RWMutex
	packages map[string]Package
}

// NewInMemPackages returns a PackageStore holding copies of the given packages.
// Panics on an invalid package so misconfiguration fails at startup.
func NewInMemPackages(packages ...Package) PackageStore {
	s := &inMemPackages{packages: make(map[string]Package, len(packages))}
	for _, p := range packages {
		if err := p.Validate(); err != nil {
			panic(err)
		}
		s.packages[p.ID] = p
	}
	return s
}

func (s *inMemPackages) Get(_ context.Context, id string) (*Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.packages[id]
	if !ok {
		return nil, errors.Join(ErrNotFound, ErrPackageNotFound)
	}
	return &p, nil
}

type packageFile struct {
	Packages []packageEntry `yaml:"packages"`
}

type packageEntry struct {
	ID                 string `yaml:"id"`
	Title              string `yaml:"title"`
	MonthlyPrice       string `yaml:"monthly_price"`
	YearlyPrice        string `yaml:"yearly_price"`
	Interval           string `yaml:"interval"`
	CarLimit           int64  `yaml:"car_limit"`
	AdHocPricePerCar   string `yaml:"ad_hoc_price_per_car"`
	TargetRole         string `yaml:"target_role"`
	AllowCustomization bool   `yaml:"allow_customization"`
	GatewayPriceID     string `yaml:"gateway_price_id"`
	Currency           string `yaml:"currency"`
}

// LoadPackagesYAML reads a package catalog document:
//
//	packages:
//	  - id: dealer-basic
//	    title: Dealer Basic
//	    monthly_price: "49.00"
//	    interval: monthly
//	    car_limit: 4
//	    ad_hoc_price_per_car: "2.50"
//	    target_role: dealer
//	    allow_customization: true
//	    gateway_price_id: price_123
func LoadPackagesYAML(r io.Reader) ([]Package, error) {
	var doc packageFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Join(ErrFailedToLoadPackages, err)
	}

	out := make([]Package, 0, len(doc.Packages))
	for _, e := range doc.Packages {
		p := Package{
			ID:                 e.ID,
			Title:              e.Title,
			Interval:           BillingInterval(e.Interval),
			CarLimit:           e.CarLimit,
			TargetRole:         Role(e.TargetRole),
			AllowCustomization: e.AllowCustomization,
			GatewayPriceID:     e.GatewayPriceID,
			Currency:           e.Currency,
		}
		if p.Interval == "" {
			p.Interval = BillingIntervalMonthly
		}
		if p.Currency == "" {
			p.Currency = "usd"
		}

		var err error
		if p.MonthlyPrice, err = parseAmount(e.MonthlyPrice); err != nil {
			return nil, errors.Join(ErrFailedToLoadPackages, fmt.Errorf("package %s monthly_price: %w", e.ID, err))
		}
		if p.YearlyPrice, err = parseAmount(e.YearlyPrice); err != nil {
			return nil, errors.Join(ErrFailedToLoadPackages, fmt.Errorf("package %s yearly_price: %w", e.ID, err))
		}
		if p.AdHocPricePerCar, err = parseAmount(e.AdHocPricePerCar); err != nil {
			return nil, errors.Join(ErrFailedToLoadPackages, fmt.Errorf("package %s ad_hoc_price_per_car: %w", e.ID, err))
		}

		if err := p.Validate(); err != nil {
			return nil, errors.Join(ErrFailedToLoadPackages, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
