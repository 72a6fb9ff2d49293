package billing_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/motorlot/pkg/httpserver"
	"github.com/dmitrymomot/motorlot/pkg/inventory"
	"github.com/dmitrymomot/motorlot/pkg/notifications"
	"github.com/dmitrymomot/motorlot/pkg/subscription"
	"github.com/dmitrymomot/motorlot/svc/billing"
)

var (
	periodStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = periodStart.AddDate(0, 1, 0)
)

func dealerPackage() subscription.Package {
	return subscription.Package{
		ID:               "dealer-basic",
		Title:            "Dealer Basic",
		MonthlyPrice:     decimal.RequireFromString("49.00"),
		Interval:         subscription.BillingIntervalMonthly,
		CarLimit:         2,
		AdHocPricePerCar: decimal.RequireFromString("2.5"),
		TargetRole:       subscription.RoleDealer,
		GatewayPriceID:   "price_basic",
		Currency:         "usd",
	}
}

// memPackages is a package catalog that accepts upserts.
type memPackages struct {
	mu   sync.Mutex
	pkgs map[string]subscription.Package
}

func newMemPackages(pkgs ...subscription.Package) *memPackages {
	m := &memPackages{pkgs: map[string]subscription.Package{}}
	for _, p := range pkgs {
		m.pkgs[p.ID] = p
	}
	return m
}

func (m *memPackages) Get(_ context.Context, id string) (*subscription.Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pkgs[id]
	if !ok {
		return nil, errors.Join(subscription.ErrNotFound, subscription.ErrPackageNotFound)
	}
	return &p, nil
}

func (m *memPackages) List(context.Context) ([]subscription.Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]subscription.Package, 0, len(m.pkgs))
	for _, p := range m.pkgs {
		out = append(out, p)
	}
	return out, nil
}

func (m *memPackages) Upsert(_ context.Context, pkgs ...subscription.Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range pkgs {
		if err := p.Validate(); err != nil {
			return err
		}
		m.pkgs[p.ID] = p
	}
	return nil
}

type fakeGateway struct {
	mu    sync.Mutex
	items []subscription.InvoiceItem
}

func (g *fakeGateway) CreateCustomer(context.Context, subscription.OwnerInfo) (string, error) {
	return "cus_" + uuid.NewString()[:8], nil
}

func (g *fakeGateway) CreateSubscriptionCheckout(_ context.Context, req subscription.CheckoutRequest) (*subscription.Checkout, error) {
	return &subscription.Checkout{SessionRef: "cs_" + uuid.NewString()[:8], URL: "https://checkout.test/session"}, nil
}

func (g *fakeGateway) RetrieveSubscriptionStatus(_ context.Context, ref string) (*subscription.GatewayStatus, error) {
	return &subscription.GatewayStatus{Status: "active", Period: subscription.Period{Start: periodStart, End: periodEnd}}, nil
}

func (g *fakeGateway) CreateOverageInvoiceItem(_ context.Context, item subscription.InvoiceItem) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.items = append(g.items, item)
	return "ii_" + uuid.NewString()[:8], nil
}

func (g *fakeGateway) CancelSubscription(context.Context, string) error { return nil }

// failingStore fails gateway-ref lookups like an unreachable database.
type failingStore struct {
	*subscription.MemoryStore
}

func (failingStore) FindByGatewayRef(context.Context, string) (*subscription.Subscription, error) {
	return nil, errors.New("server selection timeout")
}

type parserFunc func(r *http.Request) (*subscription.Event, error)

func (f parserFunc) ParseWebhook(r *http.Request) (*subscription.Event, error) { return f(r) }

type harness struct {
	app   *billing.App
	store *subscription.MemoryStore
	roles *subscription.MemoryRoleStore
	gw    *fakeGateway
	cars  *inventory.MemoryStore
}

func newHarness(t *testing.T, mutate ...func(*billing.Deps)) *harness {
	t.Helper()
	h := &harness{
		store: subscription.NewMemoryStore(),
		roles: subscription.NewMemoryRoleStore(),
		gw:    &fakeGateway{},
		cars:  inventory.NewMemoryStore(),
	}
	deps := billing.Deps{
		Subscriptions: h.store,
		Packages:      newMemPackages(dealerPackage()),
		Roles:         h.roles,
		Gateway:       h.gw,
		Notifications: notifications.NewMemoryStorage(),
		Cars:          h.cars,
		Catalog: inventory.NewMemoryCatalog(inventory.Variant{
			MakeID: "mk-vw", MakeName: "Volkswagen", VariantID: "vr-golf", VariantName: "Golf",
		}),
		Checks: map[string]httpserver.Check{"mongo": func(context.Context) error { return nil }},
	}
	for _, m := range mutate {
		m(&deps)
	}
	app, err := billing.Build(billing.Config{BaseRole: "user", GatewayTimeout: time.Second}, deps)
	require.NoError(t, err)
	h.app = app
	return h
}

func (h *harness) seed(t *testing.T, status subscription.Status) *subscription.Subscription {
	t.Helper()
	pkg := dealerPackage()
	sub := &subscription.Subscription{
		ID:                     uuid.New(),
		UserID:                 uuid.New(),
		PackageID:              pkg.ID,
		CustomerRef:            "cus_1",
		GatewaySubscriptionRef: "sub_" + uuid.NewString()[:8],
		CheckoutSessionRef:     "cs_" + uuid.NewString()[:8],
		Status:                 status,
		Price:                  pkg.Price(),
		AdHocCharges:           decimal.Zero,
		CreatedAt:              periodStart,
	}
	if status == subscription.StatusActive {
		sub.PeriodStart, sub.PeriodEnd = periodStart, periodEnd
	}
	require.NoError(t, h.store.Create(context.Background(), sub))
	return sub
}
