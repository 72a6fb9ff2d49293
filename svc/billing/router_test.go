package billing_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/motorlot/pkg/httpserver"
	"github.com/dmitrymomot/motorlot/pkg/inventory"
	"github.com/dmitrymomot/motorlot/pkg/requestid"
	"github.com/dmitrymomot/motorlot/pkg/subscription"
	"github.com/dmitrymomot/motorlot/svc/billing"
)

func withParser(name string, p subscription.EventParser) func(*billing.Deps) {
	return func(d *billing.Deps) {
		if d.Parsers == nil {
			d.Parsers = map[string]subscription.EventParser{}
		}
		d.Parsers[name] = p
	}
}

func eventParser(ev *subscription.Event) parserFunc {
	return func(*http.Request) (*subscription.Event, error) { return ev, nil }
}

type webhookReply struct {
	EventID string `json:"event_id"`
	Outcome string `json:"outcome"`
	Error   string `json:"error"`
}

func post(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, webhookReply) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`)))
	var reply webhookReply
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	}
	return rec, reply
}

func TestWebhook(t *testing.T) {
	t.Parallel()

	t.Run("checkout completion activates and grants the role", func(t *testing.T) {
		t.Parallel()
		var ev subscription.Event
		h := newHarness(t, withParser("stripe", eventParser(&ev)))
		sub := h.seed(t, subscription.StatusPending)
		ev = subscription.Event{
			ID:                     "evt_1",
			Kind:                   subscription.EventCheckoutCompleted,
			Type:                   "checkout.session.completed",
			CheckoutSessionRef:     sub.CheckoutSessionRef,
			GatewaySubscriptionRef: sub.GatewaySubscriptionRef,
			Paid:                   true,
			Period:                 subscription.Period{Start: periodStart, End: periodEnd},
		}
		router := h.app.Router()

		rec, reply := post(t, router, "/webhooks/stripe")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "evt_1", reply.EventID)
		assert.Equal(t, string(subscription.OutcomeApplied), reply.Outcome)
		assert.NotEmpty(t, rec.Header().Get(requestid.Header))

		got, err := h.store.Get(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, got.Status)
		role, ok := h.roles.Role(sub.UserID)
		require.True(t, ok)
		assert.Equal(t, subscription.RoleDealer, role)

		// Redelivery is a no-op.
		rec, reply = post(t, router, "/webhooks/stripe")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, string(subscription.OutcomeNoop), reply.Outcome)

		assert.Eventually(t, func() bool {
			n, err := h.app.Notifications.CountUnread(context.Background(), sub.UserID.String())
			return err == nil && n == 1
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("deletion expires the subscription", func(t *testing.T) {
		t.Parallel()
		var ev subscription.Event
		h := newHarness(t, withParser("paddle", eventParser(&ev)))
		sub := h.seed(t, subscription.StatusActive)
		ev = subscription.Event{
			ID:                     "evt_2",
			Kind:                   subscription.EventSubscriptionDeleted,
			GatewaySubscriptionRef: sub.GatewaySubscriptionRef,
		}

		rec, _ := post(t, h.app.Router(), "/webhooks/paddle")
		require.Equal(t, http.StatusOK, rec.Code)
		got, err := h.store.Get(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.True(t, got.Status.IsTerminal())
		role, _ := h.roles.Role(sub.UserID)
		assert.Equal(t, subscription.RoleUser, role)
	})

	t.Run("unknown subscription is acknowledged", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, withParser("stripe", eventParser(&subscription.Event{
			ID:                     "evt_3",
			Kind:                   subscription.EventSubscriptionUpdated,
			GatewaySubscriptionRef: "sub_missing",
			GatewayStatus:          "past_due",
		})))

		rec, reply := post(t, h.app.Router(), "/webhooks/stripe")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, string(subscription.OutcomeSkipped), reply.Outcome)
	})

	t.Run("unhandled events are acknowledged", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, withParser("stripe", eventParser(&subscription.Event{
			ID: "evt_4", Kind: subscription.EventUnhandled, Type: "customer.updated",
		})))

		rec, reply := post(t, h.app.Router(), "/webhooks/stripe")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, string(subscription.OutcomeIgnored), reply.Outcome)
	})

	t.Run("verification failure is a bad request", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, withParser("stripe", parserFunc(func(*http.Request) (*subscription.Event, error) {
			return nil, errors.Join(subscription.ErrWebhookVerificationFailed, errors.New("bad signature"))
		})))

		rec, reply := post(t, h.app.Router(), "/webhooks/stripe")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(subscription.OutcomeFailed), reply.Outcome)
	})

	t.Run("transient failure asks for redelivery", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t,
			withParser("stripe", eventParser(&subscription.Event{
				ID:                     "evt_5",
				Kind:                   subscription.EventSubscriptionDeleted,
				GatewaySubscriptionRef: "sub_1",
			})),
			func(d *billing.Deps) {
				d.Subscriptions = failingStore{subscription.NewMemoryStore()}
			},
		)

		rec, reply := post(t, h.app.Router(), "/webhooks/stripe")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "evt_5", reply.EventID)
	})

	t.Run("unconfigured gateway is not routed", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, withParser("stripe", eventParser(&subscription.Event{Kind: subscription.EventUnhandled})))

		rec, _ := post(t, h.app.Router(), "/webhooks/paddle")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withParser("stripe", eventParser(&subscription.Event{ID: "evt", Kind: subscription.EventUnhandled})))
	router := h.app.Router()
	post(t, router, "/webhooks/stripe")

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/healthz").Code)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)

	rec := get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `subscription_webhook_events_total{kind="unhandled",outcome="ignored"} 1`)
}

func TestReadinessFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(d *billing.Deps) {
		d.Checks = map[string]httpserver.Check{"redis": func(context.Context) error { return errors.New("dial tcp: refused") }}
	})
	rec := httptest.NewRecorder()
	h.app.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBuild_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := billing.Build(billing.Config{}, billing.Deps{})
	assert.Error(t, err)
}

func TestSeedPackages(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	n, err := h.app.SeedPackages(context.Background(), strings.NewReader(`
packages:
  - id: seller-monthly
    title: Seller Monthly
    monthly_price: "9.90"
    interval: monthly
    car_limit: 1
    ad_hoc_price_per_car: "4.00"
    target_role: seller
    gateway_price_id: price_seller
`))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p, err := h.app.Packages.Get(context.Background(), "seller-monthly")
	require.NoError(t, err)
	assert.Equal(t, "9.90", p.Price().StringFixed(2))
	assert.Equal(t, subscription.RoleSeller, p.TargetRole)

	_, err = h.app.SeedPackages(context.Background(), strings.NewReader("packages: [oops"))
	assert.ErrorIs(t, err, subscription.ErrFailedToLoadPackages)

	_, err = h.app.SeedPackagesFile(context.Background(), "testdata/missing.yaml")
	assert.ErrorIs(t, err, subscription.ErrFailedToLoadPackages)
}

func TestImportChargesOverage(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sub := h.seed(t, subscription.StatusActive)
	row := func(vin string) inventory.Row {
		return inventory.Row{"vin": vin, "title": "Golf " + vin, "make_id": "mk-vw", "variant_id": "vr-golf", "year": "2020", "price": "15000"}
	}

	res, err := h.app.Resolver.Import(context.Background(), inventory.BatchRequest{
		BatchID: "b1",
		OwnerID: sub.UserID,
		Schema:  inventory.DealerSchema,
		Rows:    []inventory.Row{row("V1"), row("V2"), row("V3")},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Persisted())

	h.gw.mu.Lock()
	defer h.gw.mu.Unlock()
	require.Len(t, h.gw.items, 1)
	assert.Equal(t, "2.50", h.gw.items[0].Amount.StringFixed(2))

	usage, err := h.app.Service.Usage(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), usage.CarsAdded)
}
