package subscription

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
)

const (
	jan2026 = 1767225600
	feb2026 = 1769904000
)

func stripeEvent(t *testing.T, typ, object string) stripe.Event {
	t.Helper()
	var evt stripe.Event
	raw := fmt.Sprintf(`{"id":"evt_1","object":"event","type":%q,"data":{"object":%s}}`, typ, object)
	require.NoError(t, json.Unmarshal([]byte(raw), &evt))
	return evt
}

func TestNormalizeStripeEvent(t *testing.T) {
	t.Parallel()

	t.Run("checkout session completed", func(t *testing.T) {
		t.Parallel()
		id := uuid.New()
		evt := stripeEvent(t, "checkout.session.completed", fmt.Sprintf(`{
			"id": "cs_1",
			"object": "checkout.session",
			"mode": "subscription",
			"payment_status": "paid",
			"customer": "cus_1",
			"subscription": "sub_1",
			"metadata": {"subscription_id": %q}
		}`, id))

		ev, err := normalizeStripeEvent(evt)
		require.NoError(t, err)
		assert.Equal(t, "evt_1", ev.ID)
		assert.Equal(t, EventCheckoutCompleted, ev.Kind)
		assert.True(t, ev.Paid)
		assert.Equal(t, id, ev.SubscriptionID)
		assert.Equal(t, "cs_1", ev.CheckoutSessionRef)
		assert.Equal(t, "sub_1", ev.GatewaySubscriptionRef)
		assert.Equal(t, "cus_1", ev.CustomerRef)
		assert.True(t, ev.Period.IsZero())
	})

	t.Run("unpaid or one-time checkout is not paid", func(t *testing.T) {
		t.Parallel()
		for _, obj := range []string{
			`{"id":"cs_2","object":"checkout.session","mode":"subscription","payment_status":"unpaid"}`,
			`{"id":"cs_3","object":"checkout.session","mode":"payment","payment_status":"paid"}`,
		} {
			ev, err := normalizeStripeEvent(stripeEvent(t, "checkout.session.completed", obj))
			require.NoError(t, err)
			assert.False(t, ev.Paid)
		}
	})

	t.Run("subscription updated and deleted", func(t *testing.T) {
		t.Parallel()
		obj := fmt.Sprintf(`{"id":"sub_1","object":"subscription","status":"past_due","customer":"cus_1",
			"current_period_start":%d,"current_period_end":%d}`, jan2026, feb2026)

		ev, err := normalizeStripeEvent(stripeEvent(t, "customer.subscription.updated", obj))
		require.NoError(t, err)
		assert.Equal(t, EventSubscriptionUpdated, ev.Kind)
		assert.Equal(t, "past_due", ev.GatewayStatus)
		assert.Equal(t, "sub_1", ev.GatewaySubscriptionRef)
		assert.Equal(t, time.Unix(jan2026, 0).UTC(), ev.Period.Start)

		assert.Equal(t, uuid.Nil, ev.SubscriptionID)

		ev, err = normalizeStripeEvent(stripeEvent(t, "customer.subscription.deleted", obj))
		require.NoError(t, err)
		assert.Equal(t, EventSubscriptionDeleted, ev.Kind)
	})

	t.Run("subscription metadata carries the local id", func(t *testing.T) {
		t.Parallel()
		id := uuid.New()
		obj := fmt.Sprintf(`{"id":"sub_1","object":"subscription","status":"canceled",
			"metadata":{"subscription_id":%q}}`, id)

		ev, err := normalizeStripeEvent(stripeEvent(t, "customer.subscription.deleted", obj))
		require.NoError(t, err)
		assert.Equal(t, id, ev.SubscriptionID)
	})

	t.Run("invoice payment uses the line period", func(t *testing.T) {
		t.Parallel()
		obj := fmt.Sprintf(`{"id":"in_1","object":"invoice","subscription":"sub_1","customer":"cus_1",
			"period_start":1,"period_end":2,
			"lines":{"object":"list","data":[{"id":"il_1","object":"line_item","period":{"start":%d,"end":%d}}]}}`,
			jan2026, feb2026)

		ev, err := normalizeStripeEvent(stripeEvent(t, "invoice.payment_succeeded", obj))
		require.NoError(t, err)
		assert.Equal(t, EventInvoicePaid, ev.Kind)
		assert.Equal(t, "in_1", ev.TransactionRef)
		assert.Equal(t, "sub_1", ev.GatewaySubscriptionRef)
		assert.Equal(t, time.Unix(jan2026, 0).UTC(), ev.Period.Start)
		assert.Equal(t, time.Unix(feb2026, 0).UTC(), ev.Period.End)

		ev, err = normalizeStripeEvent(stripeEvent(t, "invoice.payment_failed", obj))
		require.NoError(t, err)
		assert.Equal(t, EventInvoicePaymentFailed, ev.Kind)
	})

	t.Run("other types are unhandled", func(t *testing.T) {
		t.Parallel()
		ev, err := normalizeStripeEvent(stripeEvent(t, "customer.created", `{"id":"cus_1","object":"customer"}`))
		require.NoError(t, err)
		assert.Equal(t, EventUnhandled, ev.Kind)
	})

	t.Run("malformed object", func(t *testing.T) {
		t.Parallel()
		ev, err := normalizeStripeEvent(stripeEvent(t, "customer.subscription.updated", `{"id":"sub_1","status":42}`))
		assert.Nil(t, ev)
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})
}

func TestStripeGateway_ParseWebhook(t *testing.T) {
	t.Parallel()

	g, err := NewStripeGateway(StripeConfig{SecretKey: "sk_test_123", WebhookSecret: "whsec_test"})
	require.NoError(t, err)

	payload := `{"id":"evt_9","object":"event","type":"customer.subscription.deleted",
		"data":{"object":{"id":"sub_9","object":"subscription","status":"canceled","customer":"cus_9"}}}`

	t.Run("valid signature", func(t *testing.T) {
		t.Parallel()
		ts := time.Now().Unix()
		mac := hmac.New(sha256.New, []byte("whsec_test"))
		fmt.Fprintf(mac, "%d.%s", ts, payload)

		req := httptest.NewRequest("POST", "/webhooks/stripe", strings.NewReader(payload))
		req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))

		ev, err := g.ParseWebhook(req)
		require.NoError(t, err)
		assert.Equal(t, "evt_9", ev.ID)
		assert.Equal(t, EventSubscriptionDeleted, ev.Kind)
		assert.Equal(t, "sub_9", ev.GatewaySubscriptionRef)
	})

	t.Run("invalid signature", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest("POST", "/webhooks/stripe", strings.NewReader(payload))
		req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=deadbeef", time.Now().Unix()))

		_, err := g.ParseWebhook(req)
		assert.ErrorIs(t, err, ErrWebhookVerificationFailed)
	})
}

func TestNewStripeGateway_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewStripeGateway(StripeConfig{WebhookSecret: "whsec"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewStripeGateway(StripeConfig{SecretKey: "sk"})
	assert.ErrorIs(t, err, ErrMissingWebhookSecret)

	g, err := NewStripeGateway(StripeConfig{SecretKey: "sk", WebhookSecret: "whsec"})
	require.NoError(t, err)
	assert.Equal(t, "usd", g.config.Currency)

	_, err = g.CreateSubscriptionCheckout(t.Context(), CheckoutRequest{PriceRef: "price_1"})
	assert.ErrorIs(t, err, ErrMissingCustomerRef)
	_, err = g.CreateSubscriptionCheckout(t.Context(), CheckoutRequest{CustomerRef: "cus_1"})
	assert.ErrorIs(t, err, ErrMissingPriceRef)
	_, err = g.CreateOverageInvoiceItem(t.Context(), InvoiceItem{})
	assert.ErrorIs(t, err, ErrMissingCustomerRef)
}
