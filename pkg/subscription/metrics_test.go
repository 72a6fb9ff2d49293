package subscription_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/motorlot/pkg/subscription"
)

func TestMetrics(t *testing.T) {
	t.Parallel()

	m := subscription.NewMetrics(prometheus.NewRegistry())
	f := newFixture(t, subscription.WithMetrics(m))
	sub := f.seedActive(t, 3, 0)
	f.gw.On("CreateOverageInvoiceItem", mock.Anything, mock.Anything).Return("ii", nil)

	_, err := f.svc.ApplyUsageDelta(context.Background(), subscription.UsageRequest{SubscriptionID: sub.ID, Delta: 3})
	require.NoError(t, err)
	_, err = f.svc.Deactivate(context.Background(), sub.ID, subscription.ReasonExpired)
	require.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(m.UsageUnits.WithLabelValues("add", "within_limit")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.UsageUnits.WithLabelValues("add", "overage")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Transitions.WithLabelValues("active", "expired")), 0)

	r := subscription.NewReconciler(f.svc)
	_, err = r.HandleEvent(context.Background(), &subscription.Event{Kind: subscription.EventUnhandled})
	require.NoError(t, err)
	assert.InDelta(t, 1, testutil.ToFloat64(m.WebhookEvents.WithLabelValues("unhandled", "ignored")), 0)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	t.Parallel()

	f := newFixture(t, subscription.WithMetrics(nil))
	sub := f.seedActive(t, 0, 0)
	_, err := f.svc.ApplyUsageDelta(context.Background(), subscription.UsageRequest{SubscriptionID: sub.ID, Delta: 1})
	assert.NoError(t, err)
}
