package subscription_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/motorlot/pkg/subscription"
)

func TestBreakerGateway(t *testing.T) {
	t.Parallel()

	t.Run("passes results through", func(t *testing.T) {
		t.Parallel()
		gw := &mockGateway{}
		gw.On("CreateCustomer", mock.Anything, mock.Anything).Return("cus_1", nil)
		gw.On("RetrieveSubscriptionStatus", mock.Anything, "sub_1").Return(&subscription.GatewayStatus{Status: "active"}, nil)

		b := subscription.NewBreakerGateway(gw, subscription.BreakerConfig{Timeout: time.Minute}, nil)
		ref, err := b.CreateCustomer(context.Background(), subscription.OwnerInfo{})
		require.NoError(t, err)
		assert.Equal(t, "cus_1", ref)

		st, err := b.RetrieveSubscriptionStatus(context.Background(), "sub_1")
		require.NoError(t, err)
		assert.Equal(t, "active", st.Status)
	})

	t.Run("opens after consecutive failures", func(t *testing.T) {
		t.Parallel()
		gw := &mockGateway{}
		gw.On("CreateOverageInvoiceItem", mock.Anything, mock.Anything).Return("", errors.New("503"))

		b := subscription.NewBreakerGateway(gw, subscription.BreakerConfig{
			FailureThreshold: 3,
			Timeout:          time.Minute,
		}, nil)

		for range 3 {
			_, err := b.CreateOverageInvoiceItem(context.Background(), subscription.InvoiceItem{})
			require.Error(t, err)
			assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
		}
		assert.Equal(t, gobreaker.StateOpen, b.State())

		_, err := b.CreateOverageInvoiceItem(context.Background(), subscription.InvoiceItem{})
		assert.ErrorIs(t, err, subscription.ErrPaymentProcessing)
		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
		gw.AssertNumberOfCalls(t, "CreateOverageInvoiceItem", 3)
	})

	t.Run("caller cancellation does not trip", func(t *testing.T) {
		t.Parallel()
		gw := &mockGateway{}
		gw.On("CancelSubscription", mock.Anything, mock.Anything).Return(context.Canceled)

		b := subscription.NewBreakerGateway(gw, subscription.BreakerConfig{FailureThreshold: 1, Timeout: time.Minute}, nil)
		for range 3 {
			err := b.CancelSubscription(context.Background(), "sub_1")
			assert.ErrorIs(t, err, context.Canceled)
		}
		assert.Equal(t, gobreaker.StateClosed, b.State())
	})

	t.Run("open breaker fails usage with rollback", func(t *testing.T) {
		t.Parallel()
		gw := &mockGateway{}
		gw.On("CreateOverageInvoiceItem", mock.Anything, mock.Anything).Return("", errors.New("503"))
		b := subscription.NewBreakerGateway(gw, subscription.BreakerConfig{FailureThreshold: 1, Timeout: time.Minute}, nil)
		_, _ = b.CreateOverageInvoiceItem(context.Background(), subscription.InvoiceItem{})

		store := subscription.NewMemoryStore()
		svc := subscription.NewService(store, subscription.NewInMemPackages(dealerPackage()), b, subscription.NewMemoryRoleStore())
		f := &fixture{svc: svc, store: store, roles: subscription.NewMemoryRoleStore(), gw: gw}
		sub := f.seedActive(t, 4, 0)
		before := f.get(t, sub.ID)

		_, err := svc.ApplyUsageDelta(context.Background(), subscription.UsageRequest{SubscriptionID: sub.ID, Delta: 1})
		assert.ErrorIs(t, err, subscription.ErrPaymentProcessing)
		assert.Equal(t, before, f.get(t, sub.ID))
		gw.AssertNumberOfCalls(t, "CreateOverageInvoiceItem", 1)
	})
}
