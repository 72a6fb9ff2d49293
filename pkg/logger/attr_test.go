package logger_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/motorlot/pkg/logger"
)

func TestGroup(t *testing.T) {
	t.Parallel()
	attr := logger.Group("usage", slog.Int64("cars_added", 6), slog.Int64("ad_hoc_cars", 2))
	require.Equal(t, "usage", attr.Key)
	require.Equal(t, slog.KindGroup, attr.Value.Kind())
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, "cars_added", g[0].Key)
	assert.Equal(t, "ad_hoc_cars", g[1].Key)
}

func TestErrors(t *testing.T) {
	t.Parallel()
	err1 := errors.New("row 1: unknown make")
	err2 := errors.New("row 3: duplicate vin")

	attr := logger.Errors(err1, nil, err2)
	require.Equal(t, "errors", attr.Key)
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, "0", g[0].Key)
	assert.Equal(t, "2", g[1].Key)
	assert.Equal(t, err2, g[1].Value.Any())

	assert.True(t, logger.Errors(nil).Equal(slog.Attr{}))
}

func TestError(t *testing.T) {
	t.Parallel()
	err := errors.New("boom")
	attr := logger.Error(err)
	require.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())
	assert.True(t, logger.Error(nil).Equal(slog.Attr{}))
}

func TestDomainAttrs(t *testing.T) {
	t.Parallel()
	id := uuid.New()

	tests := []struct {
		attr slog.Attr
		key  string
		want any
	}{
		{logger.UserID(id), "user_id", id},
		{logger.SubscriptionID(id), "subscription_id", id},
		{logger.PackageID("dealer-basic"), "package_id", "dealer-basic"},
		{logger.Role("dealer"), "role", "dealer"},
		{logger.RequestID("abc"), "request_id", "abc"},
		{logger.EventID("evt_1"), "event_id", "evt_1"},
		{logger.EventType("invoice.paid"), "event_type", "invoice.paid"},
		{logger.Gateway("stripe"), "gateway", "stripe"},
		{logger.Component("reconciler"), "component", "reconciler"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.key, tt.attr.Key)
		assert.Equal(t, tt.want, tt.attr.Value.Any())
	}

	assert.True(t, logger.UserID(nil).Equal(slog.Attr{}))
	assert.True(t, logger.SubscriptionID(nil).Equal(slog.Attr{}))
}
