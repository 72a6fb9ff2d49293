package billing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dmitrymomot/motorlot/pkg/httpserver"
	"github.com/dmitrymomot/motorlot/pkg/inventory"
	"github.com/dmitrymomot/motorlot/pkg/logger"
	mongopkg "github.com/dmitrymomot/motorlot/pkg/mongo"
	"github.com/dmitrymomot/motorlot/pkg/notifications"
	redispkg "github.com/dmitrymomot/motorlot/pkg/redis"
	"github.com/dmitrymomot/motorlot/pkg/subscription"
	"github.com/dmitrymomot/motorlot/svc/mongostore"
)

// PackageCatalog is the package store the seeding commands write to.
type PackageCatalog interface {
	subscription.PackageStore
	List(ctx context.Context) ([]subscription.Package, error)
	Upsert(ctx context.Context, pkgs ...subscription.Package) error
}

// Deps are the collaborators an App is assembled from. Connect fills them
// from MongoDB, Redis and the payment gateways; tests pass in-memory ones.
type Deps struct {
	Subscriptions subscription.Store
	Packages      PackageCatalog
	Roles         subscription.RoleStore
	Gateway       subscription.Gateway
	Locker        subscription.Locker
	Notifications notifications.Storage
	Cars          inventory.Store
	Catalog       inventory.Catalog

	// Parsers maps a gateway name to the parser of its webhook route.
	Parsers map[string]subscription.EventParser
	// Checks are run by the readiness endpoint.
	Checks map[string]httpserver.Check

	Registry *prometheus.Registry
	Logger   *slog.Logger
}

// App is the assembled billing engine.
type App struct {
	Service       *subscription.Service
	Reconciler    *subscription.Reconciler
	Resolver      *inventory.Resolver
	Notifications *notifications.Manager
	Packages      PackageCatalog
	Metrics       *subscription.Metrics

	cfg     Config
	deps    Deps
	logger  *slog.Logger
	closers []func(context.Context) error
}

// Build assembles an App from already constructed collaborators.
func Build(cfg Config, deps Deps) (*App, error) {
	switch {
	case deps.Subscriptions == nil, deps.Packages == nil, deps.Roles == nil, deps.Gateway == nil:
		return nil, errors.New("billing: subscription store, packages, roles and gateway are required")
	case deps.Notifications == nil, deps.Cars == nil, deps.Catalog == nil:
		return nil, errors.New("billing: notification storage, car store and catalog are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	if deps.Locker == nil {
		deps.Locker = subscription.NewLocalLocker()
	}

	metrics := subscription.NewMetrics(deps.Registry)
	mgr := notifications.NewManager(deps.Notifications, notifications.WithManagerLogger(deps.Logger))
	notifier := notifierFor(mgr)

	svcOpts := []subscription.ServiceOption{
		subscription.WithLocker(deps.Locker),
		subscription.WithNotifier(notifier),
		subscription.WithLogger(deps.Logger),
		subscription.WithMetrics(metrics),
		subscription.WithBaseRole(subscription.Role(cfg.BaseRole)),
	}
	if cfg.GatewayTimeout > 0 {
		svcOpts = append(svcOpts, subscription.WithGatewayTimeout(cfg.GatewayTimeout))
	}
	if cfg.NotifyTimeout > 0 {
		svcOpts = append(svcOpts, subscription.WithNotifyTimeout(cfg.NotifyTimeout))
	}
	svc := subscription.NewService(deps.Subscriptions, deps.Packages, deps.Gateway, deps.Roles, svcOpts...)

	app := &App{
		Service:    svc,
		Reconciler: subscription.NewReconciler(svc, subscription.WithReconcilerLogger(deps.Logger)),
		Resolver: inventory.NewResolver(deps.Cars, deps.Catalog, svc,
			inventory.WithResolverLogger(deps.Logger),
			inventory.WithResolverLocker(deps.Locker),
			inventory.WithResolverNotifier(notifier),
			inventory.WithLookupConcurrency(cfg.ImportWorkers),
			inventory.WithResolverNotifyTimeout(cfg.NotifyTimeout),
		),
		Notifications: mgr,
		Packages:      deps.Packages,
		Metrics:       metrics,
		cfg:           cfg,
		deps:          deps,
		logger:        deps.Logger.With(logger.Component("billing")),
	}
	return app, nil
}

// Connect dials MongoDB and Redis, ensures indexes, builds the gateways from
// cfg and assembles the App. Close releases the connections.
func Connect(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := mongopkg.NewWithDatabase(ctx, cfg.Mongo)
	if err != nil {
		return nil, err
	}
	closers := []func(context.Context) error{db.Client().Disconnect}
	fail := func(err error) (*App, error) {
		for _, c := range closers {
			_ = c(context.WithoutCancel(ctx))
		}
		return nil, err
	}

	if err := mongostore.EnsureIndexes(ctx, db); err != nil {
		return fail(err)
	}

	rdb, err := redispkg.Connect(ctx, cfg.Redis)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func(context.Context) error { return rdb.Close() })

	stripeGw, err := subscription.NewStripeGateway(cfg.Stripe)
	if err != nil {
		return fail(err)
	}
	parsers := map[string]subscription.EventParser{"stripe": stripeGw}
	if cfg.Paddle.WebhookSecret != "" {
		paddle, err := subscription.NewPaddleEventParser(cfg.Paddle)
		if err != nil {
			return fail(err)
		}
		parsers["paddle"] = paddle
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	stores := mongostore.New(db)
	app, err := Build(cfg, Deps{
		Subscriptions: stores.Subscriptions,
		Packages:      stores.Packages,
		Roles:         stores.Roles,
		Gateway:       subscription.NewBreakerGateway(stripeGw, cfg.Breaker, log),
		Locker:        redispkg.NewLocker(rdb, cfg.Redis, redispkg.WithLockLogger(log)),
		Notifications: stores.Notifications,
		Cars:          stores.Cars,
		Catalog:       stores.Catalog,
		Parsers:       parsers,
		Checks: map[string]httpserver.Check{
			"mongo": mongopkg.Healthcheck(db.Client()),
			"redis": redispkg.Healthcheck(rdb),
		},
		Registry: registry,
		Logger:   log,
	})
	if err != nil {
		return fail(err)
	}
	app.closers = closers

	if cfg.PackagesFile != "" {
		n, err := app.SeedPackagesFile(ctx, cfg.PackagesFile)
		if err != nil {
			return fail(err)
		}
		app.logger.InfoContext(ctx, "package catalog seeded",
			slog.String("file", cfg.PackagesFile),
			slog.Int("packages", n),
		)
	}
	return app, nil
}

// Config returns the configuration the App was built with.
func (a *App) Config() Config { return a.cfg }

// SeedPackages upserts every package read from a YAML catalog.
func (a *App) SeedPackages(ctx context.Context, r io.Reader) (int, error) {
	pkgs, err := subscription.LoadPackagesYAML(r)
	if err != nil {
		return 0, err
	}
	if err := a.Packages.Upsert(ctx, pkgs...); err != nil {
		return 0, fmt.Errorf("failed to store packages: %w", err)
	}
	return len(pkgs), nil
}

func (a *App) SeedPackagesFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Join(subscription.ErrFailedToLoadPackages, err)
	}
	defer f.Close()
	return a.SeedPackages(ctx, f)
}

// Close releases connections opened by Connect, in reverse order.
func (a *App) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		a.logger.ErrorContext(ctx, "failed to close connections", logger.Errors(errs...))
	}
	return errors.Join(errs...)
}
