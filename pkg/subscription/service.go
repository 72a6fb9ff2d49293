package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/motorlot/pkg/logger"
)

// Service is the subscription state machine. Its transitions are the only
// way to change a subscription's status, usage counters, customization and
// billing period, and they keep the owner's role derived from that state.
type Service struct {
	store          Store
	packages       PackageStore
	gateway        Gateway
	roles          RoleStore
	locker         Locker
	notifier       Notifier
	metrics        *Metrics
	logger         *slog.Logger
	rootLogger     *slog.Logger // unscoped, for components built on the service
	baseRole       Role
	gatewayTimeout time.Duration
	notifyTimeout  time.Duration
	now            func() time.Time
}

// NewService creates a Service with the given collaborators.
// Panics if a required collaborator is nil to fail fast during initialization.
func NewService(store Store, packages PackageStore, gateway Gateway, roles RoleStore, opts ...ServiceOption) *Service {
	if store == nil {
		panic("subscription: Store is required")
	}
	if packages == nil {
		panic("subscription: PackageStore is required")
	}
	if gateway == nil {
		panic("subscription: Gateway is required")
	}
	if roles == nil {
		panic("subscription: RoleStore is required")
	}

	s := &Service{
		store:          store,
		packages:       packages,
		gateway:        gateway,
		roles:          roles,
		locker:         NewLocalLocker(),
		notifier:       noopNotifier{},
		logger:         slog.Default(),
		baseRole:       RoleUser,
		gatewayTimeout: 30 * time.Second,
		notifyTimeout:  10 * time.Second,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rootLogger = s.logger
	s.logger = s.logger.With(logger.Component("subscription"))
	return s
}

// InitiateRequest starts a paid subscription for a user.
type InitiateRequest struct {
	UserID     uuid.UUID
	Email      string
	Name       string
	PackageID  string
	SuccessURL string
	CancelURL  string
}

// Initiation is a pending subscription and the checkout that will activate it.
type Initiation struct {
	Subscription *Subscription
	Checkout     *Checkout
}

// Initiate creates a pending subscription and a gateway checkout for it.
// Fails with ErrConflict if the user already has an active subscription.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error) {
	if req.UserID == uuid.Nil {
		return nil, errors.Join(ErrInvalidArgument, errors.New("user ID is required"))
	}
	if req.PackageID == "" {
		return nil, errors.Join(ErrInvalidArgument, errors.New("package ID is required"))
	}

	var out *Initiation
	err := s.withLock(ctx, userLockKey(req.UserID), func() error {
		if _, err := s.store.FindActiveByUser(ctx, req.UserID); err == nil {
			return errors.Join(ErrConflict, ErrActiveSubscriptionExists)
		} else if !errors.Is(err, ErrSubscriptionNotFound) {
			return fmt.Errorf("failed to check active subscription: %w", err)
		}

		pkg, err := s.packages.Get(ctx, req.PackageID)
		if err != nil {
			return err
		}

		customerRef, err := s.customerFor(ctx, req)
		if err != nil {
			return err
		}

		id := uuid.New()
		var checkout *Checkout
		err = s.callGateway(ctx, "create_checkout", func(ctx context.Context) error {
			var err error
			checkout, err = s.gateway.CreateSubscriptionCheckout(ctx, CheckoutRequest{
				CustomerRef: customerRef,
				PriceRef:    pkg.GatewayPriceID,
				Metadata: map[string]string{
					MetadataSubscriptionID: id.String(),
					MetadataUserID:         req.UserID.String(),
					MetadataPackageID:      pkg.ID,
				},
				SuccessURL: req.SuccessURL,
				CancelURL:  req.CancelURL,
			})
			return err
		})
		if err != nil {
			return err
		}

		now := s.now()
		sub := &Subscription{
			ID:                 id,
			UserID:             req.UserID,
			PackageID:          pkg.ID,
			CustomerRef:        customerRef,
			CheckoutSessionRef: checkout.SessionRef,
			Status:             StatusPending,
			Price:              pkg.Price(),
			AdHocCharges:       decimal.Zero,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := s.store.Create(ctx, sub); err != nil {
			return fmt.Errorf("failed to save pending subscription: %w", err)
		}

		s.logger.InfoContext(ctx, "subscription initiated",
			logger.SubscriptionID(sub.ID),
			logger.UserID(sub.UserID),
			logger.PackageID(pkg.ID),
		)
		out = &Initiation{Subscription: sub, Checkout: checkout}
		return nil
	})
	return out, err
}

// customerFor reuses the customer of the user's latest subscription or creates one.
func (s *Service) customerFor(ctx context.Context, req InitiateRequest) (string, error) {
	latest, err := s.store.FindLatestByUser(ctx, req.UserID)
	if err == nil && latest.CustomerRef != "" {
		return latest.CustomerRef, nil
	}
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return "", fmt.Errorf("failed to look up previous subscription: %w", err)
	}

	var ref string
	err = s.callGateway(ctx, "create_customer", func(ctx context.Context) error {
		var err error
		ref, err = s.gateway.CreateCustomer(ctx, OwnerInfo{UserID: req.UserID, Email: req.Email, Name: req.Name})
		return err
	})
	return ref, err
}

// ActivateParams carries the confirmed checkout data.
type ActivateParams struct {
	GatewaySubscriptionRef string
	CustomerRef            string
	Period                 Period
	TransactionRef         string
}

// Activate moves a pending subscription to active and grants the package role.
// Activating an already active subscription is a no-op.
func (s *Service) Activate(ctx context.Context, id uuid.UUID, p ActivateParams) (*Subscription, error) {
	return s.activate(ctx, id, p, "")
}

// activate confirms a checkout. When end is set the gateway has already ended
// the subscription: the record passes through active straight to the terminal
// status in one commit and the owner keeps the base role.
func (s *Service) activate(ctx context.Context, id uuid.UUID, p ActivateParams, end lifecycleEvent) (*Subscription, error) {
	var out *Subscription
	err := s.withLock(ctx, subscriptionLockKey(id), func() error {
		sub, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}

		to, changed, err := next(sub.Status, eventActivate)
		if err != nil {
			return err
		}
		if !changed {
			out = sub
			return nil
		}
		final := to
		if end != "" {
			if final, _, err = next(to, end); err != nil {
				return err
			}
		}

		pkg, err := s.packages.Get(ctx, sub.PackageID)
		if err != nil {
			return err
		}

		from := sub.Status
		now := s.now()
		sub.Status = final
		sub.ActivatedAt = &now
		if final != to {
			sub.EndedAt = &now
		}
		sub.PeriodStart = p.Period.Start
		sub.PeriodEnd = p.Period.End
		if p.GatewaySubscriptionRef != "" {
			sub.GatewaySubscriptionRef = p.GatewaySubscriptionRef
		}
		if p.CustomerRef != "" {
			sub.CustomerRef = p.CustomerRef
		}
		if p.TransactionRef != "" {
			sub.LatestTransactionRef = p.TransactionRef
		}

		if err := s.commitTransition(ctx, sub, pkg); err != nil {
			return err
		}

		s.metrics.transition(from, to)
		if final != to {
			s.metrics.transition(to, final)
			s.logger.WarnContext(ctx, "subscription ended at the gateway before activation",
				logger.SubscriptionID(sub.ID),
				logger.UserID(sub.UserID),
				slog.String("status", string(final)),
			)
			s.notify(ctx, sub.UserID,
				fmt.Sprintf("Your %s subscription ended before it could be activated.", pkg.Title),
				sub.ID.String(), CategorySubscription)
			out = sub
			return nil
		}

		s.logger.InfoContext(ctx, "subscription activated",
			logger.SubscriptionID(sub.ID),
			logger.UserID(sub.UserID),
			logger.Role(pkg.TargetRole),
		)
		s.notify(ctx, sub.UserID, fmt.Sprintf("Your %s subscription is now active.", pkg.Title), sub.ID.String(), CategorySubscription)
		out = sub
		return nil
	})
	return out, err
}

// UsageRequest asks to add (positive Delta) or remove (negative Delta) cars.
type UsageRequest struct {
	SubscriptionID uuid.UUID
	OwnerID        uuid.UUID // when set, must own the subscription
	Delta          int64
	Description    string
	IdempotencyKey string
}

// UsageChange reports what a usage delta did.
type UsageChange struct {
	Addition       Addition
	Removal        Removal
	InvoiceItemRef string
	Usage          Usage
}

// ApplyUsageDelta applies a calculator decision to an active subscription.
// Any overage charge (or refund) is sent to the gateway in the same
// transaction; if the gateway call fails the counters are rolled back and
// ErrPaymentProcessing is returned.
func (s *Service) ApplyUsageDelta(ctx context.Context, req UsageRequest) (*UsageChange, error) {
	var out *UsageChange
	err := s.withLock(ctx, subscriptionLockKey(req.SubscriptionID), func() error {
		sub, pkg, err := s.loadActive(ctx, req.SubscriptionID, req.OwnerID)
		if err != nil {
			return err
		}

		change := &UsageChange{
			Addition: Addition{OverageCharge: decimal.Zero},
			Removal:  Removal{Refund: decimal.Zero},
		}
		snap := SnapshotOf(sub, *pkg)

		var amount decimal.Decimal
		var description string
		switch {
		case req.Delta > 0:
			a, err := DecideAddition(snap, req.Delta)
			if err != nil {
				return err
			}
			applyAddition(sub, *pkg, a)
			change.Addition = a
			amount = a.OverageCharge
			description = fmt.Sprintf("%d car(s) over the %d car plan limit", a.OverageCount, snap.CarLimit)
		case req.Delta < 0:
			r, err := DecideRemoval(snap, -req.Delta)
			if err != nil {
				return err
			}
			applyRemoval(sub, *pkg, r)
			change.Removal = r
			amount = r.Refund.Neg()
			description = fmt.Sprintf("Credit for %d removed over-limit car(s)", r.FromOverage)
		default:
			change.Usage = usageOf(sub, *pkg)
			out = change
			return nil
		}
		if req.Description != "" {
			description = req.Description
		}

		if err := sub.CheckInvariants(*pkg); err != nil {
			return err
		}

		err = s.store.WithTx(ctx, func(ctx context.Context) error {
			if err := s.store.Update(ctx, sub); err != nil {
				return err
			}
			if amount.IsZero() {
				return nil
			}
			ref, err := s.createInvoiceItem(ctx, sub, pkg, amount, description, req.IdempotencyKey)
			change.InvoiceItemRef = ref
			return err
		})
		if err != nil {
			return err
		}

		if req.Delta > 0 {
			s.metrics.usage("add", change.Addition.WithinLimitCount, change.Addition.OverageCount)
		} else {
			s.metrics.usage("remove", change.Removal.FromWithinLimit, change.Removal.FromOverage)
		}
		s.logger.InfoContext(ctx, "subscription usage applied",
			logger.SubscriptionID(sub.ID),
			slog.Int64("delta", req.Delta),
			slog.Int64("cars_added", sub.CarsAdded),
			slog.Int64("ad_hoc_cars", sub.AdHocCars),
			slog.String("amount", amount.StringFixed(2)),
		)
		if change.Addition.OverageCount > 0 {
			s.notify(ctx, sub.UserID,
				fmt.Sprintf("%d car(s) exceed your plan limit and were billed %s %s.",
					change.Addition.OverageCount, change.Addition.OverageCharge.StringFixed(2), pkg.Currency),
				sub.ID.String(), CategoryBilling)
		}

		change.Usage = usageOf(sub, *pkg)
		out = change
		return nil
	})
	return out, err
}

// CustomizeLimit raises a subscription's quota up front and reprices it.
// pricePerUnit, when set, becomes the subscription's ad-hoc price.
// The customization composes with metered overage: existing ad-hoc units stay
// billed and metering applies above the new limit.
func (s *Service) CustomizeLimit(ctx context.Context, id uuid.UUID, newLimit int64, pricePerUnit *decimal.Decimal) (*Subscription, error) {
	if newLimit < 0 {
		return nil, errors.Join(ErrInvalidArgument, ErrNegativeQuantity)
	}
	if pricePerUnit != nil && pricePerUnit.IsNegative() {
		return nil, errors.Join(ErrInvalidArgument, ErrNegativePrice)
	}

	var out *Subscription
	err := s.withLock(ctx, subscriptionLockKey(id), func() error {
		sub, pkg, err := s.loadActive(ctx, id, uuid.Nil)
		if err != nil {
			return err
		}
		if !pkg.AllowCustomization {
			return errors.Join(ErrForbidden, ErrCustomizationNotAllowed)
		}
		if newLimit < pkg.CarLimit {
			return errors.Join(ErrForbidden, ErrLimitBelowPackage)
		}
		if newLimit < sub.WithinLimitCars() {
			return errors.Join(ErrForbidden, ErrLimitBelowUsage)
		}

		limit := newLimit
		sub.CustomCarLimit = &limit
		if pricePerUnit != nil {
			price := *pricePerUnit
			sub.CustomAdHocPrice = &price
		}
		unit := sub.EffectiveAdHocPrice(*pkg)
		sub.Price = pkg.Price().Add(unit.Mul(decimal.NewFromInt(newLimit - pkg.CarLimit)))
		recomputeCharges(sub, *pkg)

		if err := sub.CheckInvariants(*pkg); err != nil {
			return err
		}
		if err := s.store.Update(ctx, sub); err != nil {
			return err
		}

		s.logger.InfoContext(ctx, "subscription limit customized",
			logger.SubscriptionID(sub.ID),
			slog.Int64("car_limit", newLimit),
			slog.String("price", sub.Price.StringFixed(2)),
		)
		out = sub
		return nil
	})
	return out, err
}

// RolloverPeriod starts a new billing period when the gateway reports one
// whose start is strictly after the stored start; otherwise it is a no-op.
// Metered counters reset; cars still above the effective limit are carried
// into the new period as ad-hoc units and billed once for it.
func (s *Service) RolloverPeriod(ctx context.Context, id uuid.UUID, period Period, transactionRef string) (*Subscription, error) {
	var out *Subscription
	err := s.withLock(ctx, subscriptionLockKey(id), func() error {
		sub, pkg, err := s.loadActive(ctx, id, uuid.Nil)
		if err != nil {
			return err
		}
		if !period.Start.After(sub.PeriodStart) {
			out = sub
			return nil
		}

		carried := max(0, sub.CarsAdded-sub.EffectiveCarLimit(*pkg))
		sub.AdHocCars = carried
		recomputeCharges(sub, *pkg)
		sub.PeriodStart = period.Start
		sub.PeriodEnd = period.End
		if transactionRef != "" {
			sub.LatestTransactionRef = transactionRef
		}
		if err := sub.CheckInvariants(*pkg); err != nil {
			return err
		}

		err = s.store.WithTx(ctx, func(ctx context.Context) error {
			if err := s.store.Update(ctx, sub); err != nil {
				return err
			}
			if carried == 0 {
				return nil
			}
			_, err := s.createInvoiceItem(ctx, sub, pkg, sub.AdHocCharges,
				fmt.Sprintf("%d car(s) over plan limit carried into period starting %s", carried, period.Start.Format(time.DateOnly)),
				fmt.Sprintf("rollover:%s:%d", sub.ID, period.Start.Unix()))
			return err
		})
		if err != nil {
			return err
		}

		s.logger.InfoContext(ctx, "subscription period rolled over",
			logger.SubscriptionID(sub.ID),
			slog.Time("period_start", period.Start),
			slog.Int64("carried_ad_hoc_cars", carried),
		)
		out = sub
		return nil
	})
	return out, err
}

// Deactivate moves an active subscription to a terminal status and demotes
// the owner to the base role. Repeated terminal events are no-ops.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID, reason Reason) (*Subscription, error) {
	ev, err := deactivationEvent(reason)
	if err != nil {
		return nil, err
	}

	var out *Subscription
	err = s.withLock(ctx, subscriptionLockKey(id), func() error {
		sub, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		out, err = s.deactivateLocked(ctx, sub, ev)
		return err
	})
	return out, err
}

// Cancel is the owner-initiated cancellation: the gateway subscription is
// cancelled first, then the local record. A gateway failure changes nothing.
func (s *Service) Cancel(ctx context.Context, id, ownerID uuid.UUID) (*Subscription, error) {
	var out *Subscription
	err := s.withLock(ctx, subscriptionLockKey(id), func() error {
		sub, _, err := s.loadActive(ctx, id, ownerID)
		if err != nil {
			return err
		}

		if sub.GatewaySubscriptionRef != "" {
			err := s.callGateway(ctx, "cancel_subscription", func(ctx context.Context) error {
				return s.gateway.CancelSubscription(ctx, sub.GatewaySubscriptionRef)
			})
			if err != nil {
				return err
			}
		}

		out, err = s.deactivateLocked(ctx, sub, eventCancel)
		return err
	})
	return out, err
}

func (s *Service) deactivateLocked(ctx context.Context, sub *Subscription, ev lifecycleEvent) (*Subscription, error) {
	to, changed, err := next(sub.Status, ev)
	if err != nil {
		return nil, err
	}
	if !changed {
		return sub, nil
	}

	// Demotion must not depend on the package still being resolvable.
	pkg, err := s.packages.Get(ctx, sub.PackageID)
	if err != nil && !errors.Is(err, ErrPackageNotFound) {
		return nil, err
	}

	from := sub.Status
	now := s.now()
	sub.Status = to
	sub.EndedAt = &now

	if err := s.commitTransition(ctx, sub, pkg); err != nil {
		return nil, err
	}

	s.metrics.transition(from, to)
	s.logger.InfoContext(ctx, "subscription deactivated",
		logger.SubscriptionID(sub.ID),
		logger.UserID(sub.UserID),
		slog.String("status", string(to)),
	)
	msg := "Your subscription has been cancelled."
	if to == StatusExpired {
		msg = "Your subscription has expired."
	}
	s.notify(ctx, sub.UserID, msg, sub.ID.String(), CategorySubscription)
	return sub, nil
}

// commitTransition persists a status change and the role derived from it atomically.
func (s *Service) commitTransition(ctx context.Context, sub *Subscription, pkg *Package) error {
	return s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.Update(ctx, sub); err != nil {
			return err
		}
		if err := s.roles.SetRole(ctx, sub.UserID, DeriveRole(sub, pkg, s.baseRole)); err != nil {
			return fmt.Errorf("failed to update user role: %w", err)
		}
		return nil
	})
}

// Get returns a subscription by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return s.store.Get(ctx, id)
}

// ActiveSubscription returns the user's active subscription.
func (s *Service) ActiveSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return s.store.FindActiveByUser(ctx, userID)
}

// Usage returns the quota view of a subscription.
func (s *Service) Usage(ctx context.Context, id uuid.UUID) (*Usage, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	pkg, err := s.packages.Get(ctx, sub.PackageID)
	if err != nil {
		return nil, err
	}
	u := usageOf(sub, *pkg)
	return &u, nil
}

// ResolveRole derives the user's role from subscription state.
func (s *Service) ResolveRole(ctx context.Context, userID uuid.UUID) (Role, error) {
	sub, err := s.store.FindActiveByUser(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return s.baseRole, nil
	}
	if err != nil {
		return "", err
	}
	pkg, err := s.packages.Get(ctx, sub.PackageID)
	if err != nil {
		return "", err
	}
	return DeriveRole(sub, pkg, s.baseRole), nil
}

// RefreshRole rewrites the stored role from subscription state.
func (s *Service) RefreshRole(ctx context.Context, userID uuid.UUID) (Role, error) {
	role, err := s.ResolveRole(ctx, userID)
	if err != nil {
		return "", err
	}
	if err := s.roles.SetRole(ctx, userID, role); err != nil {
		return "", fmt.Errorf("failed to update user role: %w", err)
	}
	return role, nil
}

// loadActive loads an active subscription and its package, checking ownership
// when ownerID is set.
func (s *Service) loadActive(ctx context.Context, id, ownerID uuid.UUID) (*Subscription, *Package, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if ownerID != uuid.Nil && sub.UserID != ownerID {
		return nil, nil, errors.Join(ErrForbidden, ErrNotSubscriptionOwner)
	}
	if !sub.IsActive() {
		return nil, nil, errors.Join(ErrForbidden, ErrSubscriptionNotActive)
	}
	pkg, err := s.packages.Get(ctx, sub.PackageID)
	if err != nil {
		return nil, nil, err
	}
	return sub, pkg, nil
}

func (s *Service) createInvoiceItem(ctx context.Context, sub *Subscription, pkg *Package, amount decimal.Decimal, description, key string) (string, error) {
	var ref string
	err := s.callGateway(ctx, "create_invoice_item", func(ctx context.Context) error {
		var err error
		ref, err = s.gateway.CreateOverageInvoiceItem(ctx, InvoiceItem{
			CustomerRef:            sub.CustomerRef,
			GatewaySubscriptionRef: sub.GatewaySubscriptionRef,
			Amount:                 amount,
			Currency:               pkg.Currency,
			Description:            description,
			IdempotencyKey:         key,
		})
		return err
	})
	return ref, err
}

// callGateway bounds fn with the gateway timeout and classifies its failure.
func (s *Service) callGateway(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		s.metrics.gatewayFailure(op)
		s.logger.ErrorContext(ctx, "payment gateway call failed",
			slog.String("operation", op),
			logger.Error(err),
		)
		if errors.Is(err, ErrPaymentProcessing) {
			return err
		}
		return errors.Join(ErrPaymentProcessing, fmt.Errorf("%s: %w", op, err))
	}
	return nil
}

// notify sends a notification without blocking or failing the caller.
func (s *Service) notify(ctx context.Context, userID uuid.UUID, message, referenceID string, category Category) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(ctx, userID, message, referenceID, category); err != nil {
			s.logger.WarnContext(ctx, "failed to send notification",
				logger.UserID(userID),
				slog.String("reference_id", referenceID),
				logger.Error(err),
			)
		}
	}()
}

func (s *Service) withLock(ctx context.Context, key string, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	defer unlock()
	return fn()
}

func subscriptionLockKey(id uuid.UUID) string { return "subscription:" + id.String() }
func userLockKey(id uuid.UUID) string         { return "subscription-user:" + id.String() }
