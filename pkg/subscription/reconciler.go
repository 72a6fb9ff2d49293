package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/dmitrymomot/motorlot/pkg/logger"
)

// EventKind is a gateway-neutral event category the reconciler dispatches on.
type EventKind string

const (
	EventCheckoutCompleted    EventKind = "checkout.completed"
	EventSubscriptionUpdated  EventKind = "subscription.updated"
	EventSubscriptionDeleted  EventKind = "subscription.deleted"
	EventInvoicePaid          EventKind = "invoice.paid"
	EventInvoicePaymentFailed EventKind = "invoice.payment_failed"
	EventUnhandled            EventKind = "unhandled"
)

// Event is a normalized inbound gateway event.
type Event struct {
	ID   string // external event ID, kept for de-duplication and logs
	Kind EventKind
	Type string // raw gateway event type

	SubscriptionID         uuid.UUID // local ID echoed from checkout metadata, if any
	CheckoutSessionRef     string
	GatewaySubscriptionRef string
	CustomerRef            string
	GatewayStatus          string
	Paid                   bool // checkout completed in subscription mode and paid
	Period                 Period
	TransactionRef         string
}

// EventParser verifies an inbound webhook request and normalizes it.
// Verification failures match ErrWebhookVerificationFailed; undecodable
// payloads match ErrMalformedEvent.
type EventParser interface {
	ParseWebhook(r *http.Request) (*Event, error)
}

// Outcome describes what handling an event did.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeNoop     Outcome = "noop"    // already reconciled
	OutcomeSkipped  Outcome = "skipped" // nothing to reconcile yet
	OutcomeNotified Outcome = "notified"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeFailed   Outcome = "failed"
)

// Reconciler maps gateway events onto Service transitions. Every handler is
// safe to run more than once for the same event: lookups are keyed by the
// gateway's identifiers and period bounds, and every transition is idempotent.
type Reconciler struct {
	svc     *Service
	logger  *slog.Logger
	metrics *Metrics
}

// ReconcilerOption configures a Reconciler instance.
type ReconcilerOption func(*Reconciler)

func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithReconcilerMetrics(m *Metrics) ReconcilerOption {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// NewReconciler creates a Reconciler driving svc.
func NewReconciler(svc *Service, opts ...ReconcilerOption) *Reconciler {
	if svc == nil {
		panic("subscription: Service is required")
	}
	r := &Reconciler{
		svc:     svc,
		logger:  svc.rootLogger,
		metrics: svc.metrics,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(logger.Component("reconciler"))
	return r
}

// HandleEvent applies one gateway event. A handler that finds nothing to
// reconcile yet returns OutcomeSkipped and a nil error so the gateway does
// not redeliver indefinitely.
func (r *Reconciler) HandleEvent(ctx context.Context, ev *Event) (Outcome, error) {
	if ev == nil {
		return OutcomeFailed, errors.Join(ErrMalformedEvent, errors.New("event is nil"))
	}

	log := r.logger.With(logger.EventID(ev.ID), logger.EventType(ev.Type))
	log.InfoContext(ctx, "gateway event received", slog.String("kind", string(ev.Kind)))

	var (
		outcome Outcome
		err     error
	)
	switch ev.Kind {
	case EventCheckoutCompleted:
		outcome, err = r.checkoutCompleted(ctx, log, ev)
	case EventSubscriptionUpdated:
		outcome, err = r.subscriptionUpdated(ctx, log, ev)
	case EventSubscriptionDeleted:
		outcome, err = r.subscriptionDeleted(ctx, log, ev)
	case EventInvoicePaid:
		outcome, err = r.invoicePaid(ctx, log, ev)
	case EventInvoicePaymentFailed:
		outcome, err = r.invoicePaymentFailed(ctx, log, ev)
	default:
		outcome = OutcomeIgnored
	}

	if err != nil {
		outcome = OutcomeFailed
		switch {
		case errors.Is(err, ErrCheckoutPending):
			log.WarnContext(ctx, "gateway event deferred until checkout completes", logger.Error(err))
		case IsTransient(err):
			log.ErrorContext(ctx, "gateway event failed", logger.Error(err))
		default:
			log.WarnContext(ctx, "gateway event rejected", logger.Error(err))
		}
	}
	r.metrics.webhook(ev.Kind, string(outcome))
	return outcome, err
}

func (r *Reconciler) checkoutCompleted(ctx context.Context, log *slog.Logger, ev *Event) (Outcome, error) {
	if !ev.Paid {
		log.WarnContext(ctx, "checkout not paid, skipping")
		return OutcomeSkipped, nil
	}

	sub, err := r.findForCheckout(ctx, ev)
	if errors.Is(err, ErrSubscriptionNotFound) {
		log.WarnContext(ctx, "no subscription for checkout yet, skipping",
			slog.String("checkout_session", ev.CheckoutSessionRef))
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}

	switch {
	case sub.IsActive():
		return OutcomeNoop, nil
	case sub.Status.IsTerminal():
		log.WarnContext(ctx, "checkout completed for ended subscription, skipping",
			logger.SubscriptionID(sub.ID), slog.String("status", string(sub.Status)))
		return OutcomeSkipped, nil
	}

	params := ActivateParams{
		GatewaySubscriptionRef: ev.GatewaySubscriptionRef,
		CustomerRef:            ev.CustomerRef,
		Period:                 ev.Period,
		TransactionRef:         ev.TransactionRef,
	}
	// Without a period in the event the gateway is asked for its current
	// view, whose status wins: an update or deletion delivered earlier may
	// already have ended the subscription.
	var end lifecycleEvent
	if params.Period.IsZero() && ev.GatewaySubscriptionRef != "" {
		st, err := r.retrieveStatus(ctx, ev.GatewaySubscriptionRef)
		if err != nil {
			return OutcomeFailed, err
		}
		params.Period = st.Period
		if !gatewayStatusActive(st.Status) {
			end = eventExpire
			if gatewayStatusCanceled(st.Status) {
				end = eventCancel
			}
			log.WarnContext(ctx, "gateway subscription already ended",
				logger.SubscriptionID(sub.ID), slog.String("gateway_status", st.Status))
		}
	}

	activated, err := r.svc.activate(ctx, sub.ID, params, end)
	if err != nil {
		return OutcomeFailed, err
	}
	return changedOutcome(sub, activated), nil
}

func (r *Reconciler) subscriptionUpdated(ctx context.Context, log *slog.Logger, ev *Event) (Outcome, error) {
	sub, ok, err := r.findByGatewayRef(ctx, log, ev)
	if !ok {
		return OutcomeSkipped, err
	}
	if gatewayStatusActive(ev.GatewayStatus) {
		return OutcomeNoop, nil
	}
	if sub.IsPending() {
		return OutcomeFailed, errCheckoutPending(sub)
	}

	reason := ReasonExpired
	if gatewayStatusCanceled(ev.GatewayStatus) {
		reason = ReasonCancel
	}
	updated, err := r.svc.Deactivate(ctx, sub.ID, reason)
	if err != nil {
		return OutcomeFailed, err
	}
	return changedOutcome(sub, updated), nil
}

func (r *Reconciler) subscriptionDeleted(ctx context.Context, log *slog.Logger, ev *Event) (Outcome, error) {
	sub, ok, err := r.findByGatewayRef(ctx, log, ev)
	if !ok {
		return OutcomeSkipped, err
	}
	if sub.IsPending() {
		return OutcomeFailed, errCheckoutPending(sub)
	}
	updated, err := r.svc.Deactivate(ctx, sub.ID, ReasonCancel)
	if err != nil {
		return OutcomeFailed, err
	}
	return changedOutcome(sub, updated), nil
}

func (r *Reconciler) invoicePaid(ctx context.Context, log *slog.Logger, ev *Event) (Outcome, error) {
	sub, ok, err := r.findByGatewayRef(ctx, log, ev)
	if !ok {
		return OutcomeSkipped, err
	}
	if !sub.IsActive() {
		log.WarnContext(ctx, "invoice paid for inactive subscription, skipping",
			logger.SubscriptionID(sub.ID), slog.String("status", string(sub.Status)))
		return OutcomeSkipped, nil
	}
	if !ev.Period.Start.After(sub.PeriodStart) {
		return OutcomeNoop, nil
	}

	updated, err := r.svc.RolloverPeriod(ctx, sub.ID, ev.Period, ev.TransactionRef)
	if err != nil {
		return OutcomeFailed, err
	}
	return changedOutcome(sub, updated), nil
}

func (r *Reconciler) invoicePaymentFailed(ctx context.Context, log *slog.Logger, ev *Event) (Outcome, error) {
	sub, ok, err := r.findByGatewayRef(ctx, log, ev)
	if !ok {
		return OutcomeSkipped, err
	}
	r.svc.notify(ctx, sub.UserID,
		"We could not process your subscription payment. Please update your payment method.",
		sub.ID.String(), CategoryBilling)
	return OutcomeNotified, nil
}

// Sync pulls the gateway's view of a subscription and applies the same
// mapping as the event path.
func (r *Reconciler) Sync(ctx context.Context, id uuid.UUID) (Outcome, error) {
	sub, err := r.svc.Get(ctx, id)
	if err != nil {
		return OutcomeFailed, err
	}
	log := r.logger.With(logger.SubscriptionID(id))
	if sub.GatewaySubscriptionRef == "" {
		log.WarnContext(ctx, "subscription has no gateway reference, skipping")
		return OutcomeSkipped, nil
	}

	st, err := r.retrieveStatus(ctx, sub.GatewaySubscriptionRef)
	if err != nil {
		return OutcomeFailed, err
	}

	var updated *Subscription
	switch {
	case sub.Status.IsTerminal():
		return OutcomeNoop, nil
	case gatewayStatusActive(st.Status) && sub.IsPending():
		updated, err = r.svc.Activate(ctx, id, ActivateParams{Period: st.Period})
	case gatewayStatusActive(st.Status):
		updated, err = r.svc.RolloverPeriod(ctx, id, st.Period, "")
	case sub.IsPending():
		return OutcomeSkipped, nil
	case gatewayStatusCanceled(st.Status):
		updated, err = r.svc.Deactivate(ctx, id, ReasonCancel)
	default:
		updated, err = r.svc.Deactivate(ctx, id, ReasonExpired)
	}
	if err != nil {
		return OutcomeFailed, err
	}

	outcome := changedOutcome(sub, updated)
	log.InfoContext(ctx, "subscription synced",
		slog.String("gateway_status", st.Status),
		slog.String("outcome", string(outcome)))
	return outcome, nil
}

func (r *Reconciler) findForCheckout(ctx context.Context, ev *Event) (*Subscription, error) {
	if ev.SubscriptionID != uuid.Nil {
		sub, err := r.svc.store.Get(ctx, ev.SubscriptionID)
		if err == nil || !errors.Is(err, ErrSubscriptionNotFound) {
			return sub, err
		}
	}
	if ev.CheckoutSessionRef == "" {
		return nil, errors.Join(ErrNotFound, ErrSubscriptionNotFound)
	}
	return r.svc.store.FindByCheckoutSession(ctx, ev.CheckoutSessionRef)
}

// findByGatewayRef reports ok=false when there is nothing to reconcile;
// err is set only for lookup failures. A pending record has no gateway
// reference yet, so the local ID echoed in the event metadata is tried next.
func (r *Reconciler) findByGatewayRef(ctx context.Context, log *slog.Logger, ev *Event) (*Subscription, bool, error) {
	if ev.GatewaySubscriptionRef == "" && ev.SubscriptionID == uuid.Nil {
		log.WarnContext(ctx, "event has no gateway subscription reference, skipping")
		return nil, false, nil
	}

	sub, err := r.svc.store.FindByGatewayRef(ctx, ev.GatewaySubscriptionRef)
	if errors.Is(err, ErrSubscriptionNotFound) && ev.SubscriptionID != uuid.Nil {
		sub, err = r.svc.store.Get(ctx, ev.SubscriptionID)
		if err == nil && sub.GatewaySubscriptionRef != "" && ev.GatewaySubscriptionRef != "" &&
			sub.GatewaySubscriptionRef != ev.GatewaySubscriptionRef {
			log.WarnContext(ctx, "event metadata points at another gateway subscription, skipping",
				logger.SubscriptionID(sub.ID), slog.String("gateway_subscription", ev.GatewaySubscriptionRef))
			return nil, false, nil
		}
	}
	if errors.Is(err, ErrSubscriptionNotFound) {
		log.WarnContext(ctx, "no subscription for gateway reference yet, skipping",
			slog.String("gateway_subscription", ev.GatewaySubscriptionRef))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up subscription: %w", err)
	}
	return sub, true, nil
}

// errCheckoutPending refuses to drop an ending event for a record the gateway
// has not confirmed yet; the error is transient so the gateway redelivers it.
func errCheckoutPending(sub *Subscription) error {
	return fmt.Errorf("%w: subscription %s is pending", ErrCheckoutPending, sub.ID)
}

func (r *Reconciler) retrieveStatus(ctx context.Context, ref string) (*GatewayStatus, error) {
	var st *GatewayStatus
	err := r.svc.callGateway(ctx, "retrieve_subscription", func(ctx context.Context) error {
		var err error
		st, err = r.svc.gateway.RetrieveSubscriptionStatus(ctx, ref)
		return err
	})
	return st, err
}

func changedOutcome(before, after *Subscription) Outcome {
	if after != nil && after.Version != before.Version {
		return OutcomeApplied
	}
	return OutcomeNoop
}
