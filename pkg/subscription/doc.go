// Package subscription implements the subscription lifecycle and usage-based
// billing engine of the marketplace: car quotas per plan, metered overage
// ("ad-hoc") charges, up-front limit customization, and reconciliation of
// asynchronous payment gateway events into local state.
//
// # Architecture
//
// The package is layered leaf-first:
//
//   - Calculator: DecideAddition and DecideRemoval split a usage delta into
//     free and chargeable units. Pure functions over a Snapshot.
//   - Service: the state machine. Owns every mutation of status, counters,
//     customization and billing period, and keeps the owner's role derived
//     from subscription state (see DeriveRole).
//   - Reconciler: maps gateway events onto Service transitions. Every handler
//     is idempotent and tolerates out-of-order delivery.
//   - Gateway: the narrow payment gateway contract. StripeGateway is the
//     production implementation; BreakerGateway adds a circuit breaker.
//   - EventParser: verifies and normalizes inbound webhooks. StripeGateway
//     and PaddleEventParser implement it.
//
// Persistence is behind Store, RoleStore and PackageStore. MemoryStore is the
// in-process implementation used in tests and development.
//
// # Lifecycle
//
//	pending --activate--> active --cancel--> cancel
//	                        |
//	                        +----expire----> expired
//
// Activating an active subscription and repeating a terminal event are
// no-ops, so duplicate gateway deliveries are harmless. A user holds at most
// one active subscription; records are never deleted.
//
// # Quota and Overage
//
// With effectiveCarLimit resolved from the customized limit first:
//
//	carsAdded - adHocCars <= effectiveCarLimit
//	adHocCharges == adHocCars * effectiveAdHocPrice
//
// Additions beyond the quota are billed immediately as one invoice item per
// request; removals take overage units first and credit them back. The
// counter mutation and the gateway call commit or roll back together:
//
//	change, err := svc.ApplyUsageDelta(ctx, subscription.UsageRequest{
//	    SubscriptionID: subID,
//	    OwnerID:        userID,
//	    Delta:          2,
//	})
//	if errors.Is(err, subscription.ErrPaymentProcessing) {
//	    // nothing was recorded; safe to retry
//	}
//
// # Concurrency
//
// Every mutation runs under a per-subscription Locker section and persists
// with a conditional update on Subscription.Version. Different subscriptions
// never contend. Use a distributed Locker when several processes serve the
// same store.
//
// # Error Handling
//
// Errors match one of ErrConflict, ErrForbidden, ErrInvalidArgument,
// ErrInsufficientQuantity, ErrPaymentProcessing or ErrNotFound, joined with a
// more specific sentinel. IsTransient separates infrastructure failures a
// webhook endpoint should report for redelivery from business outcomes it
// should acknowledge.
package subscription
