// Package notifications stores and delivers user-facing messages produced by
// the billing engine: activations, deactivations, overage charges, failed
// payments and batch import summaries.
//
// Manager persists every notification through a Storage before handing it to
// a Deliverer. Delivery is best effort; a notification that fails to deliver
// is still listed for the user.
//
//	mgr := notifications.NewManager(notifications.NewMemoryStorage())
//	_ = mgr.Notify(ctx, userID, "Your plan is active.", subID, notifications.CategorySubscription)
//
// MemoryStorage is meant for tests and local runs. The MongoDB implementation
// lives with the other document-store adapters.
package notifications
