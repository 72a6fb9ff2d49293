// Package mongostore implements the persistence contracts of the billing
// engine on MongoDB: subscriptions, the package catalog, account roles, cars,
// the make/variant catalog and notifications.
//
// Identifiers are stored as UUID strings and money as Decimal128. Subscription
// writes are conditional on the version field, and a partial unique index
// allows one active subscription per user. Call EnsureIndexes once at start-up.
package mongostore
