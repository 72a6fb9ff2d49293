// Package billing assembles the billing engine for the billingd binary:
// configuration, MongoDB stores, the Redis lock, the Stripe gateway behind a
// circuit breaker, notifications and the inventory resolver. It serves the
// gateway webhooks under /webhooks/{gateway} together with /healthz, /readyz
// and /metrics.
package billing
