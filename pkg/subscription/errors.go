package subscription

import "errors"

// Error classes. Every error returned by this package matches exactly one of
// them with errors.Is, except transient failures.
var (
	ErrConflict             = errors.New("subscription conflict")
	ErrForbidden            = errors.New("subscription action forbidden")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrPaymentProcessing    = errors.New("payment processing failed")
	ErrNotFound             = errors.New("not found")
)

var (
	ErrSubscriptionNotFound     = errors.New("subscription not found")
	ErrPackageNotFound          = errors.New("subscription package not found")
	ErrActiveSubscriptionExists = errors.New("user already has an active subscription")
	ErrInvalidTransition        = errors.New("invalid subscription state transition")
	ErrSubscriptionNotActive    = errors.New("subscription is not active")
	ErrNotSubscriptionOwner     = errors.New("subscription belongs to another user")
	ErrCustomizationNotAllowed  = errors.New("package does not allow limit customization")
	ErrLimitBelowPackage        = errors.New("custom car limit is below the package limit")
	ErrLimitBelowUsage          = errors.New("custom car limit is below current usage")
	ErrNegativeQuantity         = errors.New("quantity must not be negative")
	ErrNegativePrice            = errors.New("price must not be negative")
	ErrRemovalExceedsUsage      = errors.New("removal exceeds cars added")
	ErrInvariantViolated        = errors.New("subscription invariant violated")
	ErrInvalidPackage           = errors.New("invalid subscription package")
	ErrFailedToLoadPackages     = errors.New("failed to load subscription packages")

	// ErrConcurrentUpdate is returned by a Store when a conditional update
	// finds the record at a different version. It is transient.
	ErrConcurrentUpdate = errors.New("subscription was modified concurrently")

	// ErrCheckoutPending rejects a gateway event that ends a subscription
	// whose checkout has not been reconciled yet. It is transient: the
	// redelivered event applies once the checkout has.
	ErrCheckoutPending = errors.New("subscription checkout not reconciled yet")

	// Gateway errors
	ErrMissingAPIKey             = errors.New("payment gateway API key is required")
	ErrMissingWebhookSecret      = errors.New("payment gateway webhook secret is required")
	ErrWebhookVerificationFailed = errors.New("webhook signature verification failed")
	ErrMalformedEvent            = errors.New("malformed gateway event")
	ErrNoCheckoutURL             = errors.New("no checkout URL returned from gateway")
	ErrMissingCustomerRef        = errors.New("gateway customer reference is required")
	ErrMissingPriceRef           = errors.New("gateway price reference is required")
)

// IsTransient reports whether err is an infrastructure failure the caller may
// retry, as opposed to a business outcome from the taxonomy above.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConcurrentUpdate) {
		return true
	}
	for _, class := range []error{
		ErrConflict,
		ErrForbidden,
		ErrInvalidArgument,
		ErrInsufficientQuantity,
		ErrNotFound,
		ErrMalformedEvent,
		ErrWebhookVerificationFailed,
	} {
		if errors.Is(err, class) {
			return false
		}
	}
	return true
}
