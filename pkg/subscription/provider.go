package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Gateway is the narrow payment gateway contract the engine consumes.
// Checkout, invoicing and subscription objects live on the gateway side;
// the engine only keeps references to them.
type Gateway interface {
	CreateCustomer(ctx context.Context, owner OwnerInfo) (customerRef string, err error)
	CreateSubscriptionCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	RetrieveSubscriptionStatus(ctx context.Context, gatewaySubscriptionRef string) (*GatewayStatus, error)

	// CreateOverageInvoiceItem adds a line item to the customer's upcoming
	// invoice. A negative amount issues a credit.
	CreateOverageInvoiceItem(ctx context.Context, item InvoiceItem) (itemRef string, err error)

	CancelSubscription(ctx context.Context, gatewaySubscriptionRef string) error
}

// OwnerInfo describes the account a gateway customer is created for.
type OwnerInfo struct {
	UserID uuid.UUID
	Email  string
	Name   string
}

// CheckoutRequest contains data needed to start a subscription checkout.
type CheckoutRequest struct {
	CustomerRef string
	PriceRef    string            // gateway recurring price
	Metadata    map[string]string // echoed back on the completion event
	SuccessURL  string
	CancelURL   string
}

// Checkout is a hosted checkout session awaiting payment.
type Checkout struct {
	URL        string
	SessionRef string
	ExpiresAt  time.Time
}

// GatewayStatus is the gateway's view of a subscription.
type GatewayStatus struct {
	Status string // raw gateway status, e.g. "active", "past_due"
	Period Period
}

// InvoiceItem is a metered overage (or credit) line item.
type InvoiceItem struct {
	CustomerRef            string
	GatewaySubscriptionRef string
	Amount                 decimal.Decimal
	Currency               string
	Description            string
	IdempotencyKey         string
}

// Metadata keys written to checkout sessions and read back from events.
const (
	MetadataSubscriptionID = "subscription_id"
	MetadataUserID         = "user_id"
	MetadataPackageID      = "package_id"
)

// gatewayStatusActive reports whether a raw gateway status means the
// subscription is paid up.
func gatewayStatusActive(status string) bool {
	switch status {
	case "active", "trialing":
		return true
	}
	return false
}

// gatewayStatusCanceled reports an explicit cancellation status.
func gatewayStatusCanceled(status string) bool {
	switch status {
	case "canceled", "cancelled":
		return true
	}
	return false
}
