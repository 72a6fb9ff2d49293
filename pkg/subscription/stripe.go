package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// maxWebhookPayload bounds the webhook body read.
const maxWebhookPayload = 65536

// StripeConfig holds configuration for the Stripe gateway.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
	Currency      string `env:"STRIPE_CURRENCY" envDefault:"usd"`
}

// StripeGateway implements Gateway and EventParser for Stripe.
type StripeGateway struct {
	api    *client.API
	config StripeConfig
}

// NewStripeGateway creates a Stripe gateway client.
func NewStripeGateway(config StripeConfig) (*StripeGateway, error) {
	if config.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	if config.Currency == "" {
		config.Currency = "usd"
	}

	return &StripeGateway{
		api:    client.New(config.SecretKey, nil),
		config: config,
	}, nil
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, owner OwnerInfo) (string, error) {
	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
	}
	if owner.Email != "" {
		params.Email = stripe.String(owner.Email)
	}
	if owner.Name != "" {
		params.Name = stripe.String(owner.Name)
	}
	params.AddMetadata(MetadataUserID, owner.UserID.String())
	params.SetIdempotencyKey("customer:" + owner.UserID.String())

	c, err := g.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create stripe customer: %w", err)
	}
	return c.ID, nil
}

func (g *StripeGateway) CreateSubscriptionCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	if req.CustomerRef == "" {
		return nil, ErrMissingCustomerRef
	}
	if req.PriceRef == "" {
		return nil, ErrMissingPriceRef
	}

	params := &stripe.CheckoutSessionParams{
		Params:   stripe.Params{Context: ctx},
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(req.CustomerRef),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceRef),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: req.Metadata,
		},
	}
	if req.SuccessURL != "" {
		params.SuccessURL = stripe.String(req.SuccessURL)
	}
	if req.CancelURL != "" {
		params.CancelURL = stripe.String(req.CancelURL)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if id := req.Metadata[MetadataSubscriptionID]; id != "" {
		params.SetIdempotencyKey("checkout:" + id)
	}

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe checkout session: %w", err)
	}
	if s.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	return &Checkout{
		URL:        s.URL,
		SessionRef: s.ID,
		ExpiresAt:  time.Unix(s.ExpiresAt, 0).UTC(),
	}, nil
}

func (g *StripeGateway) RetrieveSubscriptionStatus(ctx context.Context, ref string) (*GatewayStatus, error) {
	s, err := g.api.Subscriptions.Get(ref, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve stripe subscription: %w", err)
	}
	return &GatewayStatus{
		Status: string(s.Status),
		Period: unixPeriod(s.CurrentPeriodStart, s.CurrentPeriodEnd),
	}, nil
}

// CreateOverageInvoiceItem attaches a line item to the subscription's next
// invoice. Amounts are converted to the currency's minor unit.
func (g *StripeGateway) CreateOverageInvoiceItem(ctx context.Context, item InvoiceItem) (string, error) {
	if item.CustomerRef == "" {
		return "", ErrMissingCustomerRef
	}

	currency := item.Currency
	if currency == "" {
		currency = g.config.Currency
	}

	params := &stripe.InvoiceItemParams{
		Params:      stripe.Params{Context: ctx},
		Customer:    stripe.String(item.CustomerRef),
		Amount:      stripe.Int64(item.Amount.Shift(2).Round(0).IntPart()),
		Currency:    stripe.String(strings.ToLower(currency)),
		Description: stripe.String(item.Description),
	}
	if item.GatewaySubscriptionRef != "" {
		params.Subscription = stripe.String(item.GatewaySubscriptionRef)
	}
	if item.IdempotencyKey != "" {
		params.SetIdempotencyKey(item.IdempotencyKey)
	}

	ii, err := g.api.InvoiceItems.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create stripe invoice item: %w", err)
	}
	return ii.ID, nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, ref string) error {
	_, err := g.api.Subscriptions.Cancel(ref, &stripe.SubscriptionCancelParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return fmt.Errorf("failed to cancel stripe subscription: %w", err)
	}
	return nil
}

// ParseWebhook verifies the Stripe-Signature header and normalizes the event.
func (g *StripeGateway) ParseWebhook(r *http.Request) (*Event, error) {
	payload, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxWebhookPayload))
	if err != nil {
		return nil, errors.Join(ErrMalformedEvent, fmt.Errorf("failed to read request body: %w", err))
	}

	evt, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), g.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}
	return normalizeStripeEvent(evt)
}

func normalizeStripeEvent(evt stripe.Event) (*Event, error) {
	ev := &Event{
		ID:   evt.ID,
		Type: string(evt.Type),
		Kind: EventUnhandled,
	}
	if evt.Data == nil {
		return nil, errors.Join(ErrMalformedEvent, errors.New("event has no data"))
	}

	switch evt.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &s); err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		ev.Kind = EventCheckoutCompleted
		ev.CheckoutSessionRef = s.ID
		ev.TransactionRef = s.ID
		ev.Paid = s.Mode == stripe.CheckoutSessionModeSubscription &&
			(s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
				s.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired)
		if s.Customer != nil {
			ev.CustomerRef = s.Customer.ID
		}
		if s.Subscription != nil {
			ev.GatewaySubscriptionRef = s.Subscription.ID
		}
		if id, err := uuid.Parse(s.Metadata[MetadataSubscriptionID]); err == nil {
			ev.SubscriptionID = id
		}

	case stripe.EventTypeCustomerSubscriptionUpdated, stripe.EventTypeCustomerSubscriptionDeleted:
		var s stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &s); err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		ev.Kind = EventSubscriptionUpdated
		if evt.Type == stripe.EventTypeCustomerSubscriptionDeleted {
			ev.Kind = EventSubscriptionDeleted
		}
		ev.GatewaySubscriptionRef = s.ID
		ev.GatewayStatus = string(s.Status)
		ev.Period = unixPeriod(s.CurrentPeriodStart, s.CurrentPeriodEnd)
		if s.Customer != nil {
			ev.CustomerRef = s.Customer.ID
		}
		if id, err := uuid.Parse(s.Metadata[MetadataSubscriptionID]); err == nil {
			ev.SubscriptionID = id
		}

	case stripe.EventTypeInvoicePaymentSucceeded, stripe.EventTypeInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(evt.Data.Raw, &inv); err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		ev.Kind = EventInvoicePaid
		if evt.Type == stripe.EventTypeInvoicePaymentFailed {
			ev.Kind = EventInvoicePaymentFailed
		}
		ev.TransactionRef = inv.ID
		if inv.Subscription != nil {
			ev.GatewaySubscriptionRef = inv.Subscription.ID
		}
		if inv.Customer != nil {
			ev.CustomerRef = inv.Customer.ID
		}
		// The invoice's own period is the one just ended; the subscription
		// line carries the period being paid for.
		if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period != nil {
			p := inv.Lines.Data[0].Period
			ev.Period = unixPeriod(p.Start, p.End)
		}
	}

	return ev, nil
}

func unixPeriod(start, end int64) Period {
	if start == 0 && end == 0 {
		return Period{}
	}
	return Period{Start: time.Unix(start, 0).UTC(), End: time.Unix(end, 0).UTC()}
}
