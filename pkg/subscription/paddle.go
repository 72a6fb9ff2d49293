package subscription

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/google/uuid"
)

// PaddleConfig holds configuration for the Paddle event source.
type PaddleConfig struct {
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
}

// PaddleEventParser verifies Paddle notifications and normalizes them into
// reconciler events, so subscriptions billed through Paddle share the same
// transitions as Stripe ones.
type PaddleEventParser struct {
	verifier *paddle.WebhookVerifier
}

// NewPaddleEventParser creates a parser for Paddle notifications.
func NewPaddleEventParser(config PaddleConfig) (*PaddleEventParser, error) {
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	return &PaddleEventParser{verifier: paddle.NewWebhookVerifier(config.WebhookSecret)}, nil
}

// ParseWebhook verifies the Paddle-Signature header and normalizes the event.
func (p *PaddleEventParser) ParseWebhook(r *http.Request) (*Event, error) {
	valid, err := p.verifier.Verify(r)
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}
	if !valid {
		return nil, ErrWebhookVerificationFailed
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookPayload))
	if err != nil {
		return nil, errors.Join(ErrMalformedEvent, fmt.Errorf("failed to read request body: %w", err))
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	return normalizePaddleEvent(body)
}

type paddleNotification struct {
	EventID   string     `json:"event_id"`
	EventType string     `json:"event_type"`
	Data      paddleData `json:"data"`
}

type paddleData struct {
	ID                   string            `json:"id"`
	Status               string            `json:"status"`
	CustomerID           string            `json:"customer_id"`
	SubscriptionID       string            `json:"subscription_id"`
	Origin               string            `json:"origin"`
	CustomData           map[string]any    `json:"custom_data"`
	BillingPeriod        *paddleTimePeriod `json:"billing_period"`
	CurrentBillingPeriod *paddleTimePeriod `json:"current_billing_period"`
}

type paddleTimePeriod struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

func (p *paddleTimePeriod) period() Period {
	if p == nil {
		return Period{}
	}
	return Period{Start: p.StartsAt.UTC(), End: p.EndsAt.UTC()}
}

func normalizePaddleEvent(body []byte) (*Event, error) {
	var n paddleNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	if n.EventID == "" || n.EventType == "" {
		return nil, errors.Join(ErrMalformedEvent, errors.New("missing event id or type"))
	}

	d := n.Data
	ev := &Event{
		ID:            n.EventID,
		Type:          n.EventType,
		Kind:          EventUnhandled,
		CustomerRef:   d.CustomerID,
		GatewayStatus: d.Status,
	}
	if raw, ok := d.CustomData[MetadataSubscriptionID].(string); ok {
		if id, err := uuid.Parse(raw); err == nil {
			ev.SubscriptionID = id
		}
	}

	switch n.EventType {
	case "transaction.completed":
		ev.TransactionRef = d.ID
		ev.GatewaySubscriptionRef = d.SubscriptionID
		ev.Period = d.BillingPeriod.period()
		// The first transaction of a subscription is the checkout; later ones are renewals.
		if d.Origin == "subscription_recurring" {
			ev.Kind = EventInvoicePaid
			break
		}
		ev.Kind = EventCheckoutCompleted
		ev.CheckoutSessionRef = d.ID
		ev.Paid = d.SubscriptionID != ""

	case "transaction.payment_failed":
		ev.Kind = EventInvoicePaymentFailed
		ev.TransactionRef = d.ID
		ev.GatewaySubscriptionRef = d.SubscriptionID

	case "subscription.created", "subscription.activated", "subscription.updated",
		"subscription.past_due", "subscription.paused", "subscription.resumed":
		ev.Kind = EventSubscriptionUpdated
		ev.GatewaySubscriptionRef = d.ID
		ev.Period = d.CurrentBillingPeriod.period()

	case "subscription.canceled":
		ev.Kind = EventSubscriptionDeleted
		ev.GatewaySubscriptionRef = d.ID
	}

	return ev, nil
}
