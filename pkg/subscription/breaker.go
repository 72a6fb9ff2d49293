package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig configures the gateway circuit breaker.
type BreakerConfig struct {
	MaxRequests      uint32        `env:"GATEWAY_BREAKER_MAX_REQUESTS" envDefault:"3"`
	Interval         time.Duration `env:"GATEWAY_BREAKER_INTERVAL" envDefault:"10s"`
	Timeout          time.Duration `env:"GATEWAY_BREAKER_TIMEOUT" envDefault:"30s"`
	FailureThreshold uint32        `env:"GATEWAY_BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
}

// BreakerGateway wraps a Gateway with a circuit breaker. While the breaker is
// open, calls fail fast with ErrPaymentProcessing and never reach the gateway.
type BreakerGateway struct {
	next    Gateway
	breaker *gobreaker.CircuitBreaker[any]
}

// NewBreakerGateway wraps next with a circuit breaker.
func NewBreakerGateway(next Gateway, config BreakerConfig, log *slog.Logger) *BreakerGateway {
	if log == nil {
		log = slog.Default()
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}

	settings := gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		// Caller cancellation says nothing about gateway health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}

	return &BreakerGateway{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
	}
}

// State returns the current breaker state.
func (b *BreakerGateway) State() gobreaker.State {
	return b.breaker.State()
}

func (b *BreakerGateway) CreateCustomer(ctx context.Context, owner OwnerInfo) (string, error) {
	res, err := b.execute(func() (any, error) { return b.next.CreateCustomer(ctx, owner) })
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func (b *BreakerGateway) CreateSubscriptionCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	res, err := b.execute(func() (any, error) { return b.next.CreateSubscriptionCheckout(ctx, req) })
	if err != nil {
		return nil, err
	}
	return res.(*Checkout), nil
}

func (b *BreakerGateway) RetrieveSubscriptionStatus(ctx context.Context, ref string) (*GatewayStatus, error) {
	res, err := b.execute(func() (any, error) { return b.next.RetrieveSubscriptionStatus(ctx, ref) })
	if err != nil {
		return nil, err
	}
	return res.(*GatewayStatus), nil
}

func (b *BreakerGateway) CreateOverageInvoiceItem(ctx context.Context, item InvoiceItem) (string, error) {
	res, err := b.execute(func() (any, error) { return b.next.CreateOverageInvoiceItem(ctx, item) })
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func (b *BreakerGateway) CancelSubscription(ctx context.Context, ref string) error {
	_, err := b.execute(func() (any, error) { return nil, b.next.CancelSubscription(ctx, ref) })
	return err
}

func (b *BreakerGateway) execute(fn func() (any, error)) (any, error) {
	res, err := b.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Join(ErrPaymentProcessing, err)
	}
	return res, err
}
