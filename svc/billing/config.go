package billing

import (
	"time"

	"github.com/dmitrymomot/motorlot/pkg/httpserver"
	"github.com/dmitrymomot/motorlot/pkg/mongo"
	"github.com/dmitrymomot/motorlot/pkg/redis"
	"github.com/dmitrymomot/motorlot/pkg/subscription"
)

// Config is the billingd process configuration, read from the environment
// with config.Load.
type Config struct {
	AppName string `env:"APP_NAME" envDefault:"billingd"`
	AppEnv  string `env:"APP_ENV" envDefault:"development"`

	// BaseRole is granted to accounts without an active subscription.
	BaseRole       string        `env:"BILLING_BASE_ROLE" envDefault:"user"`
	PackagesFile   string        `env:"BILLING_PACKAGES_FILE"`
	GatewayTimeout time.Duration `env:"BILLING_GATEWAY_TIMEOUT" envDefault:"30s"`
	NotifyTimeout  time.Duration `env:"BILLING_NOTIFY_TIMEOUT" envDefault:"10s"`
	ReadyTimeout   time.Duration `env:"BILLING_READY_TIMEOUT" envDefault:"2s"`
	ImportWorkers  int           `env:"BILLING_IMPORT_WORKERS" envDefault:"8"`

	HTTP    httpserver.Config
	Mongo   mongo.Config
	Redis   redis.Config
	Stripe  subscription.StripeConfig
	Paddle  subscription.PaddleConfig
	Breaker subscription.BreakerConfig
}
