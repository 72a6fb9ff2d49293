package redis

import "time"

type Config struct {
	ConnectionURL  string        `env:"REDIS_URL,required" envDefault:"redis://localhost:6379/0"` // redis://:password@host:6379/0
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`

	// LockTTL bounds how long a crashed holder can block a subscription.
	// Keep it above the payment gateway timeout.
	LockTTL       time.Duration `env:"REDIS_LOCK_TTL" envDefault:"60s"`
	LockRetry     time.Duration `env:"REDIS_LOCK_RETRY" envDefault:"50ms"`
	LockKeyPrefix string        `env:"REDIS_LOCK_PREFIX" envDefault:"motorlot:lock:"`
}
