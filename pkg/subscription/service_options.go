package subscription

import (
	"log/slog"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithLocker sets the single-writer section implementation.
// Defaults to an in-process LocalLocker.
func WithLocker(l Locker) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithNotifier sets the user notification collaborator.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithBaseRole sets the role an account falls back to without an active subscription.
func WithBaseRole(r Role) ServiceOption {
	return func(s *Service) {
		if r != "" {
			s.baseRole = r
		}
	}
}

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithGatewayTimeout bounds every gateway call. A call that times out leaves
// local state unchanged and fails with ErrPaymentProcessing.
func WithGatewayTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.gatewayTimeout = d
		}
	}
}

// WithNotifyTimeout bounds each fire-and-forget notification.
func WithNotifyTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
