package subscription

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Transitions     *prometheus.CounterVec
	UsageUnits      *prometheus.CounterVec
	GatewayFailures *prometheus.CounterVec
	WebhookEvents   *prometheus.CounterVec
}

// NewMetrics creates and registers the engine collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscription_transitions_total",
				Help: "Subscription lifecycle transitions",
			},
			[]string{"from", "to"},
		),
		UsageUnits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscription_usage_units_total",
				Help: "Cars added or removed, by quota bucket",
			},
			[]string{"direction", "bucket"},
		),
		GatewayFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscription_gateway_failures_total",
				Help: "Failed payment gateway calls",
			},
			[]string{"operation"},
		),
		WebhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscription_webhook_events_total",
				Help: "Gateway events handled by the reconciler",
			},
			[]string{"kind", "outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Transitions, m.UsageUnits, m.GatewayFailures, m.WebhookEvents)
	}
	return m
}

func (m *Metrics) transition(from, to Status) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) usage(direction string, within, overage int64) {
	if m == nil {
		return
	}
	if within > 0 {
		m.UsageUnits.WithLabelValues(direction, "within_limit").Add(float64(within))
	}
	if overage > 0 {
		m.UsageUnits.WithLabelValues(direction, "overage").Add(float64(overage))
	}
}

func (m *Metrics) gatewayFailure(op string) {
	if m == nil {
		return
	}
	m.GatewayFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) webhook(kind EventKind, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(string(kind), outcome).Inc()
}
