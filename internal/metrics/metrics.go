package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "blockr"

// Verification outcomes recorded by IncVerified.
const (
	OutcomeActivated        = "activated"
	OutcomeAlreadyProcessed = "already_processed"
	OutcomeNotSuccessful    = "not_successful"
	OutcomeGatewayError     = "gateway_error"
	OutcomeError            = "error"
)

// SubscriptionMetrics records subscription lifecycle events.
type SubscriptionMetrics interface {
	IncInitialized(tier string)
	IncVerified(outcome, tier string)
	IncCancelled(tier string)
	ObservePaymentAmount(amount float64, currency, tier string)
}

type subscriptionMetrics struct {
	initialized *prometheus.CounterVec
	verified    *prometheus.CounterVec
	cancelled   *prometheus.CounterVec
	amount      *prometheus.HistogramVec
}

// NewSubscriptionMetrics registers the lifecycle collectors on registry.
func NewSubscriptionMetrics(registry prometheus.Registerer) SubscriptionMetrics {
	factory := promauto.With(registry)

	return &subscriptionMetrics{
		initialized: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subscription_initialized_total",
				Help:      "The total number of payment attempts staged with the gateway",
			},
			[]string{"tier"},
		),
		verified: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subscription_verified_total",
				Help:      "The total number of payment verifications by outcome",
			},
			[]string{"outcome", "tier"},
		),
		cancelled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subscription_cancelled_total",
				Help:      "The total number of cancelled subscriptions",
			},
			[]string{"tier"},
		),
		amount: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "subscription_payment_amount",
				Help:      "Verified payment amounts in major currency units",
				Buckets:   prometheus.ExponentialBuckets(1000, 2, 8),
			},
			[]string{"currency", "tier"},
		),
	}
}

func (m *subscriptionMetrics) IncInitialized(tier string) {
	m.initialized.WithLabelValues(tier).Inc()
}

func (m *subscriptionMetrics) IncVerified(outcome, tier string) {
	m.verified.WithLabelValues(outcome, tier).Inc()
}

func (m *subscriptionMetrics) IncCancelled(tier string) {
	m.cancelled.WithLabelValues(tier).Inc()
}

func (m *subscriptionMetrics) ObservePaymentAmount(amount float64, currency, tier string) {
	m.amount.WithLabelValues(currency, tier).Observe(amount)
}

// Noop discards every observation.
type Noop struct{}

func (Noop) IncInitialized(string) {}
func (Noop) IncVerified(string, string) {}
func (Noop) IncCancelled(string) {}
func (Noop) ObservePaymentAmount(float64, string, string) {}

// HTTPMetrics holds the request collectors used by the instrumentation middleware.
type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec
}

// NewHTTPMetrics registers the HTTP collectors on registry.
func NewHTTPMetrics(registry prometheus.Registerer) *HTTPMetrics {
	factory := promauto.With(registry)

	return &HTTPMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),
	}
}

// NewRegistry returns a registry preloaded with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// Handler exposes the registry in the Prometheus text format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
