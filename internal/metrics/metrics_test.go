package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewSubscriptionMetrics(registry).(*subscriptionMetrics)

	m.IncInitialized("monthly")
	m.IncInitialized("monthly")
	m.IncVerified(OutcomeActivated, "yearly")
	m.IncCancelled("yearly")
	m.ObservePaymentAmount(29990, "NGN", "yearly")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.initialized.WithLabelValues("monthly")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verified.WithLabelValues(OutcomeActivated, "yearly")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cancelled.WithLabelValues("yearly")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.amount))
}

func TestHandlerExposesRegisteredCollectors(t *testing.T) {
	registry := NewRegistry()
	httpMetrics := NewHTTPMetrics(registry)
	httpMetrics.RequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "200").Inc()

	rr := httptest.NewRecorder()
	Handler(registry).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.Contains(body, `blockr_http_requests_total{method="GET",route="/healthz",status="200"} 1`))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
