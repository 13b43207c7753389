package httpserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PortNumber53/blockr/backend/internal/config"
	"github.com/PortNumber53/blockr/backend/internal/entitlement"
	"github.com/PortNumber53/blockr/backend/internal/metrics"
	"github.com/PortNumber53/blockr/backend/internal/models"
)

var fixedNow = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

type stubUsers map[string]models.User

func (s stubUsers) GetUserByID(_ context.Context, id string) (*models.User, error) {
	u, ok := s[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return &u, nil
}

type stubSubscriptions struct{}

func (stubSubscriptions) Initialize(context.Context, string, models.Tier, string) (*models.PaymentSession, error) {
	return &models.PaymentSession{}, nil
}

func (stubSubscriptions) Verify(context.Context, string, string) (*models.Activation, error) {
	return &models.Activation{}, nil
}

func (stubSubscriptions) Cancel(context.Context, string) (*models.Subscription, error) {
	return nil, models.ErrNoActiveSubscription
}

func (stubSubscriptions) Status(context.Context, string) (*models.SubscriptionStatusReport, error) {
	return &models.SubscriptionStatusReport{CurrentTier: models.TierFree}, nil
}

func (stubSubscriptions) History(context.Context, string, int) ([]models.SubscriptionView, error) {
	return nil, nil
}

func newTestServer() *Server {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	expires := fixedNow.Add(time.Hour)
	users := stubUsers{
		"free": {ID: "free", Tier: models.TierFree},
		"paid": {ID: "paid", Tier: models.TierMonthly, SubscriptionExpiresAt: &expires},
	}

	return New(config.Config{ServerAddress: ":0"}, Dependencies{
		Users:         users,
		Subscriptions: stubSubscriptions{},
		Gate:          entitlement.NewGate(func() time.Time { return fixedNow }),
		Registry:      metrics.NewRegistry(),
		Logger:        logger,
	})
}

func serve(server *Server, method, path, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthRoute(t *testing.T) {
	rr := serve(newTestServer(), http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
}

func TestSubscriptionRoutesRequireUser(t *testing.T) {
	server := newTestServer()

	if rr := serve(server, http.MethodGet, "/api/subscription/status", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
	if rr := serve(server, http.MethodGet, "/api/subscription/status", "free"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if rr := serve(server, http.MethodPost, "/api/subscription/cancel", "free"); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestPremiumRouteIsGated(t *testing.T) {
	server := newTestServer()

	if rr := serve(server, http.MethodGet, "/api/premium/ping", "free"); rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 for free user got %d", rr.Code)
	}
	if rr := serve(server, http.MethodGet, "/api/premium/ping", "paid"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for paid user got %d", rr.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	server := newTestServer()
	serve(server, http.MethodGet, "/healthz", "")

	rr := serve(server, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `blockr_http_requests_total{method="GET",route="/healthz",status="200"}`) {
		t.Fatalf("expected healthz request to be counted, got:\n%s", rr.Body.String())
	}
}
