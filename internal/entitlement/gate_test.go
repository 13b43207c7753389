package entitlement

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/blockr/backend/internal/middleware"
	"github.com/PortNumber53/blockr/backend/internal/models"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixed() time.Time { return now }

func paidUser(tier models.Tier, expires time.Time) models.User {
	return models.User{ID: "user-1", Tier: tier, SubscriptionExpiresAt: &expires}
}

func TestIsEntitled(t *testing.T) {
	gate := NewGate(fixed)

	cases := []struct {
		name string
		user models.User
		want bool
	}{
		{"free", models.User{Tier: models.TierFree}, false},
		{"monthly expired one second ago", paidUser(models.TierMonthly, now.Add(-time.Second)), false},
		{"monthly one second before expiry", paidUser(models.TierMonthly, now.Add(time.Second)), true},
		{"monthly expiring exactly now", paidUser(models.TierMonthly, now), false},
		{"yearly active", paidUser(models.TierYearly, now.AddDate(0, 6, 0)), true},
		{"paid tier without expiry", models.User{Tier: models.TierYearly}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, gate.IsEntitled(tc.user))
		})
	}
}

func TestIsEntitledReadsClockEachCall(t *testing.T) {
	current := now
	gate := NewGate(func() time.Time { return current })
	user := paidUser(models.TierMonthly, now.Add(time.Second))

	require.True(t, gate.IsEntitled(user))
	current = current.Add(2 * time.Second)
	assert.False(t, gate.IsEntitled(user))
}

type stubUsers struct {
	user *models.User
	err  error
}

func (s stubUsers) GetUserByID(context.Context, string) (*models.User, error) {
	return s.user, s.err
}

func serveGated(t *testing.T, users UserLoader, userID string) *httptest.ResponseRecorder {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := NewGate(fixed).RequirePremium(users, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/premium/ping", nil)
	if userID != "" {
		req = req.WithContext(middleware.WithUserID(req.Context(), userID))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRequirePremium(t *testing.T) {
	active := paidUser(models.TierMonthly, now.Add(time.Hour))
	expired := paidUser(models.TierMonthly, now.Add(-time.Hour))

	assert.Equal(t, http.StatusNoContent, serveGated(t, stubUsers{user: &active}, "user-1").Code)
	assert.Equal(t, http.StatusPaymentRequired, serveGated(t, stubUsers{user: &expired}, "user-1").Code)
	assert.Equal(t, http.StatusPaymentRequired, serveGated(t, stubUsers{user: &models.User{Tier: models.TierFree}}, "user-1").Code)
	assert.Equal(t, http.StatusUnauthorized, serveGated(t, stubUsers{}, "").Code)
	assert.Equal(t, http.StatusNotFound, serveGated(t, stubUsers{err: models.ErrUserNotFound}, "user-1").Code)
	assert.Equal(t, http.StatusInternalServerError, serveGated(t, stubUsers{err: errors.New("db down")}, "user-1").Code)
}

func TestRequirePremiumErrorsAreJSON(t *testing.T) {
	cases := []struct {
		name   string
		users  stubUsers
		userID string
		want   string
	}{
		{"anonymous", stubUsers{}, "", `{"error":"authentication required"}`},
		{"unknown user", stubUsers{err: models.ErrUserNotFound}, "user-1", `{"error":"user not found"}`},
		{"store failure", stubUsers{err: errors.New("db down")}, "user-1", `{"error":"failed to check entitlement"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serveGated(t, tc.users, tc.userID)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.JSONEq(t, tc.want, rr.Body.String())
		})
	}
}
