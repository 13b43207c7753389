// Package entitlement answers whether a user may use premium features.
package entitlement

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PortNumber53/blockr/backend/internal/middleware"
	"github.com/PortNumber53/blockr/backend/internal/models"
)

// Gate evaluates entitlements against the current time. It holds no state
// beyond its clock.
type Gate struct {
	now func() time.Time
}

// NewGate returns a Gate using now as its clock; nil means time.Now.
func NewGate(now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{now: now}
}

// IsEntitled reports whether the user is on a paid tier whose expiry is still
// in the future. An expired paid user is treated exactly like a free one.
func (g *Gate) IsEntitled(user models.User) bool {
	return user.Entitlement().ActiveAt(g.now())
}

// UserLoader fetches the current user record.
type UserLoader interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// RequirePremium only lets entitled users through. The user record is read
// on every request so the decision always reflects the stored entitlement.
func (g *Gate) RequirePremium(users UserLoader, log logrus.FieldLogger) func(http.Handler) http.Handler {
	log = log.WithField("component", "entitlement")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := middleware.UserIDFromContext(r.Context())
			if !ok {
				middleware.WriteError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			user, err := users.GetUserByID(r.Context(), userID)
			if err != nil {
				if errors.Is(err, models.ErrUserNotFound) {
					middleware.WriteError(w, http.StatusNotFound, "user not found")
					return
				}
				log.WithError(err).WithField("user_id", userID).Error("failed to load user")
				middleware.WriteError(w, http.StatusInternalServerError, "failed to check entitlement")
				return
			}

			if !g.IsEntitled(*user) {
				middleware.WriteJSON(w, http.StatusPaymentRequired, map[string]any{
					"error":        "premium subscription required",
					"current_tier": user.Tier,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
