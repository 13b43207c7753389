package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/PortNumber53/blockr/backend/internal/middleware"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Health responds with status 200 when the service and its database are
// reachable, and 503 otherwise. A nil pinger skips the database check.
func Health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}

		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				payload["status"] = "degraded"
				payload["database"] = "unreachable"
				writeJSON(w, http.StatusServiceUnavailable, payload)
				return
			}
			payload["database"] = "ok"
		}

		writeJSON(w, http.StatusOK, payload)
	}
}

// PremiumPing is a minimal premium-only endpoint. It sits behind the
// entitlement gate and confirms the caller currently has paid access.
func PremiumPing(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"premium": true,
		"user_id": userID,
	})
}
