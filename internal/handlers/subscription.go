package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/PortNumber53/blockr/backend/internal/middleware"
	"github.com/PortNumber53/blockr/backend/internal/models"
)

const (
	defaultHistoryPageSize = 50
	maxRequestBodyBytes    = 64 << 10
)

// SubscriptionService is the lifecycle API the subscription handlers call.
type SubscriptionService interface {
	Initialize(ctx context.Context, userID string, tier models.Tier, email string) (*models.PaymentSession, error)
	Verify(ctx context.Context, userID, reference string) (*models.Activation, error)
	Cancel(ctx context.Context, userID string) (*models.Subscription, error)
	Status(ctx context.Context, userID string) (*models.SubscriptionStatusReport, error)
	History(ctx context.Context, userID string, limit int) ([]models.SubscriptionView, error)
}

// SubscriptionHandler holds dependencies for the subscription endpoints.
type SubscriptionHandler struct {
	Service SubscriptionService
	Log     logrus.FieldLogger
}

// NewSubscriptionHandler creates a new SubscriptionHandler
func NewSubscriptionHandler(service SubscriptionService, log logrus.FieldLogger) *SubscriptionHandler {
	return &SubscriptionHandler{
		Service: service,
		Log:     log.WithField("component", "http"),
	}
}

// RegisterRoutes registers the subscription routes. Callers are expected to
// have attached the acting user with middleware.RequireUser.
func (h *SubscriptionHandler) RegisterRoutes(router chi.Router) {
	router.Route("/api/subscription", func(r chi.Router) {
		r.Get("/status", h.Status())
		r.Post("/initialize", h.Initialize())
		r.Post("/verify", h.Verify())
		r.Post("/cancel", h.Cancel())
		r.Get("/history", h.History())
	})
}

type initializePayload struct {
	Tier  string `json:"tier"`
	Email string `json:"email"`
}

type verifyPayload struct {
	Reference string `json:"reference"`
}

type verifyResponse struct {
	Success          bool               `json:"success"`
	AlreadyProcessed bool               `json:"already_processed"`
	Message          string             `json:"message"`
	Subscription     *activationSummary `json:"subscription,omitempty"`
}

type activationSummary struct {
	ID        string      `json:"id"`
	Tier      models.Tier `json:"tier"`
	ExpiresAt string      `json:"expires_at"`
}

// Status returns the acting user's tier, activity and latest ledger row.
func (h *SubscriptionHandler) Status() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := h.actingUser(w, r)
		if !ok {
			return
		}

		report, err := h.Service.Status(r.Context(), userID)
		if err != nil {
			h.writeError(w, "Status", err)
			return
		}

		writeJSON(w, http.StatusOK, report)
	}
}

// Initialize stages a payment for the requested tier.
func (h *SubscriptionHandler) Initialize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := h.actingUser(w, r)
		if !ok {
			return
		}

		var payload initializePayload
		if !decodeBody(w, r, &payload) {
			return
		}

		tier := models.Tier(strings.ToLower(strings.TrimSpace(payload.Tier)))
		session, err := h.Service.Initialize(r.Context(), userID, tier, payload.Email)
		if err != nil {
			h.writeError(w, "Initialize", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"authorization_url": session.AuthorizationURL,
			"access_code":       session.AccessCode,
			"reference":         session.Reference,
		})
	}
}

// Verify confirms a payment reference and activates the subscription.
func (h *SubscriptionHandler) Verify() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := h.actingUser(w, r)
		if !ok {
			return
		}

		var payload verifyPayload
		if !decodeBody(w, r, &payload) {
			return
		}
		if strings.TrimSpace(payload.Reference) == "" {
			middleware.WriteError(w, http.StatusBadRequest, "reference is required")
			return
		}

		activation, err := h.Service.Verify(r.Context(), userID, payload.Reference)
		if err != nil {
			h.writeError(w, "Verify", err)
			return
		}

		resp := verifyResponse{
			Success:          true,
			AlreadyProcessed: activation.AlreadyProcessed,
			Message:          "Subscription activated successfully",
		}
		if activation.AlreadyProcessed {
			resp.Message = "Payment already processed"
		}
		if activation.Subscription.ID != "" {
			resp.Subscription = &activationSummary{
				ID:        activation.Subscription.ID,
				Tier:      activation.Tier,
				ExpiresAt: activation.Subscription.ExpiresAt.UTC().Format(time.RFC3339),
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// Cancel revokes the acting user's paid entitlement.
func (h *SubscriptionHandler) Cancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := h.actingUser(w, r)
		if !ok {
			return
		}

		if _, err := h.Service.Cancel(r.Context(), userID); err != nil {
			h.writeError(w, "Cancel", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Subscription cancelled",
		})
	}
}

// History lists the acting user's ledger rows, newest first.
func (h *SubscriptionHandler) History() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := h.actingUser(w, r)
		if !ok {
			return
		}

		limit := defaultHistoryPageSize
		if override := r.URL.Query().Get("limit"); override != "" {
			if parsed, err := strconv.Atoi(override); err == nil && parsed > 0 {
				limit = parsed
			}
		}

		history, err := h.Service.History(r.Context(), userID, limit)
		if err != nil {
			h.writeError(w, "History", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"subscriptions": history})
	}
}

func (h *SubscriptionHandler) actingUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return userID, true
}

// writeError maps lifecycle errors onto HTTP status codes.
func (h *SubscriptionHandler) writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	var gwErr *models.GatewayError
	switch {
	case errors.Is(err, models.ErrInvalidTier):
		status, msg = http.StatusBadRequest, "Invalid tier. Must be 'monthly' or 'yearly'"
	case errors.Is(err, models.ErrInvalidReference):
		status, msg = http.StatusBadRequest, "reference is required"
	case errors.Is(err, models.ErrNoActiveSubscription):
		status, msg = http.StatusBadRequest, "No active subscription to cancel"
	case errors.Is(err, models.ErrPaymentNotSuccessful):
		status, msg = http.StatusPaymentRequired, "Payment was not successful"
	case errors.As(err, &gwErr):
		status, msg = http.StatusBadGateway, "Payment provider error: "+gwErr.Message
	case errors.Is(err, models.ErrUserNotFound):
		status, msg = http.StatusNotFound, "User not found"
	}

	entry := h.Log.WithError(err).WithField("op", op)
	if status >= http.StatusInternalServerError {
		entry.Error("subscription request failed")
	} else {
		entry.Info("subscription request rejected")
	}

	middleware.WriteError(w, status, msg)
}

// decodeBody reads a size-limited JSON body into dst, answering 413 or 400
// itself when it cannot.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		middleware.WriteError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	middleware.WriteJSON(w, status, payload)
}
