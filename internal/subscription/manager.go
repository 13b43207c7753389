// Package subscription implements the subscription lifecycle: staging a
// payment with the gateway, confirming it, cancelling, and reporting status.
//
// A user is in one of three states derived from (tier, expires_at, now):
// Free, Active-Paid or Expired-Paid. Expiry is evaluated lazily against the
// injected clock; nothing in this package caches an entitlement.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/PortNumber53/blockr/backend/internal/metrics"
	"github.com/PortNumber53/blockr/backend/internal/models"
	"github.com/PortNumber53/blockr/backend/internal/paystack"
)

const (
	referencePrefix    = "SUB"
	referenceUserChars = 8
	referenceRandChars = 8
	historyLimit       = 50
	tracerName         = "SubscriptionManager"
)

// Gateway is the subset of the payment gateway client the manager needs.
type Gateway interface {
	CalculateAmount(tier models.Tier) (int64, error)
	InitializeTransaction(ctx context.Context, email string, amount int64, reference string) (*paystack.Authorization, error)
	VerifyTransaction(ctx context.Context, reference string) (*paystack.Verification, error)
}

// Store persists user entitlements and the subscription ledger.
type Store interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	LatestSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, userID string, limit int) ([]models.Subscription, error)
	GetSubscriptionByReference(ctx context.Context, reference string) (*models.Subscription, error)
	ActivateSubscription(ctx context.Context, sub *models.Subscription, tier models.Tier) error
	CancelSubscription(ctx context.Context, userID string) (*models.Subscription, error)
}

// Manager drives the subscription state machine.
type Manager struct {
	gateway Gateway
	store   Store
	prices  models.PriceTable
	now     func() time.Time
	log     logrus.FieldLogger
	metrics metrics.SubscriptionMetrics
	tracer  trace.Tracer

	verifies singleflight.Group
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

func WithMetrics(sm metrics.SubscriptionMetrics) Option {
	return func(m *Manager) {
		m.metrics = sm
	}
}

// WithTracerProvider records spans on tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Manager) {
		m.tracer = tp.Tracer(tracerName)
	}
}

// NewManager wires a Manager. prices must be the same table the gateway
// client prices checkouts with.
func NewManager(gateway Gateway, store Store, prices models.PriceTable, opts ...Option) (*Manager, error) {
	if gateway == nil {
		return nil, errors.New("subscription: gateway cannot be nil")
	}
	if store == nil {
		return nil, errors.New("subscription: store cannot be nil")
	}
	if err := prices.Validate(); err != nil {
		return nil, fmt.Errorf("subscription: %w", err)
	}

	m := &Manager{
		gateway: gateway,
		store:   store,
		prices:  prices,
		now:     time.Now,
		log:     logrus.StandardLogger(),
		metrics: metrics.Noop{},
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithField("component", "subscription")
	return m, nil
}

// Now returns the manager's notion of the current time.
func (m *Manager) Now() time.Time {
	return m.now()
}

// Initialize stages a payment for tier with the gateway and returns the
// checkout handle. It never changes the user's entitlement. When email is
// empty the account email is used.
func (m *Manager) Initialize(ctx context.Context, userID string, tier models.Tier, email string) (*models.PaymentSession, error) {
	ctx, span := m.tracer.Start(ctx, "Initialize", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("subscription.tier", tier.String()),
	))
	defer span.End()

	amount, err := m.gateway.CalculateAmount(tier)
	if err != nil {
		span.SetStatus(codes.Error, "invalid tier")
		return nil, err
	}

	user, err := m.store.GetUserByID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user lookup failed")
		return nil, err
	}

	email = strings.TrimSpace(email)
	if email == "" {
		email = user.Email
	}

	reference := NewReference(user.ID)
	span.SetAttributes(attribute.String("payment.reference", reference))

	auth, err := m.gateway.InitializeTransaction(ctx, email, amount, reference)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway initialize failed")
		m.log.WithError(err).WithFields(logrus.Fields{"user_id": userID, "reference": reference}).Warn("failed to initialize payment")
		return nil, err
	}

	m.metrics.IncInitialized(tier.String())
	m.log.WithFields(logrus.Fields{
		"user_id":   userID,
		"tier":      tier,
		"amount":    amount,
		"reference": reference,
	}).Info("payment initialized")

	span.SetStatus(codes.Ok, "payment initialized")
	return &models.PaymentSession{
		AuthorizationURL: auth.AuthorizationURL,
		AccessCode:       auth.AccessCode,
		Reference:        reference,
		Amount:           amount,
		Tier:             tier,
	}, nil
}

// Verify confirms a payment with the gateway and, on success, moves the user
// onto the paid tier the amount actually paid buys. The ledger row and the
// user update are written in one transaction. Replaying a reference that is
// already in the ledger reports AlreadyProcessed and changes nothing.
//
// Concurrent calls for the same user and reference share one execution.
func (m *Manager) Verify(ctx context.Context, userID, reference string) (*models.Activation, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, models.ErrInvalidReference
	}

	key := verifyKey(userID, reference)
	result, err, shared := m.verifies.Do(key, func() (any, error) {
		return m.verify(context.WithoutCancel(ctx), userID, reference)
	})
	if shared {
		m.log.WithFields(logrus.Fields{"user_id": userID, "reference": reference}).Debug("verify collapsed with in-flight call")
	}
	if err != nil {
		return nil, err
	}
	activation := *result.(*models.Activation)
	return &activation, nil
}

// verifyKey identifies an in-flight verification. NUL cannot appear in a
// user id or a gateway reference, so distinct pairs never share a key.
func verifyKey(userID, reference string) string {
	return userID + "\x00" + reference
}

func (m *Manager) verify(ctx context.Context, userID, reference string) (*models.Activation, error) {
	ctx, span := m.tracer.Start(ctx, "Verify", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("payment.reference", reference),
	))
	defer span.End()

	log := m.log.WithFields(logrus.Fields{"user_id": userID, "reference": reference})

	verification, err := m.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway verify failed")
		m.metrics.IncVerified(metrics.OutcomeGatewayError, "")
		log.WithError(err).Warn("payment verification failed")
		return nil, err
	}

	if !verification.Success {
		span.SetStatus(codes.Error, "payment not successful")
		m.metrics.IncVerified(metrics.OutcomeNotSuccessful, "")
		log.WithField("gateway_status", verification.Status).Info("payment not successful")
		return nil, fmt.Errorf("%w: gateway reported %q", models.ErrPaymentNotSuccessful, verification.Status)
	}

	now := m.now()
	grant := m.prices.GrantFor(verification.Amount)

	currency := verification.Currency
	if currency == "" {
		currency = m.prices.Currency
	}

	sub := &models.Subscription{
		UserID:            userID,
		ProviderReference: reference,
		Amount:            verification.Amount,
		Currency:          currency,
		Status:            models.SubscriptionActive,
		StartedAt:         now,
		ExpiresAt:         now.Add(grant.Duration),
	}

	err = m.store.ActivateSubscription(ctx, sub, grant.Tier)
	switch {
	case errors.Is(err, models.ErrDuplicateReference):
		span.SetStatus(codes.Ok, "reference already processed")
		m.metrics.IncVerified(metrics.OutcomeAlreadyProcessed, grant.Tier.String())
		return m.alreadyProcessed(ctx, log, userID, reference)
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "activation failed")
		m.metrics.IncVerified(metrics.OutcomeError, grant.Tier.String())
		log.WithError(err).Error("failed to activate subscription")
		return nil, err
	}

	m.metrics.IncVerified(metrics.OutcomeActivated, grant.Tier.String())
	m.metrics.ObservePaymentAmount(sub.AmountMajor(), currency, grant.Tier.String())
	log.WithFields(logrus.Fields{
		"tier":       grant.Tier,
		"amount":     sub.Amount,
		"expires_at": sub.ExpiresAt,
	}).Info("subscription activated")

	span.SetStatus(codes.Ok, "subscription activated")
	return &models.Activation{
		Subscription: *sub,
		Tier:         grant.Tier,
	}, nil
}

// alreadyProcessed reports the ledger row recorded for a replayed reference.
// A row owned by a different user is not echoed back to the caller.
func (m *Manager) alreadyProcessed(ctx context.Context, log logrus.FieldLogger, userID, reference string) (*models.Activation, error) {
	existing, err := m.store.GetSubscriptionByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	activation := &models.Activation{AlreadyProcessed: true}
	if existing == nil {
		return activation, nil
	}
	if existing.UserID != userID {
		log.WithField("owner_id", existing.UserID).Warn("reference already processed for another user")
		return activation, nil
	}

	activation.Subscription = *existing
	activation.Tier = m.prices.GrantFor(existing.Amount).Tier
	log.Info("reference already processed")
	return activation, nil
}

// Cancel revokes the user's paid entitlement locally. The most recent ledger
// row is marked cancelled and the user returns to the free tier. The gateway
// is not contacted.
func (m *Manager) Cancel(ctx context.Context, userID string) (*models.Subscription, error) {
	ctx, span := m.tracer.Start(ctx, "Cancel", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	cancelled, err := m.store.CancelSubscription(ctx, userID)
	if err != nil {
		if !errors.Is(err, models.ErrNoActiveSubscription) {
			span.RecordError(err)
		}
		span.SetStatus(codes.Error, "cancel failed")
		return nil, err
	}

	tier := "unknown"
	if cancelled != nil {
		tier = m.prices.GrantFor(cancelled.Amount).Tier.String()
	}
	m.metrics.IncCancelled(tier)
	m.log.WithField("user_id", userID).Info("subscription cancelled")

	span.SetStatus(codes.Ok, "subscription cancelled")
	return cancelled, nil
}

// Status reports the user's tier, whether it is active right now, and the
// most recent ledger row. It never writes.
func (m *Manager) Status(ctx context.Context, userID string) (*models.SubscriptionStatusReport, error) {
	ctx, span := m.tracer.Start(ctx, "Status", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	user, err := m.store.GetUserByID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user lookup failed")
		return nil, err
	}

	latest, err := m.store.LatestSubscription(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger lookup failed")
		return nil, err
	}

	now := m.now()
	report := &models.SubscriptionStatusReport{
		CurrentTier: user.Tier,
		IsActive:    user.Entitlement().ActiveAt(now),
		ExpiresAt:   user.SubscriptionExpiresAt,
	}
	if latest != nil {
		view := models.NewSubscriptionView(*latest, now)
		report.Subscription = &view
	}

	span.SetStatus(codes.Ok, "status computed")
	return report, nil
}

// History lists the user's ledger rows, newest first.
func (m *Manager) History(ctx context.Context, userID string, limit int) ([]models.SubscriptionView, error) {
	ctx, span := m.tracer.Start(ctx, "History", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	if _, err := m.store.GetUserByID(ctx, userID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user lookup failed")
		return nil, err
	}

	if limit <= 0 {
		limit = historyLimit
	}

	subs, err := m.store.ListSubscriptions(ctx, userID, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger lookup failed")
		return nil, err
	}

	now := m.now()
	views := make([]models.SubscriptionView, 0, len(subs))
	for _, s := range subs {
		views = append(views, models.NewSubscriptionView(s, now))
	}

	span.SetStatus(codes.Ok, "history listed")
	return views, nil
}

// NewReference builds a payment reference of the form SUB-<user>-<random>,
// where <user> is the first eight characters of the user id and <random> is
// eight hex characters.
func NewReference(userID string) string {
	prefix := userID
	if len(prefix) > referenceUserChars {
		prefix = prefix[:referenceUserChars]
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:referenceRandChars]
	return fmt.Sprintf("%s-%s-%s", referencePrefix, prefix, suffix)
}
