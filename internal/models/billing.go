package models

import "time"

// Subscription is a single billing event recorded in the subscription ledger.
// Rows are never deleted; cancellation and expiry are status changes.
type Subscription struct {
	ID                string             `json:"subscription_id"`
	UserID            string             `json:"user_id"`
	ProviderReference string             `json:"paystack_reference"`
	Amount            int64              `json:"amount"`
	Currency          string             `json:"currency"`
	Status            SubscriptionStatus `json:"status"`
	StartedAt         time.Time          `json:"started_at"`
	ExpiresAt         time.Time          `json:"expires_at"`
	CreatedAt         time.Time          `json:"created_at"`
}

// EffectiveStatus reports the ledger status as seen at now: an active row whose
// term has ended reads as expired.
func (s Subscription) EffectiveStatus(now time.Time) SubscriptionStatus {
	if s.Status == SubscriptionActive && !s.ExpiresAt.After(now) {
		return SubscriptionExpired
	}
	return s.Status
}

// AmountMajor renders the minor-unit amount in major currency units.
func (s Subscription) AmountMajor() float64 {
	return float64(s.Amount) / 100
}

// SubscriptionView is the JSON shape of a ledger row returned to clients.
type SubscriptionView struct {
	Subscription
	AmountMajor     float64            `json:"amount_major"`
	EffectiveStatus SubscriptionStatus `json:"effective_status"`
}

// NewSubscriptionView builds the client-facing view of a ledger row.
func NewSubscriptionView(s Subscription, now time.Time) SubscriptionView {
	return SubscriptionView{
		Subscription:    s,
		AmountMajor:     s.AmountMajor(),
		EffectiveStatus: s.EffectiveStatus(now),
	}
}

// SubscriptionStatusReport is the read-only status answer for a user.
type SubscriptionStatusReport struct {
	CurrentTier  Tier              `json:"current_tier"`
	IsActive     bool              `json:"is_active"`
	ExpiresAt    *time.Time        `json:"expires_at"`
	Subscription *SubscriptionView `json:"subscription"`
}

// PaymentSession is returned when a payment attempt has been staged with the gateway.
type PaymentSession struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
	Amount           int64  `json:"amount"`
	Tier             Tier   `json:"tier"`
}

// Activation describes the outcome of a successful payment verification.
type Activation struct {
	Subscription     Subscription `json:"subscription"`
	Tier             Tier         `json:"tier"`
	AlreadyProcessed bool         `json:"already_processed"`
}
