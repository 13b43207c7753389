package models

import "time"

// User is the account row together with its embedded entitlement fields.
// Tier is free exactly when SubscriptionExpiresAt is nil.
type User struct {
	ID                    string     `json:"user_id"`
	Email                 string     `json:"email"`
	Name                  string     `json:"name"`
	Tier                  Tier       `json:"subscription_tier"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Entitlement returns the entitlement pair carried by the user.
func (u User) Entitlement() Entitlement {
	return Entitlement{Tier: u.Tier, ExpiresAt: u.SubscriptionExpiresAt}
}

// Entitlement is the (tier, expiry) pair that decides premium access.
type Entitlement struct {
	Tier      Tier       `json:"tier"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// FreeEntitlement returns the entitlement every new user starts with.
func FreeEntitlement() Entitlement {
	return Entitlement{Tier: TierFree}
}

// ActiveAt reports whether the entitlement grants paid access at the given instant.
func (e Entitlement) ActiveAt(now time.Time) bool {
	if !e.Tier.IsPaid() || e.ExpiresAt == nil {
		return false
	}
	return e.ExpiresAt.After(now)
}

// Consistent reports whether the tier/expiry pairing holds: free tiers carry no
// expiry and paid tiers always do.
func (e Entitlement) Consistent() bool {
	return (e.Tier == TierFree) == (e.ExpiresAt == nil)
}
