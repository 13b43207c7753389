package models

import (
	"database/sql/driver"
	"fmt"
)

// Tier is the subscription level stored on a user.
type Tier string

const (
	TierFree    Tier = "free"
	TierMonthly Tier = "monthly"
	TierYearly  Tier = "yearly"
)

// ParseTier converts a raw value into a Tier, rejecting anything outside the
// closed set.
func ParseTier(raw string) (Tier, error) {
	switch t := Tier(raw); t {
	case TierFree, TierMonthly, TierYearly:
		return t, nil
	default:
		return "", fmt.Errorf("unknown subscription tier %q", raw)
	}
}

// IsPaid reports whether the tier is one of the billable tiers.
func (t Tier) IsPaid() bool {
	return t == TierMonthly || t == TierYearly
}

func (t Tier) String() string {
	return string(t)
}

// Value implements the driver.Valuer interface for Tier
func (t Tier) Value() (driver.Value, error) {
	return string(t), nil
}

// Scan implements the sql.Scanner interface for Tier
func (t *Tier) Scan(value interface{}) error {
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan type %T into Tier", value)
	}

	parsed, err := ParseTier(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// SubscriptionStatus represents the state of a ledger row.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// ParseSubscriptionStatus converts a raw value into a SubscriptionStatus.
func ParseSubscriptionStatus(raw string) (SubscriptionStatus, error) {
	switch s := SubscriptionStatus(raw); s {
	case SubscriptionActive, SubscriptionExpired, SubscriptionCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("unknown subscription status %q", raw)
	}
}

// Value implements the driver.Valuer interface for SubscriptionStatus
func (s SubscriptionStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Scan implements the sql.Scanner interface for SubscriptionStatus
func (s *SubscriptionStatus) Scan(value interface{}) error {
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan type %T into SubscriptionStatus", value)
	}

	parsed, err := ParseSubscriptionStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
