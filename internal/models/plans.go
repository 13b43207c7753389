package models

import (
	"fmt"
	"time"
)

const (
	monthlyTerm = 30 * 24 * time.Hour
	yearlyTerm  = 365 * 24 * time.Hour
)

// PriceTable holds the price of each paid tier in minor currency units. The
// same table prices a checkout and classifies a verified payment, so the two
// cannot drift apart.
type PriceTable struct {
	Monthly  int64
	Yearly   int64
	Currency string
}

// DefaultPriceTable is the NGN price list (amounts in kobo).
func DefaultPriceTable() PriceTable {
	return PriceTable{
		Monthly:  399000,
		Yearly:   2999000,
		Currency: "NGN",
	}
}

// Validate checks the table is usable for both pricing and tier inference.
func (p PriceTable) Validate() error {
	if p.Monthly <= 0 {
		return fmt.Errorf("monthly price must be positive, got %d", p.Monthly)
	}
	if p.Yearly <= p.Monthly {
		return fmt.Errorf("yearly price (%d) must exceed monthly price (%d)", p.Yearly, p.Monthly)
	}
	return nil
}

// AmountFor returns the price of a paid tier. ok is false for any other tier.
func (p PriceTable) AmountFor(tier Tier) (amount int64, ok bool) {
	switch tier {
	case TierMonthly:
		return p.Monthly, true
	case TierYearly:
		return p.Yearly, true
	default:
		return 0, false
	}
}

// Grant is the tier and term a verified payment buys.
type Grant struct {
	Tier     Tier
	Duration time.Duration
}

// GrantFor classifies an amount actually paid. Anything at or above the yearly
// price buys a yearly term; every smaller successful payment buys a monthly one,
// regardless of the tier that was requested at checkout.
func (p PriceTable) GrantFor(paid int64) Grant {
	if paid >= p.Yearly {
		return Grant{Tier: TierYearly, Duration: yearlyTerm}
	}
	return Grant{Tier: TierMonthly, Duration: monthlyTerm}
}
