package services

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// LoyaltyRates are the conversion constants of the points program.
type LoyaltyRates struct {
	// PointsPerCurrencyUnit is how many points one currency unit earns.
	PointsPerCurrencyUnit decimal.Decimal
	// PointValue is the discount one point is worth when redeemed.
	PointValue            decimal.Decimal
	MinimumRedemption     int64
	ReferralWelcomeBonus  int64
	ReferralReferrerBonus int64
	Thresholds            TierThresholds
	MaxRetries            int
	MaxCodeAttempts       int
}

// DefaultLoyaltyRates returns the stock program: 1 point per unit spent,
// 100 points worth 1.00, 50/100 referral bonuses.
func DefaultLoyaltyRates() LoyaltyRates {
	return LoyaltyRates{
		PointsPerCurrencyUnit: decimal.NewFromInt(1),
		PointValue:            decimal.New(1, -2),
		MinimumRedemption:     100,
		ReferralWelcomeBonus:  50,
		ReferralReferrerBonus: 100,
		Thresholds:            DefaultTierThresholds(),
		MaxRetries:            3,
		MaxCodeAttempts:       100,
	}
}

// Validate reports the first inconsistent setting.
func (r LoyaltyRates) Validate() error {
	switch {
	case !r.PointsPerCurrencyUnit.IsPositive():
		return fmt.Errorf("points per currency unit must be positive, got %s", r.PointsPerCurrencyUnit)
	case !r.PointValue.IsPositive():
		return fmt.Errorf("point value must be positive, got %s", r.PointValue)
	case r.MinimumRedemption <= 0:
		return fmt.Errorf("minimum redemption must be positive, got %d", r.MinimumRedemption)
	case r.ReferralWelcomeBonus < 0 || r.ReferralReferrerBonus < 0:
		return fmt.Errorf("referral bonuses must not be negative")
	case !r.Thresholds.valid():
		return fmt.Errorf("tier thresholds must be positive and ascending, got %+v", r.Thresholds)
	case r.MaxRetries < 0:
		return fmt.Errorf("max retries must not be negative, got %d", r.MaxRetries)
	case r.MaxCodeAttempts <= 0:
		return fmt.Errorf("referral code attempts must be positive, got %d", r.MaxCodeAttempts)
	}
	return nil
}

// PointsForAmount converts a spent amount into whole points, rounding down.
// Non-positive amounts earn nothing.
func (r LoyaltyRates) PointsForAmount(amount decimal.Decimal) int64 {
	if !amount.IsPositive() {
		return 0
	}
	return amount.Mul(r.PointsPerCurrencyUnit).Floor().IntPart()
}

// DiscountForPoints converts points into a currency discount with two decimals.
func (r LoyaltyRates) DiscountForPoints(points int64) decimal.Decimal {
	return decimal.NewFromInt(points).Mul(r.PointValue).Round(2)
}
