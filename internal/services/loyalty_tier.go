package services

import "math"

// Tier is a membership level derived from lifetime points.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"

	// TierMax is reported as the next tier once platinum is reached.
	TierMax Tier = "max"
)

// TierThresholds are the lifetime points needed to enter each tier above bronze.
type TierThresholds struct {
	Silver   int64 `json:"silver"`
	Gold     int64 `json:"gold"`
	Platinum int64 `json:"platinum"`
}

// DefaultTierThresholds returns the stock thresholds.
func DefaultTierThresholds() TierThresholds {
	return TierThresholds{Silver: 2000, Gold: 5000, Platinum: 10000}
}

func (t TierThresholds) valid() bool {
	return t.Silver > 0 && t.Silver < t.Gold && t.Gold < t.Platinum
}

// Threshold returns the lifetime points at which tier starts.
func (t TierThresholds) Threshold(tier Tier) int64 {
	switch tier {
	case TierSilver:
		return t.Silver
	case TierGold:
		return t.Gold
	case TierPlatinum:
		return t.Platinum
	default:
		return 0
	}
}

// TierStatus is the tier standing for a lifetime points value.
type TierStatus struct {
	Tier         Tier    `json:"tier"`
	NextTier     Tier    `json:"next_tier"`
	Progress     float64 `json:"progress"`
	PointsToNext int64   `json:"points_to_next"`
}

// CalculateTier maps lifetime points to a tier. Bands are closed-open, so a
// value equal to a threshold belongs to the higher tier.
func CalculateTier(lifetime int64, t TierThresholds) TierStatus {
	if lifetime < 0 {
		lifetime = 0
	}

	switch {
	case lifetime >= t.Platinum:
		return TierStatus{Tier: TierPlatinum, NextTier: TierMax, Progress: 100}
	case lifetime >= t.Gold:
		return bandStatus(TierGold, TierPlatinum, lifetime, t.Gold, t.Platinum)
	case lifetime >= t.Silver:
		return bandStatus(TierSilver, TierGold, lifetime, t.Silver, t.Gold)
	default:
		return bandStatus(TierBronze, TierSilver, lifetime, 0, t.Silver)
	}
}

func bandStatus(tier, next Tier, lifetime, lower, upper int64) TierStatus {
	progress := float64(lifetime-lower) / float64(upper-lower) * 100
	return TierStatus{
		Tier:         tier,
		NextTier:     next,
		Progress:     math.Round(progress*100) / 100,
		PointsToNext: upper - lifetime,
	}
}

var tierBenefits = map[Tier][]string{
	TierBronze: {
		"1 point for every 1.00 spent",
		"Redeem from 100 points",
		"Birthday treat for your pet",
	},
	TierSilver: {
		"1 point for every 1.00 spent",
		"Free delivery on orders over 150.00",
		"Early access to seasonal collections",
		"Birthday treat for your pet",
	},
	TierGold: {
		"1 point for every 1.00 spent",
		"Free delivery on every order",
		"Priority grooming and vet appointment slots",
		"Dedicated support line",
	},
	TierPlatinum: {
		"1 point for every 1.00 spent",
		"Free express delivery on every order",
		"Priority grooming and vet appointment slots",
		"Exclusive partner events",
		"Dedicated account manager",
	},
}

// TierBenefits returns the ordered benefit descriptions for tier.
func TierBenefits(tier Tier) []string {
	benefits := tierBenefits[tier]
	out := make([]string, len(benefits))
	copy(out, benefits)
	return out
}

// TierInfo describes a tier for the public tiers page.
type TierInfo struct {
	Tier      Tier     `json:"tier"`
	MinPoints int64    `json:"min_points"`
	Benefits  []string `json:"benefits"`
}

// AllTiers lists every tier in ascending order.
func AllTiers(t TierThresholds) []TierInfo {
	tiers := []Tier{TierBronze, TierSilver, TierGold, TierPlatinum}
	out := make([]TierInfo, 0, len(tiers))
	for _, tier := range tiers {
		out = append(out, TierInfo{
			Tier:      tier,
			MinPoints: t.Threshold(tier),
			Benefits:  TierBenefits(tier),
		})
	}
	return out
}
