package models

import (
	"time"

	"github.com/google/uuid"
)

// PointsTransactionType classifies a ledger entry.
type PointsTransactionType string

const (
	PointsEarned   PointsTransactionType = "earned"
	PointsRedeemed PointsTransactionType = "redeemed"
	PointsReferral PointsTransactionType = "referral"
)

// ReferralStatus is the state of a referral. Transitions only move forward:
// pending -> registered -> completed.
type ReferralStatus string

const (
	ReferralPending    ReferralStatus = "pending"
	ReferralRegistered ReferralStatus = "registered"
	ReferralCompleted  ReferralStatus = "completed"
)

// LoyaltyAccount holds a user's spendable and lifetime points.
// Tier columns are derived from LifetimePoints and written only alongside it.
type LoyaltyAccount struct {
	BaseModel
	UserID         uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	TotalPoints    int64     `gorm:"not null" json:"total_points"`
	LifetimePoints int64     `gorm:"not null" json:"lifetime_points"`
	CurrentTier    string    `gorm:"size:16;not null" json:"current_tier"`
	NextTier       string    `gorm:"size:16;not null" json:"next_tier"`
	TierProgress   float64   `gorm:"not null" json:"tier_progress"`
	Entries        int64     `gorm:"not null" json:"-"`
}

// PointsTransaction is an immutable ledger entry. BalanceAfter is the account
// balance right after the entry was applied; Sequence orders entries per user.
type PointsTransaction struct {
	BaseModel
	UserID       uuid.UUID             `gorm:"type:uuid;not null;uniqueIndex:idx_points_user_seq" json:"user_id"`
	Sequence     int64                 `gorm:"not null;uniqueIndex:idx_points_user_seq" json:"sequence"`
	Points       int64                 `gorm:"not null" json:"points"`
	Type         PointsTransactionType `gorm:"size:16;not null;uniqueIndex:idx_points_order_type" json:"type"`
	Description  string                `json:"description"`
	OrderID      *uuid.UUID            `gorm:"type:uuid;uniqueIndex:idx_points_order_type" json:"order_id,omitempty"`
	ReferralID   *uuid.UUID            `gorm:"type:uuid;index" json:"referral_id,omitempty"`
	BalanceAfter int64                 `gorm:"not null" json:"balance_after"`
}

// Referral tracks one shared code from creation to the referred user's first order.
type Referral struct {
	BaseModel
	ReferrerID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"referrer_id"`
	ReferredEmail  string         `json:"referred_email,omitempty"`
	Code           string         `gorm:"size:32;not null;uniqueIndex" json:"code"`
	ReferredID     *uuid.UUID     `gorm:"type:uuid;index" json:"referred_id,omitempty"`
	Status         ReferralStatus `gorm:"size:16;not null;index" json:"status"`
	OrderCompleted bool           `gorm:"not null" json:"order_completed"`
	PointsAwarded  int64          `gorm:"not null" json:"points_awarded"`
	RegisteredAt   *time.Time     `json:"registered_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}
