package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/petmarket/internal/models"
)

const referralCodePrefix = "REF"

// ReferralCredit is a referral transition together with the ledger entry it paid.
type ReferralCredit struct {
	Referral models.Referral `json:"referral"`
	Ledger   *LedgerResult   `json:"ledger,omitempty"`
}

// referralCodeBase derives the deterministic code stem for a referrer.
func referralCodeBase(referrerID uuid.UUID) string {
	hex := strings.ReplaceAll(referrerID.String(), "-", "")
	return referralCodePrefix + strings.ToUpper(hex[:6])
}

func referralCode(base string, suffix int64) string {
	if suffix == 0 {
		return base
	}
	return base + strconv.FormatInt(suffix, 10)
}

// GenerateCode returns an unused code for referrerID: the base stem when it
// is free, otherwise the stem with the next free numeric suffix. It gives up
// after MaxCodeAttempts candidates. The unique index on referrals.code
// settles concurrent callers.
func (s *LoyaltyService) GenerateCode(ctx context.Context, referrerID uuid.UUID) (string, error) {
	db := s.db.WithContext(ctx)
	base := referralCodeBase(referrerID)

	codeFree := func(code string) (bool, error) {
		var exists int64
		if err := db.Model(&models.Referral{}).Where("code = ?", code).Count(&exists).Error; err != nil {
			return false, fmt.Errorf("check referral code: %w", err)
		}
		return exists == 0, nil
	}

	free, err := codeFree(base)
	if err != nil {
		return "", err
	}
	if free {
		return base, nil
	}

	// The stem is taken, so at least one code shares it and suffixes start at 1.
	var taken int64
	if err := db.Model(&models.Referral{}).
		Where("code LIKE ?", base+"%").
		Count(&taken).Error; err != nil {
		return "", fmt.Errorf("count referral codes: %w", err)
	}

	for attempt := 1; attempt < s.rates.MaxCodeAttempts; attempt++ {
		code := referralCode(base, taken+int64(attempt-1))
		free, err := codeFree(code)
		if err != nil {
			return "", err
		}
		if free {
			return code, nil
		}
	}

	return "", ErrReferralCodeExhausted
}

// CreateReferral allocates a code for referrerID and stores a pending referral.
func (s *LoyaltyService) CreateReferral(ctx context.Context, referrerID uuid.UUID, referredEmail string) (*models.Referral, error) {
	var referral *models.Referral
	err := s.withRetry(ctx, "create_referral", func() error {
		code, err := s.GenerateCode(ctx, referrerID)
		if err != nil {
			return err
		}

		r := models.Referral{
			ReferrerID:    referrerID,
			ReferredEmail: strings.ToLower(strings.TrimSpace(referredEmail)),
			Code:          code,
			Status:        models.ReferralPending,
		}
		if err := s.db.WithContext(ctx).Create(&r).Error; err != nil {
			if isDuplicate(err) {
				return ErrPersistenceConflict
			}
			return err
		}
		referral = &r
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrReferralCodeExhausted) {
			return nil, ErrReferralCodeExhausted
		}
		return nil, fmt.Errorf("create referral: %w", err)
	}

	s.metrics.referral(string(models.ReferralPending))
	log.Printf("[Referral] user %s created referral code %s", referrerID, referral.Code)
	return referral, nil
}

// RegisterReferral binds a new user to a pending referral and pays the
// referred user's welcome bonus. Unknown, consumed and self-referral codes
// all fail with ErrInvalidReferralCode.
func (s *LoyaltyService) RegisterReferral(ctx context.Context, code string, newUserID uuid.UUID) (*ReferralCredit, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrInvalidReferralCode
	}

	welcome := s.rates.ReferralWelcomeBonus
	var credit *ReferralCredit
	err := s.withRetry(ctx, "register_referral", func() error {
		credit = nil
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var referral models.Referral
			if err := tx.Where("code = ? AND status = ?", code, models.ReferralPending).
				First(&referral).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrInvalidReferralCode
				}
				return err
			}
			if referral.ReferrerID == newUserID {
				return ErrInvalidReferralCode
			}

			var alreadyReferred int64
			if err := tx.Model(&models.Referral{}).
				Where("referred_id = ?", newUserID).
				Count(&alreadyReferred).Error; err != nil {
				return err
			}
			if alreadyReferred > 0 {
				return ErrInvalidReferralCode
			}

			now := s.now()
			res := tx.Model(&models.Referral{}).
				Where("id = ? AND status = ?", referral.ID, models.ReferralPending).
				Updates(map[string]any{
					"status":         models.ReferralRegistered,
					"referred_id":    newUserID,
					"points_awarded": welcome,
					"registered_at":  now,
					"updated_at":     now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrInvalidReferralCode
			}

			referral.Status = models.ReferralRegistered
			referral.ReferredID = &newUserID
			referral.PointsAwarded = welcome
			referral.RegisteredAt = &now
			referral.UpdatedAt = now
			credit = &ReferralCredit{Referral: referral}

			if welcome <= 0 {
				return nil
			}
			ledger, err := s.applyDelta(tx, LedgerDelta{
				UserID:      newUserID,
				Points:      welcome,
				Lifetime:    welcome,
				Type:        models.PointsReferral,
				Description: "Welcome bonus for joining with referral code " + code,
				ReferralID:  &referral.ID,
			})
			if err != nil {
				return err
			}
			credit.Ledger = ledger
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrInvalidReferralCode) {
			return nil, ErrInvalidReferralCode
		}
		return nil, fmt.Errorf("register referral: %w", err)
	}

	s.metrics.referral(string(models.ReferralRegistered))
	if credit.Ledger != nil {
		s.metrics.entry(string(models.PointsReferral), welcome)
	}
	log.Printf("[Referral] user %s registered with code %s, welcome bonus %d", newUserID, code, welcome)
	return credit, nil
}

// CompleteReferral pays the referrer once the referred user's first order is
// fulfilled. It returns nil without error when the user has no registered,
// uncompleted referral; completion happens at most once per referral.
func (s *LoyaltyService) CompleteReferral(ctx context.Context, referredUserID uuid.UUID) (*ReferralCredit, error) {
	bonus := s.rates.ReferralReferrerBonus
	var credit *ReferralCredit
	err := s.withRetry(ctx, "complete_referral", func() error {
		credit = nil
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var referral models.Referral
			err := tx.Where("referred_id = ? AND status = ? AND order_completed = ?",
				referredUserID, models.ReferralRegistered, false).
				First(&referral).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			if err != nil {
				return err
			}

			now := s.now()
			res := tx.Model(&models.Referral{}).
				Where("id = ? AND status = ? AND order_completed = ?", referral.ID, models.ReferralRegistered, false).
				Updates(map[string]any{
					"status":          models.ReferralCompleted,
					"order_completed": true,
					"points_awarded":  gorm.Expr("points_awarded + ?", bonus),
					"completed_at":    now,
					"updated_at":      now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}

			credit = &ReferralCredit{}
			if bonus > 0 {
				ledger, err := s.applyDelta(tx, LedgerDelta{
					UserID:      referral.ReferrerID,
					Points:      bonus,
					Lifetime:    bonus,
					Type:        models.PointsReferral,
					Description: "Referral bonus: " + referral.Code + " completed a first order",
					ReferralID:  &referral.ID,
				})
				if err != nil {
					return err
				}
				credit.Ledger = ledger
			}

			if err := tx.First(&credit.Referral, "id = ?", referral.ID).Error; err != nil {
				return err
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("complete referral for user %s: %w", referredUserID, err)
	}
	if credit == nil {
		return nil, nil
	}

	s.metrics.referral(string(models.ReferralCompleted))
	if credit.Ledger != nil {
		s.metrics.entry(string(models.PointsReferral), bonus)
	}
	log.Printf("[Referral] referral %s completed, referrer %s credited %d points",
		credit.Referral.Code, credit.Referral.ReferrerID, bonus)
	return credit, nil
}

// ListReferrals returns the referrals created by referrerID, newest first.
func (s *LoyaltyService) ListReferrals(ctx context.Context, referrerID uuid.UUID) ([]models.Referral, error) {
	referrals := make([]models.Referral, 0)
	if err := s.db.WithContext(ctx).
		Where("referrer_id = ?", referrerID).
		Order("created_at desc").
		Find(&referrals).Error; err != nil {
		return nil, fmt.Errorf("list referrals: %w", err)
	}
	return referrals, nil
}

// ReferralStats summarises a referrer's referrals.
type ReferralStats struct {
	Total        int64 `json:"total"`
	Pending      int64 `json:"pending"`
	Registered   int64 `json:"registered"`
	Completed    int64 `json:"completed"`
	PointsEarned int64 `json:"points_earned"`
}

// ReferralStats counts referrals by status and sums the referral bonuses the
// referrer has received.
func (s *LoyaltyService) ReferralStats(ctx context.Context, referrerID uuid.UUID) (*ReferralStats, error) {
	db := s.db.WithContext(ctx)

	var counts []struct {
		Status models.ReferralStatus
		Count  int64
	}
	if err := db.Model(&models.Referral{}).
		Select("status, count(*) as count").
		Where("referrer_id = ?", referrerID).
		Group("status").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("count referrals: %w", err)
	}

	stats := &ReferralStats{}
	for _, c := range counts {
		stats.Total += c.Count
		switch c.Status {
		case models.ReferralPending:
			stats.Pending = c.Count
		case models.ReferralRegistered:
			stats.Registered = c.Count
		case models.ReferralCompleted:
			stats.Completed = c.Count
		}
	}

	owned := db.Model(&models.Referral{}).Select("id").Where("referrer_id = ?", referrerID)
	if err := db.Model(&models.PointsTransaction{}).
		Select("COALESCE(SUM(points), 0)").
		Where("user_id = ? AND type = ? AND referral_id IN (?)", referrerID, models.PointsReferral, owned).
		Scan(&stats.PointsEarned).Error; err != nil {
		return nil, fmt.Errorf("sum referral points: %w", err)
	}

	return stats, nil
}
