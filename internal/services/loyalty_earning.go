package services

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/petmarket/internal/models"
)

// AwardForOrder credits points for a completed order. It returns nil without
// error when the total earns nothing or the order was already awarded.
// Referral completion is not chained here; callers invoke CompleteReferral.
func (s *LoyaltyService) AwardForOrder(ctx context.Context, userID, orderID uuid.UUID, orderTotal decimal.Decimal) (*LedgerResult, error) {
	earned := s.rates.PointsForAmount(orderTotal)
	if earned <= 0 {
		return nil, nil
	}

	var result *LedgerResult
	err := s.withRetry(ctx, "award_order", func() error {
		result = nil
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var awarded int64
			if err := tx.Model(&models.PointsTransaction{}).
				Where("order_id = ? AND type = ?", orderID, models.PointsEarned).
				Count(&awarded).Error; err != nil {
				return err
			}
			if awarded > 0 {
				return nil
			}

			res, err := s.applyDelta(tx, LedgerDelta{
				UserID:      userID,
				Points:      earned,
				Lifetime:    earned,
				Type:        models.PointsEarned,
				Description: fmt.Sprintf("Points earned on order total %s", orderTotal.StringFixed(2)),
				OrderID:     &orderID,
			})
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		if isDuplicate(err) {
			log.Printf("[Loyalty] order %s already awarded", orderID)
			return nil, nil
		}
		return nil, fmt.Errorf("award points for order %s: %w", orderID, err)
	}
	if result == nil {
		log.Printf("[Loyalty] order %s already awarded", orderID)
		return nil, nil
	}

	s.metrics.entry(string(models.PointsEarned), earned)
	log.Printf("[Loyalty] user %s earned %d points for order %s, balance %d, tier %s",
		userID, earned, orderID, result.Balance, result.Account.CurrentTier)
	return result, nil
}
