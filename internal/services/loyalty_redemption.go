package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/petmarket/internal/models"
)

// Redemption is the outcome of converting points into a discount.
type Redemption struct {
	Points        int64           `json:"points"`
	Discount      decimal.Decimal `json:"discount"`
	Balance       int64           `json:"balance"`
	TransactionID uuid.UUID       `json:"transaction_id"`
}

// Redeem debits points and returns the discount they are worth. The caller
// applies the discount; lifetime points and tier are never lowered.
func (s *LoyaltyService) Redeem(ctx context.Context, userID uuid.UUID, points int64) (*Redemption, error) {
	if points < s.rates.MinimumRedemption {
		return nil, ErrBelowMinimumRedemption
	}

	discount := s.rates.DiscountForPoints(points)
	res, err := s.ApplyLedgerDelta(ctx, LedgerDelta{
		UserID:      userID,
		Points:      -points,
		Type:        models.PointsRedeemed,
		Description: fmt.Sprintf("Redeemed %d points for a %s discount", points, discount.StringFixed(2)),
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			return nil, ErrInsufficientBalance
		}
		return nil, fmt.Errorf("redeem points: %w", err)
	}

	log.Printf("[Loyalty] user %s redeemed %d points for %s, balance %d", userID, points, discount.StringFixed(2), res.Balance)
	return &Redemption{
		Points:        points,
		Discount:      discount,
		Balance:       res.Balance,
		TransactionID: res.TransactionID,
	}, nil
}
