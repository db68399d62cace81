package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/example/petmarket/internal/models"
)

func TestRedeemConvertsPointsToDiscount(t *testing.T) {
	svc, db := newTestLoyaltyService(t)
	userID := uuid.New()
	credit(t, svc, userID, 500)

	redemption, err := svc.Redeem(context.Background(), userID, 200)
	require.NoError(t, err)
	assert.True(t, redemption.Discount.Equal(decimal.RequireFromString("2.00")))
	assert.Equal(t, int64(300), redemption.Balance)

	account := loadAccount(t, db, userID)
	assert.Equal(t, int64(300), account.TotalPoints)
	assert.Equal(t, int64(500), account.LifetimePoints)

	var txn models.PointsTransaction
	require.NoError(t, db.First(&txn, "id = ?", redemption.TransactionID).Error)
	assert.Equal(t, models.PointsRedeemed, txn.Type)
	assert.Equal(t, int64(-200), txn.Points)
	assert.Equal(t, int64(300), txn.BalanceAfter)
}

func TestRedeemGuardsLeaveAccountUntouched(t *testing.T) {
	svc, db := newTestLoyaltyService(t)
	ctx := context.Background()
	userID := uuid.New()
	credit(t, svc, userID, 150)

	_, err := svc.Redeem(ctx, userID, 99)
	require.ErrorIs(t, err, ErrBelowMinimumRedemption)

	_, err = svc.Redeem(ctx, userID, 200)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	account := loadAccount(t, db, userID)
	assert.Equal(t, int64(150), account.TotalPoints)
	assert.Equal(t, int64(1), countTransactions(t, db, userID))
}

func TestRedeemWithoutAccount(t *testing.T) {
	svc, _ := newTestLoyaltyService(t)

	_, err := svc.Redeem(context.Background(), uuid.New(), 100)
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestRedeemConcurrentNeverOverdraws(t *testing.T) {
	svc, db := newTestLoyaltyService(t)
	userID := uuid.New()
	credit(t, svc, userID, 300)

	results := make([]error, 5)
	var g errgroup.Group
	for i := range results {
		g.Go(func() error {
			_, err := svc.Redeem(context.Background(), userID, 100)
			results[i] = err
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var ok, insufficient int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected redeem error: %v", err)
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, 2, insufficient)
	assert.Equal(t, int64(0), loadAccount(t, db, userID).TotalPoints)
	require.NoError(t, svc.VerifyLedger(context.Background(), userID))
}
