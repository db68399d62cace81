package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/petmarket/internal/database"
	"github.com/example/petmarket/internal/models"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func setupLoyaltyTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection serialises transactions the way row locks do on postgres.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestLoyaltyService(t *testing.T) (*LoyaltyService, *gorm.DB) {
	t.Helper()
	db := setupLoyaltyTestDB(t)
	return NewLoyaltyService(db, DefaultLoyaltyRates(), nil, func() time.Time { return testNow }), db
}

func credit(t *testing.T, svc *LoyaltyService, userID uuid.UUID, points int64) *LedgerResult {
	t.Helper()
	res, err := svc.ApplyLedgerDelta(context.Background(), LedgerDelta{
		UserID:      userID,
		Points:      points,
		Lifetime:    points,
		Type:        models.PointsEarned,
		Description: "test credit",
	})
	require.NoError(t, err)
	return res
}

func loadAccount(t *testing.T, db *gorm.DB, userID uuid.UUID) models.LoyaltyAccount {
	t.Helper()
	var account models.LoyaltyAccount
	require.NoError(t, db.Where("user_id = ?", userID).First(&account).Error)
	return account
}

func countTransactions(t *testing.T, db *gorm.DB, userID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.PointsTransaction{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}
