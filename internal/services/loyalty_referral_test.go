package services

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/example/petmarket/internal/models"
)

func TestReferralCodeSuffixes(t *testing.T) {
	svc, _ := newTestLoyaltyService(t)
	ctx := context.Background()
	referrerID := uuid.New()
	base := referralCodeBase(referrerID)

	assert.True(t, strings.HasPrefix(base, "REF"))
	assert.Len(t, base, 9)
	assert.Equal(t, strings.ToUpper(base), base)

	codes := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		referral, err := svc.CreateReferral(ctx, referrerID, "")
		require.NoError(t, err)
		assert.Equal(t, models.ReferralPending, referral.Status)
		codes = append(codes, referral.Code)
	}
	assert.Equal(t, []string{base, base + "1", base + "2"}, codes)
}

func TestReferralCodesStayUnique(t *testing.T) {
	svc, db := newTestLoyaltyService(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := svc.CreateReferral(ctx, uuid.New(), "")
		require.NoError(t, err)
	}

	referrerID := uuid.New()
	var g errgroup.Group
	for i := 0; i < 3; i++ {
		g.Go(func() error {
			_, err := svc.CreateReferral(ctx, referrerID, "")
			return err
		})
	}
	require.NoError(t, g.Wait())

	var codes []string
	require.NoError(t, db.Model(&models.Referral{}).Pluck("code", &codes).Error)
	require.Len(t, codes, 23)
	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

func TestReferralCodeExhausted(t *testing.T) {
	db := setupLoyaltyTestDB(t)
	rates := DefaultLoyaltyRates()
	rates.MaxCodeAttempts = 1
	svc := NewLoyaltyService(db, rates, nil, func() time.Time { return testNow })

	referrerID := uuid.New()
	base := referralCodeBase(referrerID)
	taken := models.Referral{ReferrerID: uuid.New(), Code: base, Status: models.ReferralPending}
	require.NoError(t, db.Create(&taken).Error)

	_, err := svc.CreateReferral(context.Background(), referrerID, "")
	require.ErrorIs(t, err, ErrReferralCodeExhausted)
}

func TestReferralCodePrefersFreeBase(t *testing.T) {
	svc, db := newTestLoyaltyService(t)
	ctx := context.Background()
	referrerID := uuid.New()
	base := referralCodeBase(referrerID)

	suffixed := models.Referral{ReferrerID: uuid.New(), Code: base + "1", Status: models.ReferralPending}
	require.NoError(t, db.Create(&suffixed).Error)

	first, err := svc.CreateReferral(ctx, referrerID, "")
	require.NoError(t, err)
	assert.Equal(t, base, first.Code)

	second, err := svc.CreateReferral(ctx, referrerID, "")
	require.NoError(t, err)
	assert.Equal(t, base+"2", second.Code)
}

func TestRegisterReferralCreditsWelcomeBonus(t *testing.T) {
	svc, db := newTestLoyaltyService(t)
	ctx := context.Background()
	referrerID, newUserID := uuid.New(), uuid.New()

	referral, err := svc.CreateReferral(ctx, referrerID, "  Friend@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "friend@example.com", referral.ReferredEmail)

	credit, err := svc.RegisterReferral(ctx, strings.ToLower(referral.Code), newUserID)
	require.NoError(t, err)
	assert.Equal(t, models.ReferralRegistered, credit.Referral.Status)
	require.NotNil(t, credit.Referral.ReferredID)
	assert.Equal(t, newUserID, *credit.Referral.ReferredID)
	assert.Equal(t, int64(50), credit.Referral.PointsAwarded)
	require.NotNil(t, credit.Ledger)
	assert.Equal(t, int64(50), credit.Ledger.Balance)
	assert.Equal(t, models.PointsReferral, credit.Ledger.Transaction.Type)

	account := loadAccount(t, db, newUserID)
	assert.Equal(t, int64(50), account.TotalPoints)
	assert.Equal(t, int64(50), account.LifetimePoints)

	var stored models.Referral
	require.NoError(t, db.First(&stored, "id = ?", referral.ID).Error)
	assert.Equal(t, models.ReferralRegistered, stored.Status)
	require.NotNil(t, stored.RegisteredAt)

	_, err = svc.RegisterReferral(ctx, referral.Code, uuid.New())
	require.ErrorIs(t, err, ErrInvalidReferralCode)
}

func TestRegisterReferralRejectsBadCodes(t *testing.T) {
	svc, db := newTestLoyaltyService(t)
	ctx := context.Background()
	referrerID := uuid.New()

	referral, err := svc.CreateReferral(ctx, referrerID, "")
	require.NoError(t, err)

	_, err = svc.RegisterReferral(ctx, "", uuid.New())
	require.ErrorIs(t, err, ErrInvalidReferralCode)

	_, err = svc.RegisterReferral(ctx, "REFNOPE", uuid.New())
	require.ErrorIs(t, err, ErrInvalidReferralCode)

	_, err = svc.RegisterReferral(ctx, referral.Code, referrerID)
	require.ErrorIs(t, err, ErrInvalidReferralCode)

	var stored models.Referral
	require.NoError(t, db.First(&stored, "id = ?", referral.ID).Error)
	assert.Equal(t, models.ReferralPending, stored.Status)
	assert.Nil(t, stored.ReferredID)
}

func TestRegisterReferralOncePerUser(t *testing.T) {
	svc, db := newTestLoyaltyService(t)
	ctx := context.Background()
	newUserID := uuid.New()

	first, err := svc.CreateReferral(ctx, uuid.New(), "")
	require.NoError(t, err)
	second, err := svc.CreateReferral(ctx, uuid.New(), "")
	require.NoError(t, err)

	_, err = svc.RegisterReferral(ctx, first.Code, newUserID)
	require.NoError(t, err)
	_, err = svc.RegisterReferral(ctx, second.Code, newUserID)
	require.ErrorIs(t, err, ErrInvalidReferralCode)

	assert.Equal(t, int64(50), loadAccount(t, db, newUserID).TotalPoints)
}

func TestCompleteReferralPaysReferrerOnce(t *testing.T) {
	svc, db := newTestLoyaltyService(t)
	ctx := context.Background()
	referrerID, newUserID := uuid.New(), uuid.New()

	referral, err := svc.CreateReferral(ctx, referrerID, "")
	require.NoError(t, err)
	_, err = svc.RegisterReferral(ctx, referral.Code, newUserID)
	require.NoError(t, err)

	credit, err := svc.CompleteReferral(ctx, newUserID)
	require.NoError(t, err)
	require.NotNil(t, credit)
	assert.Equal(t, models.ReferralCompleted, credit.Referral.Status)
	assert.True(t, credit.Referral.OrderCompleted)
	assert.Equal(t, int64(150), credit.Referral.PointsAwarded)
	require.NotNil(t, credit.Referral.CompletedAt)
	require.NotNil(t, credit.Ledger)
	assert.Equal(t, int64(100), credit.Ledger.Balance)

	again, err := svc.CompleteReferral(ctx, newUserID)
	require.NoError(t, err)
	assert.Nil(t, again)

	assert.Equal(t, int64(100), loadAccount(t, db, referrerID).TotalPoints)
	assert.Equal(t, int64(50), loadAccount(t, db, newUserID).TotalPoints)
	require.NoError(t, svc.VerifyLedger(ctx, referrerID))
}

func TestCompleteReferralConcurrent(t *testing.T) {
	svc, db := newTestLoyaltyService(t)
	ctx := context.Background()
	referrerID, newUserID := uuid.New(), uuid.New()

	referral, err := svc.CreateReferral(ctx, referrerID, "")
	require.NoError(t, err)
	_, err = svc.RegisterReferral(ctx, referral.Code, newUserID)
	require.NoError(t, err)

	var completed atomic.Int32
	var g errgroup.Group
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			credit, err := svc.CompleteReferral(ctx, newUserID)
			if credit != nil {
				completed.Add(1)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), completed.Load())
	assert.Equal(t, int64(100), loadAccount(t, db, referrerID).TotalPoints)
	assert.Equal(t, int64(1), countTransactions(t, db, referrerID))
}

func TestCompleteReferralWithoutReferral(t *testing.T) {
	svc, db := newTestLoyaltyService(t)
	ctx := context.Background()

	credit, err := svc.CompleteReferral(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, credit)

	// A pending referral has no referred user yet, so nothing completes.
	referral, err := svc.CreateReferral(ctx, uuid.New(), "")
	require.NoError(t, err)
	credit, err = svc.CompleteReferral(ctx, referral.ReferrerID)
	require.NoError(t, err)
	assert.Nil(t, credit)

	var stored models.Referral
	require.NoError(t, db.First(&stored, "id = ?", referral.ID).Error)
	assert.Equal(t, models.ReferralPending, stored.Status)
}

func TestReferralStatsAndList(t *testing.T) {
	svc, _ := newTestLoyaltyService(t)
	ctx := context.Background()
	referrerID := uuid.New()

	pending, err := svc.CreateReferral(ctx, referrerID, "")
	require.NoError(t, err)
	registered, err := svc.CreateReferral(ctx, referrerID, "")
	require.NoError(t, err)
	completed, err := svc.CreateReferral(ctx, referrerID, "")
	require.NoError(t, err)

	_, err = svc.RegisterReferral(ctx, registered.Code, uuid.New())
	require.NoError(t, err)
	buyer := uuid.New()
	_, err = svc.RegisterReferral(ctx, completed.Code, buyer)
	require.NoError(t, err)
	_, err = svc.CompleteReferral(ctx, buyer)
	require.NoError(t, err)

	// Points from other sources are not referral earnings.
	credit(t, svc, referrerID, 40)

	stats, err := svc.ReferralStats(ctx, referrerID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.Registered)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(100), stats.PointsEarned)

	list, err := svc.ListReferrals(ctx, referrerID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	codes := []string{list[0].Code, list[1].Code, list[2].Code}
	assert.ElementsMatch(t, []string{pending.Code, registered.Code, completed.Code}, codes)

	none, err := svc.ListReferrals(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, none)
}
