package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/petmarket/internal/models"
)

const maxHistoryLimit = 100

// LoyaltyService owns the points ledger, tiers and referrals.
// Every balance change goes through applyDelta.
type LoyaltyService struct {
	db      *gorm.DB
	rates   LoyaltyRates
	metrics *LoyaltyMetrics
	now     func() time.Time
}

// NewLoyaltyService constructs a LoyaltyService. metrics may be nil; now
// defaults to time.Now.
func NewLoyaltyService(db *gorm.DB, rates LoyaltyRates, metrics *LoyaltyMetrics, now func() time.Time) *LoyaltyService {
	if now == nil {
		now = time.Now
	}
	return &LoyaltyService{db: db, rates: rates, metrics: metrics, now: now}
}

// Rates returns the program constants the service runs with.
func (s *LoyaltyService) Rates() LoyaltyRates {
	return s.rates
}

// LedgerDelta describes one balance-affecting event.
type LedgerDelta struct {
	UserID      uuid.UUID
	Points      int64
	Lifetime    int64
	Type        models.PointsTransactionType
	Description string
	OrderID     *uuid.UUID
	ReferralID  *uuid.UUID
}

// LedgerResult is the state right after a delta was applied.
type LedgerResult struct {
	Balance       int64                    `json:"balance"`
	TransactionID uuid.UUID                `json:"transaction_id"`
	Account       models.LoyaltyAccount    `json:"account"`
	Transaction   models.PointsTransaction `json:"transaction"`
}

// GetOrCreate returns the user's account, creating an empty bronze one on first touch.
func (s *LoyaltyService) GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.LoyaltyAccount, error) {
	var account *models.LoyaltyAccount
	err := s.withRetry(ctx, "get_or_create", func() error {
		acct, err := s.ensureAccount(s.db.WithContext(ctx), userID)
		account = acct
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load loyalty account %s: %w", userID, err)
	}
	return account, nil
}

func (s *LoyaltyService) ensureAccount(tx *gorm.DB, userID uuid.UUID) (*models.LoyaltyAccount, error) {
	// First touch is the normal path here, so a missing row is not an error.
	var account models.LoyaltyAccount
	res := tx.Where("user_id = ?", userID).Limit(1).Find(&account)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		return &account, nil
	}

	status := CalculateTier(0, s.rates.Thresholds)
	initial := models.LoyaltyAccount{
		UserID:       userID,
		CurrentTier:  string(status.Tier),
		NextTier:     string(status.NextTier),
		TierProgress: status.Progress,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&initial).Error; err != nil {
		return nil, err
	}

	if err := tx.Where("user_id = ?", userID).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// ApplyLedgerDelta applies d in its own transaction, retrying on conflicts.
func (s *LoyaltyService) ApplyLedgerDelta(ctx context.Context, d LedgerDelta) (*LedgerResult, error) {
	var result *LedgerResult
	err := s.withRetry(ctx, "apply_delta", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res, err := s.applyDelta(tx, d)
			result = res
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.entry(string(d.Type), d.Points)
	return result, nil
}

// applyDelta is the single write path into the ledger. It must run inside tx.
// Points must be non-zero and Lifetime must equal the positive part of Points,
// so lifetime points stay the sum of all credits.
// The balance moves by an atomic field update guarded against going negative,
// tier columns are recomputed from the new lifetime total, and the entry is
// stamped with the resulting balance and the account's next sequence number.
func (s *LoyaltyService) applyDelta(tx *gorm.DB, d LedgerDelta) (*LedgerResult, error) {
	if d.Points == 0 {
		return nil, errors.New("ledger delta must move the balance")
	}
	if want := max(d.Points, 0); d.Lifetime != want {
		return nil, fmt.Errorf("lifetime delta %d does not match points %d, want %d", d.Lifetime, d.Points, want)
	}
	if d.Type == "" {
		return nil, errors.New("ledger delta requires a transaction type")
	}

	if _, err := s.ensureAccount(tx, d.UserID); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}

	now := s.now()
	res := tx.Model(&models.LoyaltyAccount{}).
		Where("user_id = ? AND total_points + ? >= 0", d.UserID, d.Points).
		Updates(map[string]any{
			"total_points":    gorm.Expr("total_points + ?", d.Points),
			"lifetime_points": gorm.Expr("lifetime_points + ?", d.Lifetime),
			"entries":         gorm.Expr("entries + 1"),
			"updated_at":      now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("update account balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrInsufficientBalance
	}

	var account models.LoyaltyAccount
	if err := tx.Where("user_id = ?", d.UserID).First(&account).Error; err != nil {
		return nil, fmt.Errorf("reload account: %w", err)
	}

	if d.Lifetime != 0 {
		status := CalculateTier(account.LifetimePoints, s.rates.Thresholds)
		if err := tx.Model(&models.LoyaltyAccount{}).
			Where("id = ?", account.ID).
			Updates(map[string]any{
				"current_tier":  string(status.Tier),
				"next_tier":     string(status.NextTier),
				"tier_progress": status.Progress,
			}).Error; err != nil {
			return nil, fmt.Errorf("update tier: %w", err)
		}
		account.CurrentTier = string(status.Tier)
		account.NextTier = string(status.NextTier)
		account.TierProgress = status.Progress
	}

	txn := models.PointsTransaction{
		UserID:       d.UserID,
		Sequence:     account.Entries,
		Points:       d.Points,
		Type:         d.Type,
		Description:  d.Description,
		OrderID:      d.OrderID,
		ReferralID:   d.ReferralID,
		BalanceAfter: account.TotalPoints,
	}
	txn.CreatedAt = now
	if err := tx.Create(&txn).Error; err != nil {
		return nil, fmt.Errorf("append points transaction: %w", err)
	}

	return &LedgerResult{
		Balance:       account.TotalPoints,
		TransactionID: txn.ID,
		Account:       account,
		Transaction:   txn,
	}, nil
}

// TransactionPage is one page of a user's ledger, newest first.
type TransactionPage struct {
	Transactions []models.PointsTransaction `json:"transactions"`
	Total        int64                      `json:"total"`
	Page         int                        `json:"page"`
	Limit        int                        `json:"limit"`
	TotalPages   int                        `json:"total_pages"`
}

// History returns a page of the user's points transactions.
func (s *LoyaltyService) History(ctx context.Context, userID uuid.UUID, page, limit int) (*TransactionPage, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	query := s.db.WithContext(ctx).Model(&models.PointsTransaction{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count points transactions: %w", err)
	}

	items := make([]models.PointsTransaction, 0, limit)
	if err := query.Order("sequence desc").
		Limit(limit).Offset((page - 1) * limit).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list points transactions: %w", err)
	}

	return &TransactionPage{
		Transactions: items,
		Total:        total,
		Page:         page,
		Limit:        limit,
		TotalPages:   int((total + int64(limit) - 1) / int64(limit)),
	}, nil
}

// VerifyLedger replays the user's transactions from zero and checks every
// recorded balance, the account balance and the lifetime total against it.
func (s *LoyaltyService) VerifyLedger(ctx context.Context, userID uuid.UUID) error {
	var txns []models.PointsTransaction
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("sequence asc").
		Find(&txns).Error; err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	var balance, lifetime int64
	for i, txn := range txns {
		balance += txn.Points
		if txn.Points > 0 {
			lifetime += txn.Points
		}
		if txn.Sequence != int64(i+1) {
			return fmt.Errorf("%w: entry %s has sequence %d, expected %d", ErrLedgerMismatch, txn.ID, txn.Sequence, i+1)
		}
		if txn.BalanceAfter != balance {
			return fmt.Errorf("%w: entry %d records balance %d, replay gives %d", ErrLedgerMismatch, txn.Sequence, txn.BalanceAfter, balance)
		}
	}

	var account models.LoyaltyAccount
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&account)
	if res.Error != nil {
		return fmt.Errorf("load account: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if len(txns) == 0 {
			return nil
		}
		return fmt.Errorf("%w: %d entries without an account", ErrLedgerMismatch, len(txns))
	}

	if account.TotalPoints != balance {
		return fmt.Errorf("%w: account balance %d, replay gives %d", ErrLedgerMismatch, account.TotalPoints, balance)
	}
	if account.LifetimePoints != lifetime {
		return fmt.Errorf("%w: lifetime points %d, replay gives %d", ErrLedgerMismatch, account.LifetimePoints, lifetime)
	}
	return nil
}

// LoyaltySummary is the dashboard view of an account.
type LoyaltySummary struct {
	Account           *models.LoyaltyAccount `json:"account"`
	Status            TierStatus             `json:"tier_status"`
	Benefits          []string               `json:"benefits"`
	MinimumRedemption int64                  `json:"minimum_redemption"`
	RedeemableValue   decimal.Decimal        `json:"redeemable_value"`
}

// Summary returns the account with its tier standing and benefits.
func (s *LoyaltyService) Summary(ctx context.Context, userID uuid.UUID) (*LoyaltySummary, error) {
	account, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	status := CalculateTier(account.LifetimePoints, s.rates.Thresholds)
	redeemable := decimal.Zero
	if account.TotalPoints >= s.rates.MinimumRedemption {
		redeemable = s.rates.DiscountForPoints(account.TotalPoints)
	}

	return &LoyaltySummary{
		Account:           account,
		Status:            status,
		Benefits:          TierBenefits(status.Tier),
		MinimumRedemption: s.rates.MinimumRedemption,
		RedeemableValue:   redeemable,
	}, nil
}

// ProgramStats aggregates the whole program for the admin dashboard.
type ProgramStats struct {
	Accounts          int64            `json:"accounts"`
	TierDistribution  map[string]int64 `json:"tier_distribution"`
	OutstandingPoints int64            `json:"outstanding_points"`
	LifetimePoints    int64            `json:"lifetime_points"`
	Referrals         map[string]int64 `json:"referrals"`
}

// Stats returns program-wide totals.
func (s *LoyaltyService) Stats(ctx context.Context) (*ProgramStats, error) {
	db := s.db.WithContext(ctx)
	stats := &ProgramStats{
		TierDistribution: make(map[string]int64),
		Referrals:        make(map[string]int64),
	}

	type groupCount struct {
		Name  string
		Count int64
	}

	var tiers []groupCount
	if err := db.Model(&models.LoyaltyAccount{}).
		Select("current_tier as name, count(*) as count").
		Group("current_tier").
		Scan(&tiers).Error; err != nil {
		return nil, fmt.Errorf("tier distribution: %w", err)
	}
	for _, t := range tiers {
		stats.TierDistribution[t.Name] = t.Count
		stats.Accounts += t.Count
	}

	var totals struct {
		Outstanding int64
		Lifetime    int64
	}
	if err := db.Model(&models.LoyaltyAccount{}).
		Select("COALESCE(SUM(total_points), 0) as outstanding, COALESCE(SUM(lifetime_points), 0) as lifetime").
		Scan(&totals).Error; err != nil {
		return nil, fmt.Errorf("points totals: %w", err)
	}
	stats.OutstandingPoints = totals.Outstanding
	stats.LifetimePoints = totals.Lifetime

	var referrals []groupCount
	if err := db.Model(&models.Referral{}).
		Select("status as name, count(*) as count").
		Group("status").
		Scan(&referrals).Error; err != nil {
		return nil, fmt.Errorf("referral counts: %w", err)
	}
	for _, r := range referrals {
		stats.Referrals[r.Name] = r.Count
	}

	return stats, nil
}

func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key")
}
