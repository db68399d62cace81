package services

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsConflict(t *testing.T) {
	assert.False(t, isConflict(nil))
	assert.True(t, isConflict(ErrPersistenceConflict))
	assert.True(t, isConflict(&pgconn.PgError{Code: "40001"}))
	assert.True(t, isConflict(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, isConflict(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isConflict(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, isConflict(ErrInsufficientBalance))
}

func TestWithRetryRecoversFromConflict(t *testing.T) {
	svc := NewLoyaltyService(nil, DefaultLoyaltyRates(), nil, nil)

	calls := 0
	err := svc.withRetry(context.Background(), "test", func() error {
		calls++
		if calls == 1 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetryGivesUp(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewLoyaltyMetrics(reg)
	svc := NewLoyaltyService(nil, DefaultLoyaltyRates(), metrics, nil)

	calls := 0
	err := svc.withRetry(context.Background(), "apply_delta", func() error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})
	require.ErrorIs(t, err, ErrPersistenceConflict)

	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, DefaultLoyaltyRates().MaxRetries+1, calls)
	assert.Equal(t, float64(DefaultLoyaltyRates().MaxRetries),
		testutil.ToFloat64(metrics.conflicts.WithLabelValues("apply_delta")))
}

func TestWithRetryPassesThroughOtherErrors(t *testing.T) {
	svc := NewLoyaltyService(nil, DefaultLoyaltyRates(), nil, nil)

	calls := 0
	err := svc.withRetry(context.Background(), "test", func() error {
		calls++
		return ErrInsufficientBalance
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, 1, calls)
}

func TestWithRetryHonoursContext(t *testing.T) {
	svc := NewLoyaltyService(nil, DefaultLoyaltyRates(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	err := svc.withRetry(ctx, "test", func() error {
		cancel()
		return ErrPersistenceConflict
	})
	require.ErrorIs(t, err, context.Canceled)
}
