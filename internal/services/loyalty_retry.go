package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const retryBackoff = 15 * time.Millisecond

// Postgres SQLSTATEs that mean "run the transaction again".
var retryableSQLStates = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

// isConflict reports whether err is a transient concurrent-update failure.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPersistenceConflict) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := retryableSQLStates[pgErr.Code]
		return ok
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// withRetry runs fn, retrying conflicts up to maxRetries extra times.
// Exhausted conflicts surface as ErrPersistenceConflict.
func (s *LoyaltyService) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= s.rates.MaxRetries; attempt++ {
		if attempt > 0 {
			s.metrics.conflict(op)
			log.Printf("[Loyalty] %s conflict, retry %d/%d: %v", op, attempt, s.rates.MaxRetries, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}

		err = fn()
		if !isConflict(err) {
			return err
		}
	}

	if errors.Is(err, ErrPersistenceConflict) {
		return err
	}
	return errors.Join(ErrPersistenceConflict, err)
}
