package services

import "net/http"

// LoyaltyError is a validation or conflict outcome of a loyalty operation.
// Message is safe to show to end users.
type LoyaltyError struct {
	Name    string
	Status  int
	Message string
}

func (e *LoyaltyError) Error() string {
	return e.Message
}

var (
	ErrInsufficientBalance = &LoyaltyError{
		Name:    "InsufficientBalance",
		Status:  http.StatusUnprocessableEntity,
		Message: "insufficient points balance",
	}
	ErrBelowMinimumRedemption = &LoyaltyError{
		Name:    "BelowMinimumRedemption",
		Status:  http.StatusUnprocessableEntity,
		Message: "points to redeem are below the minimum redemption",
	}
	ErrInvalidReferralCode = &LoyaltyError{
		Name:    "InvalidReferralCode",
		Status:  http.StatusBadRequest,
		Message: "invalid referral code",
	}
	ErrPersistenceConflict = &LoyaltyError{
		Name:    "PersistenceConflict",
		Status:  http.StatusServiceUnavailable,
		Message: "points service is busy, please retry",
	}
	ErrReferralCodeExhausted = &LoyaltyError{
		Name:    "ReferralCodeExhausted",
		Status:  http.StatusServiceUnavailable,
		Message: "could not allocate a referral code, please retry",
	}
	ErrLedgerMismatch = &LoyaltyError{
		Name:    "LedgerMismatch",
		Status:  http.StatusInternalServerError,
		Message: "points ledger does not match account balance",
	}
)
