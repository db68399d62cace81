package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/petmarket/internal/middleware"
	"github.com/example/petmarket/internal/services"
	"github.com/example/petmarket/internal/utils"
)

// LoyaltyHandler exposes the points program to customers.
type LoyaltyHandler struct {
	loyalty *services.LoyaltyService
}

// NewLoyaltyHandler constructs LoyaltyHandler.
func NewLoyaltyHandler(loyalty *services.LoyaltyService) *LoyaltyHandler {
	return &LoyaltyHandler{loyalty: loyalty}
}

// Summary returns the caller's balance, tier standing and benefits.
func (h *LoyaltyHandler) Summary(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	summary, err := h.loyalty.Summary(c.UserContext(), userID)
	if err != nil {
		return writeLoyaltyError(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "data": summary})
}

// Transactions returns the caller's points history, newest first.
func (h *LoyaltyHandler) Transactions(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	pg := utils.ParsePagination(c)
	page, err := h.loyalty.History(c.UserContext(), userID, pg.Page, pg.Limit)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    page.Transactions,
		"pagination": fiber.Map{
			"current_page":   page.Page,
			"items_per_page": page.Limit,
			"total_items":    page.Total,
			"total_pages":    page.TotalPages,
		},
	})
}

type redeemRequest struct {
	Points int64 `json:"points"`
}

// Redeem converts points into a discount outside of checkout.
func (h *LoyaltyHandler) Redeem(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req redeemRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Points <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "points must be positive")
	}

	redemption, err := h.loyalty.Redeem(c.UserContext(), userID, req.Points)
	if err != nil {
		return writeLoyaltyError(c, err)
	}

	return c.JSON(fiber.Map{"success": true, "data": redemption})
}

// Tiers lists every tier with its entry threshold and benefits.
func (h *LoyaltyHandler) Tiers(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    services.AllTiers(h.loyalty.Rates().Thresholds),
	})
}

type createReferralRequest struct {
	Email string `json:"email"`
}

// CreateReferral issues a new referral code for the caller.
func (h *LoyaltyHandler) CreateReferral(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req createReferralRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	if email := strings.TrimSpace(req.Email); email != "" && !strings.Contains(email, "@") {
		return fiber.NewError(fiber.StatusBadRequest, "invalid email")
	}

	referral, err := h.loyalty.CreateReferral(c.UserContext(), userID, req.Email)
	if err != nil {
		return writeLoyaltyError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": referral})
}

// ListReferrals returns the caller's referrals with aggregate stats.
func (h *LoyaltyHandler) ListReferrals(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	referrals, err := h.loyalty.ListReferrals(c.UserContext(), userID)
	if err != nil {
		return err
	}
	stats, err := h.loyalty.ReferralStats(c.UserContext(), userID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    referrals,
		"stats":   stats,
	})
}
