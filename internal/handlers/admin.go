package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/petmarket/internal/models"
	"github.com/example/petmarket/internal/services"
	"github.com/example/petmarket/internal/utils"
)

// AdminHandler manages staff-only endpoints.
type AdminHandler struct {
	db      *gorm.DB
	loyalty *services.LoyaltyService
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(db *gorm.DB, loyalty *services.LoyaltyService) *AdminHandler {
	return &AdminHandler{db: db, loyalty: loyalty}
}

// LoyaltyStats returns program totals alongside order figures.
func (h *AdminHandler) LoyaltyStats(c *fiber.Ctx) error {
	program, err := h.loyalty.Stats(c.UserContext())
	if err != nil {
		return err
	}

	var totalUsers int64
	if err := h.db.Model(&models.User{}).Count(&totalUsers).Error; err != nil {
		return err
	}

	type statusCount struct {
		Status string
		Count  int64
	}
	var statusCounts []statusCount
	if err := h.db.Model(&models.Order{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&statusCounts).Error; err != nil {
		return err
	}

	ordersByStatus := make(map[string]int64)
	var totalOrders int64
	for _, sc := range statusCounts {
		ordersByStatus[sc.Status] = sc.Count
		totalOrders += sc.Count
	}

	// Sums are cast to text so money never passes through float64.
	var sums struct {
		Revenue   string
		Discounts string
	}
	if err := h.db.Model(&models.Order{}).
		Where("status != ?", models.OrderStatusCancelled).
		Select("CAST(COALESCE(SUM(total_amount), 0) AS TEXT) as revenue, CAST(COALESCE(SUM(discount_amount), 0) AS TEXT) as discounts").
		Scan(&sums).Error; err != nil {
		return err
	}
	revenue, _ := decimal.NewFromString(sums.Revenue)
	discounts, _ := decimal.NewFromString(sums.Discounts)

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"total_users":      totalUsers,
			"total_orders":     totalOrders,
			"orders_by_status": ordersByStatus,
			"total_revenue":    revenue.Round(2),
			"points_discounts": discounts.Round(2),
			"loyalty":          program,
		},
	})
}

// VerifyLedger replays a user's points ledger and reports whether it matches
// the stored account.
func (h *AdminHandler) VerifyLedger(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	err = h.loyalty.VerifyLedger(c.UserContext(), userID)
	if errors.Is(err, services.ErrLedgerMismatch) {
		return c.JSON(fiber.Map{
			"success": true,
			"data":    fiber.Map{"user_id": userID, "consistent": false, "detail": err.Error()},
		})
	}
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"user_id": userID, "consistent": true},
	})
}

// ListAllOrders returns all orders with pagination, filtering, and user info.
func (h *AdminHandler) ListAllOrders(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.Order{})

	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	if search := strings.ToLower(strings.TrimSpace(c.Query("search"))); search != "" {
		query = query.Where(
			"LOWER(order_number) LIKE ? OR LOWER(delivery_address_line) LIKE ?",
			"%"+search+"%", "%"+search+"%",
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var orders []models.Order
	if err := query.Preload("Items").
		Preload("User", func(db *gorm.DB) *gorm.DB {
			return db.Select("id, first_name, last_name, phone, email, display_name, role, created_at, updated_at")
		}).
		Order("placed_at desc").
		Limit(pg.Limit).Offset(pg.Offset).
		Find(&orders).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    orders,
		"pagination": fiber.Map{
			"current_page":   pg.Page,
			"items_per_page": pg.Limit,
			"total_items":    total,
			"total_pages":    pg.TotalPages(total),
		},
	})
}
