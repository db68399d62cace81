package handlers

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/petmarket/internal/middleware"
	"github.com/example/petmarket/internal/models"
	"github.com/example/petmarket/internal/services"
	"github.com/example/petmarket/internal/utils"
)

// OrderHandler manages order endpoints.
type OrderHandler struct {
	db      *gorm.DB
	loyalty *services.LoyaltyService
}

// NewOrderHandler constructs OrderHandler.
func NewOrderHandler(db *gorm.DB, loyalty *services.LoyaltyService) *OrderHandler {
	return &OrderHandler{db: db, loyalty: loyalty}
}

type orderProductRequest struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type createOrderRequest struct {
	DeliveryMethod      string                `json:"delivery_method"`
	DeliveryAddressLine string                `json:"delivery_address_line"`
	PaymentMethod       string                `json:"payment_method"`
	Currency            string                `json:"currency"`
	Products            []orderProductRequest `json:"products"`
	PointsToRedeem      int64                 `json:"points_to_redeem"`
	Notes               string                `json:"notes"`
}

// CreateOrder allows authenticated users to place an order, optionally paying
// part of it with points.
func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req createOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Products) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "order has no products")
	}
	if req.PointsToRedeem < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "points_to_redeem must not be negative")
	}

	order := models.Order{
		UserID:              userID,
		DeliveryMethod:      req.DeliveryMethod,
		DeliveryAddressLine: req.DeliveryAddressLine,
		PaymentMethod:       req.PaymentMethod,
		Currency:            req.Currency,
		Notes:               req.Notes,
		Status:              models.OrderStatusPending,
		PlacedAt:            time.Now(),
	}
	if order.Currency == "" {
		order.Currency = "USD"
	}

	subtotal := decimal.Zero
	for _, p := range req.Products {
		if p.Quantity <= 0 || p.UnitPrice.IsNegative() {
			return fiber.NewError(fiber.StatusBadRequest, "invalid product line")
		}

		item := models.OrderItem{
			ProductName: p.ProductName,
			Quantity:    p.Quantity,
			UnitPrice:   p.UnitPrice,
			LineTotal:   p.UnitPrice.Mul(decimal.NewFromInt(int64(p.Quantity))).Round(2),
		}
		if p.ProductID != "" {
			if id, err := uuid.Parse(p.ProductID); err == nil {
				item.ProductID = &id
			}
		}

		subtotal = subtotal.Add(item.LineTotal)
		order.Items = append(order.Items, item)
	}

	discount := decimal.Zero
	if req.PointsToRedeem > 0 {
		discount = h.loyalty.Rates().DiscountForPoints(req.PointsToRedeem)
		if discount.GreaterThan(subtotal) {
			return fiber.NewError(fiber.StatusBadRequest, "points discount exceeds order subtotal")
		}
	}

	order.Subtotal = subtotal
	order.DiscountAmount = discount
	order.TotalAmount = subtotal.Sub(discount)
	order.PointsRedeemed = req.PointsToRedeem
	order.OrderNumber = generateOrderNumber()

	if err := h.db.Create(&order).Error; err != nil {
		return err
	}

	// The order exists before points are debited so a failed debit can be
	// undone by removing the order, never by crediting points back.
	if req.PointsToRedeem > 0 {
		redemption, err := h.loyalty.Redeem(c.UserContext(), userID, req.PointsToRedeem)
		if err != nil {
			if delErr := h.db.Select("Items").Delete(&order).Error; delErr != nil {
				log.Printf("[Order] failed to remove order %s after redemption error: %v", order.ID, delErr)
			}
			return writeLoyaltyError(c, err)
		}
		log.Printf("[Order] order %s redeemed %d points (txn %s)", order.OrderNumber, redemption.Points, redemption.TransactionID)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"id":              order.ID,
			"order_number":    order.OrderNumber,
			"status":          order.Status,
			"placed_at":       order.PlacedAt,
			"subtotal":        order.Subtotal,
			"discount":        order.DiscountAmount,
			"total":           order.TotalAmount,
			"currency":        order.Currency,
			"points_redeemed": order.PointsRedeemed,
		},
	})
}

// ListOrders returns orders for authenticated user.
func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	pg := utils.ParsePagination(c)
	query := h.db.Where("user_id = ?", userID).Model(&models.Order{})

	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var orders []models.Order
	if err := query.Preload("Items").
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

// GetOrder returns a single order for the authenticated user.
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var order models.Order
	if err := h.db.Preload("Items").
		First(&order, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "order not found")
		}
		return err
	}

	return c.JSON(fiber.Map{"success": true, "data": order})
}

var orderStatuses = map[string]bool{
	models.OrderStatusPending:   true,
	models.OrderStatusConfirmed: true,
	models.OrderStatusShipped:   true,
	models.OrderStatusDelivered: true,
	models.OrderStatusCompleted: true,
	models.OrderStatusCancelled: true,
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus moves an order to a new status. Reaching delivered or completed
// credits the customer's points and completes their referral; loyalty
// failures are logged and never block the status change.
func (h *OrderHandler) UpdateStatus(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}

	var req updateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	req.Status = strings.ToLower(strings.TrimSpace(req.Status))
	if !orderStatuses[req.Status] {
		return fiber.NewError(fiber.StatusBadRequest, "unknown order status")
	}

	var order models.Order
	if err := h.db.First(&order, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "order not found")
		}
		return err
	}

	if order.Status == req.Status {
		return c.JSON(fiber.Map{"success": true, "data": order})
	}
	if order.Status == models.OrderStatusCompleted || order.Status == models.OrderStatusCancelled {
		return fiber.NewError(fiber.StatusConflict, fmt.Sprintf("order is already %s", order.Status))
	}
	// Points are awarded on fulfilment and never taken back, so fulfilment is one-way.
	if models.IsTerminalSuccess(order.Status) && !models.IsTerminalSuccess(req.Status) {
		return fiber.NewError(fiber.StatusConflict, "fulfilled orders cannot move back to "+req.Status)
	}

	now := time.Now()
	updates := map[string]any{
		"status":     req.Status,
		"updated_at": now,
	}
	if models.IsTerminalSuccess(req.Status) && order.CompletedAt == nil {
		updates["completed_at"] = now
	}

	res := h.db.Model(&models.Order{}).
		Where("id = ? AND status = ?", order.ID, order.Status).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fiber.NewError(fiber.StatusConflict, "order status changed concurrently")
	}

	previous := order.Status
	order.Status = req.Status
	order.UpdatedAt = now
	if _, ok := updates["completed_at"]; ok {
		order.CompletedAt = &now
	}

	if models.IsTerminalSuccess(req.Status) && !models.IsTerminalSuccess(previous) {
		h.creditLoyalty(c, &order)
	}

	return c.JSON(fiber.Map{"success": true, "data": order})
}

func (h *OrderHandler) creditLoyalty(c *fiber.Ctx, order *models.Order) {
	ctx := c.UserContext()

	award, err := h.loyalty.AwardForOrder(ctx, order.UserID, order.ID, order.TotalAmount)
	if err != nil {
		log.Printf("[Order] points award failed for order %s: %v", order.OrderNumber, err)
	} else if award != nil {
		order.PointsAwarded = award.Transaction.Points
		if err := h.db.Model(&models.Order{}).
			Where("id = ?", order.ID).
			Update("points_awarded", order.PointsAwarded).Error; err != nil {
			log.Printf("[Order] failed to record awarded points on order %s: %v", order.OrderNumber, err)
		}
	}

	if _, err := h.loyalty.CompleteReferral(ctx, order.UserID); err != nil {
		log.Printf("[Order] referral completion failed for user %s: %v", order.UserID, err)
	}
}

func generateOrderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("PM-%s-%s", time.Now().Format("060102"), suffix)
}
