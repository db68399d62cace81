package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order statuses. Delivered and completed are terminal and trigger loyalty crediting.
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

type Order struct {
	BaseModel
	UserID              uuid.UUID       `gorm:"type:uuid;index" json:"user_id"`
	User                *User           `json:"user,omitempty"`
	OrderNumber         string          `gorm:"uniqueIndex" json:"order_number"`
	Status              string          `gorm:"index" json:"status"`
	PlacedAt            time.Time       `json:"placed_at"`
	Subtotal            decimal.Decimal `gorm:"type:numeric(12,2)" json:"subtotal"`
	DiscountAmount      decimal.Decimal `gorm:"type:numeric(12,2)" json:"discount_amount"`
	TotalAmount         decimal.Decimal `gorm:"type:numeric(12,2)" json:"total_amount"`
	Currency            string          `json:"currency"`
	DeliveryMethod      string          `json:"delivery_method"`
	DeliveryAddressLine string          `json:"delivery_address_line"`
	PaymentMethod       string          `json:"payment_method"`
	PointsRedeemed      int64           `json:"points_redeemed"`
	PointsAwarded       int64           `json:"points_awarded"`
	CompletedAt         *time.Time      `json:"completed_at"`
	Notes               string          `json:"notes"`
	Items               []OrderItem     `json:"items,omitempty"`
}

type OrderItem struct {
	BaseModel
	OrderID     uuid.UUID       `gorm:"type:uuid;index" json:"order_id"`
	ProductID   *uuid.UUID      `gorm:"type:uuid" json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(12,2)" json:"unit_price"`
	LineTotal   decimal.Decimal `gorm:"type:numeric(12,2)" json:"line_total"`
}

// IsTerminalSuccess reports whether status marks a fulfilled order.
func IsTerminalSuccess(status string) bool {
	return status == OrderStatusDelivered || status == OrderStatusCompleted
}
