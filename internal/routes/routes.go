package routes

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/petmarket/internal/config"
	"github.com/example/petmarket/internal/handlers"
	"github.com/example/petmarket/internal/middleware"
	"github.com/example/petmarket/internal/models"
	"github.com/example/petmarket/internal/services"
)

// Register wires up all HTTP routes.
func Register(app *fiber.App, db *gorm.DB, cfg *config.Config, loyalty *services.LoyaltyService) {
	authHandler := handlers.NewAuthHandler(db, cfg, loyalty)
	loyaltyHandler := handlers.NewLoyaltyHandler(loyalty)
	orderHandler := handlers.NewOrderHandler(db, loyalty)
	adminHandler := handlers.NewAdminHandler(db, loyalty)

	api := app.Group("/api")

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)

	api.Get("/loyalty/tiers", loyaltyHandler.Tiers)

	// Protected routes
	protected := api.Group("", middleware.AuthMiddleware(cfg))

	protected.Get("/loyalty", loyaltyHandler.Summary)
	protected.Get("/loyalty/transactions", loyaltyHandler.Transactions)
	protected.Post("/loyalty/redeem", loyaltyHandler.Redeem)

	protected.Post("/referrals", loyaltyHandler.CreateReferral)
	protected.Get("/referrals", loyaltyHandler.ListReferrals)

	protected.Post("/orders", orderHandler.CreateOrder)
	protected.Get("/orders", orderHandler.ListOrders)
	protected.Get("/orders/:id", orderHandler.GetOrder)

	// Staff routes
	staff := protected.Group("", middleware.RequireRole(models.RoleAdmin, models.RolePartner))
	staff.Patch("/orders/:id/status", orderHandler.UpdateStatus)
	staff.Get("/admin/orders", adminHandler.ListAllOrders)
	staff.Get("/admin/loyalty/stats", adminHandler.LoyaltyStats)
	staff.Get("/admin/loyalty/users/:id/verify", adminHandler.VerifyLedger)
}
