package handlers

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/petmarket/internal/config"
	"github.com/example/petmarket/internal/models"
	"github.com/example/petmarket/internal/services"
	"github.com/example/petmarket/internal/utils"
)

// AuthHandler bundles dependencies for authentication endpoints.
type AuthHandler struct {
	db      *gorm.DB
	cfg     *config.Config
	loyalty *services.LoyaltyService
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, cfg *config.Config, loyalty *services.LoyaltyService) *AuthHandler {
	return &AuthHandler{db: db, cfg: cfg, loyalty: loyalty}
}

type registerRequest struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	ReferralCode string `json:"referral_code"`
}

// Register creates a new customer account. A referral code, when given, is
// applied after the account exists; a bad code never fails registration.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	req.Phone = strings.TrimSpace(req.Phone)
	if req.Phone == "" || req.Password == "" || req.FirstName == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing required fields")
	}

	var existing models.User
	if err := h.db.Where("phone = ?", req.Phone).First(&existing).Error; err == nil {
		return fiber.NewError(fiber.StatusConflict, "user already exists")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	passwordHash, err := utils.HashPassword(req.Password)
	if errors.Is(err, utils.ErrPasswordTooShort) {
		return fiber.NewError(fiber.StatusBadRequest,
			fmt.Sprintf("password must be at least %d characters", utils.MinPasswordLength))
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to hash password")
	}

	user := models.User{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Phone:        req.Phone,
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		DisplayName:  strings.TrimSpace(req.FirstName + " " + req.LastName),
		PasswordHash: passwordHash,
		Role:         models.RoleCustomer,
	}

	if err := h.db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fiber.NewError(fiber.StatusConflict, "user already exists")
		}
		return err
	}

	token, err := utils.GenerateToken(h.cfg.JWTSecret, user.ID, user.Role, h.cfg.TokenExpires)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to generate token")
	}

	resp := fiber.Map{
		"success": true,
		"user":    userResponse(user),
		"token":   token,
	}
	if code := strings.TrimSpace(req.ReferralCode); code != "" {
		resp["referral"] = h.applyReferral(c, code, user)
	}

	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *AuthHandler) applyReferral(c *fiber.Ctx, code string, user models.User) fiber.Map {
	credit, err := h.loyalty.RegisterReferral(c.UserContext(), code, user.ID)
	if err != nil {
		log.Printf("[Referral] code %s not applied for user %s: %v", code, user.ID, err)
		msg := "referral could not be applied"
		var lerr *services.LoyaltyError
		if errors.As(err, &lerr) {
			msg = lerr.Message
		}
		return fiber.Map{"applied": false, "error": msg}
	}

	result := fiber.Map{
		"applied":        true,
		"code":           credit.Referral.Code,
		"points_awarded": credit.Referral.PointsAwarded,
	}
	if credit.Ledger != nil {
		result["balance"] = credit.Ledger.Balance
	}
	return result
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// Login authenticates an existing user.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	var user models.User
	if err := h.db.Where("phone = ?", strings.TrimSpace(req.Phone)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
		}
		return err
	}

	if !utils.CheckPassword(user.PasswordHash, req.Password) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}

	token, err := utils.GenerateToken(h.cfg.JWTSecret, user.ID, user.Role, h.cfg.TokenExpires)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to generate token")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"user":    userResponse(user),
		"token":   token,
	})
}

func userResponse(user models.User) fiber.Map {
	return fiber.Map{
		"id":           user.ID,
		"first_name":   user.FirstName,
		"last_name":    user.LastName,
		"phone":        user.Phone,
		"email":        user.Email,
		"display_name": user.DisplayName,
		"role":         user.Role,
	}
}
