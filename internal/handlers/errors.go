package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/example/petmarket/internal/services"
)

// ErrorHandler renders every unhandled error as {"success": false, "error": msg}.
// Unexpected errors are logged and reported without internal detail.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal server error"

	var fe *fiber.Error
	var lerr *services.LoyaltyError
	switch {
	case errors.As(err, &fe):
		code, msg = fe.Code, fe.Message
	case errors.As(err, &lerr):
		code, msg = lerr.Status, lerr.Message
		if code >= fiber.StatusInternalServerError {
			log.Printf("[HTTP] %s %s: %v", c.Method(), c.Path(), err)
		}
	default:
		log.Printf("[HTTP] %s %s: %v", c.Method(), c.Path(), err)
	}

	return c.Status(code).JSON(fiber.Map{"success": false, "error": msg})
}

// writeLoyaltyError renders a loyalty validation or conflict outcome with its
// machine-readable name. Other errors fall through to ErrorHandler.
func writeLoyaltyError(c *fiber.Ctx, err error) error {
	var lerr *services.LoyaltyError
	if !errors.As(err, &lerr) {
		return err
	}
	if lerr.Status >= fiber.StatusInternalServerError {
		log.Printf("[Loyalty] %s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(lerr.Status).JSON(fiber.Map{
		"success": false,
		"error":   lerr.Message,
		"code":    lerr.Name,
	})
}
