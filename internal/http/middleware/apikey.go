package middleware

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

// AdminAPIKeyAuth validates the admin API key against a bcrypt hash.
// Expects: Authorization: Bearer <api_key>
// With no hash configured, requests pass unless requireKey is set.
func AdminAPIKeyAuth(keyHash string, requireKey bool, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if keyHash == "" {
			if requireKey {
				logger.Warn("Admin API key not configured; rejecting admin request", slog.String("path", c.Path()))
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Admin API key not configured",
				})
			}
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing Authorization header",
			})
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid Authorization header format. Expected: Bearer <api_key>",
			})
		}

		providedKey := strings.TrimPrefix(authHeader, "Bearer ")
		if providedKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "API key is empty",
			})
		}

		if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(providedKey)); err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid API key",
			})
		}

		return c.Next()
	}
}

// HashAPIKey returns the bcrypt hash to store in configuration.
func HashAPIKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
