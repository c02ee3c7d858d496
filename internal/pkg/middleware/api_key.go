package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ReceiptFox/app/models"
	"github.com/ManuelReschke/ReceiptFox/app/repository"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/usercontext"
)

const (
	HeaderUserAPIKey     = "X-API-Key"
	HeaderMerchantAPIKey = "X-Merchant-Key"
)

// UserAPIKey authenticates requests carrying a personal user API key.
func UserAPIKey(users repository.UserRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := extractKey(c, HeaderUserAPIKey)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		user, settings, err := users.GetByAPIKeyHash(c.UserContext(), models.HashAPIKey(apiKey))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
			}
			log.Errorf("[Auth] API key lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "API key verification failed"})
		}

		if !user.IsActive() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "User inactive"})
		}

		// Refresh last-used timestamp best-effort.
		if err := users.TouchAPIKeyUsage(c.UserContext(), settings.ID, time.Now().UTC()); err != nil {
			log.Warnf("[Auth] Failed to update api key usage timestamp for user %d: %v", user.ID, err)
		}

		usercontext.SetUserContext(c, usercontext.UserContext{
			UserID:     user.ID,
			Username:   user.Name,
			IsLoggedIn: true,
			IsAdmin:    user.IsAdmin(),
		})
		return c.Next()
	}
}

// MerchantAPIKey resolves the merchant key of a webhook call to an active
// merchant before any processing happens.
func MerchantAPIKey(merchants repository.MerchantRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := extractKey(c, HeaderMerchantAPIKey)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing merchant key"})
		}

		merchant, err := merchants.GetByAPIKeyHash(c.UserContext(), models.HashAPIKey(apiKey))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid merchant key"})
			}
			log.Errorf("[Auth] Merchant key lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Merchant key verification failed"})
		}
		if !merchant.IsActive {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Merchant inactive"})
		}

		usercontext.SetMerchantContext(c, usercontext.MerchantContext{
			MerchantID:    merchant.ID,
			Name:          merchant.Label(),
			WebhookSecret: merchant.WebhookSecret,
		})
		return c.Next()
	}
}

// RequireAdminAPI must run after UserAPIKey.
func RequireAdminAPI(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	if !uc.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}
	if !uc.IsAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "admin role required"})
	}
	return c.Next()
}

func extractKey(c *fiber.Ctx, header string) string {
	apiKey := strings.TrimSpace(c.Get(header))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
