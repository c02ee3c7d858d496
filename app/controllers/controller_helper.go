package controllers

import (
	"strings"

	"github.com/ManuelReschke/ReceiptFox/internal/pkg/apperr"
	"github.com/gofiber/fiber/v2"
)

// GetClientIP returns the original client address, honoring Cloudflare and
// proxy headers before the socket address.
func GetClientIP(c *fiber.Ctx) string {
	if cfIP := strings.TrimSpace(c.Get("CF-Connecting-IP")); cfIP != "" {
		return cfIP
	}
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For can contain a list of IPs - the first one is the original client IP
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(c.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return strings.TrimPrefix(c.IP(), "::ffff:")
}

// respondError writes the JSON error body for an apperr kind.
func respondError(c *fiber.Ctx, err error) error {
	kind := apperr.KindOf(err)
	body := fiber.Map{
		"error":   string(kind),
		"message": apperr.MessageOf(err),
	}
	if id := apperr.ReceiptIDOf(err); id != "" {
		body["receipt_id"] = id
	}
	if kind == apperr.KindInternal {
		body["message"] = "internal error"
	}
	return c.Status(apperr.HTTPStatus(kind)).JSON(body)
}
