package controllers

import (
	"context"
	"time"

	"github.com/ManuelReschke/ReceiptFox/internal/pkg/security"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/usercontext"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

type WebhookController struct {
	processor *webhook.Processor
	timeout   time.Duration
}

func NewWebhookController(processor *webhook.Processor, timeout time.Duration) *WebhookController {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WebhookController{processor: processor, timeout: timeout}
}

// HandlePOSWebhook ingests one POS transaction for the authenticated merchant.
func (wc *WebhookController) HandlePOSWebhook(c *fiber.Ctx) error {
	merchant, ok := usercontext.GetMerchantContext(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing merchant context"})
	}

	rawBody := append([]byte(nil), c.BodyRaw()...)
	if merchant.WebhookSecret != "" && !security.VerifyBodySignature(rawBody, c.Get(security.SignatureHeader), merchant.WebhookSecret) {
		log.Warnf("[Webhook] Invalid signature from merchant %d (%s)", merchant.MerchantID, GetClientIP(c))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), wc.timeout)
	defer cancel()

	result := wc.processor.ProcessRaw(ctx, merchant.MerchantID, rawBody)
	return c.Status(result.HTTPStatus()).JSON(result)
}
