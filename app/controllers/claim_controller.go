package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/ManuelReschke/ReceiptFox/internal/pkg/claim"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
)

type ClaimController struct {
	handler *claim.Handler
}

func NewClaimController(handler *claim.Handler) *ClaimController {
	return &ClaimController{handler: handler}
}

type claimRequest struct {
	Payload string `json:"payload"`
}

// HandleClaimReceipt claims the receipt behind a scanned code for the
// authenticated user.
func (cc *ClaimController) HandleClaimReceipt(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}

	var req claimRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Payload) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation", "message": "payload is required"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 15*time.Second)
	defer cancel()

	outcome, err := cc.handler.Claim(ctx, userCtx.UserID, req.Payload)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(outcome)
}
