package router

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	apiv1 "github.com/ManuelReschke/ReceiptFox/internal/api/v1"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/middleware"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/usercontext"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api")
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")
	apiv1.RegisterHandlers(v1, apiv1.NewAPIServer())

	// POS integrations authenticate with the merchant key, then get limited per merchant.
	v1.Post("/webhooks/pos",
		middleware.MerchantAPIKey(h.deps.Repositories.Merchant),
		h.webhookLimiter(),
		h.deps.Webhooks.HandlePOSWebhook,
	)

	v1.Post("/receipts/claim",
		middleware.UserAPIKey(h.deps.Repositories.User),
		h.deps.Claims.HandleClaimReceipt,
	)

	admin := v1.Group("/admin", middleware.UserAPIKey(h.deps.Repositories.User), middleware.RequireAdminAPI)
	admin.Get("/deliveries", h.deps.Deliveries.HandleListDeliveries)
	admin.Get("/deliveries/stale", h.deps.Deliveries.HandleStaleDeliveries)
	admin.Get("/deliveries/outcomes", h.deps.Deliveries.HandleDeliveryOutcomes)
	admin.Get("/deliveries/:id", h.deps.Deliveries.HandleGetDelivery)
	admin.Post("/deliveries/:id/retry", h.deps.Deliveries.HandleRetryDelivery)
}

func (h ApiRouter) webhookLimiter() fiber.Handler {
	max := h.deps.WebhookRateLimit
	if max <= 0 {
		max = 120
	}
	span := h.deps.WebhookRateSpan
	if span <= 0 {
		span = time.Minute
	}
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: span,
		Storage:    h.deps.LimiterStorage,
		KeyGenerator: func(c *fiber.Ctx) string {
			if merchant, ok := usercontext.GetMerchantContext(c); ok {
				return "webhook:merchant:" + strconv.FormatUint(uint64(merchant.MerchantID), 10)
			}
			return "webhook:ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many webhook deliveries, slow down",
			})
		},
	})
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
