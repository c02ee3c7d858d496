package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ReceiptFox/app/controllers"
	"github.com/ManuelReschke/ReceiptFox/app/repository"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies carries everything the routes need. LimiterStorage may be nil.
type Dependencies struct {
	Repositories *repository.Repositories

	Webhooks   *controllers.WebhookController
	Claims     *controllers.ClaimController
	Receipts   *controllers.ReceiptController
	Deliveries *controllers.DeliveryController

	LimiterStorage   fiber.Storage
	WebhookRateLimit int
	WebhookRateSpan  time.Duration
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
