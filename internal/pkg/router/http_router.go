package router

import (
	"github.com/gofiber/fiber/v2"
)

// HttpRouter serves the browser facing pages.
type HttpRouter struct {
	deps Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/receipts/public/:id", h.deps.Receipts.HandlePublicReceipt)
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}
