package apiv1

import "github.com/gofiber/fiber/v2"

// Pong is the body of GET /ping.
type Pong struct {
	Ping          string `json:"ping"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ServerInterface lists the unauthenticated v1 operations.
type ServerInterface interface {
	GetPing(c *fiber.Ctx) error
}

// RegisterHandlers mounts the operations of si on router.
func RegisterHandlers(router fiber.Router, si ServerInterface) {
	router.Get("/ping", si.GetPing)
}
