package apiv1

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// APIServer implements the ServerInterface
type APIServer struct {
	startedAt time.Time
}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{startedAt: time.Now().UTC()}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping:          "pong",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}

	return c.Status(fiber.StatusOK).JSON(response)
}
