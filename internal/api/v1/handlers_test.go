package apiv1

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPing(t *testing.T) {
	app := fiber.New()
	RegisterHandlers(app.Group("/api/v1"), NewAPIServer())

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/ping", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var pong Pong
	require.NoError(t, json.Unmarshal(body, &pong))
	assert.Equal(t, "pong", pong.Ping)
	assert.GreaterOrEqual(t, pong.UptimeSeconds, int64(0))
}
