package middleware

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ReceiptFox/app/models"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/testutil/memstore"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/usercontext"
)

func issueUserKey(t *testing.T, store *memstore.Store, userID uint) string {
	t.Helper()
	settings := &models.UserSettings{UserID: userID}
	raw, err := settings.IssueAPIKey()
	require.NoError(t, err)
	require.NoError(t, store.Repositories().User.SaveSettings(context.Background(), settings))
	return raw
}

func TestUserAPIKey(t *testing.T) {
	store := memstore.New()
	user := store.AddUser("Ada", "ada@example.com")
	raw := issueUserKey(t, store, user.ID)

	app := fiber.New()
	app.Get("/me", UserAPIKey(store.Repositories().User), func(c *fiber.Ctx) error {
		return c.JSON(usercontext.GetUserContext(c))
	})
	app.Get("/admin", UserAPIKey(store.Repositories().User), RequireAdminAPI, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	tests := []struct {
		name   string
		path   string
		header string
		value  string
		want   int
	}{
		{name: "missing", path: "/me", want: fiber.StatusUnauthorized},
		{name: "wrong key", path: "/me", header: HeaderUserAPIKey, value: "rfu_nope", want: fiber.StatusUnauthorized},
		{name: "header key", path: "/me", header: HeaderUserAPIKey, value: raw, want: fiber.StatusOK},
		{name: "bearer key", path: "/me", header: fiber.HeaderAuthorization, value: "Bearer " + raw, want: fiber.StatusOK},
		{name: "not admin", path: "/admin", header: HeaderUserAPIKey, value: raw, want: fiber.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}

	store.SetRole(user.ID, models.ROLE_ADMIN)
	req := httptest.NewRequest(fiber.MethodGet, "/admin", nil)
	req.Header.Set(HeaderUserAPIKey, raw)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}

func TestMerchantAPIKey(t *testing.T) {
	store := memstore.New()
	active := models.Merchant{Name: "shop", IsActive: true, WebhookSecret: "s3cret"}
	activeKey, err := active.IssueAPIKey()
	require.NoError(t, err)
	active = store.AddMerchant(active)

	inactive := models.Merchant{Name: "closed", IsActive: false}
	inactiveKey, err := inactive.IssueAPIKey()
	require.NoError(t, err)
	store.AddMerchant(inactive)

	var seen usercontext.MerchantContext
	app := fiber.New()
	app.Post("/hook", MerchantAPIKey(store.Repositories().Merchant), func(c *fiber.Ctx) error {
		seen, _ = usercontext.GetMerchantContext(c)
		return c.SendStatus(fiber.StatusAccepted)
	})

	do := func(key string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/hook", nil)
		if key != "" {
			req.Header.Set(HeaderMerchantAPIKey, key)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusUnauthorized, do(""))
	assert.Equal(t, fiber.StatusUnauthorized, do("rfm_unknown"))
	assert.Equal(t, fiber.StatusForbidden, do(inactiveKey))
	assert.Equal(t, fiber.StatusAccepted, do(activeKey))
	assert.Equal(t, active.ID, seen.MerchantID)
	assert.Equal(t, "s3cret", seen.WebhookSecret)
}
