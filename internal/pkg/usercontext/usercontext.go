package usercontext

import "github.com/gofiber/fiber/v2"

// UserContext represents the authenticated user of a request
type UserContext struct {
	UserID     uint   `json:"user_id"`
	Username   string `json:"username"`
	IsLoggedIn bool   `json:"is_logged_in"`
	IsAdmin    bool   `json:"is_admin"`
}

// MerchantContext represents the merchant integration calling a webhook
type MerchantContext struct {
	MerchantID    uint   `json:"merchant_id"`
	Name          string `json:"name"`
	WebhookSecret string `json:"-"`
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(KeyUserContext).(UserContext); ok {
		return ctx
	}
	return UserContext{IsLoggedIn: false, IsAdmin: false}
}

func SetUserContext(c *fiber.Ctx, uc UserContext) {
	c.Locals(KeyUserContext, uc)
	c.Locals(KeyUserID, uc.UserID)
	c.Locals(KeyIsAdmin, uc.IsAdmin)
}

// IsLoggedIn checks if the current user is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// IsAdmin checks if the current user is an admin
func IsAdmin(c *fiber.Ctx) bool {
	return GetUserContext(c).IsAdmin
}

// GetUserID returns the current user's ID, or 0 if not logged in
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}

// GetMerchantContext returns false when the request was not authenticated
// as a merchant.
func GetMerchantContext(c *fiber.Ctx) (MerchantContext, bool) {
	mc, ok := c.Locals(KeyMerchantContext).(MerchantContext)
	return mc, ok && mc.MerchantID != 0
}

func SetMerchantContext(c *fiber.Ctx, mc MerchantContext) {
	c.Locals(KeyMerchantContext, mc)
}
