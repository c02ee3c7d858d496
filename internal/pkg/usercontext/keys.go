package usercontext

// Locals keys shared by middlewares and controllers
const (
	KeyUserContext     = "USER_CONTEXT"
	KeyMerchantContext = "MERCHANT_CONTEXT"
	KeyUserID          = "user_id"
	KeyIsAdmin         = "isAdmin"
)
