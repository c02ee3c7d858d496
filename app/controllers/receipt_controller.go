package controllers

import (
	"time"

	"github.com/ManuelReschke/ReceiptFox/app/models"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/apperr"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/receipts"
	"github.com/gofiber/fiber/v2"
)

const layoutMain = "layouts/main"

type ReceiptController struct {
	materializer *receipts.Materializer
	codec        *receipts.ClaimCodec
	now          func() time.Time
}

func NewReceiptController(materializer *receipts.Materializer, codec *receipts.ClaimCodec) *ReceiptController {
	return &ReceiptController{
		materializer: materializer,
		codec:        codec,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type publicItemView struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Amount      string `json:"amount"`
}

type publicReceiptView struct {
	ID            string           `json:"id"`
	MerchantName  string           `json:"merchant_name"`
	TransactionAt time.Time        `json:"transaction_at"`
	TotalAmount   string           `json:"total_amount"`
	Currency      string           `json:"currency"`
	ExpiresAt     *time.Time       `json:"expires_at"`
	ClaimCode     string           `json:"claim_code,omitempty"`
	Items         []publicItemView `json:"items"`
}

func (rc *ReceiptController) view(r *models.Receipt) publicReceiptView {
	v := publicReceiptView{
		ID:            r.ID,
		MerchantName:  r.MerchantName,
		TransactionAt: r.TransactionAt,
		TotalAmount:   r.TotalAmount.StringFixed(2),
		Currency:      r.Currency,
		ExpiresAt:     r.ExpiresAt,
	}
	if rc.codec != nil {
		if code, err := rc.codec.Encode(r.ID); err == nil {
			v.ClaimCode = code
		}
	}
	if r.Expense != nil {
		for _, item := range r.Expense.Items {
			v.Items = append(v.Items, publicItemView{
				Description: item.Description,
				Quantity:    item.Quantity.String(),
				UnitPrice:   item.UnitPrice.StringFixed(2),
				Amount:      item.Amount.StringFixed(2),
			})
		}
	}
	return v
}

// HandlePublicReceipt shows an unclaimed receipt without authentication.
// Claimed and unknown receipts look the same; expired ones answer 410.
func (rc *ReceiptController) HandlePublicReceipt(c *fiber.Ctx) error {
	wantJSON := c.Query("format") == "json"

	receipt, err := rc.materializer.Get(c.UserContext(), c.Params("id"))
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return respondError(c, err)
	}

	switch {
	case receipt == nil || !receipt.IsPublic || receipt.OwnerID != nil:
		return rc.unavailable(c, wantJSON, fiber.StatusNotFound, "not_found", "Receipt not found or already claimed")
	case receipt.IsExpired(rc.now()):
		return rc.unavailable(c, wantJSON, fiber.StatusGone, "expired", "This receipt has expired and can no longer be claimed")
	}

	view := rc.view(receipt)
	if wantJSON {
		return c.JSON(view)
	}
	return c.Render("receipts/public", fiber.Map{"Title": "Receipt from " + view.MerchantName, "Receipt": view}, layoutMain)
}

func (rc *ReceiptController) unavailable(c *fiber.Ctx, wantJSON bool, status int, code, message string) error {
	c.Status(status)
	if wantJSON {
		return c.JSON(fiber.Map{"error": code, "message": message})
	}
	return c.Render("receipts/unavailable", fiber.Map{"Title": "Receipt unavailable", "State": code, "Message": message}, layoutMain)
}
