package controllers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/ReceiptFox/internal/pkg/apperr"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/ledger"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

type DeliveryController struct {
	ledger     *ledger.Ledger
	processor  *webhook.Processor
	counter    *counter.DeliveryCounter
	staleAfter time.Duration
}

func NewDeliveryController(l *ledger.Ledger, processor *webhook.Processor, staleAfter time.Duration) *DeliveryController {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	return &DeliveryController{ledger: l, processor: processor, staleAfter: staleAfter}
}

// WithCounter enables the outcome counters endpoint.
func (dc *DeliveryController) WithCounter(c *counter.DeliveryCounter) *DeliveryController {
	dc.counter = c
	return dc
}

// HandleListDeliveries lists ledger entries of one merchant.
func (dc *DeliveryController) HandleListDeliveries(c *fiber.Ctx) error {
	merchantID, err := strconv.ParseUint(c.Query("merchant_id"), 10, 64)
	if err != nil || merchantID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation", "message": "merchant_id is required"})
	}

	filters := ledger.Filters{
		Status:        strings.TrimSpace(c.Query("status")),
		TransactionID: strings.TrimSpace(c.Query("transaction_id")),
	}
	for name, target := range map[string]**time.Time{"since": &filters.Since, "until": &filters.Until} {
		raw := strings.TrimSpace(c.Query(name))
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation", "message": name + " must be RFC3339"})
		}
		t = t.UTC()
		*target = &t
	}
	page := ledger.Page{Page: c.QueryInt("page", 1), PerPage: c.QueryInt("per_page", ledger.DefaultPerPage)}.Normalize()

	entries, total, err := dc.ledger.List(c.UserContext(), uint(merchantID), page, filters)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"items":    entries,
		"total":    total,
		"page":     page.Page,
		"per_page": page.PerPage,
	})
}

func (dc *DeliveryController) HandleGetDelivery(c *fiber.Ctx) error {
	entry, err := dc.ledger.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(entry)
}

// HandleRetryDelivery replays a failed delivery with its stored payload.
func (dc *DeliveryController) HandleRetryDelivery(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 30*time.Second)
	defer cancel()

	result, err := dc.processor.Replay(ctx, c.Params("id"))
	if err != nil {
		if !apperr.Is(err, apperr.KindNotFound) {
			log.Infof("[Deliveries] Retry of %s refused: %v", c.Params("id"), err)
		}
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"retried": true, "result": result})
}

// HandleStaleDeliveries reports pending entries old enough to need
// reconciliation.
func (dc *DeliveryController) HandleStaleDeliveries(c *fiber.Ctx) error {
	age := dc.staleAfter
	if raw := strings.TrimSpace(c.Query("older_than")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation", "message": "older_than must be a positive duration"})
		}
		age = d
	}
	entries, err := dc.ledger.ListStale(c.UserContext(), age, c.QueryInt("limit", ledger.MaxPerPage))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"items": entries, "older_than": age.String()})
}

// HandleDeliveryOutcomes returns the per merchant outcome counters of one
// day, today by default.
func (dc *DeliveryController) HandleDeliveryOutcomes(c *fiber.Ctx) error {
	day := time.Now().UTC()
	if raw := strings.TrimSpace(c.Query("date")); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation", "message": "date must be YYYY-MM-DD"})
		}
		day = d
	}
	counts, err := dc.counter.Snapshot(c.UserContext(), day)
	if err != nil {
		log.Warnf("[Deliveries] Reading outcome counters failed: %v", err)
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"date": day.Format("2006-01-02"), "items": counts})
}
