// Package claim moves public receipts into the ownership of the user who
// scanned them.
package claim

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/ReceiptFox/app/models"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/apperr"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/enrichment"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/receipts"
	"github.com/gofiber/fiber/v2/log"
)

// Outcome describes a successful scan. AlreadyOwned is set for a re-scan of
// a receipt the requester owns; nothing was changed in that case.
type Outcome struct {
	Receipt       *models.Receipt `json:"receipt"`
	Claimed       bool            `json:"claimed"`
	AlreadyOwned  bool            `json:"already_owned"`
	Categorized   int             `json:"categorized_items"`
	LoyaltyPoints *int            `json:"loyalty_points,omitempty"`
}

type Handler struct {
	codec        *receipts.ClaimCodec
	materializer *receipts.Materializer
	enricher     *enrichment.Enricher
	now          func() time.Time
}

func NewHandler(codec *receipts.ClaimCodec, materializer *receipts.Materializer, enricher *enrichment.Enricher) *Handler {
	return &Handler{
		codec:        codec,
		materializer: materializer,
		enricher:     enricher,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

// Claim resolves a scanned payload for requesterID. The checks run in a
// fixed order: decode, existence, ownership, expiry, then the atomic write.
func (h *Handler) Claim(ctx context.Context, requesterID uint, scanned string) (Outcome, error) {
	receiptID, err := h.codec.Decode(scanned)
	if err != nil {
		log.Debugf("[Claim] Rejected undecodable payload from user %d", requesterID)
		return Outcome{}, apperr.Wrap(apperr.KindNotFound, "scanned code does not belong to this system", err)
	}

	receipt, err := h.materializer.Get(ctx, receiptID)
	if err != nil {
		return Outcome{}, err
	}

	now := h.now()
	switch {
	case receipt.IsOwnedBy(requesterID):
		return Outcome{Receipt: receipt, AlreadyOwned: true}, nil
	case receipt.OwnerID != nil:
		log.Warnf("[Claim] User %d tried to claim receipt %s owned by another user", requesterID, receiptID)
		return Outcome{}, apperr.Newf(apperr.KindForbidden, "receipt %s belongs to another user", receiptID)
	case receipt.IsExpired(now):
		return Outcome{}, apperr.Newf(apperr.KindGone, "receipt %s expired at %s", receiptID, receipt.ExpiresAt.UTC().Format(time.RFC3339))
	case !receipt.IsPublic:
		// Unowned but not public is not a state the writers produce.
		return Outcome{}, apperr.Newf(apperr.KindNotFound, "receipt %s is not claimable", receiptID)
	}

	if err := h.materializer.Claim(ctx, receiptID, requesterID, now); err != nil {
		if !apperr.Is(err, apperr.KindConflict) {
			return Outcome{}, err
		}
		return h.resolveLostRace(ctx, receiptID, requesterID, err)
	}
	log.Infof("[Claim] Receipt %s claimed by user %d", receiptID, requesterID)

	claimed, err := h.materializer.Get(ctx, receiptID)
	if err != nil {
		return Outcome{}, err
	}
	outcome := Outcome{Receipt: claimed, Claimed: true}
	h.enrich(ctx, requesterID, &outcome)
	return outcome, nil
}

// resolveLostRace handles a claim write that changed nothing. When the
// winner was the requester itself the scan is treated as a re-scan.
func (h *Handler) resolveLostRace(ctx context.Context, receiptID string, requesterID uint, conflict error) (Outcome, error) {
	current, err := h.materializer.Get(ctx, receiptID)
	if err != nil {
		return Outcome{}, errors.Join(conflict, err)
	}
	if current.IsOwnedBy(requesterID) {
		return Outcome{Receipt: current, AlreadyOwned: true}, nil
	}
	log.Infof("[Claim] User %d lost the claim race for receipt %s", requesterID, receiptID)
	return Outcome{}, conflict
}

// enrich categorizes the items the webhook left open and awards loyalty
// points once. Neither step can undo the claim.
func (h *Handler) enrich(ctx context.Context, requesterID uint, outcome *Outcome) {
	receipt := outcome.Receipt
	if receipt.Expense == nil {
		log.Warnf("[Claim] Receipt %s has no expense, skipping enrichment", receipt.ID)
		return
	}

	outcome.Categorized = h.enricher.CategorizeItems(ctx, receipt.Expense.Items, receipt.MerchantName, h.materializer)
	if award := h.enricher.AwardForReceipt(ctx, requesterID, receipt); award != nil && award.Success {
		points := award.PointsAwarded
		outcome.LoyaltyPoints = &points
	}
}
