package enrichment

import (
	"context"

	"github.com/ManuelReschke/ReceiptFox/app/models"
	"github.com/ManuelReschke/ReceiptFox/app/repository"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
)

// ConfidenceFloor is exclusive: a suggestion must score above it.
const ConfidenceFloor = 0.6

// CategoryWriter persists an accepted category for an item.
type CategoryWriter interface {
	SetItemCategory(ctx context.Context, itemID string, categoryID uint) error
}

// Enricher applies the optional collaborators. A nil collaborator means the
// step is skipped.
type Enricher struct {
	categorizer Categorizer
	loyalty     LoyaltyScorer
	categories  repository.CategoryRepository
}

func NewEnricher(categories repository.CategoryRepository) *Enricher {
	return &Enricher{categories: categories}
}

func (e *Enricher) WithCategorizer(c Categorizer) *Enricher {
	e.categorizer = c
	return e
}

func (e *Enricher) WithLoyalty(l LoyaltyScorer) *Enricher {
	e.loyalty = l
	return e
}

// SuggestCategory asks the categorizer and resolves an accepted answer to a
// stored category. It returns nil whenever the item should stay
// uncategorized.
func (e *Enricher) SuggestCategory(ctx context.Context, description, merchantName string, amount decimal.Decimal) (category *models.Category) {
	if e == nil || e.categorizer == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Enrichment] Categorizer panicked for %q: %v", description, r)
			category = nil
		}
	}()

	suggestion, err := e.categorizer.Categorize(ctx, description, merchantName, amount)
	if err != nil {
		log.Warnf("[Enrichment] Categorizer failed for %q: %v", description, err)
		return nil
	}
	if suggestion.Confidence <= ConfidenceFloor {
		log.Debugf("[Enrichment] Suggestion %q for %q below floor (%.2f)", suggestion.Category, description, suggestion.Confidence)
		return nil
	}
	name, ok := Canonicalize(suggestion.Category)
	if !ok {
		log.Debugf("[Enrichment] Unknown category %q for %q", suggestion.Category, description)
		return nil
	}

	category, err = e.categories.FirstOrCreateByName(ctx, string(name))
	if err != nil {
		log.Warnf("[Enrichment] Failed to resolve category %s: %v", name, err)
		return nil
	}
	return category
}

// CategorizeItems categorizes items that have no category yet, writes the
// accepted ones through writer and updates the slice in place. It returns
// the number of items categorized.
func (e *Enricher) CategorizeItems(ctx context.Context, items []models.ExpenseItem, merchantName string, writer CategoryWriter) int {
	if e == nil || e.categorizer == nil {
		return 0
	}
	categorized := 0
	for i := range items {
		if items[i].IsCategorized() {
			continue
		}
		category := e.SuggestCategory(ctx, items[i].Description, merchantName, items[i].Amount)
		if category == nil {
			continue
		}
		if err := writer.SetItemCategory(ctx, items[i].ID, category.ID); err != nil {
			log.Warnf("[Enrichment] Failed to store category for item %s: %v", items[i].ID, err)
			continue
		}
		id := category.ID
		items[i].CategoryID = &id
		items[i].Category = category
		categorized++
	}
	return categorized
}

// AwardPoints calls the loyalty scorer. Failures are logged and nil is
// returned.
func (e *Enricher) AwardPoints(ctx context.Context, award Award) (result *LoyaltyResult) {
	if e == nil || e.loyalty == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Enrichment] Loyalty scorer panicked for expense %s: %v", award.ExpenseID, r)
			result = nil
		}
	}()

	res, err := e.loyalty.AwardPoints(ctx, award)
	if err != nil {
		log.Warnf("[Enrichment] Loyalty award failed for expense %s: %v", award.ExpenseID, err)
		return nil
	}
	if !res.Success {
		log.Warnf("[Enrichment] Loyalty service declined expense %s", award.ExpenseID)
	}
	return &res
}

// AwardForReceipt awards points once for the whole receipt using its
// representative category.
func (e *Enricher) AwardForReceipt(ctx context.Context, userID uint, receipt *models.Receipt) *LoyaltyResult {
	if receipt == nil || receipt.Expense == nil {
		return nil
	}
	award := Award{
		UserID:       userID,
		ExpenseID:    receipt.Expense.ID,
		Amount:       receipt.TotalAmount,
		Currency:     receipt.Currency,
		MerchantName: receipt.MerchantName,
	}
	if category := RepresentativeCategory(receipt.Expense.Items); category != nil {
		award.Category = category.Name
	}
	return e.AwardPoints(ctx, award)
}

// RepresentativeCategory returns the category of the highest-amount
// categorized item. Ties go to the earlier item.
func RepresentativeCategory(items []models.ExpenseItem) *models.Category {
	var best *models.ExpenseItem
	for i := range items {
		item := &items[i]
		if !item.IsCategorized() || item.Category == nil {
			continue
		}
		if best == nil || item.Amount.GreaterThan(best.Amount) {
			best = item
		}
	}
	if best == nil {
		return nil
	}
	return best.Category
}
