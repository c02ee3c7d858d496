// Package receipts writes receipts with their expense and items and
// performs the ownership transition of public receipts.
package receipts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/ReceiptFox/app/models"
	"github.com/ManuelReschke/ReceiptFox/app/repository"
	"github.com/ManuelReschke/ReceiptFox/internal/pkg/apperr"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ItemDraft is one line to be written. Category is set only when a
// suggestion was already accepted for the line.
type ItemDraft struct {
	Description      string
	Quantity         decimal.Decimal
	UnitPrice        decimal.Decimal
	Amount           decimal.Decimal
	MerchantCategory string
	Category         *models.Category
}

// Draft is everything needed to materialize a receipt.
type Draft struct {
	MerchantID    uint
	MerchantName  string
	TransactionID string
	TransactionAt time.Time
	TotalAmount   decimal.Decimal
	Currency      string
	RawPayload    string
	Metadata      map[string]interface{}
	Note          string
	Items         []ItemDraft
}

type Materializer struct {
	receipts repository.ReceiptRepository
	expenses repository.ExpenseRepository
	urls     *PublicURLBuilder
	now      func() time.Time
}

func NewMaterializer(receipts repository.ReceiptRepository, expenses repository.ExpenseRepository, urls *PublicURLBuilder) *Materializer {
	return &Materializer{
		receipts: receipts,
		expenses: expenses,
		urls:     urls,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (m *Materializer) WithClock(now func() time.Time) *Materializer {
	m.now = now
	return m
}

// CreatePrivate writes a receipt owned by ownerID.
func (m *Materializer) CreatePrivate(ctx context.Context, d Draft, ownerID uint) (*models.Receipt, error) {
	owner := ownerID
	receipt := m.newReceipt(d)
	receipt.OwnerID = &owner
	receipt.Source = models.ReceiptSourceWebhook
	return m.create(ctx, receipt, d)
}

// CreatePublic writes an unowned receipt that can be claimed until it
// expires. Items are never categorized here.
func (m *Materializer) CreatePublic(ctx context.Context, d Draft) (*models.Receipt, error) {
	receipt := m.newReceipt(d)
	expires := m.now().Add(models.PublicReceiptTTL)
	receipt.IsPublic = true
	receipt.ExpiresAt = &expires
	receipt.Source = models.ReceiptSourcePublicWebhook

	return m.create(ctx, receipt, d)
}

func (m *Materializer) newReceipt(d Draft) *models.Receipt {
	r := &models.Receipt{
		MerchantID:            d.MerchantID,
		MerchantName:          d.MerchantName,
		MerchantTransactionID: d.TransactionID,
		TransactionAt:         d.TransactionAt.UTC(),
		TotalAmount:           d.TotalAmount,
		Currency:              d.Currency,
		RawPayload:            d.RawPayload,
	}
	if len(d.Metadata) > 0 {
		r.Metadata = datatypes.JSONMap(d.Metadata)
	}
	return r
}

// create writes the receipt row, then the expense with its items. A failure
// in the second step returns the receipt together with a partial failure
// error carrying its id.
func (m *Materializer) create(ctx context.Context, receipt *models.Receipt, d Draft) (*models.Receipt, error) {
	if err := m.receipts.Create(ctx, receipt); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "receipt write failed", err)
	}

	if receipt.IsPublic && m.urls != nil {
		receipt.PublicURL = m.urls.ReceiptURL(receipt.ID)
		if err := m.receipts.UpdatePublicURL(ctx, receipt.ID, receipt.PublicURL); err != nil {
			log.Warnf("[Receipts] Failed to store public url for receipt %s: %v", receipt.ID, err)
		}
	}

	if _, err := m.AttachExpense(ctx, receipt, d); err != nil {
		return receipt, err
	}
	return receipt, nil
}

// AttachExpense writes the expense and items of an already stored receipt.
// It is also used to complete receipts left behind by a partial failure.
func (m *Materializer) AttachExpense(ctx context.Context, receipt *models.Receipt, d Draft) (*models.Expense, error) {
	if receipt.IsPublic {
		d.Items = withoutCategories(d.Items)
	}
	expense := buildExpense(receipt, d)
	if err := m.expenses.CreateWithItems(ctx, expense); err != nil {
		log.Errorf("[Receipts] Receipt %s written but expense failed: %v", receipt.ID, err)
		return nil, apperr.Partial(receipt.ID, "receipt stored but expense and items could not be written", err)
	}
	receipt.Expense = expense
	return expense, nil
}

func withoutCategories(items []ItemDraft) []ItemDraft {
	out := make([]ItemDraft, len(items))
	for i, item := range items {
		item.Category = nil
		out[i] = item
	}
	return out
}

func buildExpense(receipt *models.Receipt, d Draft) *models.Expense {
	expense := &models.Expense{
		ReceiptID:  receipt.ID,
		OwnerID:    receipt.OwnerID,
		Currency:   receipt.Currency,
		OccurredOn: receipt.TransactionAt,
		Note:       d.Note,
	}
	if expense.Note == "" {
		expense.Note = fmt.Sprintf("%s transaction %s", d.MerchantName, d.TransactionID)
	}

	total := decimal.Zero
	for i, item := range d.Items {
		amount := item.Amount
		if amount.IsZero() {
			amount = item.Quantity.Mul(item.UnitPrice)
		}
		total = total.Add(amount)
		var categoryID *uint
		if item.Category != nil {
			id := item.Category.ID
			categoryID = &id
		}
		expense.Items = append(expense.Items, models.ExpenseItem{
			OwnerID:          receipt.OwnerID,
			CategoryID:       categoryID,
			Category:         item.Category,
			MerchantCategory: item.MerchantCategory,
			Description:      item.Description,
			Amount:           amount.Round(2),
			Quantity:         item.Quantity,
			UnitPrice:        item.UnitPrice,
			Position:         i,
		})
	}
	if len(d.Items) == 0 {
		total = receipt.TotalAmount
	}
	expense.TotalAmount = total.Round(2)
	return expense
}

// Get loads a receipt with its expense and items.
func (m *Materializer) Get(ctx context.Context, id string) (*models.Receipt, error) {
	receipt, err := m.receipts.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Newf(apperr.KindNotFound, "receipt %s not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "receipt lookup failed", err)
	}
	return receipt, nil
}

// FindByTransaction returns the receipt already written for a merchant
// transaction, or nil when there is none.
func (m *Materializer) FindByTransaction(ctx context.Context, merchantID uint, transactionID string) (*models.Receipt, error) {
	receipt, err := m.receipts.GetByMerchantTransaction(ctx, merchantID, transactionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "receipt lookup failed", err)
	}
	return receipt, nil
}

// Claim assigns a public receipt to userID. It fails with a conflict when
// the receipt was no longer claimable at the moment of the write.
func (m *Materializer) Claim(ctx context.Context, receiptID string, userID uint, now time.Time) error {
	claimed, err := m.receipts.ClaimIfUnowned(ctx, receiptID, userID, now.UTC())
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "claim write failed", err)
	}
	if !claimed {
		return apperr.Newf(apperr.KindConflict, "receipt %s was claimed by another request", receiptID)
	}
	return nil
}

func (m *Materializer) SetItemCategory(ctx context.Context, itemID string, categoryID uint) error {
	if err := m.expenses.SetItemCategory(ctx, itemID, categoryID); err != nil {
		return fmt.Errorf("set category of item %s: %w", itemID, err)
	}
	return nil
}

// RecordArchiveKey stores where the raw payload of a receipt was archived.
func (m *Materializer) RecordArchiveKey(ctx context.Context, receiptID, key string) error {
	return m.receipts.UpdateArchiveKey(ctx, receiptID, key)
}
