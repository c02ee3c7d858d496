package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/ManuelReschke/ReceiptFox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type receiptRepository struct {
	db *gorm.DB
}

// NewReceiptRepository creates a new receipt repository instance
func NewReceiptRepository(db *gorm.DB) ReceiptRepository {
	return &receiptRepository{db: db}
}

// Create inserts the receipt row only. The expense is written separately.
func (r *receiptRepository) Create(ctx context.Context, receipt *models.Receipt) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(receipt).Error
}

// GetByID loads a receipt with its expense, items and item categories
func (r *receiptRepository) GetByID(ctx context.Context, id string) (*models.Receipt, error) {
	var receipt models.Receipt
	err := r.db.WithContext(ctx).
		Preload("Expense.Items.Category").
		Where("id = ?", id).
		First(&receipt).Error
	if err != nil {
		return nil, err
	}
	sortItems(&receipt)
	return &receipt, nil
}

// GetByMerchantTransaction returns the oldest receipt for a merchant transaction id
func (r *receiptRepository) GetByMerchantTransaction(ctx context.Context, merchantID uint, transactionID string) (*models.Receipt, error) {
	var receipt models.Receipt
	err := r.db.WithContext(ctx).
		Preload("Expense.Items.Category").
		Where("merchant_id = ? AND merchant_transaction_id = ?", merchantID, transactionID).
		Order("created_at ASC").
		First(&receipt).Error
	if err != nil {
		return nil, err
	}
	sortItems(&receipt)
	return &receipt, nil
}

func (r *receiptRepository) UpdatePublicURL(ctx context.Context, id, publicURL string) error {
	return r.updateColumn(ctx, id, "public_url", publicURL)
}

func (r *receiptRepository) UpdateArchiveKey(ctx context.Context, id, key string) error {
	return r.updateColumn(ctx, id, "payload_archive_key", key)
}

func (r *receiptRepository) updateColumn(ctx context.Context, id, column string, value interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.Receipt{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ClaimIfUnowned performs the public to private transition in one
// transaction. The receipt update is conditional, so of two concurrent
// claims only one can change the row; the owner is then copied onto the
// expense and its items.
func (r *receiptRepository) ClaimIfUnowned(ctx context.Context, id string, userID uint, now time.Time) (bool, error) {
	claimed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Receipt{}).
			Where("id = ? AND owner_id IS NULL AND is_public = ? AND (expires_at IS NULL OR expires_at > ?)", id, true, now).
			Updates(map[string]interface{}{
				"owner_id":   userID,
				"is_public":  false,
				"expires_at": nil,
				"claimed_at": now,
				"source":     models.ReceiptSourceScanClaimed,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return nil
		}

		var expense models.Expense
		err := tx.Select("id").Where("receipt_id = ?", id).First(&expense).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			claimed = true
			return nil
		case err != nil:
			return err
		}

		if err := tx.Model(&models.Expense{}).Where("id = ?", expense.ID).Update("owner_id", userID).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.ExpenseItem{}).Where("expense_id = ?", expense.ID).Update("owner_id", userID).Error; err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

func sortItems(receipt *models.Receipt) {
	if receipt.Expense == nil {
		return
	}
	sort.SliceStable(receipt.Expense.Items, func(i, j int) bool {
		return receipt.Expense.Items[i].Position < receipt.Expense.Items[j].Position
	})
}

type expenseRepository struct {
	db *gorm.DB
}

// NewExpenseRepository creates a new expense repository instance
func NewExpenseRepository(db *gorm.DB) ExpenseRepository {
	return &expenseRepository{db: db}
}

// CreateWithItems writes the expense and all of its items in one
// transaction. Item owners are copied from the expense.
func (r *expenseRepository) CreateWithItems(ctx context.Context, expense *models.Expense) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(expense).Error; err != nil {
			return err
		}
		if len(expense.Items) == 0 {
			return nil
		}
		for i := range expense.Items {
			expense.Items[i].ExpenseID = expense.ID
			expense.Items[i].OwnerID = expense.OwnerID
		}
		return tx.Omit(clause.Associations).Create(&expense.Items).Error
	})
}

func (r *expenseRepository) GetByReceiptID(ctx context.Context, receiptID string) (*models.Expense, error) {
	var expense models.Expense
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Preload("Items.Category").
		Where("receipt_id = ?", receiptID).
		First(&expense).Error
	if err != nil {
		return nil, err
	}
	return &expense, nil
}

func (r *expenseRepository) SetItemCategory(ctx context.Context, itemID string, categoryID uint) error {
	res := r.db.WithContext(ctx).Model(&models.ExpenseItem{}).Where("id = ?", itemID).Update("category_id", categoryID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
