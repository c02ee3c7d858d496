package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Expense is the 1:1 ledger view of a receipt. OwnerID mirrors the receipt.
type Expense struct {
	ID          string          `gorm:"type:char(36);primaryKey" json:"id"`
	ReceiptID   string          `gorm:"type:char(36);not null;uniqueIndex" json:"receipt_id"`
	OwnerID     *uint           `gorm:"index" json:"owner_id"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	Currency    string          `gorm:"type:char(3);not null" json:"currency"`
	OccurredOn  time.Time       `gorm:"type:date;not null" json:"occurred_on"`
	Note        string          `gorm:"type:text" json:"note"`
	Items       []ExpenseItem   `gorm:"foreignKey:ExpenseID" json:"items"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (e *Expense) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// ExpenseItem is a single receipt line. A nil CategoryID means the item has
// not been categorized yet.
type ExpenseItem struct {
	ID               string          `gorm:"type:char(36);primaryKey" json:"id"`
	ExpenseID        string          `gorm:"type:char(36);not null;index" json:"expense_id"`
	OwnerID          *uint           `gorm:"index" json:"owner_id"`
	CategoryID       *uint           `gorm:"index" json:"category_id"`
	Category         *Category       `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	MerchantCategory string          `gorm:"type:varchar(100);default:''" json:"merchant_category,omitempty"`
	Description      string          `gorm:"type:varchar(255);not null" json:"description"`
	Amount           decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Quantity         decimal.Decimal `gorm:"type:decimal(12,3);not null" json:"quantity"`
	UnitPrice        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	Position         int             `gorm:"not null;default:0" json:"position"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (i *ExpenseItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// IsCategorized reports whether a category has been assigned.
func (i *ExpenseItem) IsCategorized() bool {
	return i.CategoryID != nil
}

// CategoryName returns the loaded category name or "".
func (i *ExpenseItem) CategoryName() string {
	if i.Category == nil {
		return ""
	}
	return i.Category.Name
}
