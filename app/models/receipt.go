package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ReceiptSourceWebhook       = "webhook"
	ReceiptSourcePublicWebhook = "public_webhook"
	ReceiptSourceScanClaimed   = "scan_claimed"
	ReceiptSourceManual        = "manual"
)

// PublicReceiptTTL is how long an unclaimed public receipt stays claimable.
const PublicReceiptTTL = 48 * time.Hour

// Receipt records a single merchant transaction. A receipt is public exactly
// while it has no owner; claiming it clears the expiration permanently.
type Receipt struct {
	ID                    string            `gorm:"type:char(36);primaryKey" json:"id"`
	OwnerID               *uint             `gorm:"index" json:"owner_id"`
	MerchantID            uint              `gorm:"not null;index:idx_receipts_merchant_tx,priority:1" json:"merchant_id"`
	MerchantName          string            `gorm:"type:varchar(200)" json:"merchant_name"`
	MerchantTransactionID string            `gorm:"type:varchar(191);not null;index:idx_receipts_merchant_tx,priority:2" json:"merchant_transaction_id"`
	TransactionAt         time.Time         `gorm:"not null" json:"transaction_at"`
	TotalAmount           decimal.Decimal   `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	Currency              string            `gorm:"type:char(3);not null" json:"currency"`
	Source                string            `gorm:"type:varchar(30);not null;index" json:"source"`
	IsPublic              bool              `gorm:"not null;default:false;index" json:"is_public"`
	ExpiresAt             *time.Time        `gorm:"index" json:"expires_at,omitempty"`
	PublicURL             string            `gorm:"type:varchar(255);default:''" json:"public_url,omitempty"`
	ClaimedAt             *time.Time        `json:"claimed_at,omitempty"`
	RawPayload            string            `gorm:"type:longtext" json:"-"`
	PayloadArchiveKey     string            `gorm:"type:varchar(255);default:''" json:"-"`
	Metadata              datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	Expense               *Expense          `gorm:"foreignKey:ReceiptID" json:"expense,omitempty"`
	CreatedAt             time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r *Receipt) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// IsOwnedBy reports whether userID owns the receipt.
func (r *Receipt) IsOwnedBy(userID uint) bool {
	return r.OwnerID != nil && *r.OwnerID == userID
}

// IsExpired reports whether a public receipt's claim window has passed.
func (r *Receipt) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// IsClaimable reports whether the receipt can still be claimed at now.
func (r *Receipt) IsClaimable(now time.Time) bool {
	return r.OwnerID == nil && r.IsPublic && !r.IsExpired(now)
}

// OwnershipConsistent checks the public/owner invariant, including the
// expense and item owner mirrors when they are loaded.
func (r *Receipt) OwnershipConsistent() bool {
	if r.IsPublic != (r.OwnerID == nil) {
		return false
	}
	if !r.IsPublic && r.ExpiresAt != nil {
		return false
	}
	if r.Expense == nil {
		return true
	}
	if !sameOwner(r.OwnerID, r.Expense.OwnerID) {
		return false
	}
	for _, item := range r.Expense.Items {
		if !sameOwner(r.OwnerID, item.OwnerID) {
			return false
		}
	}
	return true
}

// AssignOwner applies a claim to the in-memory receipt graph.
func (r *Receipt) AssignOwner(userID uint, claimedAt time.Time) {
	owner := userID
	r.OwnerID = &owner
	r.IsPublic = false
	r.ExpiresAt = nil
	r.ClaimedAt = &claimedAt
	r.Source = ReceiptSourceScanClaimed
	if r.Expense == nil {
		return
	}
	r.Expense.OwnerID = &owner
	for i := range r.Expense.Items {
		r.Expense.Items[i].OwnerID = &owner
	}
}

func sameOwner(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
