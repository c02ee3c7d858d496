package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DeliveryStatusPending = "pending"
	DeliveryStatusSuccess = "success"
	DeliveryStatusFailed  = "failed"
	DeliveryStatusRetry   = "retry"
)

// WebhookDeliveryLog is one attempt to ingest a merchant webhook. Entries are
// created pending before any side effect and finalized exactly once.
type WebhookDeliveryLog struct {
	ID            string     `gorm:"type:char(36);primaryKey" json:"id"`
	MerchantID    uint       `gorm:"not null;index:idx_delivery_merchant_created,priority:1" json:"merchant_id"`
	TransactionID string     `gorm:"type:varchar(191);not null;default:'';index" json:"transaction_id"`
	Status        string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ResponseCode  int        `gorm:"default:0" json:"response_code"`
	Message       string     `gorm:"type:varchar(255);default:''" json:"message"`
	ErrorText     string     `gorm:"type:text" json:"error,omitempty"`
	DurationMs    *int64     `json:"duration_ms"`
	RetryCount    int        `gorm:"not null;default:0" json:"retry_count"`
	ReceiptID     string     `gorm:"type:varchar(36);default:''" json:"receipt_id,omitempty"`
	Payload       string     `gorm:"type:longtext;not null" json:"-"`
	LastRetryAt   *time.Time `json:"last_retry_at,omitempty"`
	FinalizedAt   *time.Time `json:"finalized_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;index:idx_delivery_merchant_created,priority:2" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (l *WebhookDeliveryLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// IsOpen reports whether the entry still awaits finalization.
func (l *WebhookDeliveryLog) IsOpen() bool {
	return l.Status == DeliveryStatusPending || l.Status == DeliveryStatusRetry
}
