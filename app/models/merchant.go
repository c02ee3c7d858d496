package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Merchant is a registered point-of-sale integration. Webhook calls
// authenticate with the merchant API key; only its hash is stored.
type Merchant struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Name          string         `gorm:"type:varchar(200);not null" json:"name"`
	DisplayName   string         `gorm:"type:varchar(200)" json:"display_name"`
	APIKeyHash    string         `gorm:"type:char(64);index" json:"-"`
	APIKeyPrefix  string         `gorm:"type:varchar(20);default:''" json:"api_key_prefix"`
	WebhookSecret string         `gorm:"type:varchar(255);default:''" json:"-"`
	IsActive      bool           `gorm:"default:true;index" json:"is_active"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// Label returns the name shown on receipts.
func (m *Merchant) Label() string {
	if name := strings.TrimSpace(m.DisplayName); name != "" {
		return name
	}
	if name := strings.TrimSpace(m.Name); name != "" {
		return name
	}
	return fmt.Sprintf("Merchant #%d", m.ID)
}

// IssueAPIKey rotates the merchant key and returns the raw secret once.
func (m *Merchant) IssueAPIKey() (string, error) {
	rawKey, prefix, hash, err := generateAPIKeyMaterial(merchantAPIKeyPrefix)
	if err != nil {
		return "", err
	}
	m.APIKeyHash = hash
	m.APIKeyPrefix = prefix
	return rawKey, nil
}
