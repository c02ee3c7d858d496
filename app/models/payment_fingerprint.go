package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// PaymentFingerprint links a one-way hash of a card number to a user so POS
// transactions paid with that card can be attributed without storing the PAN.
type PaymentFingerprint struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	CardHash  string    `gorm:"type:char(64);not null;uniqueIndex" json:"-"`
	LastFour  string    `gorm:"type:varchar(4);default:''" json:"last_four"`
	CardType  string    `gorm:"type:varchar(30);default:''" json:"card_type"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// HashCardNumber hashes the digits of a card number. Merchants compute the
// same value before sending it in a webhook's customer block.
func HashCardNumber(pan string) string {
	var digits strings.Builder
	for _, r := range pan {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	sum := sha256.Sum256([]byte(digits.String()))
	return hex.EncodeToString(sum[:])
}

// NormalizeCardHash lowercases and trims a hex card hash.
func NormalizeCardHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}
