// Package identity maps contact fragments from a POS transaction to an
// existing user account.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ManuelReschke/ReceiptFox/app/models"
	"github.com/ManuelReschke/ReceiptFox/app/repository"
	"gorm.io/gorm"
)

type Method string

const (
	MethodEmail    Method = "email"
	MethodCardHash Method = "card_hash"
	MethodPhone    Method = "phone"
)

const (
	ConfidenceEmail    = 1.0
	ConfidenceCardHash = 0.9
	ConfidencePhone    = 0.8
)

// Contact holds the customer fragments a merchant may send.
type Contact struct {
	Email    string
	Phone    string
	CardHash string
	LastFour string
	CardType string
}

// HasSignal reports whether any field usable for matching is present.
// LastFour and CardType alone do not identify anyone.
func (c Contact) HasSignal() bool {
	return strings.TrimSpace(c.Email) != "" ||
		strings.TrimSpace(c.Phone) != "" ||
		strings.TrimSpace(c.CardHash) != ""
}

type MatchResult struct {
	Matched    bool    `json:"matched"`
	UserID     uint    `json:"user_id,omitempty"`
	Method     Method  `json:"method,omitempty"`
	Confidence float64 `json:"confidence"`
}

// PhoneLookup resolves a phone number to a user id. No phone index exists
// yet, so production wiring leaves it nil and phone matching is skipped.
type PhoneLookup interface {
	UserIDByPhone(ctx context.Context, phone string) (uint, bool, error)
}

type Matcher struct {
	users        repository.UserRepository
	fingerprints repository.PaymentFingerprintRepository
	phones       PhoneLookup
}

func NewMatcher(users repository.UserRepository, fingerprints repository.PaymentFingerprintRepository) *Matcher {
	return &Matcher{users: users, fingerprints: fingerprints}
}

// WithPhoneLookup enables the phone tier.
func (m *Matcher) WithPhoneLookup(lookup PhoneLookup) *Matcher {
	m.phones = lookup
	return m
}

// Match tries email, then card hash, then phone, and stops at the first hit.
// Lookups that find nothing fall through; any other store error is returned.
func (m *Matcher) Match(ctx context.Context, contact Contact) (MatchResult, error) {
	if email := models.NormalizeEmail(contact.Email); email != "" {
		user, err := m.users.GetByEmail(ctx, email)
		switch {
		case err == nil:
			return MatchResult{Matched: true, UserID: user.ID, Method: MethodEmail, Confidence: ConfidenceEmail}, nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return MatchResult{}, fmt.Errorf("email lookup: %w", err)
		}
	}

	if hash := models.NormalizeCardHash(contact.CardHash); hash != "" && m.fingerprints != nil {
		fp, err := m.fingerprints.GetByCardHash(ctx, hash)
		switch {
		case err == nil:
			return MatchResult{Matched: true, UserID: fp.UserID, Method: MethodCardHash, Confidence: ConfidenceCardHash}, nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return MatchResult{}, fmt.Errorf("card hash lookup: %w", err)
		}
	}

	if phone := strings.TrimSpace(contact.Phone); phone != "" && m.phones != nil {
		userID, ok, err := m.phones.UserIDByPhone(ctx, phone)
		if err != nil {
			return MatchResult{}, fmt.Errorf("phone lookup: %w", err)
		}
		if ok {
			return MatchResult{Matched: true, UserID: userID, Method: MethodPhone, Confidence: ConfidencePhone}, nil
		}
	}

	return MatchResult{}, nil
}
