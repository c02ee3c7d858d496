// Package enrichment wraps the categorization and loyalty collaborators.
// Both are optional and their failures never fail the calling operation.
package enrichment

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Suggestion is a categorizer answer. Category is a free-form name that is
// canonicalized before use.
type Suggestion struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

type Categorizer interface {
	Categorize(ctx context.Context, description, merchantName string, amount decimal.Decimal) (Suggestion, error)
}

// KeywordCategorizer matches words of the item description against the
// synonym table. It needs no network access.
type KeywordCategorizer struct{}

func NewKeywordCategorizer() *KeywordCategorizer {
	return &KeywordCategorizer{}
}

const (
	keywordExactConfidence = 0.9
	keywordWordConfidence  = 0.7
)

func (k *KeywordCategorizer) Categorize(_ context.Context, description, _ string, _ decimal.Decimal) (Suggestion, error) {
	if cat, ok := Canonicalize(description); ok {
		return Suggestion{Category: string(cat), Confidence: keywordExactConfidence}, nil
	}

	normalized := strings.ToLower(description)
	for _, word := range strings.FieldsFunc(normalized, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	}) {
		if cat, ok := synonyms[word]; ok {
			return Suggestion{Category: string(cat), Confidence: keywordWordConfidence}, nil
		}
	}
	return Suggestion{Category: string(Other), Confidence: 0}, nil
}
