package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.5-flash"

const categorizePrompt = `You categorize single receipt line items.
Allowed categories: %s.
Item: %q
Merchant: %q
Amount: %s
Answer with JSON only: {"category": "<one allowed category>", "confidence": <number between 0 and 1>}`

// GeminiCategorizer asks a Gemini model for the category of a line item.
type GeminiCategorizer struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
}

func NewGeminiCategorizer(ctx context.Context, apiKey, modelName string) (*GeminiCategorizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	return &GeminiCategorizer{
		client:  client,
		model:   model,
		timeout: 10 * time.Second,
	}, nil
}

func (g *GeminiCategorizer) Categorize(ctx context.Context, description, merchantName string, amount decimal.Decimal) (Suggestion, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prompt := fmt.Sprintf(categorizePrompt, strings.Join(CategoryNames(), ", "), description, merchantName, amount.StringFixed(2))
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return Suggestion{}, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return Suggestion{}, fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	return parseSuggestion(responseText.String())
}

// parseSuggestion decodes a model answer, tolerating markdown code fences.
func parseSuggestion(raw string) (Suggestion, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var s Suggestion
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return Suggestion{}, fmt.Errorf("parsing category answer: %w", err)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return Suggestion{}, fmt.Errorf("confidence %v out of range", s.Confidence)
	}
	return s, nil
}

// Close closes the Gemini client
func (g *GeminiCategorizer) Close() error {
	return g.client.Close()
}
