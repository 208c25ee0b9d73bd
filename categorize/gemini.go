package categorize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"finance-sync-be/models"
)

// Gemini asks a Gemini model to classify transactions.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a client for the Gemini API.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("init genai client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// Suggest sends txns in one prompt and parses the model's JSON answer.
func (g *Gemini) Suggest(ctx context.Context, txns []models.Transaction) ([]Suggestion, error) {
	prompt, err := BuildPrompt(txns)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("AI generation failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, ErrEmptyResponse
	}

	var raw strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			raw.WriteString(part.Text)
		}
	}
	return ParseSuggestions(raw.String())
}

type promptLine struct {
	TransactionID string `json:"transaction_id"`
	Text          string `json:"text"`
	Amount        string `json:"amount"`
}

// BuildPrompt renders the classification prompt, one JSON object per line.
func BuildPrompt(txns []models.Transaction) (string, error) {
	var b strings.Builder
	b.WriteString("You are a financial analyst. Analyze these bank transaction strings. \n")
	b.WriteString("Return a RAW JSON ARRAY of objects. Do NOT use markdown formatting. \n")
	b.WriteString("Each object must have: 'transaction_id', 'new_category' (e.g., Food, Travel, Bills, Shopping, Salary, Investment, Transfer), and 'new_merchant' (clean name).\n\n")

	for _, t := range txns {
		line, err := json.Marshal(promptLine{
			TransactionID: t.ID,
			Text:          matchText(t),
			Amount:        t.Amount.StringFixed(2),
		})
		if err != nil {
			return "", fmt.Errorf("encode transaction %s: %w", t.ID, err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// ParseSuggestions decodes a model answer, tolerating markdown code fences.
func ParseSuggestions(raw string) ([]Suggestion, error) {
	// Gemini loves adding ```json ... ```
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var out []Suggestion
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsableResponse, err)
	}
	for i := range out {
		out[i].Source = SourceAI
	}
	return out, nil
}
