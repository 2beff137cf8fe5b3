package insight

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stockify/internal/game"

	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.5-flash"

var ErrNotConfigured = errors.New("insight generator is not configured")

// Generator is the slice of the genai Models API the analyst needs.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Analyst writes a short market commentary for an entity from its metric history.
type Analyst struct {
	gen   Generator
	model string
}

func New(gen Generator, model string) *Analyst {
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return &Analyst{gen: gen, model: model}
}

// NewGemini builds an analyst on the Gemini API. An empty key yields an analyst
// that reports ErrNotConfigured.
func NewGemini(ctx context.Context, apiKey, model string) (*Analyst, error) {
	if strings.TrimSpace(apiKey) == "" {
		return New(nil, model), nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return New(client.Models, model), nil
}

func (a *Analyst) Enabled() bool {
	return a != nil && a.gen != nil
}

func (a *Analyst) Insight(ctx context.Context, e game.EntityDetail) (string, error) {
	if !a.Enabled() {
		return "", ErrNotConfigured
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.4),
		MaxOutputTokens: 256,
	}
	resp, err := a.gen.GenerateContent(ctx, a.model, genai.Text(Prompt(e)), cfg)
	if err != nil {
		return "", fmt.Errorf("generate insight for %s: %w", e.ID, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no insight returned for %s", e.ID)
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("no insight returned for %s", e.ID)
	}
	return text, nil
}

// Prompt renders the analyst instructions for e. Follower counts are shown in
// thousands to keep the trend readable.
func Prompt(e game.EntityDetail) string {
	trend := make([]string, 0, len(e.Series))
	for _, p := range e.Series {
		trend = append(trend, fmt.Sprintf("%dk", (p.Value+500)/1000))
	}
	name := e.Name
	if name == "" {
		name = e.ID
	}
	return fmt.Sprintf(`You are a financial analyst for a music fantasy stock market game called "Stockify".
Write a brief, insightful summary (2-3 sentences) about an artist's stock potential based on their follower data.

Artist: %s
Current followers: %d
Popularity: %d/100
Recent follower trend: [%s]

Comment on the recent growth trajectory. Is popularity stable or showing strong growth? What does this suggest for an investor in the game? Be concise and use financial-style language.`,
		name, e.Metric, e.Popularity, strings.Join(trend, ", "))
}
