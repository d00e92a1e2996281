package generation

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// =============================================================================
// GOOGLE GENAI GENERATOR
// =============================================================================

// GenAIGenerator produces text using Google's Gemini API.
type GenAIGenerator struct {
	client *genai.Client
	model  string
}

// NewGenAIGenerator creates a new GenAI generation backend.
func NewGenAIGenerator(apiKey, model string) (*GenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIGenerator{client: client, model: model}, nil
}

// Generate sends the prompt with its supporting context and returns the
// completion text plus token usage.
func (g *GenAIGenerator) Generate(ctx context.Context, prompt, contextText string, maxTokens int) (Result, error) {
	full := prompt
	if contextText != "" {
		full = fmt.Sprintf("Context:\n%s\n\n%s", contextText, prompt)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(full, genai.RoleUser),
	}

	cfg := &genai.GenerateContentConfig{}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return Result{}, fmt.Errorf("GenAI generation failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return Result{}, fmt.Errorf("GenAI returned empty response")
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return Result{Text: text, TokensUsed: tokens}, nil
}

// Name returns the backend name.
func (g *GenAIGenerator) Name() string {
	return fmt.Sprintf("genai:%s", g.model)
}
