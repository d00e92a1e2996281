package generation

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// =============================================================================
// OPENAI-COMPATIBLE GENERATOR
// =============================================================================

// OpenAIGenerator produces text via the OpenAI chat completions API.
// With a BaseURL override it also serves local OpenAI-compatible servers
// (vLLM, llama.cpp, LM Studio).
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator creates a new OpenAI-compatible generation backend.
func NewOpenAIGenerator(apiKey, model, baseURL string, timeout time.Duration) (*OpenAIGenerator, error) {
	if apiKey == "" && baseURL == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}

	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Generate sends the prompt as a chat completion and returns text plus
// token usage.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt, contextText string, maxTokens int) (Result, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if contextText != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Use the following context to answer:\n" + contextText,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     g.model,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return Result{}, fmt.Errorf("openai generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("openai returned no choices")
	}

	return Result{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

// Name returns the backend name.
func (g *OpenAIGenerator) Name() string {
	return fmt.Sprintf("openai:%s", g.model)
}
