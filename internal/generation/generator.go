// Package generation abstracts the external text-generation service.
// The engine treats generation as opaque: prompt and context in, text and
// token usage out. Backends: Google GenAI and OpenAI-compatible servers.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"synapse/internal/logging"
	"synapse/internal/types"
)

// =============================================================================
// GENERATOR INTERFACE
// =============================================================================

// Result carries generated text and its token cost.
type Result struct {
	Text       string
	TokensUsed int
}

// Generator produces text from a prompt plus supporting context.
type Generator interface {
	Generate(ctx context.Context, prompt, contextText string, maxTokens int) (Result, error)

	// Name returns the backend name for logging.
	Name() string
}

// Config holds generation backend configuration.
type Config struct {
	Provider string // "genai" or "openai"
	APIKey   string
	Model    string
	BaseURL  string // openai-compatible endpoint override
	Timeout  time.Duration
}

// NewGenerator creates a generation backend based on configuration.
func NewGenerator(cfg Config) (Generator, error) {
	logging.Generation("Creating generator with provider=%s model=%s", cfg.Provider, cfg.Model)

	switch cfg.Provider {
	case "genai":
		return NewGenAIGenerator(cfg.APIKey, cfg.Model)
	case "openai":
		return NewOpenAIGenerator(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unsupported generation provider: %s (use 'genai' or 'openai')", cfg.Provider)
	}
}

// =============================================================================
// RETRYING WRAPPER
// =============================================================================

// Retrying wraps a Generator with bounded exponential-backoff retry for
// transient failures. Validation and not-found errors never retry; a context
// deadline surfaces as an UpstreamTimeoutError once attempts are exhausted.
type Retrying struct {
	inner       Generator
	maxAttempts int
	baseDelay   time.Duration
}

// WithRetry wraps gen with up to maxAttempts attempts. Backoff doubles per
// attempt starting from baseDelay.
func WithRetry(gen Generator, maxAttempts int, baseDelay time.Duration) *Retrying {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &Retrying{inner: gen, maxAttempts: maxAttempts, baseDelay: baseDelay}
}

// Generate delegates to the wrapped backend, retrying transient errors.
func (r *Retrying) Generate(ctx context.Context, prompt, contextText string, maxTokens int) (Result, error) {
	var lastErr error

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.baseDelay << uint(attempt-1)
			logging.Generation("Retrying generation after %v (attempt %d/%d)", delay, attempt+1, r.maxAttempts)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Result{}, &types.UpstreamTimeoutError{
					Operation: "generate",
					Err:       ctx.Err(),
				}
			}
		}

		res, err := r.inner.Generate(ctx, prompt, contextText, maxTokens)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !types.IsRetryable(err) {
			return Result{}, err
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			break
		}
	}

	if errors.Is(lastErr, context.DeadlineExceeded) {
		return Result{}, &types.UpstreamTimeoutError{Operation: "generate", Err: lastErr}
	}
	return Result{}, fmt.Errorf("generation failed after %d attempts: %w", r.maxAttempts, lastErr)
}

// Name returns the wrapped backend name.
func (r *Retrying) Name() string { return r.inner.Name() }
