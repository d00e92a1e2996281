package generation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"synapse/internal/types"
)

// countingGen fails a scripted number of times before succeeding.
type countingGen struct {
	failures int32
	calls    atomic.Int32
	err      error
}

func (g *countingGen) Generate(_ context.Context, _, _ string, _ int) (Result, error) {
	n := g.calls.Add(1)
	if n <= g.failures {
		err := g.err
		if err == nil {
			err = errors.New("transient")
		}
		return Result{}, err
	}
	return Result{Text: "ok", TokensUsed: 10}, nil
}

func (g *countingGen) Name() string { return "counting" }

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	inner := &countingGen{failures: 2}
	r := WithRetry(inner, 3, time.Millisecond)

	res, err := r.Generate(context.Background(), "p", "", 100)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Text != "ok" {
		t.Errorf("Text = %q", res.Text)
	}
	if inner.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", inner.calls.Load())
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	inner := &countingGen{failures: 10}
	r := WithRetry(inner, 2, time.Millisecond)

	if _, err := r.Generate(context.Background(), "p", "", 100); err == nil {
		t.Fatal("exhausted retries returned nil error")
	}
	if inner.calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", inner.calls.Load())
	}
}

func TestRetryDoesNotRetryValidation(t *testing.T) {
	inner := &countingGen{failures: 10, err: &types.ValidationError{Field: "prompt", Reason: "empty"}}
	r := WithRetry(inner, 3, time.Millisecond)

	_, err := r.Generate(context.Background(), "p", "", 100)
	var ve *types.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want the ValidationError passed through", err)
	}
	if inner.calls.Load() != 1 {
		t.Errorf("calls = %d, want exactly 1 for a non-retryable error", inner.calls.Load())
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	inner := &countingGen{failures: 10}
	r := WithRetry(inner, 5, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Generate(ctx, "p", "", 100)
	var te *types.UpstreamTimeoutError
	if !errors.As(err, &te) {
		t.Errorf("err = %v, want UpstreamTimeoutError on cancelled context", err)
	}
	if inner.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 before the backoff noticed cancellation", inner.calls.Load())
	}
}

func TestNewGeneratorUnknownProvider(t *testing.T) {
	if _, err := NewGenerator(Config{Provider: "smoke-signals"}); err == nil {
		t.Error("unknown provider accepted")
	}
}
