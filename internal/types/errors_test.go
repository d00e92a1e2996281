package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation", &ValidationError{Field: "query", Reason: "empty"}, false},
		{"not found", &NotFoundError{Kind: "domain", ID: "x"}, false},
		{"conflict", &ConflictError{DomainID: "x", Operation: "distillation"}, false},
		{"wrapped validation", fmt.Errorf("outer: %w", &ValidationError{Field: "f", Reason: "r"}), false},
		{"timeout", &UpstreamTimeoutError{Operation: "embed", Err: errors.New("deadline")}, true},
		{"plain", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestUpstreamTimeoutUnwrap(t *testing.T) {
	inner := errors.New("context deadline exceeded")
	err := &UpstreamTimeoutError{Operation: "generate", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("Unwrap does not expose the inner error")
	}
}

func TestSuccessRate(t *testing.T) {
	if got := (RoutingWeight{}).SuccessRate(); got != 0 {
		t.Errorf("empty SuccessRate = %v, want 0", got)
	}
	w := RoutingWeight{SuccessCount: 3, FailureCount: 1}
	if got := w.SuccessRate(); got != 0.75 {
		t.Errorf("SuccessRate = %v, want 0.75", got)
	}
}
