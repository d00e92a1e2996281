package types

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================
// Validation and not-found errors surface immediately and are never retried.
// Upstream timeouts are retried locally; partial domain failures are absorbed
// as warnings and only escalate to an ExhaustedError when no domain yields
// usable signal.

// ValidationError reports a malformed or missing query, id, or option.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown domain, item, node, session, or version.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// UpstreamTimeoutError reports an embedding, search, or generation call that
// exceeded its deadline after retries were exhausted.
type UpstreamTimeoutError struct {
	Operation string
	Deadline  time.Duration
	Err       error
}

func (e *UpstreamTimeoutError) Error() string {
	return fmt.Sprintf("%s exceeded %s deadline: %v", e.Operation, e.Deadline, e.Err)
}

func (e *UpstreamTimeoutError) Unwrap() error { return e.Err }

// ExhaustedError signals that zero domains produced usable signal. It is a
// definitive "no answer", never a fabricated one.
type ExhaustedError struct {
	Query    string
	Failures []DomainFailure
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d domains failed for query %q", len(e.Failures), e.Query)
}

// ConflictError reports a concurrent distillation or rollback race on the
// same domain.
type ConflictError struct {
	DomainID  string
	Operation string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already in flight for domain %s", e.Operation, e.DomainID)
}

// DomainFailure records a single domain's failure during fan-out. These ride
// along as warnings, not errors, while at least one domain succeeds.
type DomainFailure struct {
	DomainID string
	Reason   string
}

func (f DomainFailure) String() string {
	return fmt.Sprintf("domain %s: %s", f.DomainID, f.Reason)
}

// IsRetryable reports whether err is a transient failure worth another
// attempt. Validation, not-found, and conflict errors never retry.
func IsRetryable(err error) bool {
	var ve *ValidationError
	var nf *NotFoundError
	var ce *ConflictError
	if errors.As(err, &ve) || errors.As(err, &nf) || errors.As(err, &ce) {
		return false
	}
	return err != nil
}
