// Package classify wraps the external content-safety capabilities — speech
// transcription, text toxicity classification, and image/video safety
// classification — behind uniform adapters. Every adapter call returns a
// typed result or a *Failure; nothing panics past the adapter boundary and
// nothing is retried here. Retry policy belongs to the caller.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// FailureKind categorises an adapter failure.
type FailureKind string

const (
	FailTimeout       FailureKind = "timeout"
	FailUpstreamError FailureKind = "upstream_error"
	FailInvalidInput  FailureKind = "invalid_input"
	FailQuotaExceeded FailureKind = "quota_exceeded"
)

// Failure is the typed error every adapter returns on any failure path.
type Failure struct {
	Kind   FailureKind
	Op     string // which adapter call failed, e.g. "transcribe"
	Detail string
	Err    error // underlying cause, may be nil
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("classify: %s: %s (%s): %v", f.Op, f.Detail, f.Kind, f.Err)
	}
	return fmt.Sprintf("classify: %s: %s (%s)", f.Op, f.Detail, f.Kind)
}

func (f *Failure) Unwrap() error { return f.Err }

// AsFailure unwraps err into a *Failure if one is in its chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// FailureFromError classifies err for the given operation. Context deadline
// expiry maps to FailTimeout; everything else is an upstream error. The
// outbound sender and media origin adapters share this taxonomy, so the
// constructors are exported.
func FailureFromError(op string, err error) *Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: FailTimeout, Op: op, Detail: "call exceeded its deadline", Err: err}
	}
	return &Failure{Kind: FailUpstreamError, Op: op, Detail: "upstream call failed", Err: err}
}

// FailureFromStatus maps a non-2xx HTTP response to a failure kind:
// 429 is quota exhaustion, other 4xx mean the request itself was rejected,
// 5xx are upstream faults.
func FailureFromStatus(op string, status int) *Failure {
	detail := fmt.Sprintf("upstream returned HTTP %d", status)
	switch {
	case status == http.StatusTooManyRequests:
		return &Failure{Kind: FailQuotaExceeded, Op: op, Detail: detail}
	case status >= 400 && status < 500:
		return &Failure{Kind: FailInvalidInput, Op: op, Detail: detail}
	default:
		return &Failure{Kind: FailUpstreamError, Op: op, Detail: detail}
	}
}

// InvalidInput builds an input-validation failure raised before any network
// call is made.
func InvalidInput(op, detail string) *Failure {
	return &Failure{Kind: FailInvalidInput, Op: op, Detail: detail}
}
