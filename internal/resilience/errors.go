// Package resilience provides the pipeline error taxonomy plus retry and
// circuit-breaker patterns for external service calls.
package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ValidationError marks malformed input. It is rejected before run creation
// and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for a named input field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ThrottledError is a refusal to start new paid work. The core never retries
// it; callers surface it as HTTP 429 and may retry later.
type ThrottledError struct {
	Reason    string
	DayCost   float64
	Remaining float64
}

func (e *ThrottledError) Error() string {
	return "budget throttled: " + e.Reason
}

// BudgetExceededError means an estimated cost does not fit the remaining
// budget. Like ThrottledError it maps to 429 and is never retried by the core.
type BudgetExceededError struct {
	Reason        string
	EstimatedCost float64
	Remaining     float64
}

func (e *BudgetExceededError) Error() string {
	return "budget exceeded: " + e.Reason
}

// IsBudgetRefusal reports whether err is a throttle or budget refusal, the
// two cases the control plane maps to HTTP 429.
func IsBudgetRefusal(err error) bool {
	var th *ThrottledError
	var be *BudgetExceededError
	return errors.As(err, &th) || errors.As(err, &be)
}

// FetchError wraps a network or page-fetch failure. Transient network errors
// get bounded retry with backoff; a detected bot challenge (Blocked) must not
// be retried against the same target within the run.
type FetchError struct {
	URL       string
	Err       error
	Blocked   bool
	BlockType string
	Status    int
}

func (e *FetchError) Error() string {
	if e.Blocked {
		return fmt.Sprintf("fetch %s: blocked (%s)", e.URL, e.BlockType)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsBlocked reports whether err carries a bot-challenge FetchError.
func IsBlocked(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Blocked
}

// ParseError marks a partial adapter extraction. It is always non-fatal: the
// caller keeps whatever partial structure was obtained, logs, and continues.
type ParseError struct {
	Layer  string // "structured", "dom", "text"
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse (%s layer): %s", e.Layer, e.Reason)
}

// PersistenceError wraps a store write failure. The run is marked failed but
// partial progress already committed for strategy and budget counters is not
// rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// TransientError wraps an error that is safe to retry (429, 5xx, timeouts).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as transient with an optional HTTP status.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient returns true if the error chain contains a TransientError or a
// recognizable transient network failure. Bot-challenge fetch errors are
// never transient: retrying against the same target escalates detection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsBlocked(err) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus reports whether the status code is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
