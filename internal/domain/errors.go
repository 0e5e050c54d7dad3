package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies a failure once, at the boundary where it is first
// observed. Retry logic branches on the kind, never on dynamic type checks.
type ErrorKind string

const (
	// KindAuthentication: all credential sources exhausted. Never retried.
	KindAuthentication ErrorKind = "authentication"
	// KindModelNotFound: invalid model/region/version combination. Never retried.
	KindModelNotFound ErrorKind = "model_not_found"
	// KindRateLimit: 429-equivalent, retryable, may carry a retry-after hint.
	KindRateLimit ErrorKind = "rate_limit"
	// KindTransientAPI: 5xx-equivalent, retryable.
	KindTransientAPI ErrorKind = "transient_api"
	// KindCircuitOpen: breaker rejected the call before any network attempt.
	KindCircuitOpen ErrorKind = "circuit_open"
	// KindCancelled: caller cancelled; neither success nor failure.
	KindCancelled ErrorKind = "cancelled"
	// KindInvalidRequest: malformed request, fatal.
	KindInvalidRequest ErrorKind = "invalid_request"
)

// Error is the single error shape surfaced at the client boundary. External
// collaborators present Message and Remediation verbatim and must not
// re-interpret Retryable.
type Error struct {
	Kind        ErrorKind
	Message     string
	Retryable   bool
	Remediation string
	RetryAfter  time.Duration
	Context     map[string]any
	cause       error
}

func (e *Error) Error() string {
	if e.Remediation != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Remediation)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithContext attaches a key/value pair for presentation; returns e for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithCause records the underlying error without leaking it into Message.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable reports whether err was classified retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// KindOf returns the classified kind, or empty string for foreign errors.
func KindOf(err error) ErrorKind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return ""
}

func NewAuthenticationError(message, remediation string) *Error {
	return &Error{
		Kind:        KindAuthentication,
		Message:     message,
		Retryable:   false,
		Remediation: remediation,
	}
}

func NewModelNotFound(modelID, region string, availableRegions []string) *Error {
	msg := fmt.Sprintf("model %q not found", modelID)
	remediation := "run 'vertexgw models' to list available models"
	if region != "" && len(availableRegions) > 0 {
		msg = fmt.Sprintf("model %q not available in region %q", modelID, region)
		remediation = "use one of these regions: " + strings.Join(availableRegions, ", ")
	}
	e := &Error{
		Kind:        KindModelNotFound,
		Message:     msg,
		Retryable:   false,
		Remediation: remediation,
	}
	e.WithContext("model_id", modelID)
	if region != "" {
		e.WithContext("region", region)
	}
	if len(availableRegions) > 0 {
		e.WithContext("available_regions", availableRegions)
	}
	return e
}

func NewRateLimitError(message string, retryAfter time.Duration) *Error {
	remediation := "wait a few seconds and retry"
	if retryAfter > 0 {
		remediation = fmt.Sprintf("wait %s and retry", retryAfter)
	}
	return &Error{
		Kind:        KindRateLimit,
		Message:     message,
		Retryable:   true,
		Remediation: remediation,
		RetryAfter:  retryAfter,
	}
}

func NewTransientAPIError(message string, statusCode int) *Error {
	e := &Error{
		Kind:        KindTransientAPI,
		Message:     message,
		Retryable:   true,
		Remediation: "the provider reported a temporary failure; retry shortly",
	}
	if statusCode != 0 {
		e.WithContext("status_code", statusCode)
	}
	return e
}

func NewCircuitOpenError(key string, cooldown time.Duration) *Error {
	return (&Error{
		Kind:        KindCircuitOpen,
		Message:     fmt.Sprintf("circuit breaker for %s is open, %s of cooldown remaining", key, cooldown.Round(time.Second)),
		Retryable:   false,
		Remediation: fmt.Sprintf("wait %s before retrying", cooldown.Round(time.Second)),
	}).WithContext("breaker_key", key)
}

func NewCancelledError() *Error {
	return &Error{
		Kind:        KindCancelled,
		Message:     "call cancelled by caller",
		Retryable:   false,
		Remediation: "no action required",
	}
}

func NewInvalidRequest(message, remediation string) *Error {
	return &Error{
		Kind:        KindInvalidRequest,
		Message:     message,
		Retryable:   false,
		Remediation: remediation,
	}
}
