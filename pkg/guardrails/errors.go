package guardrails

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coralogix/llm-tracekit-sub000/pkg/config"
)

// ConfigError is returned by New when a required setting cannot be resolved.
type ConfigError = config.ConfigError

var ErrSessionClosed = errors.New("guardrails session is closed")

// ValidationError reports malformed input detected before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func newValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConnectionError is a transport level failure (DNS, refused connection,
// reset, caller cancellation).
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to guardrails service at %s: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

type TimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("guardrails request timed out after %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// ResponseError is returned for non-2xx statuses and for 2xx bodies that do
// not match the response schema.
type ResponseError struct {
	StatusCode int
	Body       string
	Message    string
}

func (e *ResponseError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("guardrails response error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("guardrails response error (status %d): %s", e.StatusCode, e.Body)
}

// Violation is a single triggered guardrail.
type Violation struct {
	Type               GuardrailType `json:"type"`
	Name               string        `json:"name,omitempty"`
	Score              float64       `json:"score"`
	Threshold          float64       `json:"threshold"`
	DetectedCategories []string      `json:"detected_categories,omitempty"`
}

func (v Violation) String() string {
	label := string(v.Type)
	if v.Name != "" {
		label = fmt.Sprintf("%s(%s)", v.Type, v.Name)
	}
	if len(v.DetectedCategories) > 0 {
		label = fmt.Sprintf("%s[%s]", label, strings.Join(v.DetectedCategories, ","))
	}
	return fmt.Sprintf("%s score=%.2f", label, v.Score)
}

// TriggeredError carries every violation of a guard call, in response order.
type TriggeredError struct {
	Target     Target
	Violations []Violation
}

func (e *TriggeredError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("%d guardrail(s) triggered on %s: %s", len(e.Violations), e.Target, strings.Join(parts, "; "))
}

// IsTriggered reports whether err is, or wraps, a *TriggeredError.
func IsTriggered(err error) bool {
	var triggered *TriggeredError
	return errors.As(err, &triggered)
}
