// Package errors provides structured error types for envlock.
// It implements error classification, wrapping, and redaction of secrets.
package errors

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind represents the category of an error.
type Kind uint8

const (
	// KindUnknown indicates an error of unknown type.
	KindUnknown Kind = iota
	// KindConfig indicates a required input is missing or malformed.
	KindConfig
	// KindLockAcquisition indicates the lock client exited nonzero.
	KindLockAcquisition
	// KindLockResponse indicates the lock client exited zero with an unusable response.
	KindLockResponse
	// KindAuth indicates the secondary org login failed outright.
	KindAuth
	// KindAuthPartial indicates the fallback org lookup failed. Non-fatal.
	KindAuthPartial
	// KindRelease indicates the unlock call failed. Non-fatal.
	KindRelease
	// KindStateMissing indicates no owed release was found. Non-fatal.
	KindStateMissing
	// KindState indicates a run state read or write failed.
	KindState
	// KindIO indicates a file I/O error.
	KindIO
	// KindCanceled indicates the operation was canceled.
	KindCanceled
	// KindInternal indicates an internal error.
	KindInternal
)

// String returns a human-readable string for the error kind.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "invalid_configuration"
	case KindLockAcquisition:
		return "lock_acquisition_failed"
	case KindLockResponse:
		return "lock_response_invalid"
	case KindAuth:
		return "secondary_auth_failed"
	case KindAuthPartial:
		return "secondary_auth_partial"
	case KindRelease:
		return "environment_release_failed"
	case KindStateMissing:
		return "release_state_missing"
	case KindState:
		return "state"
	case KindIO:
		return "io"
	case KindCanceled:
		return "canceled"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this kind must fail the phase they occur in.
func (k Kind) Fatal() bool {
	switch k {
	case KindAuthPartial, KindRelease, KindStateMissing:
		return false
	default:
		return true
	}
}

// Error is the standard error type for envlock.
type Error struct {
	// Kind is the category of the error.
	Kind Kind
	// Op is the operation being performed when the error occurred.
	Op string
	// Message is a human-readable error message.
	Message string
	// Err is the underlying error.
	Err error
	// Details contains additional context about the error.
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// UserMessage returns err's message without the operation prefix, for
// display to operators.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + UserMessage(e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches this error.
// For sentinel errors (errors without Op), only Kind is compared.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op == "" {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Op == t.Op
}

// WithDetail adds a single detail to the error and returns the modified error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrInvalidConfiguration   = &Error{Kind: KindConfig}
	ErrLockAcquisitionFailed  = &Error{Kind: KindLockAcquisition}
	ErrLockResponseInvalid    = &Error{Kind: KindLockResponse}
	ErrSecondaryAuthFailed    = &Error{Kind: KindAuth}
	ErrSecondaryAuthPartial   = &Error{Kind: KindAuthPartial}
	ErrEnvironmentReleaseFail = &Error{Kind: KindRelease}
	ErrReleaseStateMissing    = &Error{Kind: KindStateMissing}
)

// New creates a new Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// Newf creates a new Error with the given kind and formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, kind Kind, op string, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// GetKind returns the Kind of an error.
// If the error is not an *Error, it returns KindUnknown.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind checks if an error is of a specific kind.
func IsKind(err error, kind Kind) bool {
	return GetKind(err) == kind
}

// Config creates an invalid configuration error.
func Config(op, message string) *Error {
	return &Error{Kind: KindConfig, Op: op, Message: message}
}

// ConfigWrap wraps an error as an invalid configuration error.
func ConfigWrap(err error, op, message string) *Error {
	return Wrap(err, KindConfig, op, message)
}

// LockAcquisition creates a lock acquisition error carrying the client diagnostic.
func LockAcquisition(op, diagnostic string) *Error {
	return &Error{Kind: KindLockAcquisition, Op: op, Message: "failed to lock environment: " + diagnostic}
}

// LockResponse creates an invalid lock response error carrying the raw payload.
func LockResponse(op, message, raw string) *Error {
	return (&Error{Kind: KindLockResponse, Op: op, Message: message + ": " + raw}).WithDetail("stdout", raw)
}

// Auth creates a secondary authentication error.
func Auth(op, message string) *Error {
	return &Error{Kind: KindAuth, Op: op, Message: message}
}

// AuthPartial creates a non-fatal partial authentication error.
func AuthPartial(op, message string) *Error {
	return &Error{Kind: KindAuthPartial, Op: op, Message: message}
}

// Release creates a non-fatal environment release error.
func Release(op, diagnostic string) *Error {
	return &Error{Kind: KindRelease, Op: op, Message: "failed to unlock environment: " + diagnostic}
}

// StateMissing creates a non-fatal missing release state error.
func StateMissing(op, message string) *Error {
	return &Error{Kind: KindStateMissing, Op: op, Message: message}
}

// State creates a state management error.
func State(op, message string) *Error {
	return &Error{Kind: KindState, Op: op, Message: message}
}

// StateWrap wraps an error as a state management error.
func StateWrap(err error, op, message string) *Error {
	return Wrap(err, KindState, op, message)
}

// IOWrap wraps an error as an I/O error.
func IOWrap(err error, op, message string) *Error {
	return Wrap(err, KindIO, op, message)
}

// CanceledWrap wraps a context error as a cancellation.
func CanceledWrap(err error, op string) *Error {
	return Wrap(err, KindCanceled, op, "operation canceled")
}

// InternalWrap wraps an error as an internal error.
func InternalWrap(err error, op, message string) *Error {
	return Wrap(err, KindInternal, op, message)
}

// Sensitive data redaction patterns for credentials that can leak through
// client diagnostics before they were registered as secrets.
var sensitivePatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	// Salesforce session ids / access tokens: <15 or 18 char org id>!<token>
	{regexp.MustCompile(`\b00[A-Za-z0-9]{13}(?:[A-Za-z0-9]{3})?![A-Za-z0-9._]{20,}`), "[REDACTED]"},
	// GitHub tokens: ghp_..., gho_..., ghs_..., ghr_...
	{regexp.MustCompile(`\bgh[posr]_[a-zA-Z0-9]{36,}\b`), "[REDACTED]"},
	// Generic bearer tokens
	{regexp.MustCompile(`\bBearer\s+[a-zA-Z0-9._-]{20,}`), "[REDACTED]"},
	// Token flag value on an echoed command line
	{regexp.MustCompile(`(\s(?:-t|--token))(\s+|=)\S+`), "${1}${2}[REDACTED]"},
	// Basic auth with password in URL
	{regexp.MustCompile(`://([^:/\s]+):[^@\s]+@`), "://${1}:[REDACTED]@"},
}

// RedactSensitive removes token-like values from a message.
func RedactSensitive(s string) string {
	result := s
	for _, p := range sensitivePatterns {
		result = p.re.ReplaceAllString(result, p.repl)
	}
	return result
}

// IsSensitive checks if a string contains sensitive patterns.
func IsSensitive(s string) bool {
	for _, p := range sensitivePatterns {
		if p.re.MatchString(s) {
			return true
		}
	}
	lower := strings.ToLower(s)
	return strings.Contains(lower, "access_token") ||
		strings.Contains(lower, "accesstoken") ||
		strings.Contains(lower, "password")
}
