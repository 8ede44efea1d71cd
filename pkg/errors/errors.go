// Package errors provides the error taxonomy shared by StreamGuard components.
//
// Every error carries a Kind so callers can decide how to react without
// string matching: an UnknownDistro is a caller mistake, a TransientFetch
// is absorbed by the content fallbacks, a PerHostExecution stays inside
// its host unit, and an OrchestrationFatal fails the whole job.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Base Error Types
// =============================================================================

// Error is the base error type for all StreamGuard errors.
type Error struct {
	// Kind indicates the category of error
	Kind Kind

	// Op is the operation being performed (e.g., "content.EnsureContent")
	Op string

	// Message is a human-readable description
	Message string

	// Err is the underlying error
	Err error
}

// Kind represents the kind/category of error.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindNotFound
	KindConflict
	KindRateLimit
	KindTimeout
	KindNetwork
	KindInternal

	// KindUnknownDistro: a distro string maps to no supported product.
	KindUnknownDistro
	// KindTransientFetch: network, rate-limit or archive failure while fetching content.
	KindTransientFetch
	// KindPerHostExecution: the external tool failed, timed out or could not be found for one host.
	KindPerHostExecution
	// KindParse: a results or datastream document could not be read.
	KindParse
	// KindOrchestrationFatal: the job itself could not be created or finalized.
	KindOrchestrationFatal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimit:
		return "rate_limit"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindInternal:
		return "internal"
	case KindUnknownDistro:
		return "unknown_distro"
	case KindTransientFetch:
		return "transient_fetch"
	case KindPerHostExecution:
		return "per_host_execution"
	case KindParse:
		return "parse"
	case KindOrchestrationFatal:
		return "orchestration_fatal"
	default:
		return "unknown"
	}
}

// HTTPStatus maps a kind to the status code the API answers with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput, KindUnknownDistro:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindTransientFetch, KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			if e.Message == "" {
				return fmt.Sprintf("%s: %v", e.Op, e.Err)
			}
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// =============================================================================
// Constructors
// =============================================================================

// E constructs an Error from the given arguments.
// Arguments can be: Kind, string (Op first, then Message), error.
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Kind:
			e.Kind = a
		case string:
			if e.Op == "" {
				e.Op = a
			} else {
				e.Message = a
			}
		case error:
			e.Err = a
		}
	}
	return e
}

// New creates a new simple error.
func New(message string) error {
	return &Error{Message: message}
}

// Wrap wraps an error with additional context. The kind of the wrapped
// error is preserved.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: GetKind(err), Op: op, Err: err}
}

// UnknownDistro builds the error returned when a distro has no products.
func UnknownDistro(op, distro string) error {
	return &Error{Kind: KindUnknownDistro, Op: op, Message: fmt.Sprintf("unknown distro %q", distro)}
}

// =============================================================================
// Error Checkers
// =============================================================================

// GetKind returns the Kind of the error, or KindUnknown.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsUnknownDistro checks if the error is an unknown distro error.
func IsUnknownDistro(err error) bool {
	return GetKind(err) == KindUnknownDistro
}

// IsRateLimitError checks if the error is a rate limit error.
func IsRateLimitError(err error) bool {
	return GetKind(err) == KindRateLimit
}

// IsNotFoundError checks if the error is a not found error.
func IsNotFoundError(err error) bool {
	return GetKind(err) == KindNotFound
}

// IsRetryable checks if the error is worth another attempt.
// Rate limits are not retried: the content fallbacks take over instead.
func IsRetryable(err error) bool {
	switch GetKind(err) {
	case KindNetwork, KindTimeout, KindTransientFetch:
		return true
	}
	return false
}

// =============================================================================
// Common Errors
// =============================================================================

var (
	// ErrRateLimited is returned when the content remote refuses requests.
	ErrRateLimited = &Error{Kind: KindRateLimit, Message: "rate limited"}

	// ErrInvalidConfig is returned for invalid configuration.
	ErrInvalidConfig = &Error{Kind: KindInvalidInput, Message: "invalid configuration"}

	// ErrNotFound is returned when a stored record does not exist.
	ErrNotFound = &Error{Kind: KindNotFound, Message: "not found"}

	// ErrUnknownDistro matches any unknown distro error via errors.Is.
	ErrUnknownDistro = &Error{Kind: KindUnknownDistro, Message: "unknown distro"}
)
