package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindUnknown, "unknown"},
		{KindInvalidInput, "invalid_input"},
		{KindNotFound, "not_found"},
		{KindRateLimit, "rate_limit"},
		{KindTimeout, "timeout"},
		{KindNetwork, "network"},
		{KindInternal, "internal"},
		{KindUnknownDistro, "unknown_distro"},
		{KindTransientFetch, "transient_fetch"},
		{KindPerHostExecution, "per_host_execution"},
		{KindParse, "parse"},
		{KindOrchestrationFatal, "orchestration_fatal"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("Kind.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestKind_HTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindUnknownDistro, http.StatusBadRequest},
		{KindInvalidInput, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindRateLimit, http.StatusTooManyRequests},
		{KindTransientFetch, http.StatusBadGateway},
		{KindOrchestrationFatal, http.StatusInternalServerError},
		{KindUnknown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := tt.kind.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "op and message and err",
			err:      &Error{Op: "content.EnsureContent", Message: "download failed", Err: fmt.Errorf("connection refused")},
			expected: "content.EnsureContent: download failed: connection refused",
		},
		{
			name:     "op and err",
			err:      &Error{Op: "store.GetJob", Err: fmt.Errorf("database is locked")},
			expected: "store.GetJob: database is locked",
		},
		{
			name:     "op and message",
			err:      &Error{Op: "content.Resolve", Message: "unknown distro"},
			expected: "content.Resolve: unknown distro",
		},
		{
			name:     "message and err",
			err:      &Error{Message: "download failed", Err: fmt.Errorf("connection refused")},
			expected: "download failed: connection refused",
		},
		{
			name:     "message only",
			err:      &Error{Message: "download failed"},
			expected: "download failed",
		},
		{
			name:     "empty error",
			err:      &Error{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestError_Is(t *testing.T) {
	err := UnknownDistro("content.Resolve", "plan9")

	if !errors.Is(err, ErrUnknownDistro) {
		t.Error("errors.Is should match on kind")
	}
	if errors.Is(err, ErrRateLimited) {
		t.Error("errors.Is should not match a different kind")
	}
	if errors.Is(fmt.Errorf("plain"), ErrUnknownDistro) {
		t.Error("plain errors should not match")
	}
}

func TestE_Constructor(t *testing.T) {
	underlying := fmt.Errorf("underlying")
	err := E(KindNetwork, "remote.LatestRelease", "request failed", underlying)

	e, ok := err.(*Error)
	if !ok {
		t.Fatal("E() should return *Error")
	}
	if e.Kind != KindNetwork {
		t.Errorf("Kind = %v, want KindNetwork", e.Kind)
	}
	if e.Op != "remote.LatestRelease" {
		t.Errorf("Op = %q, want 'remote.LatestRelease'", e.Op)
	}
	if e.Message != "request failed" {
		t.Errorf("Message = %q, want 'request failed'", e.Message)
	}
	if e.Err != underlying {
		t.Error("Err should be set")
	}
}

func TestWrap(t *testing.T) {
	inner := E(KindRateLimit, "remote.ListProfiles", "403")
	wrapped := Wrap(inner, "content.ListProfiles")

	if GetKind(wrapped) != KindRateLimit {
		t.Errorf("Wrap() should keep the kind, got %v", GetKind(wrapped))
	}
	if Wrap(nil, "op") != nil {
		t.Error("Wrap(nil, op) should return nil")
	}
}

func TestGetKind(t *testing.T) {
	err := &Error{Kind: KindParse}
	if kind := GetKind(err); kind != KindParse {
		t.Errorf("GetKind() = %v, want KindParse", kind)
	}

	wrapped := fmt.Errorf("wrapper: %w", err)
	if kind := GetKind(wrapped); kind != KindParse {
		t.Errorf("GetKind() from wrapped = %v, want KindParse", kind)
	}

	if kind := GetKind(fmt.Errorf("plain error")); kind != KindUnknown {
		t.Errorf("GetKind() from plain error = %v, want KindUnknown", kind)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", &Error{Kind: KindNetwork}, true},
		{"timeout", &Error{Kind: KindTimeout}, true},
		{"transient fetch", &Error{Kind: KindTransientFetch}, true},
		{"rate limit", &Error{Kind: KindRateLimit}, false},
		{"unknown distro", &Error{Kind: KindUnknownDistro}, false},
		{"plain", fmt.Errorf("plain"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
