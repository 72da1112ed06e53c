// Package errs defines the error contract shared by providers, services,
// and the HTTP layer. Every failure that can cross a package boundary is
// classified into a Kind; the server maps kinds to status codes and all
// outward messages pass through Sanitize.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
)

// Kind classifies a failure for routing and status mapping.
type Kind string

const (
	Validation      Kind = "validation"
	Unauthenticated Kind = "unauthenticated"
	NotFound        Kind = "not_found"
	QuotaExceeded   Kind = "quota_exceeded"
	RateLimit       Kind = "rate_limit"
	Timeout         Kind = "timeout"
	Provider        Kind = "provider_error"
	Config          Kind = "config"
	BadModelOutput  Kind = "bad_model_output"
)

// Error carries a kind plus an operator-facing message. Raw holds
// unparseable model output for BadModelOutput diagnostics.
type Error struct {
	Kind    Kind
	Message string
	Raw     string
	err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.err != nil {
		return e.err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.err }

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error, keeping it on the unwrap chain.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), err: err}
}

// KindOf extracts the kind from an error chain. Unclassified errors
// are treated as generic provider failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Provider
}

// Is lets callers test for a kind with errors.Is against a bare kind error.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }

// HTTPStatus maps a kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Validation:
		return http.StatusBadRequest
	case Unauthenticated:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case QuotaExceeded, RateLimit:
		return http.StatusTooManyRequests
	case Timeout:
		return http.StatusGatewayTimeout
	case Config:
		return http.StatusInternalServerError
	case Provider, BadModelOutput:
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

// secretPattern matches API-key shaped substrings that must never reach
// a client.
var secretPattern = regexp.MustCompile(`(sk|OPENAI|OPENROUTER)[-_A-Za-z0-9]+`)

// Sanitize redacts secret-shaped substrings from an outward message.
func Sanitize(msg string) string {
	return secretPattern.ReplaceAllString(msg, "[redacted]")
}

// RawOf returns the raw model output attached to a BadModelOutput error.
func RawOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Raw
	}
	return ""
}
