package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies adapter failures so the chain can decide whether to back
// off, retry or move on without inspecting vendor-specific errors.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTimeout and KindNetwork are transient transport failures.
	KindTimeout
	KindNetwork
	KindRateLimited
	KindMalformed
	KindEmpty
	KindValidation
	KindExhausted
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindRateLimited:
		return "rate limited"
	case KindMalformed:
		return "malformed"
	case KindEmpty:
		return "empty"
	case KindValidation:
		return "validation"
	case KindExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Error is the single error type adapters hand back.
type Error struct {
	Kind     Kind
	Provider string
	Message  string
	Cause    error
}

func NewError(kind Kind, provider, message string) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message}
}

func Errorf(kind Kind, provider, format string, args ...any) *Error {
	return &Error{Kind: kind, Provider: provider, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, provider, message string, cause error) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	prefix := e.Kind.String()
	if e.Provider != "" {
		prefix = e.Provider + ": " + prefix
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// KindOf extracts the Kind from err's chain, classifying raw errors on the way.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Classify(err)
}

// IsRateLimited reports whether err signals vendor throttling.
func IsRateLimited(err error) bool { return KindOf(err) == KindRateLimited }

// Classify maps a raw transport or decode error onto a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	if errors.As(err, &syn) || errors.As(err, &typ) {
		return KindMalformed
	}
	return KindNetwork
}

// FromStatus maps a non-2xx HTTP status onto a Kind.
func FromStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusNotFound, code == http.StatusUnauthorized, code == http.StatusForbidden:
		return KindEmpty
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return KindTimeout
	case code >= 500:
		return KindNetwork
	default:
		return KindMalformed
	}
}
