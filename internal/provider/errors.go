package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every error returned by a Client wraps exactly one of these,
// so callers classify failures with errors.Is and never inspect
// provider-specific error shapes.
var (
	// ErrUnavailable means no credential or configuration could be resolved
	// for the selected provider.
	ErrUnavailable = errors.New("provider unavailable")
	// ErrAuth means the provider rejected the credential.
	ErrAuth = errors.New("provider authentication failed")
	// ErrRateLimited means the provider refused the call for quota or rate reasons.
	ErrRateLimited = errors.New("provider rate limited")
	// ErrTransport covers network, timeout and other HTTP-layer failures.
	ErrTransport = errors.New("provider transport error")
	// ErrMalformedResponse means the provider's own envelope could not be decoded.
	ErrMalformedResponse = errors.New("provider response malformed")
	// ErrEmptyResponse means the call succeeded but carried no candidates.
	ErrEmptyResponse = errors.New("provider response empty")
)

// Error is the single error type returned by provider clients.
type Error struct {
	// Kind is one of the package sentinels.
	Kind error
	// Provider is the provider name, e.g. "gemini".
	Provider string
	// StatusCode is the HTTP status, when one was received.
	StatusCode int
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindName returns a short label for the error kind, for logs and metrics.
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrEmptyResponse):
		return "empty"
	default:
		return "transport"
	}
}

// Retryable reports whether a later identical call might succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransport)
}

// kindForStatus maps a non-2xx HTTP status onto an error kind.
func kindForStatus(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuth
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return ErrTransport
	}
}

// statusError builds an Error for a received HTTP status.
func statusError(provider string, code int, err error) *Error {
	return &Error{Kind: kindForStatus(code), Provider: provider, StatusCode: code, Err: err}
}

// transportError wraps a failure where no usable HTTP status was received.
// Context cancellation and deadlines stay matchable through Err.
func transportError(provider string, err error) *Error {
	return &Error{Kind: ErrTransport, Provider: provider, Err: err}
}

// IsTimeout reports whether err was caused by a deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func unavailable(provider, reason string) *Error {
	return &Error{Kind: ErrUnavailable, Provider: provider, Err: errors.New(reason)}
}
