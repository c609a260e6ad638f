package llm

import (
	"errors"
	"fmt"
)

// Kind classifies an upstream failure. The resilience layer retries only
// transient kinds; client-side faults propagate immediately so a bad request
// is never replayed against the upstream.
type Kind int

const (
	// KindConnection marks a network-level failure reaching the upstream.
	KindConnection Kind = iota

	// KindTimeout marks an upstream call that exceeded its deadline.
	KindTimeout

	// KindRateLimit marks an HTTP 429 from the upstream.
	KindRateLimit

	// KindAuth marks an HTTP 401 or 403 from the upstream.
	KindAuth

	// KindBadRequest marks an HTTP 400 or 422 from the upstream.
	KindBadRequest

	// KindNotFound marks an HTTP 404, typically an unknown model.
	KindNotFound

	// KindServer marks an HTTP 5xx from the upstream.
	KindServer
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection_error"
	case KindTimeout:
		return "timeout_error"
	case KindRateLimit:
		return "rate_limit_error"
	case KindAuth:
		return "auth_error"
	case KindBadRequest:
		return "bad_request_error"
	case KindNotFound:
		return "not_found_error"
	case KindServer:
		return "server_error"
	default:
		return "unknown_error"
	}
}

// Error is the classified failure returned by every Upstream implementation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying SDK or transport error.
func (e *Error) Unwrap() error {
	return e.Err
}

// newError builds a classified error wrapping cause.
func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf extracts the failure kind from err. The second return value is
// false when err carries no classification.
func KindOf(err error) (Kind, bool) {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind, true
	}
	return 0, false
}

// IsRetryable reports whether err is a transient upstream failure worth
// retrying. Connection, timeout and server errors qualify; rate limits,
// auth failures and malformed requests never do, since replaying them
// cannot succeed and burns quota.
func IsRetryable(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case KindConnection, KindTimeout, KindServer:
		return true
	default:
		return false
	}
}

// kindFromStatus maps an upstream HTTP status code to a failure kind.
func kindFromStatus(status int) Kind {
	switch {
	case status == 429:
		return KindRateLimit
	case status == 401 || status == 403:
		return KindAuth
	case status == 404:
		return KindNotFound
	case status == 408:
		return KindTimeout
	case status >= 400 && status < 500:
		return KindBadRequest
	default:
		return KindServer
	}
}
