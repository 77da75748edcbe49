package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrTokenNotFound     = errors.New("token not found")
)

// ConfigurationError reports every identifier the resolver could not derive
// for a request, so a client sees the full list at once instead of fixing one
// field per round trip.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "missing configuration: " + strings.Join(e.Missing, ", ")
}

// UpstreamError wraps a failure talking to the Foundry resource. Status is
// the upstream HTTP status, or 0 when the call never completed.
type UpstreamError struct {
	Status  int
	Message string
	Hint    string
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if e.Status > 0 {
		msg = fmt.Sprintf("upstream returned %d: %s", e.Status, e.Message)
	}
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

type NotSupportedError struct {
	Feature string
	Message string
}

func (e *NotSupportedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Feature + " is not supported by this gateway"
}

// AuthError covers gateway-level authentication only. Upstream 401/403
// responses stay UpstreamError since they indicate a bad resource key, not a
// bad client credential.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }

type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
