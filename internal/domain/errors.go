package domain

import (
	"errors"
	"fmt"
)

// ErrorKind partitions send failures for retry/failover policy.
type ErrorKind string

const (
	// KindValidation: malformed recipient, missing subject/body,
	// disallowed HTML. Never retried.
	KindValidation ErrorKind = "validation"
	// KindAuthorization: provider not permitted or quota exceeded by the
	// license. Never retried.
	KindAuthorization ErrorKind = "authorization"
	// KindRateLimited: account refused by its daily/hourly caps. Triggers
	// in-process account failover before surfacing.
	KindRateLimited ErrorKind = "rate_limited"
	// KindProvider: transport/API failure, including OAuth refresh
	// failure. Triggers account then channel failover.
	KindProvider ErrorKind = "provider"
	// KindNotFound: unknown account, rule, or log.
	KindNotFound ErrorKind = "not_found"
	// KindPersistence: storage failure, surfaced unchanged.
	KindPersistence ErrorKind = "persistence"
	// KindUnsupportedProvider: provider value outside the adapter table.
	KindUnsupportedProvider ErrorKind = "unsupported_provider"
)

// Sentinels for errors.Is checks at package boundaries.
var (
	ErrNotFound            = errors.New("not found")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrNoActiveAccount     = errors.New("no active sending account available")
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrInvalidTrackingHash = errors.New("invalid tracking hash")
)

// SendError wraps a dispatch failure with its taxonomy kind.
type SendError struct {
	Kind ErrorKind
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// NewSendError builds a SendError of the given kind.
func NewSendError(kind ErrorKind, format string, args ...any) *SendError {
	return &SendError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WrapError attaches a kind to an existing error.
func WrapError(kind ErrorKind, err error) *SendError {
	return &SendError{Kind: kind, Err: err}
}

// KindOf extracts the taxonomy kind from err, defaulting to KindProvider
// for untyped failures (they behave like transport errors for failover).
func KindOf(err error) ErrorKind {
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrUnsupportedProvider):
		return KindUnsupportedProvider
	}
	return KindProvider
}
