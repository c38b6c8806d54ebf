package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a charge request exceeds the configured
	// timeout. The charge may or may not have reached the provider.
	ErrTimeout = errors.New("gateway: request timed out")

	// ErrUnreachable is returned on transport-level failures before any
	// HTTP response was received (connection refused, DNS, TLS).
	ErrUnreachable = errors.New("gateway: provider unreachable")

	// ErrMissingToken is returned when a charge is attempted without a
	// stored payment token.
	ErrMissingToken = errors.New("gateway: stored payment token is required")
)

// RejectedError is an explicit decline from the provider: a non-success
// HTTP status with an error message. Declines are not retried
// automatically.
type RejectedError struct {
	Reason     string // Provider's error message, if any
	HTTPStatus int
}

func (e *RejectedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("gateway: charge rejected (status %d): %s", e.HTTPStatus, e.Reason)
	}
	return fmt.Sprintf("gateway: charge rejected (status %d)", e.HTTPStatus)
}

// IsTransient reports whether err is a gateway failure eligible for the
// bounded retry policy. Explicit declines are never transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnreachable)
}
