package domain

import (
	"errors"
	"fmt"
)

// Application error codes.
const (
	EINTERNAL = "internal"  // Persistence or other unexpected failure
	EINVALID  = "invalid"   // Precondition not met (bad work item)
	ENOTFOUND = "not_found" // Referenced record missing
	EPAYMENT  = "payment"   // Charge was declined or could not be submitted
	ECONFIG   = "config"    // Missing or invalid configuration (fatal at startup)
)

// Error represents an application error with a code and message.
// It implements the error interface and supports error wrapping.
type Error struct {
	// Code is a machine-readable error code (e.g., EINVALID, EPAYMENT).
	Code string

	// Message is a human-readable error message.
	Message string

	// Op is the operation where the error occurred (e.g., "billing.renew").
	Op string

	// Err is the underlying error, if any. Used for error wrapping.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode extracts the error code from an error.
// Returns EINTERNAL for non-domain errors.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return EINTERNAL
}
