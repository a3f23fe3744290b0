// Package concierge provides the top-level client: one constructor wiring
// the stores, providers and orchestrator from configuration, the per-turn
// entry point, and the admin/compliance endpoints.
package concierge

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownProvider indicates an unrecognized provider name in the
	// configuration.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Error wraps errors with operation context.
//
// It provides additional context about which operation failed,
// making error messages more informative for debugging.
//
// Example:
//
//	err := &Error{
//	    Op:  "HandleTurn",
//	    Err: context.DeadlineExceeded,
//	}
//	// Error() returns: "concierge: HandleTurn: context deadline exceeded"
type Error struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "concierge: <Op>: <Err>"
func (e *Error) Error() string {
	return fmt.Sprintf("concierge: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
//
// This allows using errors.Is() and errors.As() with Error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewError("HandleTurn", err)
//	}
func NewError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Op:  op,
		Err: err,
	}
}
