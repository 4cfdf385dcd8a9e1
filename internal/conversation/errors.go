// ABOUTME: Error taxonomy for conversation operations
// ABOUTME: Sentinel kinds for errors.Is plus a client-facing message for each rejection

package conversation

import (
	"errors"
	"fmt"
)

// Error kinds. Use errors.Is to classify a returned error.
var (
	// ErrValidation: missing or malformed input, including self-messaging.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound: the referenced message or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden: the caller may not act on the referenced message.
	ErrForbidden = errors.New("forbidden")
	// ErrPolicy: the action is valid but disallowed, e.g. outside the delete window.
	ErrPolicy = errors.New("policy violation")
	// ErrDependency: the store, cache, or upload backend failed.
	ErrDependency = errors.New("dependency failure")
	// ErrNoUsers: there is nobody else to talk to.
	ErrNoUsers = errors.New("no users found")
)

// Error is a rejection with a message safe to show to the client.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func reject(kind error, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

func dependency(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDependency, op, err)
}

// Message returns the client-facing message carried by err, or fallback.
func Message(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return fallback
}
