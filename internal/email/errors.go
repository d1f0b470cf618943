package email

import (
	"errors"
	"fmt"
)

var (
	// ErrMessageNotFound is returned when a fetch yields no message for a UID
	ErrMessageNotFound = errors.New("message not found")

	// ErrSessionClosed is returned when a closed session is used
	ErrSessionClosed = errors.New("session closed")
)

// AuthenticationError means the server rejected the mailbox credentials
type AuthenticationError struct {
	Username string
	Err      error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Username, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ConnectivityError means the mailbox could not be reached or the protocol
// exchange failed. It is fatal to the current run only.
type ConnectivityError struct {
	Op     string
	Server string
	Err    error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("mailbox %s: %s: %v", e.Server, e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// FetchError is a failure to fetch a single message; the session stays usable
type FetchError struct {
	ID  uint32
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch message %d: %v", e.ID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
