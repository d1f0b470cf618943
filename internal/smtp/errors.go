package smtp

import (
	"errors"
	"fmt"
	"net/textproto"
)

var (
	// ErrInvalidRecipient is returned for an empty or malformed To address
	ErrInvalidRecipient = errors.New("invalid recipient address")

	// ErrEmptyBody is returned when there is nothing to send
	ErrEmptyBody = errors.New("empty message body")
)

// AuthenticationError means the SMTP server rejected the credentials
type AuthenticationError struct {
	Username string
	Err      error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("smtp authentication failed for %s: %v", e.Username, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// isAuthRejection reports whether err is a server reply rejecting AUTH
func isAuthRejection(err error) bool {
	var tpErr *textproto.Error
	if !errors.As(err, &tpErr) {
		return false
	}
	switch tpErr.Code {
	case 530, 534, 535:
		return true
	}
	return false
}
