package relay

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	ErrClosed       = errors.New("channel closed")
	ErrNotConnected = errors.New("channel not connected")
	ErrMissingToken = errors.New("auth token not configured")
)

// AuthError indicates the relay rejected the auth envelope.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return "relay rejected authentication"
	}
	return fmt.Sprintf("relay rejected authentication: %s", e.Reason)
}
