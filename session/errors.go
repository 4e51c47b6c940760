package session

import "errors"

// Sentinel errors for common error conditions.
var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotActive      = errors.New("session not active")
	ErrNotConnected   = errors.New("relay not connected")
)
