// Package session tracks the per-provider agent session lifecycle:
// start handshake with a fallback timeout, relay-confirmed identity,
// resume across transport drops, and teardown.
package session

// Status is the lifecycle state of one provider's session.
type Status int

const (
	// StatusIdle means no session exists.
	StatusIdle Status = iota

	// StatusInitializing means a start request is awaiting the relay's
	// confirmation.
	StatusInitializing

	// StatusActive means the relay confirmed the session.
	StatusActive

	// StatusEnding means teardown is in flight.
	StatusEnding
)

// String returns the state name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusInitializing:
		return "initializing"
	case StatusActive:
		return "active"
	case StatusEnding:
		return "ending"
	default:
		return "unknown"
	}
}
