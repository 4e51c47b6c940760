package session

import (
	"log/slog"
	"time"

	"github.com/duochat/duochat/chatstream"
)

// Callbacks are the manager's outbound notifications. Any field may be
// nil.
type Callbacks struct {
	// StatusChanged fires on every lifecycle transition.
	StatusChanged func(Status)

	// Notice delivers user-facing session notices (banners, timeout
	// and expiry messages) for the message log.
	Notice func(chatstream.Message)

	// Confirmed fires when the relay acknowledges a session, with the
	// identity to persist.
	Confirmed func(sessionID, resumeToken string)

	// NotFound fires when the relay reports the resumed session is
	// gone; the persisted identity should be discarded.
	NotFound func()
}

// config holds manager configuration.
type config struct {
	initTimeout time.Duration
	callbacks   Callbacks
	logger      *slog.Logger
}

// defaultConfig returns the default manager configuration.
func defaultConfig() config {
	return config{
		initTimeout: 9 * time.Second,
		logger:      slog.Default(),
	}
}

// Option configures a Manager.
type Option func(*config)

// WithInitTimeout overrides the start-handshake fallback timeout.
func WithInitTimeout(d time.Duration) Option {
	return func(c *config) { c.initTimeout = d }
}

// WithCallbacks sets the manager's notifications.
func WithCallbacks(cb Callbacks) Option {
	return func(c *config) { c.callbacks = cb }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}
