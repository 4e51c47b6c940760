package relay

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// config holds channel configuration.
type config struct {
	token             string
	reconnectInterval time.Duration
	pingInterval      time.Duration
	handshakeTimeout  time.Duration
	writeTimeout      time.Duration
	dialer            *websocket.Dialer
	logger            *slog.Logger
}

// defaultConfig returns the default channel configuration.
func defaultConfig() config {
	return config{
		reconnectInterval: 3 * time.Second,
		pingInterval:      25 * time.Second,
		handshakeTimeout:  10 * time.Second,
		writeTimeout:      10 * time.Second,
		dialer:            websocket.DefaultDialer,
		logger:            slog.Default(),
	}
}

// Option configures a Channel.
type Option func(*config)

// WithToken sets the auth token sent in the first frame. The channel
// refuses to connect without one.
func WithToken(token string) Option {
	return func(c *config) { c.token = token }
}

// WithReconnectInterval overrides the fixed delay between reconnect
// attempts.
func WithReconnectInterval(d time.Duration) Option {
	return func(c *config) { c.reconnectInterval = d }
}

// WithPingInterval overrides the keepalive interval.
func WithPingInterval(d time.Duration) Option {
	return func(c *config) { c.pingInterval = d }
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *config) { c.dialer = d }
}

// WithLogger sets the logger for transport diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}
