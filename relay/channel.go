package relay

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MessageHandler receives every inbound envelope. Handlers filter by
// provider and kind themselves.
type MessageHandler func(Envelope)

// ConnectionHandler receives transport state transitions.
type ConnectionHandler func(ConnState)

// Channel is the authenticated WebSocket connection to the relay.
//
// A channel reconnects forever at a fixed interval while it has a token
// and has not been closed. Registered handlers survive reconnects:
// every handler sees every envelope from every connection generation.
type Channel struct {
	url string
	cfg config

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	closed       bool
	started      bool
	msgHandlers  map[string]MessageHandler
	connHandlers map[string]ConnectionHandler

	done chan struct{}
}

// NewChannel creates a channel for the given relay URL. Connect must be
// called before any traffic flows.
func NewChannel(url string, opts ...Option) *Channel {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Channel{
		url:          url,
		cfg:          cfg,
		msgHandlers:  make(map[string]MessageHandler),
		connHandlers: make(map[string]ConnectionHandler),
		done:         make(chan struct{}),
	}
}

// RegisterMessageHandler adds (or replaces) a keyed envelope handler.
func (c *Channel) RegisterMessageHandler(key string, fn MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgHandlers[key] = fn
}

// UnregisterMessageHandler removes a keyed envelope handler.
func (c *Channel) UnregisterMessageHandler(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.msgHandlers, key)
}

// RegisterConnectionHandler adds (or replaces) a keyed connection
// handler. If the channel is already connected the handler is invoked
// immediately with the current state.
func (c *Channel) RegisterConnectionHandler(key string, fn ConnectionHandler) {
	c.mu.Lock()
	connected := c.connected
	c.connHandlers[key] = fn
	c.mu.Unlock()
	if connected {
		fn(ConnState{Connected: true})
	}
}

// UnregisterConnectionHandler removes a keyed connection handler.
func (c *Channel) UnregisterConnectionHandler(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.connHandlers, key)
}

// Connected reports whether the channel is authenticated and usable.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect starts the connection loop. It returns immediately; the loop
// dials, authenticates, and redials on failure until Close is called or
// ctx is cancelled.
func (c *Channel) Connect(ctx context.Context) error {
	if c.cfg.token == "" {
		return ErrMissingToken
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	go c.run(ctx)
	return nil
}

// Send marshals v and writes it to the relay. It reports whether the
// write happened: while disconnected it drops the frame and returns
// false, matching the fire-and-forget contract callers rely on.
func (c *Channel) Send(v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.conn == nil {
		return false
	}
	return c.writeLocked(v)
}

// writeLocked performs a JSON write on the current connection. The
// channel mutex doubles as the websocket write lock.
func (c *Channel) writeLocked(v any) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		c.cfg.logger.Debug("relay write failed", "error", err)
		return false
	}
	return true
}

// Close shuts the channel down permanently.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// run is the reconnect loop. Each iteration owns one connection
// generation from dial to teardown.
func (c *Channel) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		if err := c.runOnce(ctx); err != nil {
			c.cfg.logger.Warn("relay connection lost", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-time.After(c.cfg.reconnectInterval):
		}
	}
}

// runOnce dials, authenticates, and pumps frames until the connection
// drops.
func (c *Channel) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.handshakeTimeout)
	conn, _, err := c.cfg.dialer.DialContext(dialCtx, c.url, nil)
	cancel()
	if err != nil {
		return err
	}

	if err := c.authenticate(conn); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.cfg.logger.Info("relay connected", "url", c.url)
	c.notifyConnection(ConnState{Connected: true})

	pingDone := make(chan struct{})
	go c.pingLoop(pingDone)

	err = c.readLoop(conn)
	close(pingDone)

	c.mu.Lock()
	c.connected = false
	c.conn = nil
	c.mu.Unlock()
	conn.Close()

	c.notifyConnection(ConnState{Connected: false})
	return err
}

// authenticate sends the auth envelope and waits for the relay's
// verdict. The socket carries no other traffic until then.
func (c *Channel) authenticate(conn *websocket.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.writeTimeout))
	if err := conn.WriteJSON(NewAuthRequest(c.cfg.token)); err != nil {
		return err
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		env, err := ParseEnvelope(data)
		if err != nil {
			c.cfg.logger.Warn("skipping unparseable relay frame", "error", err)
			continue
		}
		switch env.Kind {
		case KindAuthSuccess:
			return nil
		case KindAuthError:
			return &AuthError{Reason: env.ErrorText()}
		default:
			// The relay must not send anything before the verdict.
			return &AuthError{Reason: "unexpected frame before auth ack: " + env.Type}
		}
	}
}

// readLoop pumps inbound frames to the registered handlers.
func (c *Channel) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		env, err := ParseEnvelope(data)
		if err != nil {
			c.cfg.logger.Warn("skipping unparseable relay frame", "error", err)
			continue
		}
		if env.Kind == KindPong {
			continue
		}
		c.dispatch(env)
	}
}

// dispatch fans one envelope out to every registered message handler.
func (c *Channel) dispatch(env Envelope) {
	c.mu.Lock()
	handlers := make([]MessageHandler, 0, len(c.msgHandlers))
	for _, fn := range c.msgHandlers {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(env)
	}
}

// notifyConnection fans a transport transition out to every registered
// connection handler.
func (c *Channel) notifyConnection(state ConnState) {
	c.mu.Lock()
	handlers := make([]ConnectionHandler, 0, len(c.connHandlers))
	for _, fn := range c.connHandlers {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(state)
	}
}

// pingLoop sends keepalive frames while the connection generation is
// alive.
func (c *Channel) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.Send(NewPingRequest())
		}
	}
}
