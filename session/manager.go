package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/duochat/duochat/chatstream"
	"github.com/duochat/duochat/relay"
)

// sessionNoticeDismiss is how long session banners stay visible.
const sessionNoticeDismiss = 3 * time.Second

// Sender is the outbound half of the relay channel.
type Sender interface {
	Send(v any) bool
}

// StartOptions configures a session start or resume.
type StartOptions struct {
	ProjectPath string
	Cwd         string
	Model       string

	// SessionID and ResumeToken resume a previous session. Both come
	// from relay-confirmed identity, never synthesized locally.
	SessionID   string
	ResumeToken string
	Resume      bool
}

// Manager owns one provider's session lifecycle. All methods are safe
// for concurrent use.
type Manager struct {
	provider chatstream.Provider
	sender   Sender
	cfg      config

	mu          sync.Mutex
	status      Status
	sessionID   string
	resumeToken string
	lastOptions relay.SessionOptions

	// resumePending is armed when the transport drops while the
	// session is active; the next reconnect re-sends the handshake
	// exactly once.
	resumePending bool

	initTimer *time.Timer
}

// NewManager creates a session manager for one provider.
func NewManager(provider chatstream.Provider, sender Sender, opts ...Option) *Manager {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager{provider: provider, sender: sender, cfg: cfg}
}

// Provider returns the manager's provider.
func (m *Manager) Provider() chatstream.Provider { return m.provider }

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SessionID returns the relay-confirmed session ID, or "".
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// ResumeToken returns the relay-reported resume token, or "".
func (m *Manager) ResumeToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resumeToken
}

// RestoreIdentity seeds a saved identity into an idle manager, so
// snapshot saves triggered by a transcript restore keep it. A live
// session's identity is never overwritten.
func (m *Manager) RestoreIdentity(sessionID, resumeToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusIdle {
		return
	}
	m.sessionID = sessionID
	m.resumeToken = resumeToken
}

// PromptOptions returns the options to attach to outbound prompts.
func (m *Manager) PromptOptions() relay.SessionOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOptions
}

// Start sends the session handshake and arms the fallback timer. Only
// an idle session can start. The transition and the timer are in place
// before the envelope goes out: the relay's confirmation arrives on the
// read goroutine and must never be outrun by this bookkeeping.
func (m *Manager) Start(opts StartOptions) error {
	m.mu.Lock()
	if m.status != StatusIdle {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}

	wireOpts := relay.SessionOptions{
		ProjectPath: opts.ProjectPath,
		Cwd:         opts.Cwd,
		Model:       opts.Model,
	}
	if wireOpts.Cwd == "" {
		wireOpts.Cwd = opts.ProjectPath
	}
	if opts.Resume {
		wireOpts.Resume = true
		wireOpts.SessionID = opts.SessionID
		wireOpts.ResumeRolloutPath = opts.ResumeToken
	}
	m.lastOptions = wireOpts
	m.resumeToken = opts.ResumeToken
	m.status = StatusInitializing
	m.armInitTimerLocked()
	m.mu.Unlock()
	m.notifyStatus(StatusIdle, StatusInitializing)

	if !m.sender.Send(relay.NewStartSessionRequest(m.provider, wireOpts)) {
		m.rollbackStart(StatusIdle, false)
		return ErrNotConnected
	}
	return nil
}

// rollbackStart undoes an initializing transition after a failed send,
// unless a confirmation already moved the session on.
func (m *Manager) rollbackStart(to Status, rearmResume bool) {
	m.mu.Lock()
	if m.status != StatusInitializing {
		m.mu.Unlock()
		return
	}
	m.cancelInitTimerLocked()
	m.status = to
	if rearmResume {
		m.resumePending = true
	}
	m.mu.Unlock()
	m.notifyStatus(StatusInitializing, to)
}

// End tears the session down. Safe to call in any state.
func (m *Manager) End() {
	m.mu.Lock()
	if m.status == StatusIdle {
		m.mu.Unlock()
		return
	}
	m.cancelInitTimerLocked()
	m.mu.Unlock()

	m.transition(StatusEnding)
	m.sender.Send(relay.NewEndSessionRequest(m.provider))

	m.mu.Lock()
	m.sessionID = ""
	m.resumeToken = ""
	m.resumePending = false
	m.mu.Unlock()
	m.transition(StatusIdle)
}

// Abort asks the relay to interrupt the current turn. The session
// stays active; the agent's terminal event follows on the stream.
func (m *Manager) Abort() error {
	m.mu.Lock()
	active := m.status == StatusActive || m.status == StatusInitializing
	m.mu.Unlock()
	if !active {
		return ErrNotActive
	}
	if !m.sender.Send(relay.NewAbortRequest(m.provider)) {
		return ErrNotConnected
	}
	return nil
}

// HandleSessionStarted processes the relay's confirmation.
func (m *Manager) HandleSessionStarted(info relay.SessionInfo) {
	m.mu.Lock()
	m.cancelInitTimerLocked()
	alreadyActive := m.status == StatusActive && m.sessionID == info.SessionID && info.SessionID != ""
	if info.SessionID != "" {
		m.sessionID = info.SessionID
	}
	if info.RolloutPath != "" {
		m.resumeToken = info.RolloutPath
	}
	sessionID := m.sessionID
	resumeToken := m.resumeToken
	m.mu.Unlock()

	if alreadyActive {
		return
	}
	m.transition(StatusActive)

	if m.cfg.callbacks.Confirmed != nil {
		m.cfg.callbacks.Confirmed(sessionID, resumeToken)
	}
	if sessionID != "" {
		m.notice(chatstream.NewTemporary(fmt.Sprintf("Session started (%s…)", shortID(sessionID)), sessionNoticeDismiss))
	}
}

// HandleSessionClosed processes the relay's teardown notification.
func (m *Manager) HandleSessionClosed() {
	m.mu.Lock()
	m.cancelInitTimerLocked()
	wasActive := m.status == StatusActive
	m.sessionID = ""
	m.resumePending = false
	m.mu.Unlock()

	m.transition(StatusIdle)
	if wasActive {
		m.notice(chatstream.NewTemporary("Session closed", sessionNoticeDismiss))
	}
}

// HandleNotFound processes a failed resume: the saved identity is
// stale and must be discarded.
func (m *Manager) HandleNotFound() {
	m.mu.Lock()
	m.cancelInitTimerLocked()
	m.sessionID = ""
	m.resumeToken = ""
	m.resumePending = false
	m.lastOptions.Resume = false
	m.lastOptions.SessionID = ""
	m.lastOptions.ResumeRolloutPath = ""
	m.mu.Unlock()

	m.transition(StatusIdle)
	if m.cfg.callbacks.NotFound != nil {
		m.cfg.callbacks.NotFound()
	}
	m.notice(chatstream.New(chatstream.RoleSystem, "Previous session expired. A new session will be created."))
}

// HandleConnectionChange reacts to transport transitions. A drop while
// active arms the resume guard; the next reconnect re-sends the
// handshake exactly once. A drop in any other state abandons the
// session.
func (m *Manager) HandleConnectionChange(connected bool) {
	if !connected {
		m.mu.Lock()
		switch m.status {
		case StatusActive:
			m.resumePending = true
			m.mu.Unlock()
		case StatusInitializing:
			m.cancelInitTimerLocked()
			m.mu.Unlock()
			m.transition(StatusIdle)
		default:
			m.mu.Unlock()
		}
		return
	}

	m.mu.Lock()
	if !m.resumePending {
		m.mu.Unlock()
		return
	}
	m.resumePending = false
	opts := m.lastOptions
	opts.Resume = true
	opts.SessionID = m.sessionID
	opts.ResumeRolloutPath = m.resumeToken
	m.lastOptions = opts
	from := m.status
	m.status = StatusInitializing
	m.armInitTimerLocked()
	m.mu.Unlock()
	m.notifyStatus(from, StatusInitializing)

	if !m.sender.Send(relay.NewStartSessionRequest(m.provider, opts)) {
		// The transport flapped again; the next reconnect retries.
		m.rollbackStart(from, true)
	}
}

// armInitTimerLocked starts the handshake fallback timer.
func (m *Manager) armInitTimerLocked() {
	m.cancelInitTimerLocked()
	m.initTimer = time.AfterFunc(m.cfg.initTimeout, m.initTimedOut)
}

// initTimedOut abandons a handshake the relay never confirmed.
func (m *Manager) initTimedOut() {
	m.mu.Lock()
	if m.status != StatusInitializing {
		m.mu.Unlock()
		return
	}
	m.initTimer = nil
	m.mu.Unlock()

	m.cfg.logger.Warn("session start timed out", "provider", string(m.provider))
	m.transition(StatusIdle)
	m.notice(chatstream.New(chatstream.RoleSystem, "Session start timeout. You can retry or continue without session."))
}

func (m *Manager) cancelInitTimerLocked() {
	if m.initTimer != nil {
		m.initTimer.Stop()
		m.initTimer = nil
	}
}

// transition moves to the new state and notifies.
func (m *Manager) transition(to Status) {
	m.mu.Lock()
	from := m.status
	m.status = to
	m.mu.Unlock()
	m.notifyStatus(from, to)
}

// notifyStatus logs and reports a state change already applied.
func (m *Manager) notifyStatus(from, to Status) {
	if from == to {
		return
	}
	m.cfg.logger.Debug("session state change",
		"provider", string(m.provider), "from", from.String(), "to", to.String())
	if m.cfg.callbacks.StatusChanged != nil {
		m.cfg.callbacks.StatusChanged(to)
	}
}

func (m *Manager) notice(msg chatstream.Message) {
	if m.cfg.callbacks.Notice != nil {
		m.cfg.callbacks.Notice(msg)
	}
}

// shortID truncates a session ID for display.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
