package session

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duochat/duochat/chatstream"
	"github.com/duochat/duochat/relay"
)

// fakeSender records outbound envelopes and simulates disconnection.
type fakeSender struct {
	mu        sync.Mutex
	connected bool
	sent      []any
}

func (f *fakeSender) Send(v any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return false
	}
	f.sent = append(f.sent, v)
	return true
}

func (f *fakeSender) sentEnvelopes() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...)
}

func (f *fakeSender) startRequests() []relay.StartSessionRequest {
	var out []relay.StartSessionRequest
	for _, v := range f.sentEnvelopes() {
		if req, ok := v.(relay.StartSessionRequest); ok {
			out = append(out, req)
		}
	}
	return out
}

func (f *fakeSender) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

// noticeRecorder captures session notices.
type noticeRecorder struct {
	mu      sync.Mutex
	notices []chatstream.Message
}

func (r *noticeRecorder) add(m chatstream.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, m)
}

func (r *noticeRecorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.notices {
		out = append(out, m.Text)
	}
	return out
}

func TestStartSendsHandshake(t *testing.T) {
	sender := &fakeSender{connected: true}
	m := NewManager(chatstream.ProviderClaude, sender)

	require.NoError(t, m.Start(StartOptions{ProjectPath: "/work/api", Model: "sonnet"}))
	require.Equal(t, StatusInitializing, m.Status())

	starts := sender.startRequests()
	require.Len(t, starts, 1)
	require.Equal(t, "claude-start-session", starts[0].Type)
	require.Equal(t, "/work/api", starts[0].Options.ProjectPath)
	require.Equal(t, "/work/api", starts[0].Options.Cwd, "cwd defaults to the project path")
	require.Equal(t, "sonnet", starts[0].Options.Model)
	require.False(t, starts[0].Options.Resume)

	require.ErrorIs(t, m.Start(StartOptions{ProjectPath: "/work/api"}), ErrAlreadyStarted)
}

func TestStartWhileDisconnected(t *testing.T) {
	sender := &fakeSender{connected: false}
	m := NewManager(chatstream.ProviderCodex, sender)

	require.ErrorIs(t, m.Start(StartOptions{ProjectPath: "/p"}), ErrNotConnected)
	require.Equal(t, StatusIdle, m.Status())
}

func TestSessionStartedConfirmsIdentity(t *testing.T) {
	sender := &fakeSender{connected: true}
	notices := &noticeRecorder{}
	var confirmedID, confirmedToken string
	m := NewManager(chatstream.ProviderCodex, sender, WithCallbacks(Callbacks{
		Notice:    notices.add,
		Confirmed: func(id, token string) { confirmedID, confirmedToken = id, token },
	}))

	require.NoError(t, m.Start(StartOptions{ProjectPath: "/p"}))
	m.HandleSessionStarted(relay.SessionInfo{SessionID: "sess-12345678", RolloutPath: "/r/s.jsonl"})

	require.Equal(t, StatusActive, m.Status())
	require.Equal(t, "sess-12345678", m.SessionID())
	require.Equal(t, "/r/s.jsonl", m.ResumeToken())
	require.Equal(t, "sess-12345678", confirmedID)
	require.Equal(t, "/r/s.jsonl", confirmedToken)

	texts := notices.texts()
	require.Len(t, texts, 1)
	require.True(t, strings.HasPrefix(texts[0], "Session started (sess-123"), "banner = %q", texts[0])
	require.True(t, notices.notices[0].Temporary, "session banner should be temporary")
}

func TestInitTimeout(t *testing.T) {
	sender := &fakeSender{connected: true}
	notices := &noticeRecorder{}
	m := NewManager(chatstream.ProviderClaude, sender,
		WithInitTimeout(30*time.Millisecond),
		WithCallbacks(Callbacks{Notice: notices.add}))

	require.NoError(t, m.Start(StartOptions{ProjectPath: "/p"}))
	require.Eventually(t, func() bool { return m.Status() == StatusIdle },
		2*time.Second, 5*time.Millisecond)

	texts := notices.texts()
	require.Len(t, texts, 1)
	require.Contains(t, texts[0], "Session start timeout")
}

// confirmingSender answers the handshake inline, before Send returns,
// the way the relay's read goroutine can when the confirmation beats
// the caller back.
type confirmingSender struct {
	fakeSender
	manager *Manager
}

func (s *confirmingSender) Send(v any) bool {
	ok := s.fakeSender.Send(v)
	if _, isStart := v.(relay.StartSessionRequest); ok && isStart {
		s.manager.HandleSessionStarted(relay.SessionInfo{SessionID: "sess-fast"})
	}
	return ok
}

func TestConfirmationDuringSendWins(t *testing.T) {
	sender := &confirmingSender{fakeSender: fakeSender{connected: true}}
	notices := &noticeRecorder{}
	m := NewManager(chatstream.ProviderClaude, sender,
		WithInitTimeout(30*time.Millisecond),
		WithCallbacks(Callbacks{Notice: notices.add}))
	sender.manager = m

	require.NoError(t, m.Start(StartOptions{ProjectPath: "/p"}))
	require.Equal(t, StatusActive, m.Status(), "confirmation delivered during Send must stick")
	require.Equal(t, "sess-fast", m.SessionID())

	// The fallback timer was armed before the send; confirmation must
	// have disarmed it.
	time.Sleep(80 * time.Millisecond)
	require.Equal(t, StatusActive, m.Status())
	for _, text := range notices.texts() {
		require.NotContains(t, text, "timeout")
	}
}

func TestStartResumeCarriesRolloutPath(t *testing.T) {
	sender := &fakeSender{connected: true}
	m := NewManager(chatstream.ProviderCodex, sender)

	require.NoError(t, m.Start(StartOptions{
		ProjectPath: "/p", Resume: true, SessionID: "sess-5", ResumeToken: "/r/5.jsonl",
	}))

	starts := sender.startRequests()
	require.Len(t, starts, 1)
	require.True(t, starts[0].Options.Resume)
	require.Equal(t, "sess-5", starts[0].Options.SessionID)
	require.Equal(t, "/r/5.jsonl", starts[0].Options.ResumeRolloutPath)
}

func TestInitTimerCancelledByConfirmation(t *testing.T) {
	sender := &fakeSender{connected: true}
	notices := &noticeRecorder{}
	m := NewManager(chatstream.ProviderClaude, sender,
		WithInitTimeout(30*time.Millisecond),
		WithCallbacks(Callbacks{Notice: notices.add}))

	require.NoError(t, m.Start(StartOptions{ProjectPath: "/p"}))
	m.HandleSessionStarted(relay.SessionInfo{SessionID: "sess-1"})

	time.Sleep(80 * time.Millisecond)
	require.Equal(t, StatusActive, m.Status())
	for _, text := range notices.texts() {
		require.NotContains(t, text, "timeout")
	}
}

func TestSessionClosed(t *testing.T) {
	sender := &fakeSender{connected: true}
	notices := &noticeRecorder{}
	m := NewManager(chatstream.ProviderClaude, sender, WithCallbacks(Callbacks{Notice: notices.add}))

	require.NoError(t, m.Start(StartOptions{ProjectPath: "/p"}))
	m.HandleSessionStarted(relay.SessionInfo{SessionID: "sess-1"})
	m.HandleSessionClosed()

	require.Equal(t, StatusIdle, m.Status())
	require.Empty(t, m.SessionID())
	require.Contains(t, notices.texts(), "Session closed")

	// A close notification for an already-idle session stays quiet.
	before := len(notices.texts())
	m.HandleSessionClosed()
	require.Len(t, notices.texts(), before)
}

func TestNotFoundClearsSavedIdentity(t *testing.T) {
	sender := &fakeSender{connected: true}
	notices := &noticeRecorder{}
	var cleared bool
	m := NewManager(chatstream.ProviderCodex, sender, WithCallbacks(Callbacks{
		Notice:   notices.add,
		NotFound: func() { cleared = true },
	}))

	require.NoError(t, m.Start(StartOptions{
		ProjectPath: "/p", Resume: true, SessionID: "stale", ResumeToken: "/r/old.jsonl",
	}))
	m.HandleNotFound()

	require.Equal(t, StatusIdle, m.Status())
	require.True(t, cleared)
	require.Empty(t, m.SessionID())
	require.Empty(t, m.ResumeToken())
	require.False(t, m.PromptOptions().Resume)
	require.Empty(t, m.PromptOptions().ResumeRolloutPath)
	require.Contains(t, notices.texts(), "Previous session expired. A new session will be created.")
}

func TestReconnectResendsHandshakeExactlyOnce(t *testing.T) {
	sender := &fakeSender{connected: true}
	m := NewManager(chatstream.ProviderCodex, sender)

	require.NoError(t, m.Start(StartOptions{ProjectPath: "/p"}))
	m.HandleSessionStarted(relay.SessionInfo{SessionID: "sess-9", RolloutPath: "/r/9.jsonl"})

	// Drop while active arms the guard.
	sender.setConnected(false)
	m.HandleConnectionChange(false)
	require.Equal(t, StatusActive, m.Status(), "active session survives a transport drop")

	sender.setConnected(true)
	m.HandleConnectionChange(true)

	starts := sender.startRequests()
	require.Len(t, starts, 2)
	resume := starts[1]
	require.True(t, resume.Options.Resume)
	require.Equal(t, "sess-9", resume.Options.SessionID)
	require.Equal(t, "/r/9.jsonl", resume.Options.ResumeRolloutPath)

	// A second connected notification without a new drop resends nothing.
	m.HandleConnectionChange(true)
	require.Len(t, sender.startRequests(), 2)

	// A fresh drop re-arms the guard.
	m.HandleSessionStarted(relay.SessionInfo{SessionID: "sess-9"})
	m.HandleConnectionChange(false)
	m.HandleConnectionChange(true)
	require.Len(t, sender.startRequests(), 3)
}

func TestDisconnectWhileInactiveSendsNothing(t *testing.T) {
	sender := &fakeSender{connected: true}
	m := NewManager(chatstream.ProviderClaude, sender)

	m.HandleConnectionChange(false)
	m.HandleConnectionChange(true)
	require.Empty(t, sender.startRequests())
}

func TestDisconnectWhileInitializingAbandons(t *testing.T) {
	sender := &fakeSender{connected: true}
	m := NewManager(chatstream.ProviderClaude, sender, WithInitTimeout(time.Hour))

	require.NoError(t, m.Start(StartOptions{ProjectPath: "/p"}))
	m.HandleConnectionChange(false)
	require.Equal(t, StatusIdle, m.Status())

	m.HandleConnectionChange(true)
	require.Len(t, sender.startRequests(), 1, "abandoned handshake must not resume")
}

func TestEnd(t *testing.T) {
	sender := &fakeSender{connected: true}
	m := NewManager(chatstream.ProviderClaude, sender)

	require.NoError(t, m.Start(StartOptions{ProjectPath: "/p"}))
	m.HandleSessionStarted(relay.SessionInfo{SessionID: "sess-1"})
	m.End()

	require.Equal(t, StatusIdle, m.Status())
	require.Empty(t, m.SessionID())

	var foundEnd bool
	for _, v := range sender.sentEnvelopes() {
		if req, ok := v.(relay.EndSessionRequest); ok {
			require.Equal(t, "claude-end-session", req.Type)
			foundEnd = true
		}
	}
	require.True(t, foundEnd, "end-session envelope not sent")
}

func TestAbort(t *testing.T) {
	sender := &fakeSender{connected: true}
	m := NewManager(chatstream.ProviderCodex, sender)

	require.ErrorIs(t, m.Abort(), ErrNotActive)

	require.NoError(t, m.Start(StartOptions{ProjectPath: "/p"}))
	m.HandleSessionStarted(relay.SessionInfo{SessionID: "sess-1"})
	require.NoError(t, m.Abort())

	var foundAbort bool
	for _, v := range sender.sentEnvelopes() {
		if req, ok := v.(relay.AbortRequest); ok {
			require.Equal(t, "codex-abort", req.Type)
			foundAbort = true
		}
	}
	require.True(t, foundAbort, "abort envelope not sent")
	require.Equal(t, StatusActive, m.Status(), "abort keeps the session active")
}
