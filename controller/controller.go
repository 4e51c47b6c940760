// Package controller wires the relay channel to the per-provider
// machinery: session lifecycle, normalization, the message log, the
// activity indicator, and snapshot persistence. All inbound envelopes
// flow through here in arrival order.
package controller

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/duochat/duochat/activity"
	"github.com/duochat/duochat/chatstream"
	"github.com/duochat/duochat/claude"
	"github.com/duochat/duochat/codex"
	"github.com/duochat/duochat/history"
	"github.com/duochat/duochat/relay"
	"github.com/duochat/duochat/session"
	"github.com/duochat/duochat/store"
)

// handlerKey registers the controller on the channel.
const handlerKey = "controller"

// ErrNotConnected mirrors the channel's fire-and-forget contract at
// the prompt level.
var ErrNotConnected = errors.New("relay not connected")

// Normalizer translates provider envelopes into canonical messages.
type Normalizer interface {
	Normalize(relay.Envelope) []chatstream.Message
	Reset()
}

// Channel is the slice of relay.Channel the controller needs.
type Channel interface {
	Send(v any) bool
	Connected() bool
	RegisterMessageHandler(key string, fn relay.MessageHandler)
	RegisterConnectionHandler(key string, fn relay.ConnectionHandler)
}

// Params configures a Controller.
type Params struct {
	ProjectPath string
	ClaudeModel string
	CodexModel  string

	// HideThinking suppresses reasoning notices in the transcript.
	HideThinking bool

	// ExportDir receives /export transcripts. Defaults to ".".
	ExportDir string

	// OnMessage fires for every message appended to a provider's log.
	OnMessage func(chatstream.Provider, chatstream.Message)

	// OnDelta fires for streaming text fragments.
	OnDelta func(chatstream.Provider, string)

	// OnActivity fires when a provider's working indicator changes and
	// once per second while it works.
	OnActivity func(p chatstream.Provider, working bool, elapsedSeconds int)

	Logger *slog.Logger
}

// Stats are the counters reported by the stats command.
type Stats struct {
	PromptsSent      int
	MessagesReceived int
	SessionsStarted  int
}

// Controller owns both provider units and the envelope dispatch.
type Controller struct {
	channel Channel
	archive *history.Archive
	params  Params
	logger  *slog.Logger

	units map[chatstream.Provider]*unit

	mu    sync.Mutex
	stats Stats
}

// New wires a controller onto the channel. The archive may be nil to
// disable persistence.
func New(ch Channel, archive *history.Archive, params Params) *Controller {
	if params.ExportDir == "" {
		params.ExportDir = "."
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		channel: ch,
		archive: archive,
		params:  params,
		logger:  logger,
		units:   make(map[chatstream.Provider]*unit),
	}

	c.units[chatstream.ProviderClaude] = c.newUnit(chatstream.ProviderClaude, claude.NewNormalizer(), params.ClaudeModel)
	c.units[chatstream.ProviderCodex] = c.newUnit(chatstream.ProviderCodex, codex.NewNormalizer(), params.CodexModel)

	ch.RegisterMessageHandler(handlerKey, c.handleEnvelope)
	ch.RegisterConnectionHandler(handlerKey, c.handleConnection)
	return c
}

// Close releases the units' background goroutines.
func (c *Controller) Close() {
	for _, u := range c.units {
		u.store.Close()
		u.tracker.Close()
	}
}

// Store returns a provider's message log.
func (c *Controller) Store(p chatstream.Provider) *store.Store {
	return c.units[p].store
}

// Session returns a provider's session manager.
func (c *Controller) Session(p chatstream.Provider) *session.Manager {
	return c.units[p].session
}

// Tracker returns a provider's activity tracker.
func (c *Controller) Tracker(p chatstream.Provider) *activity.Tracker {
	return c.units[p].tracker
}

// Stats returns a snapshot of the counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// SendPrompt delivers user input to a provider: slash commands are
// intercepted locally, everything else goes to the relay with the
// session auto-started when idle.
func (c *Controller) SendPrompt(p chatstream.Provider, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	u, ok := c.units[p]
	if !ok {
		return fmt.Errorf("unknown provider %q", p)
	}

	if strings.HasPrefix(text, "/") {
		return c.runCommand(u, text)
	}
	if !c.channel.Connected() {
		return ErrNotConnected
	}

	c.append(u, chatstream.New(chatstream.RoleUser, text))

	if u.session.Status() == session.StatusIdle {
		if err := u.session.Start(u.startOptions()); err != nil && !errors.Is(err, session.ErrAlreadyStarted) {
			return err
		}
	}

	if !c.channel.Send(relay.PromptRequest(p, text, u.session.PromptOptions())) {
		return ErrNotConnected
	}
	u.tracker.Arm()

	c.mu.Lock()
	c.stats.PromptsSent++
	c.mu.Unlock()
	return nil
}

// Abort interrupts a provider's current turn.
func (c *Controller) Abort(p chatstream.Provider) error {
	return c.units[p].session.Abort()
}

// Restore populates a provider's log from the saved snapshot without
// touching the relay. It reports whether a snapshot existed.
func (c *Controller) Restore(p chatstream.Provider) bool {
	if c.archive == nil {
		return false
	}
	u := c.units[p]
	rec, err := c.archive.Load(c.params.ProjectPath, p)
	if err != nil {
		return false
	}
	if len(rec.Messages) == 0 {
		return false
	}
	u.session.RestoreIdentity(rec.SessionID, rec.ResumeToken)
	u.store.Replace(rec.Messages)
	return true
}

// Resume restores the saved transcript and asks the relay to resume
// the saved session.
func (c *Controller) Resume(p chatstream.Provider) error {
	u := c.units[p]
	if c.archive == nil {
		return errors.New("persistence disabled")
	}
	rec, err := c.archive.Load(c.params.ProjectPath, p)
	if err != nil {
		return fmt.Errorf("no saved session for %s", string(p))
	}
	u.session.RestoreIdentity(rec.SessionID, rec.ResumeToken)
	if len(rec.Messages) > 0 {
		u.store.Replace(rec.Messages)
	}

	opts := u.startOptions()
	if rec.SessionID != "" || rec.ResumeToken != "" {
		opts.Resume = true
		opts.SessionID = rec.SessionID
		opts.ResumeToken = rec.ResumeToken
	}
	return u.session.Start(opts)
}

// EndSession tears down a provider's session and clears its live log.
// The saved snapshot is untouched until the next save.
func (c *Controller) EndSession(p chatstream.Provider) {
	u := c.units[p]
	u.session.End()
	u.normalizer.Reset()
	u.tracker.HandleTerminal()
	u.store.Clear()
}

// handleConnection fans transport transitions to both session
// managers.
func (c *Controller) handleConnection(state relay.ConnState) {
	for _, u := range c.units {
		u.session.HandleConnectionChange(state.Connected)
	}
}

// handleEnvelope routes one inbound envelope to its provider unit.
// Unscoped envelopes (session-not-found, session-aborted) belong to
// the Claude stream, which emits them without a prefix.
func (c *Controller) handleEnvelope(env relay.Envelope) {
	p := env.Provider
	if p == "" {
		p = chatstream.ProviderClaude
	}
	u, ok := c.units[p]
	if !ok {
		return
	}

	switch env.Kind {
	case relay.KindSessionStarted:
		u.session.HandleSessionStarted(env.SessionInfo())

	case relay.KindSessionClosed:
		u.session.HandleSessionClosed()
		u.terminal()

	case relay.KindSessionNotFound:
		u.session.HandleNotFound()

	case relay.KindResponse, relay.KindOutput:
		c.handleStream(u, env)

	case relay.KindError:
		c.appendAll(u, u.normalizer.Normalize(env))
		u.terminal()

	case relay.KindComplete:
		u.terminal()

	case relay.KindQueued:
		c.handleQueued(u, env.Queue())

	case relay.KindBusy:
		u.tracker.SetMode(activity.ModeBusy)

	case relay.KindIdle:
		u.terminal()

	case relay.KindAborted, relay.KindSessionAborted:
		u.terminal()
		c.append(u, chatstream.NewTemporary(abortNotice(p), abortNoticeDismiss))

	default:
		c.logger.Debug("ignoring relay envelope", "type", env.Type)
	}
}

// handleStream runs an envelope through the provider's normalizer and
// folds the activity side effects in.
func (c *Controller) handleStream(u *unit, env relay.Envelope) {
	msgs := u.normalizer.Normalize(env)
	c.appendAll(u, msgs)
	c.applyStreamSignals(u, env, msgs)
}

// applyStreamSignals updates the activity tracker from the payload
// shape: tool and thinking notices set the mode, stream deltas set
// typing, and final results are terminal.
func (c *Controller) applyStreamSignals(u *unit, env relay.Envelope, msgs []chatstream.Message) {
	for _, m := range msgs {
		if m.Streaming {
			u.tracker.SetTyping(true)
		}
	}

	dataType := gjson.GetBytes(env.Raw, "data.type").String()
	msgType := gjson.GetBytes(env.Raw, "data.msg.type").String()

	switch {
	case dataType == "tool_use" || msgType == "exec_command_begin" || msgType == "patch_apply_begin":
		u.tracker.SetMode(activity.ModeTool)
	case dataType == "thinking" || dataType == "reasoning" ||
		msgType == "agent_reasoning" || msgType == "agent_thinking" || msgType == "reasoning":
		u.tracker.SetMode(activity.ModeThinking)
	case msgType == "task_started":
		u.tracker.SetMode(activity.ModeBusy)
	case dataType == "result" || msgType == "task_complete" || msgType == "error":
		u.terminal()
	}

	// A bare "done" line is the Claude stream's terminal marker.
	if env.Kind == relay.KindOutput && gjson.GetBytes(env.Raw, "data").String() == "done" {
		u.terminal()
	}
}

// handleQueued surfaces the queue position: the indicator label tracks
// every update, the transcript notice fires once per wait.
func (c *Controller) handleQueued(u *unit, q relay.QueueInfo) {
	position := q.Position + 1
	u.tracker.SetModeLabel(activity.ModeQueued, fmt.Sprintf("Queued #%d", position))

	u.mu.Lock()
	notify := position > 1 && !u.queueNotified
	if notify {
		u.queueNotified = true
	}
	u.mu.Unlock()

	if notify {
		c.append(u, chatstream.NewTemporary(fmt.Sprintf("Queued (position %d)", position), queueNoticeDismiss))
	}
}

// append adds one message to the unit's log and notifies the UI.
// Streaming messages accumulate through the delta path instead.
func (c *Controller) append(u *unit, m chatstream.Message) {
	if m.Streaming {
		u.store.AppendDelta(m.Role, m.Text)
		if c.params.OnDelta != nil {
			c.params.OnDelta(u.provider, m.Text)
		}
		return
	}
	u.store.Append(m)
	if c.params.OnMessage != nil {
		c.params.OnMessage(u.provider, m)
	}
}

func (c *Controller) appendAll(u *unit, msgs []chatstream.Message) {
	for _, m := range msgs {
		c.append(u, m)
	}
	if len(msgs) > 0 {
		c.mu.Lock()
		c.stats.MessagesReceived += len(msgs)
		c.mu.Unlock()
	}
}
