// Package relay implements the WebSocket transport to the agent relay: a
// single authenticated duplex connection carrying JSON envelopes for both
// providers, with keyed handler fan-out and fixed-interval reconnection.
package relay

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/duochat/duochat/chatstream"
)

// Kind is the provider-stripped suffix of an inbound envelope type.
// "claude-response" and "codex-response" both carry KindResponse.
type Kind string

const (
	KindSessionStarted  Kind = "session-started"
	KindSessionClosed   Kind = "session-closed"
	KindSessionNotFound Kind = "session-not-found"
	KindSessionAborted  Kind = "session-aborted"
	KindResponse        Kind = "response"
	KindOutput          Kind = "output"
	KindError           Kind = "error"
	KindComplete        Kind = "complete"
	KindQueued          Kind = "queued"
	KindBusy            Kind = "busy"
	KindIdle            Kind = "idle"
	KindAborted         Kind = "aborted"
	KindAuthSuccess     Kind = "auth-success"
	KindAuthError       Kind = "auth-error"
	KindPong            Kind = "pong"
)

// Envelope is one inbound relay frame. Provider is empty for unscoped
// types such as "session-not-found". Raw holds the complete frame so
// callers can decode the payload shapes they care about.
type Envelope struct {
	Type     string
	Provider chatstream.Provider
	Kind     Kind
	Raw      json.RawMessage
}

// ParseEnvelope decodes the type discriminator of an inbound frame.
// Payload decoding is deferred to the accessor methods.
func ParseEnvelope(data []byte) (Envelope, error) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	if base.Type == "" {
		return Envelope{}, fmt.Errorf("parse envelope: missing type")
	}

	env := Envelope{Type: base.Type, Raw: append(json.RawMessage(nil), data...)}
	switch {
	case strings.HasPrefix(base.Type, "claude-"):
		env.Provider = chatstream.ProviderClaude
		env.Kind = Kind(strings.TrimPrefix(base.Type, "claude-"))
	case strings.HasPrefix(base.Type, "codex-"):
		env.Provider = chatstream.ProviderCodex
		env.Kind = Kind(strings.TrimPrefix(base.Type, "codex-"))
	default:
		env.Kind = Kind(base.Type)
	}
	return env, nil
}

// SessionInfo is the payload of session-started envelopes.
type SessionInfo struct {
	SessionID   string `json:"sessionId"`
	RolloutPath string `json:"rolloutPath,omitempty"`
}

// SessionInfo decodes the session identity fields of the frame.
func (e Envelope) SessionInfo() SessionInfo {
	var info SessionInfo
	_ = json.Unmarshal(e.Raw, &info)
	return info
}

// QueueInfo is the payload of queued envelopes. Position is zero-based
// on the wire.
type QueueInfo struct {
	Position    int `json:"position"`
	QueueLength int `json:"queueLength"`
}

// Queue decodes the queue position fields of the frame.
func (e Envelope) Queue() QueueInfo {
	var q QueueInfo
	_ = json.Unmarshal(e.Raw, &q)
	return q
}

// Data returns the raw provider payload under the frame's "data" key,
// or nil when absent.
func (e Envelope) Data() json.RawMessage {
	var body struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(e.Raw, &body); err != nil {
		return nil
	}
	return body.Data
}

// ErrorText returns the human-readable error carried by error envelopes.
func (e Envelope) ErrorText() string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(e.Raw, &body); err != nil {
		return ""
	}
	if body.Error != "" {
		return body.Error
	}
	return body.Message
}

// ConnState is delivered to connection handlers on every transport
// transition.
type ConnState struct {
	Connected bool
}

// SessionOptions configures session creation and prompt delivery on
// the relay side.
type SessionOptions struct {
	ProjectPath string `json:"projectPath"`
	Cwd         string `json:"cwd,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	Resume      bool   `json:"resume,omitempty"`

	// ResumeRolloutPath is the relay-reported rollout file of the
	// session being resumed. Codex reattaches through it rather than
	// the session ID.
	ResumeRolloutPath string `json:"resumeRolloutPath,omitempty"`

	Model string `json:"model,omitempty"`

	// Images attaches file paths to a prompt. Dangerous asks the relay
	// to skip the agent's permission prompts.
	Images    []string `json:"images,omitempty"`
	Dangerous bool     `json:"dangerous,omitempty"`
}

// AuthRequest is the first frame sent after the socket opens. Nothing
// else may be sent until the relay acknowledges it.
type AuthRequest struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// NewAuthRequest builds the auth envelope.
func NewAuthRequest(token string) AuthRequest {
	return AuthRequest{Type: "auth", Token: token}
}

// StartSessionRequest asks the relay to spawn (or resume) an agent
// process for the project.
type StartSessionRequest struct {
	Type    string         `json:"type"`
	Options SessionOptions `json:"options"`
}

// NewStartSessionRequest builds a start-session envelope for p.
func NewStartSessionRequest(p chatstream.Provider, opts SessionOptions) StartSessionRequest {
	return StartSessionRequest{Type: string(p) + "-start-session", Options: opts}
}

// EndSessionRequest asks the relay to terminate the provider's session.
type EndSessionRequest struct {
	Type string `json:"type"`
}

// NewEndSessionRequest builds an end-session envelope for p.
func NewEndSessionRequest(p chatstream.Provider) EndSessionRequest {
	return EndSessionRequest{Type: string(p) + "-end-session"}
}

// AbortRequest asks the relay to interrupt the provider's current turn.
type AbortRequest struct {
	Type string `json:"type"`
}

// NewAbortRequest builds an abort envelope for p.
func NewAbortRequest(p chatstream.Provider) AbortRequest {
	return AbortRequest{Type: string(p) + "-abort"}
}

// ClaudeCommand delivers a user prompt to a Claude session.
type ClaudeCommand struct {
	Type    string         `json:"type"`
	Command string         `json:"command"`
	Options SessionOptions `json:"options"`
}

// NewClaudeCommand builds the prompt envelope for Claude.
func NewClaudeCommand(text string, opts SessionOptions) ClaudeCommand {
	return ClaudeCommand{Type: "claude-command", Command: text, Options: opts}
}

// CodexMessage delivers a user prompt to a Codex session.
type CodexMessage struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Options SessionOptions `json:"options"`
}

// NewCodexMessage builds the prompt envelope for Codex.
func NewCodexMessage(text string, opts SessionOptions) CodexMessage {
	return CodexMessage{Type: "codex-message", Message: text, Options: opts}
}

// PromptRequest builds the provider-appropriate prompt envelope.
func PromptRequest(p chatstream.Provider, text string, opts SessionOptions) any {
	if p == chatstream.ProviderCodex {
		return NewCodexMessage(text, opts)
	}
	return NewClaudeCommand(text, opts)
}

// PingRequest is the keepalive frame.
type PingRequest struct {
	Type string `json:"type"`
}

// NewPingRequest builds a keepalive envelope.
func NewPingRequest() PingRequest {
	return PingRequest{Type: "ping"}
}
