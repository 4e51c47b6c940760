// Package chatstream defines the canonical message model shared by all
// provider normalizers. Raw relay traffic from Claude and Codex agents is
// translated into Message values so the store, persistence, and UI layers
// never see provider-specific shapes.
package chatstream

import (
	"time"

	"github.com/google/uuid"
)

// Role classifies who a message is attributed to.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleError     Role = "error"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleError:
		return true
	}
	return false
}

// Provider identifies which agent backend a message or session belongs to.
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderCodex  Provider = "codex"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	return p == ProviderClaude || p == ProviderCodex
}

// Message is one entry in the conversation log.
type Message struct {
	// ID is assigned at creation and never changes, even when the text
	// is later extended by streaming deltas or merging.
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`

	// Temporary messages are removed by the store sweep once
	// Timestamp+DismissAfter has passed. They are never persisted.
	Temporary    bool          `json:"temporary,omitempty"`
	DismissAfter time.Duration `json:"dismissAfter,omitempty"`

	// ToolUse marks tool invocation notices. Tool messages are exempt
	// from assistant merging.
	ToolUse bool `json:"toolUse,omitempty"`

	// Streaming marks a message still accumulating deltas.
	Streaming bool `json:"streaming,omitempty"`
}

// New returns a message with a fresh ID and the current timestamp.
func New(role Role, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// NewTool returns a tool notice message.
func NewTool(text string) Message {
	m := New(RoleAssistant, text)
	m.ToolUse = true
	return m
}

// NewTemporary returns a system notice that the store sweep removes after d.
func NewTemporary(text string, d time.Duration) Message {
	m := New(RoleSystem, text)
	m.Temporary = true
	m.DismissAfter = d
	return m
}

// ExpiresAt returns the sweep deadline for a temporary message, or the
// zero time for permanent ones.
func (m Message) ExpiresAt() time.Time {
	if !m.Temporary || m.DismissAfter <= 0 {
		return time.Time{}
	}
	return m.Timestamp.Add(m.DismissAfter)
}

// Expired reports whether a temporary message should be swept at now.
func (m Message) Expired(now time.Time) bool {
	at := m.ExpiresAt()
	return !at.IsZero() && now.After(at)
}
