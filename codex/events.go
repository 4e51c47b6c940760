// Package codex normalizes Codex agent relay traffic into canonical
// chat messages. Codex output is line-oriented: most lines are JSON
// objects with an inner msg payload, interleaved with config echoes and
// plain-text noise.
package codex

import (
	"encoding/json"
	"strconv"
	"strings"
)

// MsgType discriminates the inner msg payloads of codex JSON lines.
type MsgType string

const (
	MsgTypeTaskStarted      MsgType = "task_started"
	MsgTypeTaskComplete     MsgType = "task_complete"
	MsgTypeTokenCount       MsgType = "token_count"
	MsgTypeAgentMessage     MsgType = "agent_message"
	MsgTypeError            MsgType = "error"
	MsgTypeAgentReasoning   MsgType = "agent_reasoning"
	MsgTypeAgentThinking    MsgType = "agent_thinking"
	MsgTypeReasoning        MsgType = "reasoning"
	MsgTypeExecCommandBegin MsgType = "exec_command_begin"
	MsgTypeExecCommandEnd   MsgType = "exec_command_end"
	MsgTypePatchApplyBegin  MsgType = "patch_apply_begin"
	MsgTypePatchApplyEnd    MsgType = "patch_apply_end"
)

// Msg is the inner payload of a codex event line.
type Msg struct {
	Type    MsgType  `json:"type"`
	Message string   `json:"message,omitempty"`
	Content string   `json:"content,omitempty"`
	CallID  string   `json:"call_id,omitempty"`
	Command []string `json:"command,omitempty"`

	// Changes maps file paths to patch contents for patch_apply_begin.
	Changes map[string]json.RawMessage `json:"changes,omitempty"`
}

// eventLine is the outer shape of a codex JSON line.
type eventLine struct {
	Msg  *Msg   `json:"msg,omitempty"`
	Type string `json:"type,omitempty"`
	Name string `json:"name,omitempty"`
	Text string `json:"text,omitempty"`

	Content string `json:"content,omitempty"`
}

// joinCommand renders an argv slice as one shell-like line, quoting
// arguments that contain whitespace or quotes.
func joinCommand(argv []string) string {
	parts := make([]string, 0, len(argv))
	for _, arg := range argv {
		if strings.ContainsAny(arg, " \t\n\"'") {
			parts = append(parts, strconv.Quote(arg))
		} else {
			parts = append(parts, arg)
		}
	}
	return strings.Join(parts, " ")
}

// toolNameForCommand maps the argv head to a display name.
func toolNameForCommand(first string) string {
	switch first {
	case "":
		return "tool"
	case "bash":
		return "bash"
	case "sh":
		return "shell"
	default:
		return first
	}
}
