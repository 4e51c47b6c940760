package claude

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/duochat/duochat/chatstream"
	"github.com/duochat/duochat/relay"
)

// maxPlainLine is the longest raw stdout line surfaced as a message.
const maxPlainLine = 200

// maxToolResult is the longest tool output surfaced as a message.
const maxToolResult = 5000

// Normalizer translates Claude relay envelopes into canonical messages.
// It is stateful only for result deduplication: final result events
// often repeat the last streamed assistant text verbatim.
type Normalizer struct {
	mu                sync.Mutex
	lastAssistantText string

	// streamedText accumulates content_block_delta fragments of the
	// current turn so a result repeating the streamed text is a dup too.
	streamedText strings.Builder

	logger *slog.Logger
}

// NewNormalizer creates a Claude normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{logger: slog.Default()}
}

// Reset clears the dedup state. Called when a session ends.
func (n *Normalizer) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastAssistantText = ""
	n.streamedText.Reset()
}

// Normalize converts one envelope into zero or more messages. Unknown
// or malformed payloads are skipped, never errors.
func (n *Normalizer) Normalize(env relay.Envelope) []chatstream.Message {
	switch env.Kind {
	case relay.KindResponse:
		data := env.Data()
		if len(data) == 0 {
			return nil
		}
		var d ResponseData
		if err := json.Unmarshal(data, &d); err != nil {
			n.logger.Warn("skipping undecodable claude payload", "error", err)
			return nil
		}
		return n.normalizeData(d)

	case relay.KindOutput:
		return n.normalizeOutput(env.Data())

	case relay.KindError:
		text := env.ErrorText()
		if text == "" {
			text = "Unknown error"
		}
		return []chatstream.Message{chatstream.New(chatstream.RoleError, text)}

	default:
		return nil
	}
}

// normalizeOutput handles raw stdout lines. JSON lines are re-routed
// through the structured path; plain lines are surfaced only when they
// look like user-relevant output rather than logging noise.
func (n *Normalizer) normalizeOutput(data json.RawMessage) []chatstream.Message {
	if len(data) == 0 {
		return nil
	}

	var line string
	if err := json.Unmarshal(data, &line); err != nil {
		// Some relays forward pre-parsed objects on the output path.
		var d ResponseData
		if err := json.Unmarshal(data, &d); err != nil {
			return nil
		}
		return n.normalizeData(d)
	}

	line = strings.TrimSpace(line)
	if line == "" || line == "done" {
		return nil
	}

	if json.Valid([]byte(line)) && strings.HasPrefix(line, "{") {
		var d ResponseData
		if err := json.Unmarshal([]byte(line), &d); err == nil {
			return n.normalizeData(d)
		}
	}

	if len(line) >= maxPlainLine || strings.Contains(line, "DEBUG") || strings.Contains(line, "TRACE") {
		return nil
	}
	return []chatstream.Message{chatstream.New(chatstream.RoleSystem, line)}
}

// normalizeData converts one structured claude-response payload.
func (n *Normalizer) normalizeData(d ResponseData) []chatstream.Message {
	switch d.Type {
	case DataTypeAssistant:
		return n.assistantMessages(d)

	case DataTypeContentBlockDelta:
		if d.Delta == nil || d.Delta.Text == "" {
			return nil
		}
		n.mu.Lock()
		n.streamedText.WriteString(d.Delta.Text)
		n.mu.Unlock()
		m := chatstream.New(chatstream.RoleAssistant, d.Delta.Text)
		m.Streaming = true
		return []chatstream.Message{m}

	case DataTypeToolUse:
		name := d.ToolName
		if name == "" {
			name = d.Name
		}
		if isInternalTool(name) {
			return nil
		}
		return []chatstream.Message{chatstream.NewTool(ToolLabel(name, d.Input))}

	case DataTypeToolResult:
		return toolResultMessages(d)

	case DataTypeThinking, DataTypeReasoning:
		content := d.Text
		if content == "" {
			content, _ = d.Content.AsString()
		}
		content = strings.TrimSpace(content)
		if content == "" {
			return nil
		}
		return []chatstream.Message{chatstream.New(chatstream.RoleSystem, "Thinking…\n\n"+content)}

	case DataTypeResult, DataTypeCompletion:
		return n.resultMessages(d)

	case DataTypeError:
		return []chatstream.Message{chatstream.New(chatstream.RoleError, errorText(d))}

	case DataTypeSessionStarted, DataTypeSystem:
		// Session init echo carries configuration, not conversation.
		return nil

	case DataTypeText:
		text := d.Text
		if text == "" {
			text, _ = d.Content.AsString()
		}
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return n.recordAssistant(chatstream.New(chatstream.RoleAssistant, text))

	default:
		if d.Error != "" {
			return []chatstream.Message{chatstream.New(chatstream.RoleError, d.Error)}
		}
		if d.SessionID != "" {
			// Bare session echo.
			return nil
		}
		if s, ok := d.Content.AsString(); ok && strings.TrimSpace(s) != "" {
			return n.recordAssistant(chatstream.New(chatstream.RoleAssistant, s))
		}
		n.logger.Debug("skipping unknown claude payload type", "type", string(d.Type))
		return nil
	}
}

// assistantMessages expands a complete assistant event into tool
// notices plus the message text.
func (n *Normalizer) assistantMessages(d ResponseData) []chatstream.Message {
	content := d.Content
	if d.Message != nil && !d.Message.Content.IsEmpty() {
		content = d.Message.Content
	}

	var out []chatstream.Message
	var parts []string

	if blocks, ok := content.AsBlocks(); ok {
		for _, block := range blocks {
			switch block.Type {
			case "tool_use":
				name := block.ToolName
				if name == "" {
					name = block.Name
				}
				if !isInternalTool(name) {
					out = append(out, chatstream.NewTool(ToolLabel(name, block.Input)))
				}
			case "text":
				if block.Text != "" {
					parts = append(parts, block.Text)
				}
			}
		}
	} else if s, ok := content.AsString(); ok {
		parts = append(parts, s)
	} else if d.Message != nil && d.Message.Text != "" {
		parts = append(parts, d.Message.Text)
	}

	text := strings.TrimSpace(strings.Join(parts, "\n\n"))
	if text == "" {
		return out
	}
	if todo := formatTodoList(text); todo != "" {
		text = todo
	}
	return append(out, n.recordAssistant(chatstream.New(chatstream.RoleAssistant, text))...)
}

// resultMessages surfaces the final turn result unless it repeats the
// last assistant text, or the turn's streamed deltas, verbatim.
func (n *Normalizer) resultMessages(d ResponseData) []chatstream.Message {
	text := strings.TrimSpace(d.Result)
	if text == "" {
		return nil
	}
	if d.IsError {
		return []chatstream.Message{chatstream.New(chatstream.RoleError, text)}
	}

	n.mu.Lock()
	dup := n.lastAssistantText == text || strings.TrimSpace(n.streamedText.String()) == text
	n.streamedText.Reset()
	if dup {
		n.lastAssistantText = text
	}
	n.mu.Unlock()
	if dup {
		return nil
	}
	return n.recordAssistant(chatstream.New(chatstream.RoleAssistant, text))
}

// recordAssistant notes the text for result dedup and returns the
// message as a one-element slice.
func (n *Normalizer) recordAssistant(m chatstream.Message) []chatstream.Message {
	n.mu.Lock()
	n.lastAssistantText = strings.TrimSpace(m.Text)
	n.mu.Unlock()
	return []chatstream.Message{m}
}

// toolResultMessages surfaces short tool outputs, fenced when they look
// like command output.
func toolResultMessages(d ResponseData) []chatstream.Message {
	output := d.Output
	if output == "" {
		output, _ = d.Content.AsString()
	}
	output = strings.TrimSpace(output)
	if output == "" || len(output) >= maxToolResult {
		return nil
	}
	if strings.Contains(output, "\n") || len(output) > 100 {
		output = fmt.Sprintf("```\n%s\n```", output)
	}
	return []chatstream.Message{chatstream.New(chatstream.RoleSystem, output)}
}

// errorText extracts the most specific error description available.
func errorText(d ResponseData) string {
	switch {
	case d.Error != "":
		return d.Error
	case d.Message != nil && d.Message.Text != "":
		return d.Message.Text
	default:
		return "Unknown error"
	}
}

// isInternalTool reports whether a tool invocation is reasoning
// machinery that should not surface as a notice.
func isInternalTool(name string) bool {
	switch strings.ToLower(name) {
	case "thinking", "reasoning", "str_replace_based_edit_tool":
		return true
	}
	return false
}

var todoHeader = regexp.MustCompile(`(?i)^(?:TODO List:|Todo List:|Updated Todo List:)([\s\S]*)$`)

// formatTodoList reformats a plan dump into a bullet list, or returns
// "" when the text is not one.
func formatTodoList(text string) string {
	m := todoHeader.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	var items []string
	for _, line := range strings.Split(m[1], "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "- ")
		items = append(items, "• "+line)
	}
	if len(items) == 0 {
		return ""
	}
	return "TODO List:\n" + strings.Join(items, "\n")
}
