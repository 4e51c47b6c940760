// Package claude normalizes Claude agent relay traffic into canonical
// chat messages. The relay forwards the CLI's streaming JSON under
// claude-response envelopes and raw stdout lines under claude-output.
package claude

import (
	"encoding/json"
)

// DataType discriminates the payload shapes under claude-response.
type DataType string

const (
	DataTypeAssistant         DataType = "assistant"
	DataTypeText              DataType = "text"
	DataTypeToolUse           DataType = "tool_use"
	DataTypeToolResult        DataType = "tool_result"
	DataTypeThinking          DataType = "thinking"
	DataTypeReasoning         DataType = "reasoning"
	DataTypeResult            DataType = "result"
	DataTypeCompletion        DataType = "completion"
	DataTypeError             DataType = "error"
	DataTypeSessionStarted    DataType = "session_started"
	DataTypeSystem            DataType = "system"
	DataTypeContentBlockDelta DataType = "content_block_delta"
)

// ResponseData is the decoded payload of a claude-response envelope.
// Only the fields relevant to the decoded type are populated.
type ResponseData struct {
	Type      DataType        `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Subtype   string          `json:"subtype,omitempty"`
	Message   *MessageContent `json:"message,omitempty"`

	// text / tool_result payloads
	Text    string          `json:"text,omitempty"`
	Content FlexibleContent `json:"content,omitempty"`
	Output  string          `json:"output,omitempty"`

	// tool_use payloads
	Name     string         `json:"name,omitempty"`
	ToolName string         `json:"tool_name,omitempty"`
	Input    map[string]any `json:"input,omitempty"`

	// result payloads
	Result  string `json:"result,omitempty"`
	IsError bool   `json:"is_error,omitempty"`

	// error payloads
	Error string `json:"error,omitempty"`

	// streaming payloads
	Delta *Delta `json:"delta,omitempty"`
}

// Delta carries one streaming text fragment.
type Delta struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

// MessageContent is the inner message of assistant events.
type MessageContent struct {
	Model   string          `json:"model,omitempty"`
	Role    string          `json:"role,omitempty"`
	Content FlexibleContent `json:"content"`
	Text    string          `json:"text,omitempty"`
}

// UnmarshalJSON accepts both the object form and the bare string some
// error payloads carry under the message key.
func (mc *MessageContent) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &mc.Text)
	}
	type alias MessageContent
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*mc = MessageContent(a)
	return nil
}

// ContentBlock is one element of a block-array message content.
type ContentBlock struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	Name     string         `json:"name,omitempty"`
	ToolName string         `json:"tool_name,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
}

// ContentBlocks is a block-array message content.
type ContentBlocks []ContentBlock

// FlexibleContent can be either a string or an array of content blocks.
type FlexibleContent struct {
	raw json.RawMessage
}

// UnmarshalJSON implements json.Unmarshaler.
func (fc *FlexibleContent) UnmarshalJSON(data []byte) error {
	fc.raw = data
	return nil
}

// MarshalJSON implements json.Marshaler.
func (fc FlexibleContent) MarshalJSON() ([]byte, error) {
	if fc.raw == nil {
		return []byte("null"), nil
	}
	return fc.raw, nil
}

// IsEmpty reports whether no content was present.
func (fc FlexibleContent) IsEmpty() bool {
	return len(fc.raw) == 0 || string(fc.raw) == "null"
}

// IsString reports whether the content is a plain string.
func (fc FlexibleContent) IsString() bool {
	if len(fc.raw) == 0 {
		return false
	}
	return fc.raw[0] == '"'
}

// AsString returns the content as a string (if it is one).
func (fc FlexibleContent) AsString() (string, bool) {
	if !fc.IsString() {
		return "", false
	}
	var s string
	if err := json.Unmarshal(fc.raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// AsBlocks returns the content as content blocks (if it is an array).
func (fc FlexibleContent) AsBlocks() (ContentBlocks, bool) {
	if fc.IsString() || fc.IsEmpty() {
		return nil, false
	}
	var blocks ContentBlocks
	if err := json.Unmarshal(fc.raw, &blocks); err != nil {
		return nil, false
	}
	return blocks, true
}
