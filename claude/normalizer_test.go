package claude

import (
	"strings"
	"testing"

	"github.com/duochat/duochat/chatstream"
	"github.com/duochat/duochat/relay"
)

func envelope(t *testing.T, frame string) relay.Envelope {
	t.Helper()
	env, err := relay.ParseEnvelope([]byte(frame))
	if err != nil {
		t.Fatalf("ParseEnvelope(%q) error = %v", frame, err)
	}
	return env
}

func TestNormalizeAssistantBlocks(t *testing.T) {
	n := NewNormalizer()
	env := envelope(t, `{"type":"claude-response","data":{"type":"assistant","message":{"role":"assistant","content":[
		{"type":"tool_use","name":"Read","input":{"file_path":"/src/main.go"}},
		{"type":"text","text":"The entrypoint parses flags."}
	]}}}`)

	msgs := n.Normalize(env)
	if len(msgs) != 2 {
		t.Fatalf("Normalize() returned %d messages, want 2", len(msgs))
	}
	if !msgs[0].ToolUse {
		t.Errorf("first message should be a tool notice, got %+v", msgs[0])
	}
	if msgs[0].Text != "Read: /src/main.go" {
		t.Errorf("tool label = %q, want %q", msgs[0].Text, "Read: /src/main.go")
	}
	if msgs[1].Role != chatstream.RoleAssistant || msgs[1].Text != "The entrypoint parses flags." {
		t.Errorf("assistant message = %+v", msgs[1])
	}
}

func TestNormalizeAssistantStringContent(t *testing.T) {
	n := NewNormalizer()
	env := envelope(t, `{"type":"claude-response","data":{"type":"assistant","message":{"role":"assistant","content":"plain answer"}}}`)
	msgs := n.Normalize(env)
	if len(msgs) != 1 || msgs[0].Text != "plain answer" {
		t.Fatalf("Normalize() = %+v, want one assistant message", msgs)
	}
}

func TestNormalizeStreamingDelta(t *testing.T) {
	n := NewNormalizer()
	env := envelope(t, `{"type":"claude-response","data":{"type":"content_block_delta","delta":{"type":"text_delta","text":"par"}}}`)
	msgs := n.Normalize(env)
	if len(msgs) != 1 {
		t.Fatalf("Normalize() returned %d messages, want 1", len(msgs))
	}
	if !msgs[0].Streaming || msgs[0].Text != "par" {
		t.Errorf("delta message = %+v, want streaming with text %q", msgs[0], "par")
	}
}

func TestNormalizeResultDedup(t *testing.T) {
	n := NewNormalizer()

	msgs := n.Normalize(envelope(t, `{"type":"claude-response","data":{"type":"assistant","message":{"content":"final answer"}}}`))
	if len(msgs) != 1 {
		t.Fatalf("assistant Normalize() = %+v", msgs)
	}

	// Identical result must be suppressed.
	msgs = n.Normalize(envelope(t, `{"type":"claude-response","data":{"type":"result","result":"final answer"}}`))
	if len(msgs) != 0 {
		t.Fatalf("duplicate result surfaced: %+v", msgs)
	}

	// A different result must surface.
	msgs = n.Normalize(envelope(t, `{"type":"claude-response","data":{"type":"result","result":"something else"}}`))
	if len(msgs) != 1 || msgs[0].Text != "something else" {
		t.Fatalf("distinct result = %+v, want one assistant message", msgs)
	}
}

func TestNormalizeResultDedupAgainstStreamedDeltas(t *testing.T) {
	n := NewNormalizer()

	for _, fragment := range []string{"final ", "answer"} {
		msgs := n.Normalize(envelope(t, `{"type":"claude-response","data":{"type":"content_block_delta","delta":{"type":"text_delta","text":"`+fragment+`"}}}`))
		if len(msgs) != 1 || !msgs[0].Streaming {
			t.Fatalf("delta Normalize() = %+v", msgs)
		}
	}

	// A result repeating the streamed turn verbatim must be suppressed.
	msgs := n.Normalize(envelope(t, `{"type":"claude-response","data":{"type":"result","result":"final answer"}}`))
	if len(msgs) != 0 {
		t.Fatalf("result duplicating streamed text surfaced: %+v", msgs)
	}

	// The suppressed result still counts as the last assistant text, so
	// a repeated result frame stays suppressed too.
	msgs = n.Normalize(envelope(t, `{"type":"claude-response","data":{"type":"result","result":"final answer"}}`))
	if len(msgs) != 0 {
		t.Fatalf("repeated result surfaced: %+v", msgs)
	}

	// The next turn's streamed text starts from scratch.
	n.Normalize(envelope(t, `{"type":"claude-response","data":{"type":"content_block_delta","delta":{"type":"text_delta","text":"second turn"}}}`))
	msgs = n.Normalize(envelope(t, `{"type":"claude-response","data":{"type":"result","result":"second turn"}}`))
	if len(msgs) != 0 {
		t.Fatalf("result duplicating the second turn's deltas surfaced: %+v", msgs)
	}
	msgs = n.Normalize(envelope(t, `{"type":"claude-response","data":{"type":"result","result":"a genuinely new result"}}`))
	if len(msgs) != 1 {
		t.Fatalf("distinct result = %+v, want one message", msgs)
	}
}

func TestNormalizeErrorResult(t *testing.T) {
	n := NewNormalizer()
	msgs := n.Normalize(envelope(t, `{"type":"claude-response","data":{"type":"result","result":"budget exceeded","is_error":true}}`))
	if len(msgs) != 1 || msgs[0].Role != chatstream.RoleError {
		t.Fatalf("error result = %+v, want one error message", msgs)
	}
}

func TestNormalizeToolUse(t *testing.T) {
	n := NewNormalizer()

	msgs := n.Normalize(envelope(t, `{"type":"claude-response","data":{"type":"tool_use","name":"Bash","input":{"command":"go test ./..."}}}`))
	if len(msgs) != 1 || !msgs[0].ToolUse || msgs[0].Text != "Bash: go test ./..." {
		t.Fatalf("tool_use = %+v", msgs)
	}

	// Internal reasoning tools stay invisible.
	msgs = n.Normalize(envelope(t, `{"type":"claude-response","data":{"type":"tool_use","name":"thinking"}}`))
	if len(msgs) != 0 {
		t.Fatalf("internal tool surfaced: %+v", msgs)
	}
}

func TestNormalizeToolResult(t *testing.T) {
	n := NewNormalizer()

	msgs := n.Normalize(envelope(t, `{"type":"claude-response","data":{"type":"tool_result","output":"ok"}}`))
	if len(msgs) != 1 || msgs[0].Text != "ok" {
		t.Fatalf("short tool result = %+v", msgs)
	}

	msgs = n.Normalize(envelope(t, `{"type":"claude-response","data":{"type":"tool_result","output":"line1\nline2"}}`))
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0].Text, "```") {
		t.Fatalf("multiline tool result should be fenced, got %+v", msgs)
	}

	long := strings.Repeat("x", maxToolResult)
	msgs = n.Normalize(envelope(t, `{"type":"claude-response","data":{"type":"tool_result","output":"`+long+`"}}`))
	if len(msgs) != 0 {
		t.Fatalf("oversized tool result surfaced")
	}
}

func TestNormalizeThinking(t *testing.T) {
	n := NewNormalizer()
	msgs := n.Normalize(envelope(t, `{"type":"claude-response","data":{"type":"thinking","content":"weighing options"}}`))
	if len(msgs) != 1 || msgs[0].Role != chatstream.RoleSystem {
		t.Fatalf("thinking = %+v", msgs)
	}
	if !strings.HasPrefix(msgs[0].Text, "Thinking…") {
		t.Errorf("thinking text = %q", msgs[0].Text)
	}
}

func TestNormalizeOutputLines(t *testing.T) {
	tests := []struct {
		name string
		line string
		want int
	}{
		{"empty", "", 0},
		{"terminal marker", "done", 0},
		{"short line surfaces", "Compiling project", 1},
		{"debug noise dropped", "DEBUG connecting to socket", 0},
		{"trace noise dropped", "TRACE frame received", 0},
		{"long line dropped", strings.Repeat("a", maxPlainLine), 0},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			n := NewNormalizer()
			env := envelope(t, `{"type":"claude-output","data":`+jsonString(tc.line)+`}`)
			msgs := n.Normalize(env)
			if len(msgs) != tc.want {
				t.Errorf("Normalize(%q) = %d messages, want %d", tc.line, len(msgs), tc.want)
			}
		})
	}
}

func TestNormalizeOutputJSONLine(t *testing.T) {
	n := NewNormalizer()
	env := envelope(t, `{"type":"claude-output","data":"{\"type\":\"assistant\",\"message\":{\"content\":\"from stdout\"}}"}`)
	msgs := n.Normalize(env)
	if len(msgs) != 1 || msgs[0].Text != "from stdout" {
		t.Fatalf("JSON stdout line = %+v, want routed through structured path", msgs)
	}
}

func TestNormalizeErrorEnvelope(t *testing.T) {
	n := NewNormalizer()
	msgs := n.Normalize(envelope(t, `{"type":"claude-error","error":"process exited"}`))
	if len(msgs) != 1 || msgs[0].Role != chatstream.RoleError || msgs[0].Text != "process exited" {
		t.Fatalf("claude-error = %+v", msgs)
	}

	msgs = n.Normalize(envelope(t, `{"type":"claude-error"}`))
	if len(msgs) != 1 || msgs[0].Text != "Unknown error" {
		t.Fatalf("empty claude-error = %+v", msgs)
	}
}

func TestNormalizeNeverPanicsOnGarbage(t *testing.T) {
	frames := []string{
		`{"type":"claude-response"}`,
		`{"type":"claude-response","data":null}`,
		`{"type":"claude-response","data":42}`,
		`{"type":"claude-response","data":{"type":"assistant"}}`,
		`{"type":"claude-response","data":{"type":"wholly_unknown","x":[1,2,3]}}`,
		`{"type":"claude-output","data":{"nested":{"deep":true}}}`,
		`{"type":"claude-complete"}`,
	}
	n := NewNormalizer()
	for _, frame := range frames {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("Normalize(%s) panicked: %v", frame, r)
				}
			}()
			n.Normalize(envelope(t, frame))
		}()
	}
}

func TestToolLabel(t *testing.T) {
	tests := []struct {
		name  string
		tool  string
		input map[string]any
		want  string
	}{
		{"read with path", "Read", map[string]any{"file_path": "/a/b.go"}, "Read: /a/b.go"},
		{"read without path", "Read", nil, "Read"},
		{"glob", "Glob", map[string]any{"pattern": "**/*.go"}, "Find files: **/*.go"},
		{"grep query", "Grep", map[string]any{"query": "func main"}, "Grep: func main"},
		{"grep pattern fallback", "Grep", map[string]any{"pattern": "TODO"}, "Grep: TODO"},
		{"bash", "Bash", map[string]any{"command": "ls -la"}, "Bash: ls -la"},
		{"edit", "Edit", map[string]any{"file_path": "/a/b.go"}, "Edit: /a/b.go"},
		{"write maps to edit", "Write", map[string]any{"file_path": "/a/b.go"}, "Edit: /a/b.go"},
		{"unknown tool keeps name", "WebFetch", map[string]any{"url": "https://x"}, "WebFetch"},
		{"unknown tool with path", "Custom", map[string]any{"file_path": "/p"}, "Custom: /p"},
		{"empty name", "", nil, "tool"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := ToolLabel(tc.tool, tc.input); got != tc.want {
				t.Errorf("ToolLabel(%q, %v) = %q, want %q", tc.tool, tc.input, got, tc.want)
			}
		})
	}
}

func TestToolLabelTruncatesLongArgs(t *testing.T) {
	long := strings.Repeat("x", 300)
	got := ToolLabel("Bash", map[string]any{"command": long})
	if len([]rune(got)) > len("Bash: ")+maxLabelArg+1 {
		t.Errorf("label not truncated: %d runes", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("truncated label missing ellipsis: %q", got)
	}
}

func TestFormatTodoList(t *testing.T) {
	got := formatTodoList("TODO List:\n- write tests\n- fix lint")
	want := "TODO List:\n• write tests\n• fix lint"
	if got != want {
		t.Errorf("formatTodoList() = %q, want %q", got, want)
	}
	if formatTodoList("just some text") != "" {
		t.Errorf("non-list text should not reformat")
	}
}

// jsonString quotes s as a JSON string literal.
func jsonString(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(s) + `"`
}
