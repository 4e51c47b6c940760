package codex

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/duochat/duochat/chatstream"
	"github.com/duochat/duochat/relay"
)

// maxPlainLine is the longest non-JSON line surfaced as a message.
const maxPlainLine = 200

// maxPatchFiles is how many file names a patch summary lists before
// collapsing the rest into a count.
const maxPatchFiles = 5

// configHintKeys are top-level keys whose presence marks a line as the
// CLI echoing its session configuration rather than conversation.
var configHintKeys = []string{
	"sandbox",
	"reasoning summaries",
	"approval",
	"provider",
	"reasoning effort",
	"workdir",
	"model",
}

// plainNoise matches non-JSON lines that are logging rather than
// conversation.
var plainNoise = regexp.MustCompile(`(?i)debug|trace|warn`)

// Normalizer translates Codex relay envelopes into canonical messages.
// It is stateless; construction exists for symmetry with the Claude
// normalizer and to carry the logger.
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer creates a Codex normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{logger: slog.Default()}
}

// Reset exists for interface symmetry; the Codex normalizer keeps no
// per-session state.
func (n *Normalizer) Reset() {}

// Normalize converts one envelope into zero or more messages. Unknown
// or malformed payloads are skipped, never errors.
func (n *Normalizer) Normalize(env relay.Envelope) []chatstream.Message {
	switch env.Kind {
	case relay.KindResponse:
		// Some relays put final text directly on the envelope.
		if text := gjson.GetBytes(env.Raw, "text").String(); strings.TrimSpace(text) != "" {
			return []chatstream.Message{chatstream.New(chatstream.RoleAssistant, text)}
		}
		data := env.Data()
		if len(data) == 0 {
			return nil
		}
		return n.normalizeObject(data)

	case relay.KindOutput:
		return n.normalizeOutput(env.Data())

	case relay.Kind("tool"):
		data := env.Data()
		if len(data) == 0 {
			return nil
		}
		return n.normalizeObject(data)

	case relay.KindError:
		text := env.ErrorText()
		if text == "" {
			text = "Unknown error occurred"
		}
		return []chatstream.Message{chatstream.New(chatstream.RoleError, text)}

	default:
		return nil
	}
}

// normalizeOutput handles one raw output line. JSON lines go through
// the object path; plain lines are surfaced only when short and free of
// logging noise.
func (n *Normalizer) normalizeOutput(data json.RawMessage) []chatstream.Message {
	if len(data) == 0 {
		return nil
	}

	var line string
	if err := json.Unmarshal(data, &line); err != nil {
		// Pre-parsed object on the output path.
		return n.normalizeObject(data)
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if strings.HasPrefix(line, "{") && json.Valid([]byte(line)) {
		return n.normalizeObject([]byte(line))
	}

	if len(line) >= maxPlainLine || plainNoise.MatchString(line) {
		return nil
	}
	if containsConfigKeyword(line) {
		return nil
	}
	return []chatstream.Message{chatstream.New(chatstream.RoleSystem, line)}
}

// normalizeObject handles one parsed codex object.
func (n *Normalizer) normalizeObject(raw json.RawMessage) []chatstream.Message {
	if !gjson.ValidBytes(raw) {
		return nil
	}

	// Prompt echoes repeat the user's own input.
	if gjson.GetBytes(raw, "prompt").Exists() {
		return nil
	}

	if isConfigEcho(raw) {
		if text := formatSessionParams(raw); text != "" {
			return []chatstream.Message{chatstream.New(chatstream.RoleSystem, text)}
		}
		return nil
	}

	var line eventLine
	if err := json.Unmarshal(raw, &line); err != nil {
		n.logger.Warn("skipping undecodable codex payload", "error", err)
		return nil
	}

	if line.Msg != nil {
		return n.normalizeMsg(*line.Msg)
	}

	switch {
	case line.Type == "tool_use" && line.Name != "":
		name := strings.ToLower(line.Name)
		if name == "reasoning" || name == "thinking" {
			return nil
		}
		return []chatstream.Message{chatstream.NewTool(line.Name)}

	case line.Type == "text" && line.Text != "":
		return []chatstream.Message{chatstream.New(chatstream.RoleAssistant, line.Text)}

	case line.Content != "":
		return []chatstream.Message{chatstream.New(chatstream.RoleAssistant, line.Content)}
	}
	return nil
}

// normalizeMsg handles the inner msg payload of a codex event line.
func (n *Normalizer) normalizeMsg(msg Msg) []chatstream.Message {
	switch msg.Type {
	case MsgTypeTaskStarted, MsgTypeTaskComplete, MsgTypeTokenCount,
		MsgTypeExecCommandEnd, MsgTypePatchApplyEnd:
		// Lifecycle markers drive the activity tracker, not the log.
		return nil

	case MsgTypeAgentMessage:
		if msg.Message == "" {
			return nil
		}
		return []chatstream.Message{chatstream.New(chatstream.RoleAssistant, msg.Message)}

	case MsgTypeError:
		text := msg.Message
		if text == "" {
			text = "Unknown error occurred"
		}
		return []chatstream.Message{chatstream.New(chatstream.RoleError, text)}

	case MsgTypeAgentReasoning, MsgTypeAgentThinking, MsgTypeReasoning:
		content := msg.Content
		if content == "" {
			content = msg.Message
		}
		if content == "" {
			return nil
		}
		return []chatstream.Message{chatstream.New(chatstream.RoleSystem, "Thinking…\n\n"+content)}

	case MsgTypeExecCommandBegin:
		tool := toolNameForCommand(firstArg(msg.Command))
		full := joinCommand(msg.Command)
		if full == "" {
			return []chatstream.Message{chatstream.NewTool(tool)}
		}
		return []chatstream.Message{chatstream.NewTool(tool + ": " + full)}

	case MsgTypePatchApplyBegin:
		return []chatstream.Message{chatstream.NewTool(patchSummary(msg.Changes))}

	default:
		if strings.TrimSpace(msg.Message) != "" {
			return []chatstream.Message{chatstream.New(chatstream.RoleAssistant, msg.Message)}
		}
		n.logger.Debug("skipping unknown codex msg type", "type", string(msg.Type))
		return nil
	}
}

// isConfigEcho reports whether a parsed object is the CLI echoing its
// session configuration: at least two hint keys present, or the minimal
// model+provider pair.
func isConfigEcho(raw json.RawMessage) bool {
	if gjson.GetBytes(raw, "msg").Exists() || gjson.GetBytes(raw, "prompt").Exists() {
		return false
	}
	present := 0
	for _, key := range configHintKeys {
		if gjson.GetBytes(raw, key).Exists() {
			present++
		}
	}
	if present >= 2 {
		return true
	}
	model := gjson.GetBytes(raw, "model")
	provider := gjson.GetBytes(raw, "provider")
	return model.Exists() && model.String() != "" && provider.Exists() && provider.String() != ""
}

// formatSessionParams renders a config echo as a readable notice.
func formatSessionParams(raw json.RawMessage) string {
	var parts []string
	if v := gjson.GetBytes(raw, "model").String(); v != "" {
		parts = append(parts, "model: "+v)
	}
	if v := gjson.GetBytes(raw, "reasoning effort").String(); v != "" {
		parts = append(parts, "reasoning effort: "+v)
	}
	if v := gjson.GetBytes(raw, "provider").String(); v != "" {
		parts = append(parts, "provider: "+v)
	}
	if len(parts) == 0 {
		return ""
	}
	return "Session Parameters:\n" + strings.Join(parts, "\n")
}

// patchSummary renders a patch_apply_begin changes map as a short file
// list.
func patchSummary(changes map[string]json.RawMessage) string {
	if len(changes) == 0 {
		return "edit: applying changes"
	}
	files := make([]string, 0, len(changes))
	for p := range changes {
		files = append(files, path.Base(p))
	}
	// Map iteration order is random and the summary must be stable.
	sort.Strings(files)
	if len(files) <= maxPatchFiles {
		return "edit: updated " + strings.Join(files, ", ")
	}
	return fmt.Sprintf("edit: updated %s (+%d more)",
		strings.Join(files[:maxPatchFiles], ", "), len(files)-maxPatchFiles)
}

// containsConfigKeyword reports whether a plain line looks like a
// config echo fragment.
func containsConfigKeyword(line string) bool {
	lower := strings.ToLower(line)
	for _, key := range []string{"reasoning", "sandbox", "approval", "provider", "model", "workdir"} {
		if strings.Contains(lower, key) {
			return true
		}
	}
	return false
}

// firstArg returns the argv head, or "".
func firstArg(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	return argv[0]
}
