package claude

import (
	"strings"
)

// maxLabelArg bounds the argument portion of a tool label.
const maxLabelArg = 80

// ToolLabel renders a tool invocation as a short one-line notice:
// the tool's display verb plus its most relevant argument. Argument
// priority is file path, then shell command, then search pattern.
func ToolLabel(name string, input map[string]any) string {
	if name == "" {
		name = "tool"
	}
	lower := strings.ToLower(name)

	var verb, arg string
	switch {
	case strings.Contains(lower, "read") || strings.Contains(lower, "view"):
		verb, arg = "Read", firstString(input, "file_path", "path", "file")
	case strings.Contains(lower, "glob"):
		verb, arg = "Find files", firstString(input, "pattern", "glob")
	case strings.Contains(lower, "grep") || strings.Contains(lower, "search"):
		verb, arg = "Grep", firstString(input, "query", "pattern")
	case strings.Contains(lower, "bash") || strings.Contains(lower, "shell") || strings.Contains(lower, "command"):
		verb, arg = "Bash", firstString(input, "command", "cmd")
	case strings.Contains(lower, "write") || strings.Contains(lower, "edit") || strings.Contains(lower, "patch"):
		verb, arg = "Edit", firstString(input, "file_path", "path")
	default:
		verb = name
		arg = firstString(input, "file_path", "path", "command", "pattern")
	}

	if arg == "" {
		return verb
	}
	return verb + ": " + truncateArg(arg)
}

// firstString returns the first non-empty string value among keys.
func firstString(input map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := input[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// truncateArg caps an argument at maxLabelArg runes.
func truncateArg(s string) string {
	runes := []rune(s)
	if len(runes) <= maxLabelArg {
		return s
	}
	return string(runes[:maxLabelArg]) + "…"
}
