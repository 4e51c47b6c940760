package controller

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/duochat/duochat/chatstream"
)

// helpText lists the client-side commands. These are intercepted
// before the transport and never reach the agent.
const helpText = `Commands:
/clear          clear the visible conversation
/reset          end the session and clear saved history
/help           show this help
/model <name>   set the model for future sessions
/stop           abort the current operation
/export         write the transcript to a markdown file
/stats          show message and session counters
/resume         restore and resume the saved session
/session        show session status`

// runCommand executes one slash command against a provider unit.
func (c *Controller) runCommand(u *unit, input string) error {
	name, arg, _ := strings.Cut(strings.TrimPrefix(input, "/"), " ")
	name = strings.ToLower(strings.TrimSpace(name))
	arg = strings.TrimSpace(arg)

	switch name {
	case "clear":
		u.store.Clear()

	case "reset":
		c.EndSession(u.provider)
		if c.archive != nil {
			if err := c.archive.Clear(u.projectPath, u.provider); err != nil {
				c.logger.Warn("clearing snapshot failed", "provider", string(u.provider), "error", err)
			}
		}
		c.append(u, chatstream.New(chatstream.RoleSystem, "Session and history cleared"))

	case "help":
		c.append(u, chatstream.New(chatstream.RoleSystem, helpText))

	case "model":
		if arg == "" {
			current := u.modelName()
			if current == "" {
				current = "(default)"
			}
			c.append(u, chatstream.New(chatstream.RoleSystem, "Current model: "+current))
			return nil
		}
		u.setModel(arg)
		c.append(u, chatstream.New(chatstream.RoleSystem,
			fmt.Sprintf("Model set to %s (applies to the next session)", arg)))

	case "stop":
		if err := c.Abort(u.provider); err != nil {
			c.append(u, chatstream.New(chatstream.RoleSystem, "Nothing to stop"))
		}

	case "export":
		path, err := c.exportTranscript(u)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		c.append(u, chatstream.New(chatstream.RoleSystem, "Transcript written to "+path))

	case "stats":
		stats := c.Stats()
		c.append(u, chatstream.New(chatstream.RoleSystem, fmt.Sprintf(
			"Prompts sent: %d\nMessages received: %d\nSessions started: %d",
			stats.PromptsSent, stats.MessagesReceived, stats.SessionsStarted)))

	case "resume":
		if err := c.Resume(u.provider); err != nil {
			c.append(u, chatstream.New(chatstream.RoleSystem, err.Error()))
		}

	case "session":
		c.append(u, chatstream.New(chatstream.RoleSystem, sessionSummary(u)))

	default:
		c.append(u, chatstream.New(chatstream.RoleSystem,
			fmt.Sprintf("Unknown command: /%s (try /help)", name)))
	}
	return nil
}

// exportTranscript writes the provider's log as markdown and returns
// the path.
func (c *Controller) exportTranscript(u *unit) (string, error) {
	msgs := u.store.Messages()
	var b strings.Builder
	fmt.Fprintf(&b, "# %s transcript\n\n", string(u.provider))
	for _, m := range msgs {
		if m.Temporary {
			continue
		}
		fmt.Fprintf(&b, "**%s** (%s)\n\n%s\n\n---\n\n",
			string(m.Role), m.Timestamp.Format(time.RFC3339), m.Text)
	}

	name := fmt.Sprintf("chat-%s-%s.md", string(u.provider), time.Now().Format("20060102-150405"))
	path := filepath.Join(c.params.ExportDir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// sessionSummary renders the session command output.
func sessionSummary(u *unit) string {
	status := u.session.Status().String()
	id := u.session.SessionID()
	if id == "" {
		id = "(none)"
	}
	model := u.modelName()
	if model == "" {
		model = "(default)"
	}
	return fmt.Sprintf("Provider: %s\nStatus: %s\nSession: %s\nModel: %s",
		string(u.provider), status, id, model)
}
