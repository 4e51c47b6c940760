package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/ergochat/readline"
	"github.com/spf13/cobra"

	"github.com/duochat/duochat/chatstream"
	"github.com/duochat/duochat/controller"
	"github.com/duochat/duochat/history"
	"github.com/duochat/duochat/relay"
)

var (
	chatProject  string
	chatProvider string
)

var (
	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Chat opens the relay connection and runs an interactive prompt.
Messages go to the active provider; switch with /provider claude or
/provider codex. Type /help for the in-chat commands, Ctrl+D to exit.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatProject, "project", "", "Project path to open sessions against (default: config projectPath or cwd)")
	chatCmd.Flags().StringVar(&chatProvider, "provider", "", "Provider to start with: claude or codex")

	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger()

	project := chatProject
	if project == "" {
		project = cfg.ProjectPath
	}
	if project == "" {
		if project, err = os.Getwd(); err != nil {
			return err
		}
	}

	active := cfg.DefaultProvider
	if chatProvider != "" {
		active = chatstream.Provider(chatProvider)
	}
	if !active.Valid() {
		return fmt.Errorf("unknown provider %q", string(active))
	}

	rl, err := readline.NewFromConfig(&readline.Config{
		Prompt: promptFor(active),
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	archive, err := history.NewArchive(cfg.HistoryDir, history.WithLogger(logger))
	if err != nil {
		return err
	}

	channel := relay.NewChannel(cfg.ServerURL,
		relay.WithToken(cfg.Token),
		relay.WithLogger(logger),
	)
	defer channel.Close()

	// ctrl is declared ahead of New so the activity callback can read
	// the tracker label; nothing fires before Connect.
	var ctrl *controller.Controller
	var statusMu sync.Mutex
	lastStatus := make(map[chatstream.Provider]string)

	ctrl = controller.New(channel, archive, controller.Params{
		ProjectPath:  project,
		ClaudeModel:  cfg.ClaudeModel,
		CodexModel:   cfg.CodexModel,
		HideThinking: cfg.HideThinking,
		ExportDir:    ".",
		Logger:       logger,
		OnMessage: func(p chatstream.Provider, m chatstream.Message) {
			if m.Role == chatstream.RoleUser {
				return // already on screen as typed input
			}
			fmt.Fprintln(rl, renderMessage(p, m))
		},
		OnDelta: func(p chatstream.Provider, text string) {
			fmt.Fprint(rl, text)
		},
		OnActivity: func(p chatstream.Provider, working bool, elapsed int) {
			if ctrl == nil {
				return
			}
			label := ""
			if working {
				label = ctrl.Tracker(p).Label()
			}
			statusMu.Lock()
			changed := label != lastStatus[p]
			lastStatus[p] = label
			statusMu.Unlock()
			if changed && label != "" {
				fmt.Fprintln(rl, labelStyle.Render(string(p))+" "+systemStyle.Render(fmt.Sprintf("%s (%ds)", label, elapsed)))
			}
		},
	})
	defer ctrl.Close()

	channel.RegisterConnectionHandler("chat-ui", func(state relay.ConnState) {
		if state.Connected {
			fmt.Fprintln(rl, systemStyle.Render("connected to "+cfg.ServerURL))
		} else {
			fmt.Fprintln(rl, systemStyle.Render("connection lost, retrying"))
		}
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if err := channel.Connect(ctx); err != nil {
		return err
	}

	for _, p := range []chatstream.Provider{chatstream.ProviderClaude, chatstream.ProviderCodex} {
		if ctrl.Restore(p) {
			fmt.Fprintln(rl, systemStyle.Render("restored saved "+string(p)+" conversation"))
		}
	}

	for {
		line, err := rl.ReadLine()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err == io.EOF || err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case line == "/quit" || line == "/exit":
			return nil

		case strings.HasPrefix(line, "/provider"):
			_, arg, _ := strings.Cut(line, " ")
			next := chatstream.Provider(strings.TrimSpace(arg))
			if !next.Valid() {
				fmt.Fprintln(rl, errorStyle.Render("usage: /provider claude|codex"))
				continue
			}
			active = next
			rl.SetPrompt(promptFor(active))
			fmt.Fprintln(rl, systemStyle.Render("talking to "+string(active)))

		default:
			if err := ctrl.SendPrompt(active, line); err != nil {
				fmt.Fprintln(rl, errorStyle.Render(err.Error()))
			}
		}
	}
}

// promptFor renders the input prompt for the active provider.
func promptFor(p chatstream.Provider) string {
	return labelStyle.Render(string(p)) + " > "
}

// renderMessage formats one conversation message for the terminal.
func renderMessage(p chatstream.Provider, m chatstream.Message) string {
	label := labelStyle.Render(string(p))
	switch {
	case m.Role == chatstream.RoleError:
		return label + " " + errorStyle.Render(m.Text)
	case m.ToolUse:
		return label + " " + toolStyle.Render(m.Text)
	case m.Role == chatstream.RoleSystem:
		return label + " " + systemStyle.Render(m.Text)
	default:
		return label + " " + assistantStyle.Render(m.Text)
	}
}
