package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/duochat/duochat/config"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "duochat",
	Short: "Chat with Claude and Codex agents over a relay",
	Long: `Duochat connects to an agent relay over a WebSocket and runs
interactive sessions against Claude and Codex CLI agents. Each agent
gets its own session, conversation log, and saved history; the relay
owns the agent processes and API credentials.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.duochat/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
}

// loadConfig reads the config file from the flag or the default path.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}

// newLogger creates a structured logger with the configured verbosity.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
