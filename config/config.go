// Package config loads the client configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/duochat/duochat/chatstream"
)

// Config is the client configuration.
type Config struct {
	// ServerURL is the relay WebSocket endpoint.
	ServerURL string `yaml:"serverUrl"`

	// Token authenticates the relay connection. The DUOCHAT_TOKEN
	// environment variable overrides the file value.
	Token string `yaml:"token"`

	// ProjectPath is the default project to open sessions against.
	ProjectPath string `yaml:"projectPath"`

	// DefaultProvider selects the agent the chat starts with.
	DefaultProvider chatstream.Provider `yaml:"defaultProvider"`

	// ClaudeModel and CodexModel override each provider's model.
	ClaudeModel string `yaml:"claudeModel"`
	CodexModel  string `yaml:"codexModel"`

	// HistoryDir is where conversation snapshots are stored.
	HistoryDir string `yaml:"historyDir"`

	// HideThinking suppresses reasoning notices in the transcript.
	HideThinking bool `yaml:"hideThinking"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		ServerURL:       "ws://localhost:3789/relay",
		DefaultProvider: chatstream.ProviderClaude,
		HistoryDir:      filepath.Join(home, ".duochat", "history"),
	}
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".duochat", "config.yaml")
}

// Load reads path over the defaults. A missing file yields defaults;
// DUOCHAT_TOKEN overrides the token either way.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if token := os.Getenv("DUOCHAT_TOKEN"); token != "" {
		cfg.Token = token
	}
	return cfg, nil
}

// Validate checks the fields required to connect.
func (c Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("serverUrl is required")
	}
	if c.Token == "" {
		return errors.New("token is required (set it in the config file or DUOCHAT_TOKEN)")
	}
	if c.DefaultProvider != "" && !c.DefaultProvider.Valid() {
		return fmt.Errorf("unknown provider %q", c.DefaultProvider)
	}
	return nil
}

// Model returns the configured model for a provider, or "".
func (c Config) Model(p chatstream.Provider) string {
	switch p {
	case chatstream.ProviderClaude:
		return c.ClaudeModel
	case chatstream.ProviderCodex:
		return c.CodexModel
	}
	return ""
}
