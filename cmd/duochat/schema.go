package main

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/duochat/duochat/history"
	"github.com/duochat/duochat/relay"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print JSON Schemas for the wire and snapshot formats",
	Long: `Schema prints JSON Schemas for the frames the client sends to the
relay and for the snapshot file format, keyed by name. Useful when
implementing or validating a relay.`,
	RunE: runSchema,
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}

func runSchema(cmd *cobra.Command, args []string) error {
	reflector := &jsonschema.Reflector{DoNotReference: true}

	schemas := map[string]any{
		"auth":           reflector.Reflect(&relay.AuthRequest{}),
		"start-session":  reflector.Reflect(&relay.StartSessionRequest{}),
		"end-session":    reflector.Reflect(&relay.EndSessionRequest{}),
		"abort":          reflector.Reflect(&relay.AbortRequest{}),
		"claude-command": reflector.Reflect(&relay.ClaudeCommand{}),
		"codex-message":  reflector.Reflect(&relay.CodexMessage{}),
		"ping":           reflector.Reflect(&relay.PingRequest{}),
		"snapshot":       reflector.Reflect(&history.Record{}),
	}

	data, err := json.MarshalIndent(schemas, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
