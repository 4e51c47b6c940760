// Command duochat is a terminal chat client that drives Claude and
// Codex coding agents through a WebSocket relay.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
