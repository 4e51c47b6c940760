// Package history persists per-project conversation snapshots so a
// chat can be restored and its session resumed after a restart. Each
// project+provider pair owns one JSON file that is replaced whole on
// every save; concurrent writers race and the last write wins.
package history

import (
	"errors"
	"time"

	"github.com/duochat/duochat/chatstream"
)

// SchemaVersion is bumped on incompatible record changes. Records with
// a different version are discarded on load rather than migrated.
const SchemaVersion = 1

// Sentinel errors for common error conditions.
var (
	ErrNotFound        = errors.New("no saved record")
	ErrVersionMismatch = errors.New("record schema version mismatch")
)

// Record is one saved conversation snapshot.
type Record struct {
	SchemaVersion int                  `json:"schemaVersion"`
	ProjectPath   string               `json:"projectPath"`
	Provider      chatstream.Provider  `json:"provider"`
	Messages      []chatstream.Message `json:"messages"`

	// SessionID and ResumeToken restore the relay session. Both hold
	// relay-confirmed values only.
	SessionID   string `json:"sessionId,omitempty"`
	ResumeToken string `json:"resumeToken,omitempty"`

	SavedAt time.Time `json:"savedAt"`
}
