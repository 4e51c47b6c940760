package history

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/duochat/duochat/chatstream"
)

// defaultMaxMessages caps how many trailing messages a snapshot keeps.
const defaultMaxMessages = 60

// defaultMaxRecords caps how many snapshot files the archive keeps
// before pruning the oldest.
const defaultMaxRecords = 16

// Archive stores conversation snapshots under one directory.
type Archive struct {
	dir         string
	maxMessages int
	maxRecords  int
	logger      *slog.Logger
	now         func() time.Time
}

// ArchiveOption configures an Archive.
type ArchiveOption func(*Archive)

// WithMaxMessages overrides the per-snapshot message cap.
func WithMaxMessages(n int) ArchiveOption {
	return func(a *Archive) { a.maxMessages = n }
}

// WithMaxRecords overrides the snapshot file cap.
func WithMaxRecords(n int) ArchiveOption {
	return func(a *Archive) { a.maxRecords = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ArchiveOption {
	return func(a *Archive) { a.logger = l }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) ArchiveOption {
	return func(a *Archive) { a.now = now }
}

// NewArchive creates the directory if needed and returns an archive.
func NewArchive(dir string, opts ...ArchiveOption) (*Archive, error) {
	a := &Archive{
		dir:         dir,
		maxMessages: defaultMaxMessages,
		maxRecords:  defaultMaxRecords,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return a, nil
}

// Dir returns the archive directory.
func (a *Archive) Dir() string { return a.dir }

// Path returns the snapshot file for a project+provider pair.
func (a *Archive) Path(projectPath string, p chatstream.Provider) string {
	h := fnv.New64a()
	h.Write([]byte(projectPath))
	name := fmt.Sprintf("%s-%s-%x.json", string(p), filepath.Base(projectPath), h.Sum64())
	return filepath.Join(a.dir, name)
}

// Save replaces the snapshot for the record's project+provider pair.
// Temporary notices are dropped and the message tail is capped before
// writing. The write is atomic: temp file then rename.
func (a *Archive) Save(rec Record) error {
	rec.SchemaVersion = SchemaVersion
	rec.SavedAt = a.now()
	rec.Messages = trimMessages(rec.Messages, a.maxMessages)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	target := a.Path(rec.ProjectPath, rec.Provider)
	tmp, err := os.CreateTemp(a.dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}

	a.prune()
	return nil
}

// Load reads the snapshot for a project+provider pair. A record with a
// different schema version is discarded and reported as missing.
func (a *Archive) Load(projectPath string, p chatstream.Provider) (Record, error) {
	data, err := os.ReadFile(a.Path(projectPath, p))
	if os.IsNotExist(err) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("read snapshot: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		a.logger.Warn("discarding corrupt snapshot", "project", projectPath, "provider", string(p), "error", err)
		return Record{}, ErrNotFound
	}
	if rec.SchemaVersion != SchemaVersion {
		a.logger.Warn("discarding snapshot with mismatched schema version",
			"project", projectPath, "provider", string(p), "version", rec.SchemaVersion)
		return Record{}, ErrVersionMismatch
	}
	return rec, nil
}

// Clear removes the snapshot for a project+provider pair.
func (a *Archive) Clear(projectPath string, p chatstream.Provider) error {
	err := os.Remove(a.Path(projectPath, p))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	return nil
}

// SaveIdentity updates only the session identity of an existing
// snapshot, creating a minimal one when none exists.
func (a *Archive) SaveIdentity(projectPath string, p chatstream.Provider, sessionID, resumeToken string) error {
	rec, err := a.Load(projectPath, p)
	if err != nil {
		rec = Record{ProjectPath: projectPath, Provider: p}
	}
	rec.SessionID = sessionID
	rec.ResumeToken = resumeToken
	return a.Save(rec)
}

// ClearIdentity drops the session identity but keeps the transcript.
func (a *Archive) ClearIdentity(projectPath string, p chatstream.Provider) error {
	rec, err := a.Load(projectPath, p)
	if err != nil {
		return nil
	}
	rec.SessionID = ""
	rec.ResumeToken = ""
	return a.Save(rec)
}

// prune removes the oldest snapshot files beyond the cap.
func (a *Archive) prune() {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return
	}
	type aged struct {
		path string
		mod  time.Time
	}
	var snapshots []aged
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, aged{filepath.Join(a.dir, entry.Name()), info.ModTime()})
	}
	if len(snapshots) <= a.maxRecords {
		return
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].mod.Before(snapshots[j].mod) })
	for _, s := range snapshots[:len(snapshots)-a.maxRecords] {
		if err := os.Remove(s.path); err != nil {
			a.logger.Warn("pruning snapshot failed", "path", s.path, "error", err)
		}
	}
}

// trimMessages drops temporary notices and keeps the trailing n
// messages.
func trimMessages(msgs []chatstream.Message, n int) []chatstream.Message {
	kept := make([]chatstream.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Temporary {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return kept
}
