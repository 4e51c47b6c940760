// Package store keeps the ordered in-memory message log for one
// provider: append with merge and dedup rules, streaming delta
// accumulation, and a background sweep for temporary notices.
package store

import (
	"strings"
	"sync"
	"time"

	"github.com/duochat/duochat/chatstream"
)

// ChangeFunc is invoked after every mutation with a snapshot of the
// log. Persistence taps hang off this.
type ChangeFunc func([]chatstream.Message)

// Store is the message log for a single provider. All methods are safe
// for concurrent use.
type Store struct {
	cfg config

	mu   sync.Mutex
	msgs []chatstream.Message

	onChange  ChangeFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a store and starts its sweep loop.
func New(opts ...Option) *Store {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Store{cfg: cfg, done: make(chan struct{})}
	go s.sweepLoop()
	return s
}

// OnChange sets the mutation callback. Pass nil to remove it.
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Close stops the sweep loop.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Messages returns a snapshot of the log.
func (s *Store) Messages() []chatstream.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Len returns the current log length.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Append adds a message, subject to the dedup and merge rules, and
// returns the ID of the message now carrying the text.
func (s *Store) Append(m chatstream.Message) string {
	s.mu.Lock()

	if s.cfg.hideThinking && m.Role == chatstream.RoleSystem && strings.HasPrefix(m.Text, "Thinking…") {
		s.mu.Unlock()
		return ""
	}

	now := s.cfg.now()
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}

	if last := s.lastLocked(); last != nil {
		// Relay re-delivery guard: an identical message right after
		// the original is dropped.
		if last.Role == m.Role && last.Text == m.Text &&
			now.Sub(last.Timestamp) <= s.cfg.dedupWindow {
			id := last.ID
			s.mu.Unlock()
			return id
		}

		// Config echoes repeat on reconnect regardless of timing.
		if m.Role == chatstream.RoleSystem &&
			strings.HasPrefix(m.Text, "Session Parameters:") &&
			last.Role == chatstream.RoleSystem && last.Text == m.Text {
			id := last.ID
			s.mu.Unlock()
			return id
		}

		if s.mergeableLocked(*last, m, now) {
			last.Text = last.Text + "\n\n" + m.Text
			last.Timestamp = now
			id := last.ID
			snapshot := s.snapshotLocked()
			fn := s.onChange
			s.mu.Unlock()
			notify(fn, snapshot)
			return id
		}
	}

	s.msgs = append(s.msgs, m)
	id := m.ID
	snapshot := s.snapshotLocked()
	fn := s.onChange
	s.mu.Unlock()
	notify(fn, snapshot)
	return id
}

// AppendDelta extends the most recent still-streaming message of the
// role, or opens a new one. It returns the ID of the streaming message.
func (s *Store) AppendDelta(role chatstream.Role, delta string) string {
	if delta == "" {
		return ""
	}
	s.mu.Lock()
	if last := s.lastLocked(); last != nil && last.Role == role && last.Streaming {
		last.Text += delta
		last.Timestamp = s.cfg.now()
		id := last.ID
		snapshot := s.snapshotLocked()
		fn := s.onChange
		s.mu.Unlock()
		notify(fn, snapshot)
		return id
	}

	m := chatstream.New(role, delta)
	m.Streaming = true
	m.Timestamp = s.cfg.now()
	s.msgs = append(s.msgs, m)
	id := m.ID
	snapshot := s.snapshotLocked()
	fn := s.onChange
	s.mu.Unlock()
	notify(fn, snapshot)
	return id
}

// FinishStreaming clears the streaming flag on every open message.
// Called on terminal events so later deltas start fresh messages.
func (s *Store) FinishStreaming() {
	s.mu.Lock()
	changed := false
	for i := range s.msgs {
		if s.msgs[i].Streaming {
			s.msgs[i].Streaming = false
			changed = true
		}
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	snapshot := s.snapshotLocked()
	fn := s.onChange
	s.mu.Unlock()
	notify(fn, snapshot)
}

// UpdateByID applies fn to the message with the given ID. The ID and
// role are preserved regardless of what fn does.
func (s *Store) UpdateByID(id string, fn func(*chatstream.Message)) bool {
	s.mu.Lock()
	for i := range s.msgs {
		if s.msgs[i].ID != id {
			continue
		}
		role := s.msgs[i].Role
		fn(&s.msgs[i])
		s.msgs[i].ID = id
		s.msgs[i].Role = role
		snapshot := s.snapshotLocked()
		cb := s.onChange
		s.mu.Unlock()
		notify(cb, snapshot)
		return true
	}
	s.mu.Unlock()
	return false
}

// Clear empties the log.
func (s *Store) Clear() {
	s.mu.Lock()
	if len(s.msgs) == 0 {
		s.mu.Unlock()
		return
	}
	s.msgs = nil
	fn := s.onChange
	s.mu.Unlock()
	notify(fn, nil)
}

// Replace swaps the whole log, used when restoring a saved transcript.
func (s *Store) Replace(msgs []chatstream.Message) {
	s.mu.Lock()
	s.msgs = append([]chatstream.Message(nil), msgs...)
	snapshot := s.snapshotLocked()
	fn := s.onChange
	s.mu.Unlock()
	notify(fn, snapshot)
}

// Sweep removes expired temporary messages. The sweep loop calls this
// on its interval; tests call it directly.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	kept := s.msgs[:0]
	removed := 0
	for _, m := range s.msgs {
		if m.Expired(now) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	s.msgs = kept
	if removed == 0 {
		s.mu.Unlock()
		return 0
	}
	snapshot := s.snapshotLocked()
	fn := s.onChange
	s.mu.Unlock()
	notify(fn, snapshot)
	return removed
}

// mergeableLocked reports whether incoming should fold into last:
// consecutive assistant text within the merge window, with tool
// notices and temporary/streaming messages excluded.
func (s *Store) mergeableLocked(last, incoming chatstream.Message, now time.Time) bool {
	return incoming.Role == chatstream.RoleAssistant &&
		last.Role == chatstream.RoleAssistant &&
		!incoming.ToolUse && !last.ToolUse &&
		!incoming.Temporary && !last.Temporary &&
		!incoming.Streaming && !last.Streaming &&
		now.Sub(last.Timestamp) < s.cfg.mergeWindow
}

func (s *Store) lastLocked() *chatstream.Message {
	if len(s.msgs) == 0 {
		return nil
	}
	return &s.msgs[len(s.msgs)-1]
}

func (s *Store) snapshotLocked() []chatstream.Message {
	return append([]chatstream.Message(nil), s.msgs...)
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.cfg.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.Sweep(s.cfg.now())
		}
	}
}

func notify(fn ChangeFunc, snapshot []chatstream.Message) {
	if fn != nil {
		fn(snapshot)
	}
}
