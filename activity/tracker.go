// Package activity derives the per-provider working indicator from
// four independent signals: the send lock, session initialization,
// streaming output, and the relay's queue/busy status. The lock is the
// sticky one: armed when the user sends and released only by a
// terminal event from the agent.
package activity

import (
	"sync"
	"time"
)

// Mode is the relay-reported processing status.
type Mode string

const (
	ModeNone     Mode = ""
	ModeQueued   Mode = "queued"
	ModeBusy     Mode = "busy"
	ModeThinking Mode = "thinking"
	ModeTool     Mode = "tool"
)

// working reports whether a mode counts toward the indicator.
func (m Mode) working() bool {
	switch m {
	case ModeQueued, ModeBusy, ModeThinking, ModeTool:
		return true
	}
	return false
}

// ChangeFunc receives the indicator state and the elapsed whole
// seconds since work began.
type ChangeFunc func(working bool, elapsedSeconds int)

// Tracker derives the working indicator for one provider. All methods
// are safe for concurrent use.
type Tracker struct {
	mu           sync.Mutex
	lock         bool
	initializing bool
	typing       bool
	mode         Mode
	label        string
	startedAt    time.Time

	onChange ChangeFunc
	now      func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithoutTicker disables the per-second refresh goroutine, for tests.
func WithoutTicker() Option {
	return func(t *Tracker) { t.closeOnce.Do(func() { close(t.done) }) }
}

// NewTracker creates a tracker. onChange may be nil.
func NewTracker(onChange ChangeFunc, opts ...Option) *Tracker {
	t := &Tracker{
		onChange: onChange,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.tickLoop()
	return t
}

// Close stops the refresh goroutine.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() { close(t.done) })
}

// Arm sets the send lock. Called when a prompt goes out.
func (t *Tracker) Arm() {
	t.set(func() { t.lock = true })
}

// HandleTerminal releases the lock and transient signals. Called on
// result, complete, error, idle, and aborted events only.
func (t *Tracker) HandleTerminal() {
	t.set(func() {
		t.lock = false
		t.typing = false
		t.mode = ModeNone
		t.label = ""
	})
}

// SetInitializing tracks the session handshake window.
func (t *Tracker) SetInitializing(v bool) {
	t.set(func() { t.initializing = v })
}

// SetTyping tracks streaming output.
func (t *Tracker) SetTyping(v bool) {
	t.set(func() { t.typing = v })
}

// SetMode tracks the relay-reported status. Any explicit label is
// discarded; the mode's default takes over.
func (t *Tracker) SetMode(m Mode) {
	t.set(func() {
		t.mode = m
		t.label = ""
	})
}

// SetModeLabel tracks the relay-reported status with a display label
// carrying detail the mode alone cannot, such as a queue position.
func (t *Tracker) SetModeLabel(m Mode, label string) {
	t.set(func() {
		t.mode = m
		t.label = label
	})
}

// Working reports whether any signal is active.
func (t *Tracker) Working() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.workingLocked()
}

// Mode returns the current relay-reported status.
func (t *Tracker) Mode() Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// Label returns the indicator's display label: the explicit one when
// set, otherwise a default derived from the active signals. Empty when
// idle.
func (t *Tracker) Label() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.label != "" {
		return t.label
	}
	switch t.mode {
	case ModeQueued:
		return "Queued"
	case ModeThinking:
		return "Thinking"
	case ModeTool:
		return "Running tool"
	}
	if t.workingLocked() {
		return "Working"
	}
	return ""
}

// Elapsed returns whole seconds since work began, or 0 when idle.
func (t *Tracker) Elapsed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsedLocked()
}

func (t *Tracker) workingLocked() bool {
	return t.lock || t.initializing || t.typing || t.mode.working()
}

func (t *Tracker) elapsedLocked() int {
	if t.startedAt.IsZero() {
		return 0
	}
	return int(t.now().Sub(t.startedAt) / time.Second)
}

// set applies a mutation and fires onChange when the indicator
// transitions or while work is in flight.
func (t *Tracker) set(mutate func()) {
	t.mu.Lock()
	before := t.workingLocked()
	mutate()
	after := t.workingLocked()
	if after && !before {
		t.startedAt = t.now()
	}
	if !after {
		t.startedAt = time.Time{}
	}
	fn := t.onChange
	elapsed := t.elapsedLocked()
	t.mu.Unlock()

	if fn != nil && (before != after || after) {
		fn(after, elapsed)
	}
}

// tickLoop refreshes the elapsed counter once per second while
// working.
func (t *Tracker) tickLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.mu.Lock()
			working := t.workingLocked()
			elapsed := t.elapsedLocked()
			fn := t.onChange
			t.mu.Unlock()
			if working && fn != nil {
				fn(true, elapsed)
			}
		}
	}
}
