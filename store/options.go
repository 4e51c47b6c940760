package store

import (
	"time"
)

// config holds store configuration.
type config struct {
	mergeWindow   time.Duration
	dedupWindow   time.Duration
	sweepInterval time.Duration
	hideThinking  bool
	now           func() time.Time
}

// defaultConfig returns the default store configuration.
func defaultConfig() config {
	return config{
		mergeWindow:   5 * time.Second,
		dedupWindow:   time.Second,
		sweepInterval: 500 * time.Millisecond,
		now:           time.Now,
	}
}

// Option configures a Store.
type Option func(*config)

// WithMergeWindow overrides how close consecutive assistant messages
// must be to merge.
func WithMergeWindow(d time.Duration) Option {
	return func(c *config) { c.mergeWindow = d }
}

// WithDedupWindow overrides the re-delivery dedup window.
func WithDedupWindow(d time.Duration) Option {
	return func(c *config) { c.dedupWindow = d }
}

// WithSweepInterval overrides how often expired temporary messages are
// removed.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) { c.sweepInterval = d }
}

// WithHideThinking drops "Thinking…" system notices on append.
func WithHideThinking(hide bool) Option {
	return func(c *config) { c.hideThinking = hide }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}
