package controller

import (
	"sync"
	"time"

	"github.com/duochat/duochat/activity"
	"github.com/duochat/duochat/chatstream"
	"github.com/duochat/duochat/history"
	"github.com/duochat/duochat/session"
	"github.com/duochat/duochat/store"
)

// Notice dismiss budgets.
const (
	queueNoticeDismiss = 1500 * time.Millisecond
	abortNoticeDismiss = 2500 * time.Millisecond
)

// unit bundles one provider's machinery.
type unit struct {
	provider    chatstream.Provider
	projectPath string
	session     *session.Manager
	store       *store.Store
	tracker     *activity.Tracker
	normalizer  Normalizer

	mu sync.Mutex

	// model is mutable via the model command.
	model string

	// queueNotified is set after the first queue-position notice of a
	// wait and reset by the next terminal event.
	queueNotified bool
}

// newUnit builds one provider's machinery and hangs the persistence
// taps off it.
func (c *Controller) newUnit(p chatstream.Provider, n Normalizer, model string) *unit {
	u := &unit{provider: p, projectPath: c.params.ProjectPath, normalizer: n, model: model}

	u.store = store.New(store.WithHideThinking(c.params.HideThinking))
	u.tracker = activity.NewTracker(func(working bool, elapsed int) {
		if c.params.OnActivity != nil {
			c.params.OnActivity(p, working, elapsed)
		}
	})

	u.session = session.NewManager(p, c.channel,
		session.WithLogger(c.logger),
		session.WithCallbacks(session.Callbacks{
			StatusChanged: func(s session.Status) {
				u.tracker.SetInitializing(s == session.StatusInitializing)
			},
			Notice: func(m chatstream.Message) { c.append(u, m) },
			Confirmed: func(sessionID, resumeToken string) {
				c.mu.Lock()
				c.stats.SessionsStarted++
				c.mu.Unlock()
				if c.archive != nil {
					if err := c.archive.SaveIdentity(c.params.ProjectPath, p, sessionID, resumeToken); err != nil {
						c.logger.Warn("saving session identity failed", "provider", string(p), "error", err)
					}
				}
			},
			NotFound: func() {
				if c.archive != nil {
					if err := c.archive.ClearIdentity(c.params.ProjectPath, p); err != nil {
						c.logger.Warn("clearing session identity failed", "provider", string(p), "error", err)
					}
				}
			},
		}))

	u.store.OnChange(func(msgs []chatstream.Message) {
		if c.archive == nil {
			return
		}
		rec := history.Record{
			ProjectPath: c.params.ProjectPath,
			Provider:    p,
			Messages:    msgs,
			SessionID:   u.session.SessionID(),
			ResumeToken: u.session.ResumeToken(),
		}
		if err := c.archive.Save(rec); err != nil {
			c.logger.Warn("saving snapshot failed", "provider", string(p), "error", err)
		}
	})

	return u
}

// startOptions builds the session start options from current state.
func (u *unit) startOptions() session.StartOptions {
	u.mu.Lock()
	model := u.model
	u.mu.Unlock()
	return session.StartOptions{
		ProjectPath: u.projectPath,
		Model:       model,
	}
}

// terminal applies a terminal event: the lock drops, streaming closes,
// and the next queue wait may notify again.
func (u *unit) terminal() {
	u.tracker.HandleTerminal()
	u.store.FinishStreaming()
	u.mu.Lock()
	u.queueNotified = false
	u.mu.Unlock()
}

// setModel updates the model used for future session starts.
func (u *unit) setModel(model string) {
	u.mu.Lock()
	u.model = model
	u.mu.Unlock()
}

// modelName returns the configured model.
func (u *unit) modelName() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.model
}

// abortNotice is the provider-specific abort confirmation text.
func abortNotice(p chatstream.Provider) string {
	if p == chatstream.ProviderCodex {
		return "Aborted and cleared queue"
	}
	return "Aborted current operation"
}
