package history

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports external rewrites of archive snapshots, typically
// another client instance saving the same project.
type Watcher struct {
	fw        *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// Watch observes the archive directory and invokes onChange with the
// snapshot path on every external create or rewrite.
func (a *Archive) Watch(onChange func(path string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(a.dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{fw: fw, done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-w.done:
				return
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if filepath.Ext(event.Name) != ".json" {
					continue
				}
				onChange(event.Name)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				a.logger.Warn("archive watch error", "error", err)
			}
		}
	}()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fw.Close()
	})
	return err
}
