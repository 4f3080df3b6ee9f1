// Package reload applies configuration changes to a running server: the log
// level and the overflow recovery policy change in place, everything else
// is reported as needing a restart.
package reload

import (
	"context"
	"os"
	"time"
)

const defaultPollInterval = 5 * time.Second

// Event reports that the watched file changed.
type Event struct {
	Path    string
	ModTime time.Time
}

// Watcher polls a file for changes in modification time or size.
type Watcher struct {
	path     string
	interval time.Duration
	events   chan Event
}

// NewWatcher watches path every interval; a zero interval means 5s.
func NewWatcher(path string, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Watcher{path: path, interval: interval, events: make(chan Event, 1)}
}

// Events delivers at most one pending change; further changes before the
// receiver catches up are coalesced.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	last, _ := w.stat()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur, ok := w.stat()
			if !ok || cur == last {
				continue
			}
			last = cur
			select {
			case w.events <- Event{Path: w.path, ModTime: cur.mod}:
			default:
			}
		}
	}
}

type fileState struct {
	mod  time.Time
	size int64
}

// stat reports false while the file is missing, so a delete followed by a
// rewrite is seen as a single change.
func (w *Watcher) stat() (fileState, bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		return fileState{}, false
	}
	return fileState{mod: info.ModTime(), size: info.Size()}, true
}
