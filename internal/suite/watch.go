package suite

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/MongooseMoo/moo-conformance-tests/pkg/logging"
)

// DebounceInterval is how long the watcher waits after the last change
// before firing, so one editor save (write + rename + chmod) triggers a
// single rerun.
const DebounceInterval = 500 * time.Millisecond

// Watcher reruns a callback whenever suite files under a directory change.
type Watcher struct {
	dir      string
	onChange func()

	fsWatcher *fsnotify.Watcher

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewWatcher builds a watcher over dir. onChange runs on the watcher's
// goroutine after the debounce window closes.
func NewWatcher(dir string, onChange func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{dir: dir, onChange: onChange, fsWatcher: fw}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsWatcher.Close()
	logging.Info("Suite", "Watching %s for changes", w.dir)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if !isSuiteEvent(event) {
				continue
			}
			logging.Debug("Suite", "Change detected: %s (%s)", event.Name, event.Op)
			w.scheduleChange()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("Suite", "Watcher error: %v", err)
		}
	}
}

func isSuiteEvent(event fsnotify.Event) bool {
	if !isSuiteFile(event.Name) {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0
}

// scheduleChange debounces rapid successive events into one callback.
func (w *Watcher) scheduleChange() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(DebounceInterval, w.onChange)
}
