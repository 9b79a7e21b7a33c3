package routing

import (
	"context"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"grouper-dispatcher/internal/common/errors"
	"grouper-dispatcher/internal/common/logging"
)

// Watcher watches the directory holding one file and calls onChange whenever
// that file is written or replaced. The Router uses it for the rule file and
// the app for the properties file.
type Watcher struct {
	file     string
	onChange func()
	watcher  *fsnotify.Watcher
	logger   logging.Logger
	running  atomic.Bool
}

// NewWatcher registers the file's directory with fsnotify. Call Run to
// start delivering events.
func NewWatcher(file string, onChange func(), logger logging.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, errors.ConfigError("cannot resolve watched file path", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.InternalError("failed to create file watcher", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, errors.ConfigError("failed to watch directory of "+abs, err)
	}

	w := &Watcher{
		file:     abs,
		onChange: onChange,
		watcher:  fw,
		logger:   logger.WithFields(logging.String("watch_dir", filepath.Dir(abs))),
	}
	w.running.Store(true)
	return w, nil
}

// Running reports whether the watcher is still delivering events.
func (w *Watcher) Running() bool {
	return w.running.Load()
}

// Run delivers events until ctx is done or the underlying watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.running.Store(false)
	defer w.watcher.Close()

	w.logger.Info("Watching file for changes")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.isRuleFileChange(event) {
				w.logger.Info("Change of watched file detected", logging.String("op", event.Op.String()))
				w.onChange()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("File watcher error", err)
		}
	}
}

func (w *Watcher) isRuleFileChange(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	name, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return name == w.file
}
