// control/watch.go
// Author: momentics <momentics@gmail.com>
//
// fsnotify-driven reload of a directive file and everything it imports.

package control

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Watcher reloads the store whenever one of its files changes.
type Watcher struct {
	path     string
	loader   *Loader
	store    *Store
	log      *zap.Logger
	fs       *fsnotify.Watcher
	debounce time.Duration
	dirs     map[string]bool
}

// NewWatcher watches the files behind store, reloading from path.
func NewWatcher(path string, loader *Loader, store *Store, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		path:     abs,
		loader:   loader,
		store:    store,
		log:      log,
		fs:       fs,
		debounce: 100 * time.Millisecond,
		dirs:     make(map[string]bool),
	}
	w.track(append(store.Files(), abs))
	return w, nil
}

// SetDebounce changes the quiet period between a change and the reload.
func (w *Watcher) SetDebounce(d time.Duration) { w.debounce = d }

// Editors replace files by rename, so directories are watched.
func (w *Watcher) track(files []string) {
	for _, dir := range lo.Uniq(lo.Map(files, func(f string, _ int) string { return filepath.Dir(f) })) {
		if w.dirs[dir] {
			continue
		}
		if err := w.fs.Add(dir); err != nil {
			w.log.Warn("config watch failed", zap.String("dir", dir), zap.Error(err))
			continue
		}
		w.dirs[dir] = true
	}
}

func (w *Watcher) relevant(name string) bool {
	name = filepath.Clean(name)
	return name == w.path || lo.Contains(w.store.Files(), name)
}

// Run blocks until ctx is done, reloading on change.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev.Name) || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.log.Debug("config file changed", zap.String("file", ev.Name), zap.Stringer("op", ev.Op))
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C
		case <-fire:
			fire = nil
			w.Reload()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Reload loads the file set now and publishes it to the store.
func (w *Watcher) Reload() {
	cfg, files, err := w.loader.Load(w.path)
	if err != nil {
		w.log.Error("config reload failed", zap.String("path", w.path), zap.Error(err))
		return
	}
	if err := cfg.Validate(); err != nil {
		w.log.Error("config reload rejected", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.track(files)
	w.store.Set(cfg, files)
	w.log.Info("config reloaded", zap.String("path", w.path), zap.Int("files", len(files)))
}
