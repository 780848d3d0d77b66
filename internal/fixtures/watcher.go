package fixtures

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher holds the current Registry and swaps it atomically whenever
// the backing fixtures file changes on disk. Grounded on the teacher's
// fsnotify-with-polling-fallback license watcher.
type Watcher struct {
	path    string
	current atomic.Pointer[Registry]
	log     zerolog.Logger
}

// NewWatcher loads the fixtures file once and returns a Watcher ready
// to be started.
func NewWatcher(path string, log zerolog.Logger) (*Watcher, error) {
	reg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: path, log: log}
	w.current.Store(reg)
	return w, nil
}

// Registry returns the most recently loaded fixtures.
func (w *Watcher) Registry() *Registry {
	return w.current.Load()
}

// Start watches the fixtures file for changes until ctx is cancelled.
// A failed fsnotify.NewWatcher falls back to a 30s poll, matching the
// teacher's degrade-to-polling behaviour.
func (w *Watcher) Start(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Warn().Err(err).Msg("fixtures watcher: fsnotify unavailable, falling back to polling")
		go w.pollLoop(ctx)
		return
	}

	if err := watcher.Add(w.path); err != nil {
		w.log.Warn().Err(err).Str("path", w.path).Msg("fixtures watcher: failed to watch file, falling back to polling")
		watcher.Close()
		go w.pollLoop(ctx)
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					time.Sleep(100 * time.Millisecond)
					w.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.log.Error().Err(err).Msg("fixtures watcher error")
			}
		}
	}()
}

func (w *Watcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	reg, err := Load(w.path)
	if err != nil {
		w.log.Error().Err(err).Msg("fixtures watcher: reload failed, keeping previous registry")
		return
	}
	w.current.Store(reg)
	w.log.Info().Int("locations", len(reg.Locations)).Msg("fixtures reloaded")
}
