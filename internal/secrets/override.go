package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"switchboard/internal/config"
	"switchboard/pkg/logging"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DefaultDebounceInterval is the time to wait after the last change to the
// override file before reloading it.
const DefaultDebounceInterval = 200 * time.Millisecond

// overrideStore holds the local override file: a flat YAML map from a
// literal placeholder ("vault:db#password" or "${vault:db#password}") to
// its value.
type overrideStore struct {
	path string

	mu     sync.RWMutex
	values map[string]string
}

func newOverrideStore(path string) *overrideStore {
	return &overrideStore{path: path, values: map[string]string{}}
}

// load replaces the in-memory values with the file's contents. A missing
// file is an empty override set.
func (s *overrideStore) load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.set(map[string]string{})
			return nil
		}
		return fmt.Errorf("failed to read override file %s: %w", s.path, err)
	}

	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse override file %s: %w", s.path, err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		if p, ok := config.ParsePlaceholder(k); ok {
			values[p.String()] = v
			continue
		}
		values[k] = v
	}
	s.set(values)
	logging.Debug("Secrets", "Loaded %d override(s) from %s", len(values), s.path)
	return nil
}

func (s *overrideStore) set(values map[string]string) {
	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
}

func (s *overrideStore) lookup(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// overrideWatcher reloads the override file when it changes on disk. The
// parent directory is watched so editors that replace the file by rename
// are picked up too.
type overrideWatcher struct {
	store *overrideStore

	mu        sync.Mutex
	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}
	running   bool
	onReload  func()

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

func newOverrideWatcher(store *overrideStore, onReload func()) *overrideWatcher {
	return &overrideWatcher{store: store, onReload: onReload}
}

func (w *overrideWatcher) start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running || w.store.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	dir := filepath.Dir(w.store.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.fsWatcher = watcher
	w.stopCh = make(chan struct{})
	w.running = true

	go w.processEvents(watcher.Events, watcher.Errors, w.stopCh)

	logging.Info("Secrets", "Watching %s for override changes", w.store.path)
	return nil
}

func (w *overrideWatcher) processEvents(eventsCh <-chan fsnotify.Event, errorsCh <-chan error, stopCh <-chan struct{}) {
	target := filepath.Clean(w.store.path)
	for {
		select {
		case <-stopCh:
			return

		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.reloadDebounced()

		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			logging.Error("Secrets", err, "override file watcher error")
		}
	}
}

func (w *overrideWatcher) reloadDebounced() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(DefaultDebounceInterval, func() {
		if err := w.store.load(); err != nil {
			logging.Warn("Secrets", "Keeping previous overrides: %v", err)
			return
		}
		if w.onReload != nil {
			w.onReload()
		}
	})
}

func (w *overrideWatcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	close(w.stopCh)
	w.fsWatcher.Close()
	w.running = false

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceMu.Unlock()
}
