package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v2"

	"github.com/vanpelt/scrollguard/internal/logger"
)

// LoadFile overlays YAML settings from path onto s. Missing file is not an
// error; the file only needs to name the keys it overrides. Values use the
// same syntax as runtime updates ("2s", "500", "true"); unknown keys are
// logged and skipped.
func LoadFile(path string, s Settings) (Settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return s, fmt.Errorf("failed to parse config file: %w", err)
	}

	for key, value := range raw {
		if !apply(&s, key, fmt.Sprint(value)) {
			logger.Debugf("🔧 Skipping unknown config key %q in %s", key, path)
		}
	}
	return s, nil
}

// Watcher re-applies a YAML config file whenever it changes, so the
// supervisor can be tuned live while a session is running.
type Watcher struct {
	store   *Store
	path    string
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewWatcher starts watching path for writes. The containing directory is
// watched so editor rename-and-replace saves are caught too.
func NewWatcher(store *Store, path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w := &Watcher{
		store:   store,
		path:    path,
		watcher: fw,
		stopCh:  make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("⚠️  Config watcher error: %v", err)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	updated, err := LoadFile(w.path, w.store.Get())
	if err != nil {
		logger.Warnf("⚠️  Ignoring config reload: %v", err)
		return
	}
	w.store.Replace(updated)
	logger.Infof("🔄 Reloaded config from %s", w.path)
}

// Stop ends the watch. Safe to call more than once.
func (w *Watcher) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
		w.watcher.Close()
	}
}
