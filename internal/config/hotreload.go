package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeHandler receives the config that replaced the previous one.
type ChangeHandler func(cfg *Config)

// Watcher reloads the config file when it changes. It watches the parent
// directory so editors that save by rename are seen too. Bursts of events
// are debounced and a reload whose Hash matches the current config is
// dropped.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu       sync.Mutex
	handlers []ChangeHandler
	lastHash string
	timer    *time.Timer

	stop     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for configPath. current is the config in
// use; reloads identical to it are ignored.
func NewWatcher(configPath string, current *Config) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	cw := &Watcher{
		path:     filepath.Clean(configPath),
		watcher:  w,
		debounce: 300 * time.Millisecond,
		stop:     make(chan struct{}),
	}
	if current != nil {
		cw.lastHash = current.Hash()
	}
	return cw, nil
}

func (cw *Watcher) OnChange(handler ChangeHandler) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.handlers = append(cw.handlers, handler)
}

// Start watches the config file's directory, which must exist.
func (cw *Watcher) Start() error {
	if err := cw.watcher.Add(filepath.Dir(cw.path)); err != nil {
		return err
	}
	go cw.watchLoop()
	slog.Info("config watcher started", "path", cw.path)
	return nil
}

func (cw *Watcher) Stop() {
	cw.stopOnce.Do(func() {
		close(cw.stop)
		cw.watcher.Close()
		cw.mu.Lock()
		if cw.timer != nil {
			cw.timer.Stop()
		}
		cw.mu.Unlock()
	})
}

func (cw *Watcher) watchLoop() {
	for {
		select {
		case <-cw.stop:
			return
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != cw.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			cw.schedule()
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}

func (cw *Watcher) schedule() {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = time.AfterFunc(cw.debounce, cw.reload)
}

func (cw *Watcher) reload() {
	select {
	case <-cw.stop:
		return
	default:
	}
	cfg, err := Load(cw.path)
	if err != nil {
		slog.Error("config reload failed; keeping previous config", "path", cw.path, "error", err)
		return
	}

	cw.mu.Lock()
	hash := cfg.Hash()
	if hash == cw.lastHash {
		cw.mu.Unlock()
		return
	}
	cw.lastHash = hash
	handlers := append([]ChangeHandler(nil), cw.handlers...)
	cw.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}
	slog.Info("config reloaded", "path", cw.path, "hash", hash)
}
