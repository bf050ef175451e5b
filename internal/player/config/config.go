// Package config manages the player's persistent configuration file:
// config.json in the app data dir, written atomically and watched for
// external edits so provisioning tools can rewrite it while the player runs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/kioskworks/signage/internal/log"
)

// Config is the player's persisted state. AccessCode empty means the player
// is unenrolled and shows the setup screen.
type Config struct {
	ServerURL  string `json:"server_url"`
	AccessCode string `json:"access_code,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
	Fullscreen bool   `json:"fullscreen"`
	Debug      bool   `json:"debug"`
}

// Manager loads, saves and watches the config file.
type Manager struct {
	path   string
	logger zerolog.Logger

	mu  sync.RWMutex
	cfg Config
}

// NewManager binds a manager to dir/config.json.
func NewManager(dir string) *Manager {
	return &Manager{
		path:   filepath.Join(dir, "config.json"),
		logger: log.WithComponent("player.config"),
		cfg:    Config{Fullscreen: true},
	}
}

// Path returns the config file location.
func (m *Manager) Path() string {
	return m.path
}

// Load reads the config file. A missing file leaves defaults in place; a
// corrupt file is an error the caller logs before continuing with defaults.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", m.path, err)
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return nil
}

// Current returns a copy of the config.
func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Save persists cfg atomically and updates the in-memory copy.
func (m *Manager) Save(cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := renameio.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	m.logger.Info().Str("event", "config.saved").Msg("configuration saved")
	return nil
}

// Watch emits the reloaded config whenever the file changes on disk. The
// watcher stops when stop is closed. Atomic writers replace the file, so the
// watch covers the directory and filters by name.
func (m *Manager) Watch(stop <-chan struct{}) (<-chan Config, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	out := make(chan Config, 1)
	go func() {
		defer close(out)
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != filepath.Base(m.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if err := m.Load(); err != nil {
					m.logger.Warn().Err(err).Str("event", "config.reload_failed").Msg("ignoring config change")
					continue
				}
				select {
				case out <- m.Current():
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn().Err(err).Str("event", "config.watch_error").Msg("config watcher error")
			}
		}
	}()
	return out, nil
}
