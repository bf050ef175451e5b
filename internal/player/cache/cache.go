// Package cache is the player's content-addressed media store: a manifest
// plus content/ and splash/ directories under the cache dir. Sync passes are
// idempotent and evict content files that left the playlist; splash assets
// live on a separate path and are never evicted by playlist changes.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/kioskworks/signage/internal/log"
)

// Entry is one manifest record.
type Entry struct {
	LocalPath string    `json:"local_path"`
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	SyncedAt  time.Time `json:"synced_at"`
}

// Item is what a sync pass needs to know about one remote asset.
type Item struct {
	Filename string
	Size     int64
	URL      string
}

// Result summarizes one sync pass.
type Result struct {
	Hits       int
	Downloaded int
	Failed     int
	Evicted    int
}

// Manager owns the manifest and the cache directories. All mutation goes
// through its mutex; at most one sync runs at a time.
type Manager struct {
	root         string
	contentDir   string
	splashDir    string
	manifestPath string
	client       *http.Client
	logger       zerolog.Logger

	mu       sync.Mutex
	manifest map[string]Entry
}

// NewManager initializes the cache under dir and loads the manifest if one
// exists. A corrupt manifest is discarded: every entry is re-verified against
// disk on the next sync anyway.
func NewManager(dir string, client *http.Client) (*Manager, error) {
	m := &Manager{
		root:         dir,
		contentDir:   filepath.Join(dir, "content"),
		splashDir:    filepath.Join(dir, "splash"),
		manifestPath: filepath.Join(dir, "manifest.json"),
		client:       client,
		logger:       log.WithComponent("player.cache"),
		manifest:     make(map[string]Entry),
	}
	if m.client == nil {
		m.client = &http.Client{Timeout: 30 * time.Second}
	}
	for _, d := range []string{m.contentDir, m.splashDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	if data, err := os.ReadFile(m.manifestPath); err == nil {
		if err := json.Unmarshal(data, &m.manifest); err != nil {
			m.logger.Warn().Err(err).Str("event", "cache.manifest_corrupt").Msg("discarding unreadable manifest")
			m.manifest = make(map[string]Entry)
		}
	}
	return m, nil
}

// ContentDir is the playlist media directory, served by the media server.
func (m *Manager) ContentDir() string { return m.contentDir }

// SplashDir is the splash asset directory, served by the media server.
func (m *Manager) SplashDir() string { return m.splashDir }

// Lookup reports whether filename is cached and usable.
func (m *Manager) Lookup(filename string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.manifest[filename]
	if !ok {
		return Entry{}, false
	}
	if info, err := os.Stat(e.LocalPath); err != nil || info.Size() != e.Size {
		return Entry{}, false
	}
	return e, true
}

// SyncPlaylist reconciles the content directory with the playlist: hits are
// skipped, misses downloaded atomically, and files no longer in the playlist
// are removed. A failed download logs and continues; the item plays from its
// remote URL until the next pass.
func (m *Manager) SyncPlaylist(ctx context.Context, items []Item) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res Result
	want := make(map[string]bool, len(items))
	for _, it := range items {
		want[it.Filename] = true
		if m.isHit(it) {
			res.Hits++
			continue
		}
		if err := m.download(ctx, m.contentDir, it); err != nil {
			res.Failed++
			m.logger.Warn().
				Err(err).
				Str("event", "cache.download_failed").
				Str("filename", it.Filename).
				Msg("download failed, item will play from origin")
			continue
		}
		res.Downloaded++
	}

	// Evict content not in the current playlist.
	if dirents, err := os.ReadDir(m.contentDir); err == nil {
		for _, de := range dirents {
			if de.IsDir() || want[de.Name()] {
				continue
			}
			if err := os.Remove(filepath.Join(m.contentDir, de.Name())); err == nil {
				res.Evicted++
			}
			delete(m.manifest, de.Name())
		}
	}
	for name, e := range m.manifest {
		if filepath.Dir(e.LocalPath) == m.contentDir && !want[name] {
			delete(m.manifest, name)
		}
	}

	m.saveManifest()
	m.logger.Info().
		Str("event", "cache.sync_complete").
		Int("hits", res.Hits).
		Int("downloaded", res.Downloaded).
		Int("failed", res.Failed).
		Int("evicted", res.Evicted).
		Msg("playlist sync finished")
	return res
}

// SyncSplash downloads splash assets into the splash directory. Assets no
// longer referenced are removed, but playlist syncs never touch this path.
func (m *Manager) SyncSplash(ctx context.Context, items []Item) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res Result
	want := make(map[string]bool, len(items))
	for _, it := range items {
		want[it.Filename] = true
		if m.isHit(it) {
			res.Hits++
			continue
		}
		if err := m.download(ctx, m.splashDir, it); err != nil {
			res.Failed++
			m.logger.Warn().
				Err(err).
				Str("event", "cache.splash_download_failed").
				Str("filename", it.Filename).
				Msg("splash download failed")
			continue
		}
		res.Downloaded++
	}
	if dirents, err := os.ReadDir(m.splashDir); err == nil {
		for _, de := range dirents {
			if de.IsDir() || want[de.Name()] {
				continue
			}
			if err := os.Remove(filepath.Join(m.splashDir, de.Name())); err == nil {
				res.Evicted++
			}
			delete(m.manifest, de.Name())
		}
	}
	m.saveManifest()
	return res
}

// isHit checks manifest + on-disk state. Size 0 in the item means the server
// did not report one; the file's presence is then enough.
func (m *Manager) isHit(it Item) bool {
	e, ok := m.manifest[it.Filename]
	if !ok {
		return false
	}
	info, err := os.Stat(e.LocalPath)
	if err != nil {
		return false
	}
	if it.Size > 0 && info.Size() != it.Size {
		return false
	}
	return true
}

// download fetches one asset with bounded retries and writes it atomically:
// the final name only appears once the bytes are complete.
func (m *Manager) download(ctx context.Context, dir string, it Item) error {
	dest := filepath.Join(dir, it.Filename)

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, it.URL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := m.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("unexpected status %d for %s", resp.StatusCode, it.URL)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}

		pending, err := renameio.TempFile("", dest)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer func() { _ = pending.Cleanup() }()
		if _, err := io.Copy(pending, resp.Body); err != nil {
			return err
		}
		return pending.CloseAtomicallyReplace()
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return err
	}

	info, err := os.Stat(dest)
	if err != nil {
		return err
	}
	m.manifest[it.Filename] = Entry{
		LocalPath: dest,
		URL:       it.URL,
		Size:      info.Size(),
		SyncedAt:  time.Now(),
	}
	return nil
}

func (m *Manager) saveManifest() {
	data, err := json.MarshalIndent(m.manifest, "", "  ")
	if err != nil {
		return
	}
	if err := renameio.WriteFile(m.manifestPath, data, 0o644); err != nil {
		m.logger.Warn().Err(err).Str("event", "cache.manifest_write_failed").Msg("could not persist manifest")
	}
}
