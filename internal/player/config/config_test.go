package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	m := NewManager(t.TempDir())
	require.NoError(t, m.Load())
	cfg := m.Current()
	assert.True(t, cfg.Fullscreen)
	assert.Empty(t, cfg.AccessCode)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	cfg := Config{
		ServerURL:  "http://10.0.0.5:8000",
		AccessCode: "042137",
		DeviceName: "lobby",
		Fullscreen: true,
	}
	require.NoError(t, m.Save(cfg))

	fresh := NewManager(dir)
	require.NoError(t, fresh.Load())
	assert.Equal(t, cfg, fresh.Current())
}

func TestLoadCorruptFileErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{nope"), 0o600))
	m := NewManager(dir)
	assert.Error(t, m.Load())
}

func TestWatchEmitsOnRewrite(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	require.NoError(t, m.Save(Config{ServerURL: "http://a"}))

	stop := make(chan struct{})
	defer close(stop)
	events, err := m.Watch(stop)
	require.NoError(t, err)

	// External provisioning rewrites the file.
	other := NewManager(dir)
	require.NoError(t, other.Save(Config{ServerURL: "http://b", AccessCode: "123456"}))

	select {
	case cfg := <-events:
		assert.Equal(t, "http://b", cfg.ServerURL)
		assert.Equal(t, "123456", cfg.AccessCode)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload event after config rewrite")
	}
}
