package cache

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingOrigin struct {
	srv  *httptest.Server
	hits atomic.Int64
	fail atomic.Bool
}

// newOrigin serves /files/{name} with the name repeated as body so each file
// has a distinct size.
func newOrigin(t *testing.T) *countingOrigin {
	t.Helper()
	o := &countingOrigin{}
	o.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.hits.Add(1)
		if o.fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		name := filepath.Base(r.URL.Path)
		for i := 0; i < 3; i++ {
			fmt.Fprint(w, name)
		}
	}))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *countingOrigin) item(name string) Item {
	return Item{
		Filename: name,
		Size:     int64(3 * len(name)),
		URL:      o.srv.URL + "/files/" + name,
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestSyncIsIdempotent(t *testing.T) {
	origin := newOrigin(t)
	m, err := NewManager(t.TempDir(), origin.srv.Client())
	require.NoError(t, err)

	items := []Item{origin.item("a.jpg"), origin.item("b.mp4")}

	first := m.SyncPlaylist(context.Background(), items)
	assert.Equal(t, 2, first.Downloaded)
	assert.Equal(t, 0, first.Hits)
	hitsAfterFirst := origin.hits.Load()

	second := m.SyncPlaylist(context.Background(), items)
	assert.Equal(t, 0, second.Downloaded)
	assert.Equal(t, 2, second.Hits)
	assert.Equal(t, hitsAfterFirst, origin.hits.Load(), "second pass must not re-download")
}

func TestSyncEvictsRemovedContent(t *testing.T) {
	origin := newOrigin(t)
	m, err := NewManager(t.TempDir(), origin.srv.Client())
	require.NoError(t, err)

	m.SyncPlaylist(context.Background(), []Item{
		origin.item("a.jpg"), origin.item("b.mp4"), origin.item("c.png"),
	})
	require.Equal(t, []string{"a.jpg", "b.mp4", "c.png"}, listDir(t, m.ContentDir()))

	res := m.SyncPlaylist(context.Background(), []Item{origin.item("a.jpg")})
	assert.Equal(t, 2, res.Evicted)
	assert.Equal(t, []string{"a.jpg"}, listDir(t, m.ContentDir()))

	_, ok := m.Lookup("b.mp4")
	assert.False(t, ok)
	_, ok = m.Lookup("a.jpg")
	assert.True(t, ok)
}

func TestSyncSplashSurvivesPlaylistEviction(t *testing.T) {
	origin := newOrigin(t)
	m, err := NewManager(t.TempDir(), origin.srv.Client())
	require.NoError(t, err)

	m.SyncSplash(context.Background(), []Item{origin.item("logo.png")})
	m.SyncPlaylist(context.Background(), []Item{origin.item("a.jpg")})
	// Playlist shrinks to empty; splash asset must remain.
	m.SyncPlaylist(context.Background(), nil)

	assert.Empty(t, listDir(t, m.ContentDir()))
	assert.Equal(t, []string{"logo.png"}, listDir(t, m.SplashDir()))
	_, ok := m.Lookup("logo.png")
	assert.True(t, ok)
}

func TestDownloadFailureLeavesNoPartialFile(t *testing.T) {
	origin := newOrigin(t)
	origin.fail.Store(true)
	m, err := NewManager(t.TempDir(), origin.srv.Client())
	require.NoError(t, err)

	res := m.SyncPlaylist(context.Background(), []Item{origin.item("a.jpg")})
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, listDir(t, m.ContentDir()))
	_, ok := m.Lookup("a.jpg")
	assert.False(t, ok)
}

func TestManifestSurvivesRestart(t *testing.T) {
	origin := newOrigin(t)
	dir := t.TempDir()

	m, err := NewManager(dir, origin.srv.Client())
	require.NoError(t, err)
	m.SyncPlaylist(context.Background(), []Item{origin.item("a.jpg")})
	hits := origin.hits.Load()

	fresh, err := NewManager(dir, origin.srv.Client())
	require.NoError(t, err)
	res := fresh.SyncPlaylist(context.Background(), []Item{origin.item("a.jpg")})
	assert.Equal(t, 1, res.Hits)
	assert.Equal(t, hits, origin.hits.Load())
}

func TestSizeMismatchForcesRedownload(t *testing.T) {
	origin := newOrigin(t)
	m, err := NewManager(t.TempDir(), origin.srv.Client())
	require.NoError(t, err)

	m.SyncPlaylist(context.Background(), []Item{origin.item("a.jpg")})
	// The file was replaced server-side and grew.
	it := origin.item("a.jpg")
	it.Size += 10
	res := m.SyncPlaylist(context.Background(), []Item{it})
	// Re-download happens even though it still yields the old size; the point
	// is that the mismatch is not treated as a hit.
	assert.Equal(t, 0, res.Hits)
}
