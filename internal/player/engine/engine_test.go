package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kioskworks/signage/internal/player/cache"
	"github.com/kioskworks/signage/internal/player/client"
	"github.com/kioskworks/signage/internal/player/renderer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSurface is a two-layer display that records state.
type fakeSurface struct {
	mu      sync.Mutex
	loaded  [2]*renderer.Media
	visible [2]bool
	pos     [2]float64
	splash  string
	shows   int
	showErr error
	events  chan renderer.Event
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{events: make(chan renderer.Event, 8)}
}

func (f *fakeSurface) Load(layer int, media renderer.Media) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := media
	f.loaded[layer] = &m
	f.pos[layer] = 0
	return nil
}

func (f *fakeSurface) Show(layer int, _ renderer.Transition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shows++
	if f.showErr != nil {
		return f.showErr
	}
	f.visible[layer] = true
	return nil
}

func (f *fakeSurface) setShowErr(err error) {
	f.mu.Lock()
	f.showErr = err
	f.mu.Unlock()
}

func (f *fakeSurface) showCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shows
}

func (f *fakeSurface) Hide(layer int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible[layer] = false
	return nil
}

func (f *fakeSurface) Seek(layer int, offset float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos[layer] = offset
	return nil
}

func (f *fakeSurface) Pause(int) error { return nil }

func (f *fakeSurface) VideoPosition(layer int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos[layer], nil
}

func (f *fakeSurface) SetTransform(string, bool, bool) error { return nil }

func (f *fakeSurface) ShowSplash(url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.splash = url
	return nil
}

func (f *fakeSurface) Events() <-chan renderer.Event { return f.events }

// fakeFetcher serves a fixed playlist or an error.
type fakeFetcher struct {
	mu    sync.Mutex
	pl    *client.Playlist
	err   error
	calls int
}

func (f *fakeFetcher) FetchPlaylist(context.Context, string) (*client.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.pl, nil
}

func (f *fakeFetcher) set(pl *client.Playlist, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pl, f.err = pl, err
}

// fakeCache treats everything as a hit unless told otherwise and counts
// download passes. A non-nil block channel stalls passes until it closes,
// standing in for a slow video download.
type fakeCache struct {
	mu    sync.Mutex
	syncs int
	miss  map[string]bool
	block chan struct{}
}

func (f *fakeCache) SyncPlaylist(_ context.Context, items []cache.Item) cache.Result {
	f.mu.Lock()
	f.syncs++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return cache.Result{Hits: len(items)}
}

func (f *fakeCache) setMiss(filename string, missing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.miss == nil {
		f.miss = map[string]bool{}
	}
	f.miss[filename] = missing
}

func (f *fakeCache) Lookup(filename string) (cache.Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.miss[filename] {
		return cache.Entry{}, false
	}
	return cache.Entry{LocalPath: "/cache/content/" + filename}, true
}

func (f *fakeCache) syncCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncs
}

type fakeMediaURLs struct{}

func (fakeMediaURLs) ContentURL(filename string) string {
	return "http://127.0.0.1:9999/content/" + filename
}

// fixedClock is a settable clock shared with the engine under test.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

var anchor = time.Date(2026, time.August, 24, 12, 0, 0, 0, time.UTC)

func anchorSec() float64 {
	return float64(anchor.UnixNano()) / float64(time.Second)
}

// testPlaylist is two items, image 10s then video 20s, origin at anchor.
func testPlaylist() *client.Playlist {
	vd := 20.0
	return &client.Playlist{
		Items: []client.PlaylistItem{
			{ID: 1, Name: "a", Filename: "a.jpg", FileType: "image", DisplayDuration: 10,
				URL: "/uploads/content/a.jpg", Order: 0},
			{ID: 2, Name: "b", Filename: "b.mp4", FileType: "video", DisplayDuration: 10, Duration: &vd,
				URL: "/uploads/content/b.mp4", Order: 1},
		},
		Device:     client.DeviceView{Orientation: "landscape"},
		Transition: client.Transition{Type: "cut"},
		Sync:       &client.Sync{StartTime: anchorSec(), TotalDuration: 30},
	}
}

type testRig struct {
	engine  *Engine
	surface *fakeSurface
	fetcher *fakeFetcher
	cache   *fakeCache
	clock   *fixedClock
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		surface: newFakeSurface(),
		fetcher: &fakeFetcher{},
		cache:   &fakeCache{},
		clock:   &fixedClock{t: anchor},
	}
	rig.fetcher.set(testPlaylist(), nil)
	rig.engine = New(Deps{
		Fetcher:    rig.fetcher,
		Cache:      rig.cache,
		Media:      fakeMediaURLs{},
		Surface:    rig.surface,
		AccessCode: "123456",
		SplashURL:  "http://127.0.0.1:9999/splash/logo.png",
		RemoteURL:  func(p string) string { return "http://server" + p },
		Now:        rig.clock.now,
	}, nil)
	t.Cleanup(rig.engine.syncs.Wait)
	return rig
}

// waitSyncs blocks until every in-flight download pass has finished, so
// tests can assert on sync counts without racing the background goroutine.
func (r *testRig) waitSyncs() {
	r.engine.syncs.Wait()
}

func TestInitialRefreshShowsClockDeterminedItem(t *testing.T) {
	rig := newTestRig(t)
	// 15s into the cycle: item 0 ran 0-10, so item 1 is on screen at 5s in.
	rig.clock.set(anchor.Add(15 * time.Second))
	rig.engine.refresh(context.Background())

	assert.Equal(t, 1, rig.engine.ctrl.CurrentIndex())
	pos, err := rig.engine.ctrl.VideoPosition()
	require.NoError(t, err)
	assert.InDelta(t, 5.0, pos, 0.01, "video enters mid-item at its timeline offset")
}

func TestFrameStepFiresBoundaryAndRecomputesFromClock(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.refresh(context.Background())
	require.Equal(t, 0, rig.engine.ctrl.CurrentIndex())

	// The loop was asleep well past the boundary; firing must land on the
	// item the clock says, not "the next one".
	rig.clock.set(anchor.Add(31 * time.Second)) // wrapped: 1s into item 0 again
	rig.engine.frameStep()
	assert.Equal(t, 0, rig.engine.ctrl.CurrentIndex())

	rig.clock.set(anchor.Add(42 * time.Second)) // 12s in cycle, item 1
	rig.engine.frameStep()
	assert.Equal(t, 1, rig.engine.ctrl.CurrentIndex())
}

func TestDriftCheckResyncsWrongItem(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.refresh(context.Background())
	require.Equal(t, 0, rig.engine.ctrl.CurrentIndex())

	// Clock says item 1 but no boundary fired (e.g. a suspended process).
	rig.clock.set(anchor.Add(15 * time.Second))
	rig.engine.secondStep()
	assert.Equal(t, 1, rig.engine.ctrl.CurrentIndex())
}

func TestDriftCheckSeeksSkewedVideo(t *testing.T) {
	rig := newTestRig(t)
	rig.clock.set(anchor.Add(15 * time.Second))
	rig.engine.refresh(context.Background())
	require.Equal(t, 1, rig.engine.ctrl.CurrentIndex())

	// Decoder stalled: playback is 2s behind the timeline.
	require.NoError(t, rig.engine.ctrl.Seek(3.0))
	rig.engine.secondStep()
	pos, err := rig.engine.ctrl.VideoPosition()
	require.NoError(t, err)
	assert.InDelta(t, 5.0, pos, 0.01)
}

func TestSmallVideoSkewIsLeftAlone(t *testing.T) {
	rig := newTestRig(t)
	rig.clock.set(anchor.Add(15 * time.Second))
	rig.engine.refresh(context.Background())

	require.NoError(t, rig.engine.ctrl.Seek(5.03))
	rig.engine.secondStep()
	pos, err := rig.engine.ctrl.VideoPosition()
	require.NoError(t, err)
	assert.Equal(t, 5.03, pos, "sub-tolerance skew must not trigger a seek")
}

func TestOfflineKeepsCyclingLastPlaylist(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.refresh(context.Background())
	require.Equal(t, 0, rig.engine.ctrl.CurrentIndex())

	rig.fetcher.set(nil, errors.New("connection refused"))
	rig.engine.refresh(context.Background())

	rig.clock.set(anchor.Add(15 * time.Second))
	rig.engine.frameStep()
	assert.Equal(t, 1, rig.engine.ctrl.CurrentIndex(), "playback continues offline")
	assert.True(t, rig.engine.offline)

	// Next successful poll clears the flag without a rebuild and kicks a
	// catch-up download pass for anything that failed while offline.
	rig.waitSyncs()
	syncs := rig.cache.syncCount()
	shows := rig.surface.showCount()
	rig.fetcher.set(testPlaylist(), nil)
	rig.engine.refresh(context.Background())
	assert.False(t, rig.engine.offline)
	assert.Equal(t, shows, rig.surface.showCount(), "no rebuild on reconnect")
	rig.waitSyncs()
	assert.Equal(t, syncs+1, rig.cache.syncCount())
}

func TestOriginChangeForcesFullResync(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.refresh(context.Background())
	rig.waitSyncs()
	syncs := rig.cache.syncCount()

	// Same items, new anchor 5s later: position shifts back into item 0.
	rig.clock.set(anchor.Add(12 * time.Second))
	pl := testPlaylist()
	pl.Sync.StartTime = anchorSec() + 5
	rig.fetcher.set(pl, nil)
	rig.engine.refresh(context.Background())

	rig.waitSyncs()
	assert.Equal(t, syncs+1, rig.cache.syncCount(), "origin change rebuilds")
	assert.Equal(t, 0, rig.engine.ctrl.CurrentIndex(), "7s into the re-anchored cycle is item 0")
}

func TestCompositionChangeForcesFullResync(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.refresh(context.Background())
	rig.waitSyncs()
	syncs := rig.cache.syncCount()

	pl := testPlaylist()
	pl.Items = pl.Items[:1]
	rig.fetcher.set(pl, nil)
	rig.engine.refresh(context.Background())
	rig.waitSyncs()
	assert.Equal(t, syncs+1, rig.cache.syncCount())
	assert.Len(t, rig.engine.media, 1)
}

func TestTransformOnlyChangeSkipsRebuild(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.refresh(context.Background())
	showing := rig.engine.ctrl.CurrentIndex()
	shows := rig.surface.showCount()

	pl := testPlaylist()
	pl.Device.Orientation = "portrait"
	rig.fetcher.set(pl, nil)
	rig.engine.refresh(context.Background())

	assert.Equal(t, shows, rig.surface.showCount(), "orientation change must not restart playback")
	assert.Equal(t, showing, rig.engine.ctrl.CurrentIndex())
}

func TestEmptyPlaylistFallsBackToSplash(t *testing.T) {
	rig := newTestRig(t)
	rig.fetcher.set(&client.Playlist{Device: client.DeviceView{Orientation: "landscape"}}, nil)
	rig.engine.refresh(context.Background())

	rig.surface.mu.Lock()
	splash := rig.surface.splash
	rig.surface.mu.Unlock()
	assert.Equal(t, "http://127.0.0.1:9999/splash/logo.png", splash)
}

func TestCacheMissPlaysFromServer(t *testing.T) {
	rig := newTestRig(t)
	rig.cache.miss = map[string]bool{"b.mp4": true}
	rig.engine.refresh(context.Background())

	require.Len(t, rig.engine.media, 2)
	assert.Equal(t, "http://127.0.0.1:9999/content/a.jpg", rig.engine.media[0].URL)
	assert.Equal(t, "http://server/uploads/content/b.mp4", rig.engine.media[1].URL)
}

func TestSlowDownloadDoesNotBlockPlayback(t *testing.T) {
	rig := newTestRig(t)
	rig.cache.setMiss("b.mp4", true)
	block := make(chan struct{})
	rig.cache.block = block

	done := make(chan struct{})
	go func() {
		rig.engine.refresh(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresh blocked on the download pass")
	}
	assert.Equal(t, 0, rig.engine.ctrl.CurrentIndex())
	assert.Equal(t, "http://server/uploads/content/b.mp4", rig.engine.media[1].URL,
		"missing item plays from the server while it downloads")

	// Boundaries keep firing while the download crawls.
	rig.clock.set(anchor.Add(15 * time.Second))
	rig.engine.frameStep()
	assert.Equal(t, 1, rig.engine.ctrl.CurrentIndex())

	close(block)
	rig.waitSyncs()
}

func TestCachedContentSwitchesToLoopbackAfterDownload(t *testing.T) {
	rig := newTestRig(t)
	rig.cache.setMiss("b.mp4", true)
	rig.engine.refresh(context.Background())
	rig.waitSyncs()
	require.Equal(t, "http://server/uploads/content/b.mp4", rig.engine.media[1].URL)

	// The download landed; the run loop hears the pass finish and
	// re-resolves every item.
	rig.cache.setMiss("b.mp4", false)
	select {
	case <-rig.engine.syncDone:
	case <-time.After(time.Second):
		t.Fatal("download pass never signalled completion")
	}
	rig.engine.refreshMediaURLs()
	assert.Equal(t, "http://127.0.0.1:9999/content/b.mp4", rig.engine.media[1].URL)
}

func TestUnchangedPlaylistStillRetriesDownloads(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.refresh(context.Background())
	rig.waitSyncs()
	syncs := rig.cache.syncCount()

	rig.engine.refresh(context.Background())
	rig.waitSyncs()
	assert.Equal(t, syncs+1, rig.cache.syncCount(),
		"every successful poll kicks a download pass so earlier failures get retried")
}

func TestDisabledDeviceStopsPlayback(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.refresh(context.Background())
	require.Equal(t, 0, rig.engine.ctrl.CurrentIndex())

	rig.fetcher.set(nil, fmt.Errorf("playlist: %w", client.ErrDeviceDisabled))
	rig.engine.refresh(context.Background())

	assert.True(t, rig.engine.tl.Empty(), "rejection drops the timeline")
	assert.Nil(t, rig.engine.playlist)
	assert.False(t, rig.engine.offline, "a rejection is not an outage")
	rig.surface.mu.Lock()
	splash := rig.surface.splash
	rig.surface.mu.Unlock()
	assert.Equal(t, "http://127.0.0.1:9999/splash/logo.png", splash)
}

func TestDroppedRegistrationStopsPlayback(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.refresh(context.Background())
	require.False(t, rig.engine.tl.Empty())

	rig.fetcher.set(nil, fmt.Errorf("playlist: %w", client.ErrUnknownCode))
	rig.engine.refresh(context.Background())
	assert.True(t, rig.engine.tl.Empty())
	assert.Nil(t, rig.engine.playlist)
}

func TestFailedShowBacksOffBeforeRetry(t *testing.T) {
	rig := newTestRig(t)
	rig.surface.setShowErr(errors.New("surface detached"))
	rig.engine.refresh(context.Background())

	shows := rig.surface.showCount()
	require.Positive(t, shows)
	// Frame ticks inside the backoff window must not hammer the surface.
	rig.engine.frameStep()
	rig.engine.frameStep()
	assert.Equal(t, shows, rig.surface.showCount())

	rig.surface.setShowErr(nil)
	rig.clock.set(anchor.Add(1100 * time.Millisecond))
	rig.engine.frameStep()
	assert.Equal(t, 0, rig.engine.ctrl.CurrentIndex(), "recovers once the re-armed deadline passes")
	assert.Greater(t, rig.surface.showCount(), shows)
}

func TestRunStopsCleanly(t *testing.T) {
	rig := newTestRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rig.engine.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("engine did not stop on cancel")
	}
}
