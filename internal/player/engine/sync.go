package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/kioskworks/signage/internal/player/cache"
	"github.com/kioskworks/signage/internal/player/client"
	"github.com/kioskworks/signage/internal/player/renderer"
	"github.com/kioskworks/signage/internal/timeline"
)

// refresh polls the server and reconciles. A network failure keeps the
// current timeline running: an offline player keeps cycling its cached
// content and stays in sync with its peers because everyone anchors on the
// same origin. A 403 or 404 is not a network failure — the device was
// disabled or its registration dropped, so playback stops instead.
func (e *Engine) refresh(ctx context.Context) {
	pl, err := e.deps.Fetcher.FetchPlaylist(ctx, e.deps.AccessCode)
	if err != nil {
		if errors.Is(err, client.ErrDeviceDisabled) || errors.Is(err, client.ErrUnknownCode) {
			e.logger.Warn().Err(err).Str("event", "engine.unenrolled").Msg("server rejected access code, stopping playback")
			e.teardown()
			return
		}
		if !e.offline {
			e.logger.Warn().Err(err).Str("event", "engine.offline").Msg("server unreachable, continuing on last playlist")
			e.offline = true
		}
		return
	}
	if e.offline {
		e.logger.Info().Str("event", "engine.online").Msg("server reachable again")
		e.offline = false
	}
	e.reconcile(ctx, pl)
}

// teardown drops the timeline and returns the screen to the splash. Used
// when the server rejects the device and when the operator requests setup.
func (e *Engine) teardown() {
	e.ctrl.Stop()
	e.playlist = nil
	e.tl = timeline.Timeline{}
	e.media = nil
	e.haveDeadline = false
	e.splashShown = false
	e.showSplash()
}

// reconcile classifies what changed between polls. Origin or composition
// changes need a full rebuild and resync; a transform change repositions the
// surface without touching playback. An unchanged playlist still kicks the
// downloader so earlier failed downloads get retried.
func (e *Engine) reconcile(ctx context.Context, pl *client.Playlist) {
	old := e.playlist
	e.playlist = pl

	if old == nil || old.Device != pl.Device {
		_ = e.ctrl.ApplyTransform(pl.Device.Orientation, pl.Device.FlipHorizontal, pl.Device.FlipVertical)
	}

	if old != nil && sameOrigin(old, pl) && sameComposition(old, pl) {
		if old.Transition != pl.Transition {
			e.ctrl.SetPlaylist(e.media, renderer.Transition{
				Type:     pl.Transition.Type,
				Duration: pl.Transition.Duration,
			})
			e.showCurrent()
		}
		e.startSync(ctx, pl)
		return
	}
	e.rebuild(ctx, pl)
}

// startSync downloads playlist content in the background. Playback never
// waits on it: items resolve to server URLs until the run loop hears the
// pass finished and switches hits to the loopback server. The cache
// serializes passes internally, so overlapping kicks just queue up.
func (e *Engine) startSync(ctx context.Context, pl *client.Playlist) {
	if len(pl.Items) == 0 {
		return
	}
	items := make([]cache.Item, 0, len(pl.Items))
	for _, it := range pl.Items {
		items = append(items, cache.Item{
			Filename: it.Filename,
			Size:     it.FileSize,
			URL:      e.deps.RemoteURL(it.URL),
		})
	}
	e.syncs.Add(1)
	go func() {
		defer e.syncs.Done()
		res := e.deps.Cache.SyncPlaylist(ctx, items)
		if e.deps.Reporter != nil {
			status, msg := "success", ""
			if res.Failed > 0 {
				status = "partial"
				msg = fmt.Sprintf("%d of %d downloads failed", res.Failed, len(items))
			}
			e.deps.Reporter.ReportSyncComplete(status, msg)
		}
		select {
		case e.syncDone <- struct{}{}:
		default:
		}
	}()
}

// refreshMediaURLs re-resolves item URLs after a download pass. Items that
// became cache hits switch from the server URL to the loopback media server;
// whatever is on screen keeps its source until the item next comes around.
func (e *Engine) refreshMediaURLs() {
	if e.playlist == nil || len(e.media) == 0 {
		return
	}
	changed := false
	i := 0
	for _, it := range e.playlist.Items {
		if it.EffectiveDuration() <= 0 {
			continue
		}
		if i >= len(e.media) {
			break
		}
		url := e.deps.RemoteURL(it.URL)
		if _, ok := e.deps.Cache.Lookup(it.Filename); ok {
			url = e.deps.Media.ContentURL(it.Filename)
		}
		if e.media[i].URL != url {
			e.media[i].URL = url
			changed = true
		}
		i++
	}
	if !changed {
		return
	}
	e.logger.Debug().Str("event", "engine.media_urls_updated").Msg("switching to freshly cached content")
	e.ctrl.SetPlaylist(e.media, renderer.Transition{
		Type:     e.playlist.Transition.Type,
		Duration: e.playlist.Transition.Duration,
	})
}

// rebuild constructs the timeline, hands the renderer its media list, puts
// the clock-determined item on screen, and kicks the downloader. Content not
// yet cached plays straight from the server until the pass completes.
func (e *Engine) rebuild(ctx context.Context, pl *client.Playlist) {
	var (
		media []renderer.Media
		durs  []timeline.ItemDuration
	)
	for _, it := range pl.Items {
		d := it.EffectiveDuration()
		if d <= 0 {
			continue
		}
		url := e.deps.RemoteURL(it.URL)
		if _, ok := e.deps.Cache.Lookup(it.Filename); ok {
			url = e.deps.Media.ContentURL(it.Filename)
		}
		media = append(media, renderer.Media{URL: url, FileType: it.FileType, Duration: d})
		durs = append(durs, timeline.ItemDuration{ID: it.ID, Duration: d})
	}

	if len(durs) == 0 {
		e.tl = timeline.Timeline{}
		e.media = nil
		e.haveDeadline = false
		e.ctrl.SetPlaylist(nil, renderer.Transition{})
		e.showSplash()
		return
	}

	// Server-minted origin when a schedule is active; otherwise (fallback
	// content) anchor locally. An unsynced fallback loop is fine, the fleet
	// converges again when a schedule takes over.
	origin := e.nowSec()
	if pl.Sync != nil {
		origin = pl.Sync.StartTime
	}
	tl, err := timeline.New(origin, durs)
	if err != nil {
		e.logger.Error().Err(err).Str("event", "engine.timeline_invalid").Msg("rejecting playlist")
		return
	}

	e.tl = tl
	e.media = media
	e.haveDeadline = false
	e.ctrl.SetPlaylist(media, renderer.Transition{
		Type:     pl.Transition.Type,
		Duration: pl.Transition.Duration,
	})
	e.logger.Info().
		Str("event", "engine.rebuild").
		Int("items", len(media)).
		Float64("cycle", tl.Cycle).
		Bool("synced", pl.Sync != nil).
		Msg("playlist rebuilt")
	e.showCurrent()
	e.startSync(ctx, pl)
}

// sameOrigin reports whether the shared timeline anchor is unchanged.
func sameOrigin(a, b *client.Playlist) bool {
	if (a.Sync == nil) != (b.Sync == nil) {
		return false
	}
	if a.Sync == nil {
		return true
	}
	return a.Sync.StartTime == b.Sync.StartTime && a.Sync.TotalDuration == b.Sync.TotalDuration
}

// sameComposition reports whether the ordered (id, effective duration)
// sequence is unchanged, mirroring the server's re-mint trigger.
func sameComposition(a, b *client.Playlist) bool {
	da := make([]timeline.ItemDuration, 0, len(a.Items))
	for _, it := range a.Items {
		da = append(da, timeline.ItemDuration{ID: it.ID, Duration: it.EffectiveDuration()})
	}
	db := make([]timeline.ItemDuration, 0, len(b.Items))
	for _, it := range b.Items {
		db = append(db, timeline.ItemDuration{ID: it.ID, Duration: it.EffectiveDuration()})
	}
	return timeline.CompositionHash(da) == timeline.CompositionHash(db)
}
