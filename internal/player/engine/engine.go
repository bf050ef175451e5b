// Package engine is the player's run loop. One goroutine owns all playback
// state and consumes every input — frame ticks, the 1Hz drift check, the
// playlist poll, server pushes, key presses, config changes — so item
// boundaries, resyncs and teardown never race each other.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kioskworks/signage/internal/bus"
	"github.com/kioskworks/signage/internal/log"
	"github.com/kioskworks/signage/internal/player/cache"
	"github.com/kioskworks/signage/internal/player/client"
	"github.com/kioskworks/signage/internal/player/renderer"
	"github.com/kioskworks/signage/internal/timeline"
)

const (
	frameInterval       = 16 * time.Millisecond
	defaultPollInterval = 10 * time.Second
	// Heartbeats ride the second tick.
	heartbeatEvery = 30

	// A video more than this far from its timeline slot gets a corrective
	// seek; anything tighter fights normal decoder jitter.
	videoSkewTolerance = 0.05 // seconds

	// After a failed show the deadline re-arms this far out instead of
	// retrying every frame tick.
	showRetryDelay = 1.0 // seconds
)

// PlaylistFetcher is the engine's view of the server API.
type PlaylistFetcher interface {
	FetchPlaylist(ctx context.Context, accessCode string) (*client.Playlist, error)
}

// ContentCache is the engine's view of the media cache.
type ContentCache interface {
	SyncPlaylist(ctx context.Context, items []cache.Item) cache.Result
	Lookup(filename string) (cache.Entry, bool)
}

// MediaURLs maps cached filenames to loopback URLs.
type MediaURLs interface {
	ContentURL(filename string) string
}

// Reporter sends player state back over the event stream. Optional; nil
// means the player runs without a live stream.
type Reporter interface {
	SendHeartbeat(width, height *int)
	ReportSyncComplete(status, message string)
}

// Deps wires the engine's collaborators.
type Deps struct {
	Fetcher    PlaylistFetcher
	Cache      ContentCache
	Media      MediaURLs
	Surface    renderer.Surface
	Reporter   Reporter
	AccessCode string
	SplashURL  string
	// RemoteURL resolves a server-relative media path for cache-miss
	// playback straight from the server.
	RemoteURL func(path string) string
	// Now is the clock; nil means time.Now.
	Now func() time.Time
	// PollInterval overrides the 10s playlist poll; zero keeps the default.
	PollInterval time.Duration
	// Screen dimensions reported with heartbeats, nil when unknown.
	ScreenWidth  *int
	ScreenHeight *int
}

// Engine owns playback state. Not safe for concurrent use; everything runs
// on the Run goroutine.
type Engine struct {
	deps   Deps
	ctrl   *renderer.Controller
	logger zerolog.Logger

	pushes <-chan bus.Message
	keys   chan rune

	// syncDone wakes the run loop when a background cache pass finishes;
	// syncs is waited on during teardown.
	syncDone chan struct{}
	syncs    sync.WaitGroup

	playlist     *client.Playlist
	tl           timeline.Timeline
	media        []renderer.Media
	nextDeadline float64
	haveDeadline bool
	splashShown  bool
	debug        bool
	offline      bool
	seconds      int
}

// New builds an engine. pushes may be nil for an offline player.
func New(deps Deps, pushes <-chan bus.Message) *Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.RemoteURL == nil {
		deps.RemoteURL = func(path string) string { return path }
	}
	if deps.PollInterval <= 0 {
		deps.PollInterval = defaultPollInterval
	}
	return &Engine{
		deps:     deps,
		ctrl:     renderer.NewController(deps.Surface),
		logger:   log.WithComponent("player.engine"),
		pushes:   pushes,
		keys:     make(chan rune, 8),
		syncDone: make(chan struct{}, 1),
	}
}

// Keys is where the shell delivers user key presses: r resync, s setup,
// d debug overlay.
func (e *Engine) Keys() chan<- rune { return e.keys }

// Run drives playback until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.refresh(ctx)

	frame := time.NewTicker(frameInterval)
	defer frame.Stop()
	second := time.NewTicker(time.Second)
	defer second.Stop()
	poll := time.NewTicker(e.deps.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			e.ctrl.Stop()
			e.syncs.Wait()
			return nil
		case <-e.syncDone:
			e.refreshMediaURLs()
		case <-frame.C:
			e.frameStep()
		case <-second.C:
			e.secondStep()
		case <-poll.C:
			e.refresh(ctx)
		case msg, ok := <-e.pushes:
			if !ok {
				e.pushes = nil
				continue
			}
			e.handlePush(ctx, msg)
		case key := <-e.keys:
			e.handleKey(ctx, key)
		case ev := <-e.deps.Surface.Events():
			// "ended" is a secondary trigger: the deadline math normally
			// fires first, but a stalled decoder can make the media end
			// early and this keeps the screen moving.
			if ev.Type == renderer.EventMediaEnded {
				e.showCurrent()
			}
		}
	}
}

// nowSec is the wall clock in Unix seconds, the unit the timeline runs in.
func (e *Engine) nowSec() float64 {
	return float64(e.deps.Now().UnixNano()) / float64(time.Second)
}

// frameStep fires the item boundary when its deadline passes. The target is
// recomputed from the clock at fire time, not carried over from when the
// deadline was scheduled, so a delayed wakeup lands on the right item.
func (e *Engine) frameStep() {
	if e.tl.Empty() {
		e.showSplash()
		return
	}
	if !e.haveDeadline {
		e.showCurrent()
		return
	}
	if e.nowSec()+timeline.DeadlineSlack >= e.nextDeadline {
		e.showCurrent()
	}
}

// secondStep is the drift check plus heartbeat cadence.
func (e *Engine) secondStep() {
	e.seconds++
	if e.deps.Reporter != nil && e.seconds%heartbeatEvery == 0 {
		e.deps.Reporter.SendHeartbeat(e.deps.ScreenWidth, e.deps.ScreenHeight)
	}
	if e.tl.Empty() {
		return
	}
	pos, ok := e.tl.PositionAt(e.nowSec())
	if !ok {
		return
	}
	if e.ctrl.CurrentIndex() != pos.Index {
		e.logger.Warn().
			Str("event", "engine.drift_resync").
			Int("showing", e.ctrl.CurrentIndex()).
			Int("expected", pos.Index).
			Msg("wrong item on screen, resyncing")
		e.showCurrent()
		return
	}
	if e.media[pos.Index].FileType == "video" {
		actual, err := e.ctrl.VideoPosition()
		if err != nil {
			return
		}
		skew := actual - pos.InItem
		if skew > videoSkewTolerance || skew < -videoSkewTolerance {
			e.logger.Debug().
				Str("event", "engine.video_seek").
				Float64("skew", skew).
				Msg("correcting video position")
			_ = e.ctrl.Seek(pos.InItem)
		}
	}
}

// showCurrent puts the clock-determined item on screen and schedules the
// next deadline.
func (e *Engine) showCurrent() {
	now := e.nowSec()
	pos, ok := e.tl.PositionAt(now)
	if !ok {
		e.showSplash()
		return
	}
	offset := 0.0
	if e.media[pos.Index].FileType == "video" {
		offset = pos.InItem
	}
	if err := e.ctrl.ShowIndex(pos.Index, offset); err != nil {
		e.logger.Error().Err(err).Str("event", "engine.show_failed").Int("index", pos.Index).Msg("could not show item")
		// The old deadline is already past; without a fresh one every frame
		// tick would retry. Back off briefly and force the resync then.
		e.nextDeadline = now + showRetryDelay
		e.haveDeadline = true
		return
	}
	e.splashShown = false
	if deadline, ok := e.tl.NextDeadline(now); ok {
		e.nextDeadline = deadline
		e.haveDeadline = true
	}
	// Stage the following item so the boundary is seamless.
	if n := len(e.media); n > 1 {
		_ = e.ctrl.Preload((pos.Index + 1) % n)
	}
}

func (e *Engine) showSplash() {
	if e.splashShown || e.deps.SplashURL == "" {
		return
	}
	if err := e.ctrl.ShowSplash(e.deps.SplashURL); err == nil {
		e.splashShown = true
		e.haveDeadline = false
	}
}

func (e *Engine) handlePush(ctx context.Context, msg bus.Message) {
	switch msg.Type {
	case bus.EventContentUpdated, bus.EventScheduleUpdated,
		bus.EventConfigUpdated, bus.EventDefaultDisplayUpdated:
		e.logger.Info().Str("event", "engine.server_push").Str("type", msg.Type).Msg("refreshing after push")
		e.refresh(ctx)
	}
}

func (e *Engine) handleKey(ctx context.Context, key rune) {
	switch key {
	case 'r', 'R':
		e.logger.Info().Str("event", "engine.manual_resync").Msg("manual resync requested")
		e.refresh(ctx)
		e.showCurrent()
	case 'd', 'D':
		e.debug = !e.debug
		e.logger.Info().Str("event", "engine.debug_toggle").Bool("debug", e.debug).Msg("debug overlay toggled")
	case 's', 'S':
		e.logger.Info().Str("event", "engine.setup_requested").Msg("leaving playback for setup")
		e.teardown()
	}
}
