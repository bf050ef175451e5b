// Command signage-player runs one kiosk: it enrols against the control
// server, keeps the local media cache in sync, serves cached media to the
// rendering surface over loopback, and drives playback on the shared
// timeline.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/kioskworks/signage/internal/bus"
	appcfg "github.com/kioskworks/signage/internal/config"
	"github.com/kioskworks/signage/internal/log"
	"github.com/kioskworks/signage/internal/player/bridge"
	"github.com/kioskworks/signage/internal/player/cache"
	"github.com/kioskworks/signage/internal/player/client"
	"github.com/kioskworks/signage/internal/player/config"
	"github.com/kioskworks/signage/internal/player/engine"
	"github.com/kioskworks/signage/internal/player/mediaserver"
	"github.com/kioskworks/signage/internal/version"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "print version and exit")
		serverURL   = flag.String("server", "", "control server URL (overrides saved config)")
		accessCode  = flag.String("access-code", "", "six-digit enrolment code (overrides saved config)")
		dataDir     = flag.String("data-dir", appcfg.ParseString("SIGNAGE_PLAYER_DATA_DIR", defaultDataDir()), "player state directory")
		mediaPort   = flag.Int("media-port", appcfg.ParseInt("SIGNAGE_PLAYER_MEDIA_PORT", 0), "loopback media server port (0 = auto)")
		bridgePort  = flag.Int("bridge-port", appcfg.ParseInt("SIGNAGE_PLAYER_BRIDGE_PORT", 8791), "loopback surface bridge port")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("signage-player %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	log.Configure(log.Config{
		Level:   appcfg.ParseString("SIGNAGE_LOG_LEVEL", "info"),
		Service: "signage-player",
		Version: version.Version,
	})
	logger := log.WithComponent("player")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatal().Err(err).Str("dir", *dataDir).Msg("could not create data dir")
	}

	cfgMgr := config.NewManager(*dataDir)
	if err := cfgMgr.Load(); err != nil {
		logger.Warn().Err(err).Msg("config unreadable, starting with defaults")
	}
	cfg := cfgMgr.Current()
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *accessCode != "" {
		cfg.AccessCode = *accessCode
	}
	if cfg.ServerURL == "" {
		logger.Fatal().Msg("no control server configured, pass -server or edit config.json")
	}

	api := client.New(cfg.ServerURL)

	// Enrolment. Retrying an already-consumed code succeeds, so this is safe
	// on every boot.
	if cfg.AccessCode == "" {
		logger.Fatal().Msg("device is not enrolled, pass -access-code with the code shown in the admin UI")
	}
	reg, err := api.Register(ctx, cfg.AccessCode)
	switch {
	case err == nil:
		logger.Info().
			Str("event", "player.registered").
			Str("device_name", reg.DeviceName).
			Int64("device_id", reg.DeviceID).
			Msg("enrolled with control server")
		if err := cfgMgr.Save(cfg); err != nil {
			logger.Warn().Err(err).Msg("could not persist config")
		}
	case errors.Is(err, client.ErrUnknownCode), errors.Is(err, client.ErrInvalidCode):
		logger.Fatal().Err(err).Msg("access code rejected, re-enrol the device")
	case errors.Is(err, client.ErrDeviceDisabled):
		logger.Fatal().Err(err).Msg("device is disabled on the server")
	default:
		// Offline boot: play from cache, register on the next reconnect.
		logger.Warn().Err(err).Str("event", "player.offline_boot").Msg("server unreachable, starting from cache")
	}

	if _, err := api.ClockOffset(ctx); err != nil {
		logger.Debug().Err(err).Msg("clock probe failed")
	}

	cacheMgr, err := cache.NewManager(filepath.Join(*dataDir, "cache"), nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not initialize media cache")
	}

	media := mediaserver.New(cacheMgr.ContentDir(), cacheMgr.SplashDir())
	pushes := make(chan bus.Message, 16)
	reporter := &streamReporter{}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return media.Start(gctx, *mediaPort)
	})

	keys := make(chan rune, 8)
	surface := bridge.New(keys)
	g.Go(func() error {
		return surface.Start(gctx, *bridgePort)
	})

	// URL helpers need the media server's bound port.
	select {
	case <-media.Ready():
	case <-gctx.Done():
	}

	splashURL := syncSplash(ctx, api, cacheMgr, media, cfg.AccessCode)

	eng := engine.New(engine.Deps{
		Fetcher:      api,
		Cache:        cacheMgr,
		Media:        media,
		Surface:      surface,
		Reporter:     reporter,
		AccessCode:   cfg.AccessCode,
		SplashURL:    splashURL,
		RemoteURL:    api.AbsoluteURL,
		PollInterval: appcfg.ParseDuration("SIGNAGE_PLAYER_POLL_INTERVAL", 0),
	}, pushes)

	g.Go(func() error {
		return eng.Run(gctx)
	})

	// UI key presses feed the run loop.
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case k := <-keys:
				select {
				case eng.Keys() <- k:
				default:
				}
			}
		}
	})

	// Event stream: reconnect forever, pump pushes into the engine, and give
	// the reporter a live stream for heartbeats and sync reports.
	g.Go(func() error {
		defer close(pushes)
		api.ReconnectLoop(gctx, cfg.AccessCode, func(stream *client.EventStream) {
			reporter.attach(stream)
			defer reporter.detach()
			for {
				select {
				case <-gctx.Done():
					return
				case msg, ok := <-stream.Events():
					if !ok {
						return
					}
					select {
					case pushes <- msg:
					default:
					}
				}
			}
		})
		return nil
	})

	// Config rewrites by provisioning tooling restart the process; systemd
	// brings it back with the new settings.
	g.Go(func() error {
		stopWatch := make(chan struct{})
		defer close(stopWatch)
		changes, err := cfgMgr.Watch(stopWatch)
		if err != nil {
			logger.Warn().Err(err).Msg("config watch unavailable")
			<-gctx.Done()
			return nil
		}
		for {
			select {
			case <-gctx.Done():
				return nil
			case next, ok := <-changes:
				if !ok {
					return nil
				}
				if next.ServerURL != cfg.ServerURL || next.AccessCode != cfg.AccessCode {
					logger.Info().Str("event", "player.config_changed").Msg("identity changed on disk, exiting for restart")
					return errRestart
				}
			}
		}
	})

	logger.Info().
		Str("event", "player.start").
		Str("server", cfg.ServerURL).
		Str("version", version.Version).
		Msg("player running")

	if err := g.Wait(); err != nil && !errors.Is(err, errRestart) {
		logger.Error().Err(err).Msg("player exited with error")
		os.Exit(1)
	}
}

var errRestart = errors.New("restart requested")

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".signage-player")
	}
	return "signage-player-data"
}

// syncSplash pulls the splash assets named in the device config into the
// cache and returns the loopback URL of the logo, or empty when there is
// nothing to show.
func syncSplash(ctx context.Context, api *client.Client, cacheMgr *cache.Manager, media *mediaserver.Server, accessCode string) string {
	cfg, err := api.FetchConfig(ctx, accessCode)
	if err != nil {
		return ""
	}
	var dd struct {
		LogoURL            *string `json:"logo_url"`
		BackgroundVideoURL *string `json:"background_video_url"`
		Backgrounds        []struct {
			URL string `json:"url"`
		} `json:"backgrounds"`
	}
	if err := json.Unmarshal(cfg.DefaultDisplay, &dd); err != nil {
		return ""
	}

	var items []cache.Item
	add := func(u string) string {
		name := filepath.Base(u)
		items = append(items, cache.Item{Filename: name, URL: api.AbsoluteURL(u)})
		return name
	}
	var logoName string
	if dd.LogoURL != nil && *dd.LogoURL != "" {
		logoName = add(*dd.LogoURL)
	}
	if dd.BackgroundVideoURL != nil && *dd.BackgroundVideoURL != "" {
		add(*dd.BackgroundVideoURL)
	}
	for _, bg := range dd.Backgrounds {
		if bg.URL != "" {
			add(bg.URL)
		}
	}
	if len(items) == 0 {
		return ""
	}
	cacheMgr.SyncSplash(ctx, items)
	if logoName == "" {
		return ""
	}
	return media.SplashURL(logoName)
}

// streamReporter forwards engine reports to whichever event stream is
// currently connected; reports while disconnected are dropped.
type streamReporter struct {
	mu     sync.Mutex
	stream *client.EventStream
}

func (r *streamReporter) attach(s *client.EventStream) {
	r.mu.Lock()
	r.stream = s
	r.mu.Unlock()
}

func (r *streamReporter) detach() {
	r.mu.Lock()
	r.stream = nil
	r.mu.Unlock()
}

func (r *streamReporter) SendHeartbeat(width, height *int) {
	r.mu.Lock()
	s := r.stream
	r.mu.Unlock()
	if s != nil {
		s.SendHeartbeat(width, height)
	}
}

func (r *streamReporter) ReportSyncComplete(status, message string) {
	r.mu.Lock()
	s := r.stream
	r.mu.Unlock()
	if s != nil {
		s.ReportSyncComplete(status, message)
	}
}
