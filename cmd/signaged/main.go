// Command signaged runs the digital-signage control server: the operator API,
// the player API, the uploads file server, and the websocket event bus.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kioskworks/signage/internal/api"
	"github.com/kioskworks/signage/internal/bus"
	"github.com/kioskworks/signage/internal/config"
	"github.com/kioskworks/signage/internal/daemon"
	"github.com/kioskworks/signage/internal/log"
	"github.com/kioskworks/signage/internal/store"
	"github.com/kioskworks/signage/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("signaged %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	log.Configure(log.Config{
		Level:   config.ParseString("SIGNAGE_LOG_LEVEL", "info"),
		Service: "signaged",
		Version: version.Version,
	})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.ParseServerConfig()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("could not create data dir")
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("db", cfg.DBPath).Msg("could not open store")
	}

	hub := bus.NewHub(api.StorePresence{Store: st})

	srv, err := api.New(cfg, st, hub)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not build API server")
	}

	mgr, err := daemon.NewManager(cfg, daemon.Deps{
		APIHandler:     srv.Router(),
		MetricsHandler: promhttp.Handler(),
		Logger:         log.Base(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("could not build daemon manager")
	}
	mgr.RegisterShutdownHook("store", func(context.Context) error {
		return st.Close()
	})
	mgr.RegisterShutdownHook("event-bus", func(context.Context) error {
		hub.Close()
		return nil
	})

	logger.Info().
		Str("event", "daemon.start").
		Str("version", version.Version).
		Str("data_dir", cfg.DataDir).
		Msg("signaged starting")

	if err := mgr.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("daemon exited with error")
		os.Exit(1)
	}
}
