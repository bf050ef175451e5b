// Package api provides the control server's HTTP surface: the operator CRUD
// API, the player-facing playlist/config/enrolment endpoints, static uploads,
// and the websocket event stream.
package api

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/kioskworks/signage/internal/bus"
	"github.com/kioskworks/signage/internal/config"
	"github.com/kioskworks/signage/internal/log"
	"github.com/kioskworks/signage/internal/store"
	"github.com/kioskworks/signage/internal/version"
)

// Upload subdirectories under the data dir.
const (
	UploadsContent     = "uploads/content"
	UploadsLogos       = "uploads/logos"
	UploadsBackgrounds = "uploads/backgrounds"
)

// Server is the control server's HTTP API.
type Server struct {
	cfg    config.ServerConfig
	store  *store.Store
	hub    *bus.Hub
	logger zerolog.Logger
	now    func() time.Time
}

// New wires the API server. The hub may be shared with other components that
// publish push events.
func New(cfg config.ServerConfig, st *store.Store, hub *bus.Hub) (*Server, error) {
	for _, dir := range []string{UploadsContent, UploadsLogos, UploadsBackgrounds} {
		if err := os.MkdirAll(filepath.Join(cfg.DataDir, dir), 0o755); err != nil {
			return nil, err
		}
	}
	return &Server{
		cfg:    cfg,
		store:  st,
		hub:    hub,
		logger: log.WithComponent("api"),
		now:    time.Now,
	}, nil
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(requestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)

	// Player-facing surface.
	r.Get("/api/discover", s.handleDiscover)
	r.Get("/api/time", s.handleTime)
	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(
			s.cfg.RegisterRateLimit,
			s.cfg.RegisterRateWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(s.handleRegisterRateLimited),
		))
		r.Post("/api/player/register", s.handleRegister)
	})
	r.Get("/api/player/{accessCode}/config", s.handlePlayerConfig)
	r.Get("/api/player/{accessCode}/playlist", s.handlePlayerPlaylist)
	r.Get("/ws/{accessCode}", s.handleEventStream)

	// Operator surface.
	r.Route("/api/schedule-groups", func(r chi.Router) {
		r.Get("/", s.handleListGroups)
		r.Post("/", s.handleCreateGroup)
		r.Get("/{id}", s.handleGetGroup)
		r.Patch("/{id}", s.handleUpdateGroup)
		r.Delete("/{id}", s.handleDeleteGroup)
		r.Post("/{id}/content", s.handleUploadContent)
		r.Post("/{id}/reorder", s.handleReorderContent)
	})
	r.Route("/api/schedules", func(r chi.Router) {
		r.Post("/", s.handleCreateSchedule)
		r.Patch("/{id}", s.handleUpdateSchedule)
		r.Delete("/{id}", s.handleDeleteSchedule)
	})
	r.Route("/api/content", func(r chi.Router) {
		r.Patch("/{id}", s.handleUpdateContent)
		r.Delete("/{id}", s.handleDeleteContent)
	})
	r.Route("/api/devices", func(r chi.Router) {
		r.Get("/", s.handleListDevices)
		r.Post("/", s.handleCreateDevice)
		r.Get("/{id}", s.handleGetDevice)
		r.Patch("/{id}", s.handleUpdateDevice)
		r.Delete("/{id}", s.handleDeleteDevice)
		r.Post("/{id}/regenerate-code", s.handleRegenerateCode)
		r.Get("/{id}/sync-logs", s.handleListSyncLogs)
	})
	r.Route("/api/default-display", func(r chi.Router) {
		r.Get("/", s.handleGetDefaultDisplay)
		r.Patch("/", s.handleUpdateDefaultDisplay)
		r.Post("/logo", s.handleUploadLogo)
		r.Delete("/logo", s.handleDeleteLogo)
		r.Post("/backgrounds", s.handleUploadBackground)
		r.Delete("/backgrounds/{id}", s.handleDeleteBackground)
		r.Post("/background-video", s.handleUploadBackgroundVideo)
		r.Delete("/background-video", s.handleDeleteBackgroundVideo)
	})
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/health", s.handleHealth)

	r.Handle("/uploads/*", http.StripPrefix("/uploads", s.uploadsFileServer()))

	return r
}

// Version reported on /api/discover and /api/health.
func (s *Server) version() string {
	return version.Version
}
