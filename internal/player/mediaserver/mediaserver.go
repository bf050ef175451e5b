// Package mediaserver exposes the player's cache over loopback HTTP so the
// rendering surface can load media with plain URLs. Read-only, no caching:
// the cache manager replaces files atomically and the renderer must always
// see the current bytes.
package mediaserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/kioskworks/signage/internal/log"
)

// Server serves cached media on 127.0.0.1.
type Server struct {
	contentDir string
	splashDir  string
	logger     zerolog.Logger

	srv   *http.Server
	addr  string
	ready chan struct{}
}

// New builds a media server over the two cache directories.
func New(contentDir, splashDir string) *Server {
	return &Server{
		contentDir: contentDir,
		splashDir:  splashDir,
		logger:     log.WithComponent("player.mediaserver"),
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the listener is bound; BaseURL and the URL helpers
// are valid from then on.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Start binds a loopback listener and serves until ctx is done. port 0 picks
// a free port.
func (s *Server) Start(ctx context.Context, port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("bind media server: %w", err)
	}
	s.addr = ln.Addr().String()
	close(s.ready)

	r := chi.NewRouter()
	r.Get("/content/{filename}", s.serveFrom(s.contentDir))
	r.Head("/content/{filename}", s.serveFrom(s.contentDir))
	r.Get("/splash/{filename}", s.serveFrom(s.splashDir))
	r.Head("/splash/{filename}", s.serveFrom(s.splashDir))

	s.srv = &http.Server{
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info().Str("event", "mediaserver.start").Str("addr", s.addr).Msg("media server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// BaseURL is the loopback base for building media URLs, e.g.
// http://127.0.0.1:43211.
func (s *Server) BaseURL() string {
	return "http://" + s.addr
}

// ContentURL maps a cached content filename to its loopback URL.
func (s *Server) ContentURL(filename string) string {
	return s.BaseURL() + "/content/" + url.PathEscape(filename)
}

// SplashURL maps a splash asset filename to its loopback URL.
func (s *Server) SplashURL(filename string) string {
	return s.BaseURL() + "/splash/" + url.PathEscape(filename)
}

func (s *Server) serveFrom(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "filename")
		if decoded, err := url.PathUnescape(name); err == nil {
			name = decoded
		}
		if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		// The rendering surface may run on a different origin than loopback.
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, filepath.Join(dir, name))
	}
}
