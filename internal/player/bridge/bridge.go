// Package bridge connects the engine to the rendering surface. The actual
// drawing happens in a browser UI on the kiosk; this package serves it a
// loopback websocket and translates renderer.Surface calls into JSON
// commands, and browser notifications (media ended, key presses) back into
// engine inputs.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kioskworks/signage/internal/log"
	"github.com/kioskworks/signage/internal/player/renderer"
)

// command is one engine-to-browser frame.
type command struct {
	Cmd      string  `json:"cmd"`
	Layer    int     `json:"layer,omitempty"`
	URL      string  `json:"url,omitempty"`
	FileType string  `json:"file_type,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	// Transition fields for show.
	Transition   string  `json:"transition,omitempty"`
	FadeDuration float64 `json:"fade_duration,omitempty"`
	// Seek offset in seconds.
	Offset float64 `json:"offset,omitempty"`
	// Transform fields.
	Orientation string `json:"orientation,omitempty"`
	FlipH       bool   `json:"flip_h,omitempty"`
	FlipV       bool   `json:"flip_v,omitempty"`
	// Request id for query commands.
	ReqID uint64 `json:"req_id,omitempty"`
}

// notice is one browser-to-engine frame.
type notice struct {
	Event string  `json:"event"`
	Layer int     `json:"layer,omitempty"`
	Key   string  `json:"key,omitempty"`
	ReqID uint64  `json:"req_id,omitempty"`
	Value float64 `json:"value,omitempty"`
}

// ErrNoSurface is returned while no browser UI is connected.
var ErrNoSurface = errors.New("no rendering surface connected")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Only the kiosk's own browser connects, over loopback.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Server implements renderer.Surface over a loopback websocket. At most one
// browser connection renders; a new connection replaces the old one so a
// reloaded UI takes over cleanly.
type Server struct {
	logger zerolog.Logger
	events chan renderer.Event
	keys   chan<- rune

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]chan float64
	reqSeq  atomic.Uint64

	addr  string
	ready chan struct{}
}

// New builds a bridge. keys receives UI key presses; may be nil.
func New(keys chan<- rune) *Server {
	return &Server{
		logger:  log.WithComponent("player.bridge"),
		events:  make(chan renderer.Event, 16),
		keys:    keys,
		pending: make(map[uint64]chan float64),
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the listener is bound; Addr is valid from then on.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Start serves the websocket endpoint on loopback until ctx is done.
func (s *Server) Start(ctx context.Context, port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("bind bridge: %w", err)
	}
	s.addr = ln.Addr().String()
	close(s.ready)

	r := chi.NewRouter()
	r.Get("/ws", s.handleWS)

	srv := &http.Server{Handler: r, ReadTimeout: 10 * time.Second}
	s.logger.Info().Str("event", "bridge.start").Str("addr", s.addr).Msg("surface bridge listening")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
			s.conn = nil
		}
		s.mu.Unlock()
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr is the bound loopback address, valid after Start binds.
func (s *Server) Addr() string { return s.addr }

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()
	s.logger.Info().Str("event", "bridge.surface_connected").Msg("rendering surface attached")

	go s.readLoop(conn)
}

func (s *Server) readLoop(conn *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		_ = conn.Close()
		s.logger.Warn().Str("event", "bridge.surface_detached").Msg("rendering surface gone")
	}()

	for {
		var n notice
		if err := conn.ReadJSON(&n); err != nil {
			return
		}
		switch n.Event {
		case "media_ended":
			s.emit(renderer.Event{Type: renderer.EventMediaEnded, Layer: n.Layer})
		case "media_error":
			s.emit(renderer.Event{Type: renderer.EventMediaError, Layer: n.Layer})
		case "key":
			if s.keys != nil && len(n.Key) > 0 {
				select {
				case s.keys <- rune(n.Key[0]):
				default:
				}
			}
		case "position":
			s.mu.Lock()
			ch, ok := s.pending[n.ReqID]
			delete(s.pending, n.ReqID)
			s.mu.Unlock()
			if ok {
				ch <- n.Value
			}
		}
	}
}

func (s *Server) emit(ev renderer.Event) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *Server) write(cmd command) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNoSurface
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Load implements renderer.Surface.
func (s *Server) Load(layer int, media renderer.Media) error {
	return s.write(command{
		Cmd: "load", Layer: layer,
		URL: media.URL, FileType: media.FileType, Duration: media.Duration,
	})
}

// Show implements renderer.Surface.
func (s *Server) Show(layer int, tr renderer.Transition) error {
	return s.write(command{
		Cmd: "show", Layer: layer,
		Transition: tr.Type, FadeDuration: tr.Duration,
	})
}

// Hide implements renderer.Surface.
func (s *Server) Hide(layer int) error {
	return s.write(command{Cmd: "hide", Layer: layer})
}

// Seek implements renderer.Surface.
func (s *Server) Seek(layer int, offset float64) error {
	return s.write(command{Cmd: "seek", Layer: layer, Offset: offset})
}

// Pause implements renderer.Surface.
func (s *Server) Pause(layer int) error {
	return s.write(command{Cmd: "pause", Layer: layer})
}

// VideoPosition implements renderer.Surface with a round trip to the
// browser; a second without an answer counts as a detached surface.
func (s *Server) VideoPosition(layer int) (float64, error) {
	id := s.reqSeq.Add(1)
	ch := make(chan float64, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()

	if err := s.write(command{Cmd: "position", Layer: layer, ReqID: id}); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return 0, err
	}
	select {
	case v := <-ch:
		return v, nil
	case <-time.After(time.Second):
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return 0, ErrNoSurface
	}
}

// SetTransform implements renderer.Surface.
func (s *Server) SetTransform(orientation string, flipH, flipV bool) error {
	return s.write(command{
		Cmd: "transform", Orientation: orientation, FlipH: flipH, FlipV: flipV,
	})
}

// ShowSplash implements renderer.Surface.
func (s *Server) ShowSplash(url string) error {
	return s.write(command{Cmd: "splash", URL: url})
}

// Events implements renderer.Surface.
func (s *Server) Events() <-chan renderer.Event { return s.events }
