package api

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kioskworks/signage/internal/bus"
	"github.com/kioskworks/signage/internal/log"
	"github.com/kioskworks/signage/internal/metrics"
	"github.com/kioskworks/signage/internal/model"
	"github.com/kioskworks/signage/internal/store"
)

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "signaged",
		"version": s.version(),
		"ip":      outboundIP(),
		"port":    s.cfg.AdvertisedPort,
	})
}

func (s *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"time": float64(s.now().UnixNano()) / float64(time.Second),
	})
}

func (s *Server) handleRegisterRateLimited(w http.ResponseWriter, r *http.Request) {
	metrics.IncRegisterAttempt("rate_limited")
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, "too many registration attempts")
}

// handleRegister consumes an access code and binds the device. Binding is
// idempotent: posting an already-consumed code succeeds again, so a player
// that lost its reply can safely retry.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api")
	if err := r.ParseForm(); err != nil {
		metrics.IncRegisterAttempt("invalid_code")
		writeError(w, http.StatusBadRequest, "malformed form body")
		return
	}
	code := r.PostFormValue("access_code")
	if !model.ValidAccessCode(code) {
		metrics.IncRegisterAttempt("invalid_code")
		writeError(w, http.StatusBadRequest, "access code must be six decimal digits")
		return
	}

	device, err := s.store.GetDeviceByAccessCode(r.Context(), code)
	if err != nil {
		metrics.IncRegisterAttempt("unknown_code")
		writeStoreError(w, err)
		return
	}
	if !device.Active {
		metrics.IncRegisterAttempt("disabled")
		writeError(w, http.StatusForbidden, "device is disabled")
		return
	}
	if err := s.store.MarkRegistered(r.Context(), device.ID); err != nil {
		writeStoreError(w, err)
		return
	}
	metrics.IncRegisterAttempt("success")
	logger.Info().
		Str("event", "enrol.register").
		Int64("device_id", device.ID).
		Str("device_name", device.Name).
		Msg("device registered")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"device_name": device.Name,
		"device_id":   device.ID,
	})
}

// deviceForCode loads the device for a player request, enforcing the
// 404/403 taxonomy. A nil return means the response was already written.
func (s *Server) deviceForCode(w http.ResponseWriter, r *http.Request) *model.Device {
	code := chi.URLParam(r, "accessCode")
	device, err := s.store.GetDeviceByAccessCode(r.Context(), code)
	if err != nil {
		writeStoreError(w, err)
		return nil
	}
	if !device.Active {
		writeError(w, http.StatusForbidden, "device is disabled")
		return nil
	}
	return device
}

func (s *Server) handlePlayerConfig(w http.ResponseWriter, r *http.Request) {
	device := s.deviceForCode(w, r)
	if device == nil {
		return
	}
	_ = s.store.TouchDevice(r.Context(), device.ID)

	dd, err := s.store.GetDefaultDisplay(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device":          deviceDTO(device),
		"default_display": defaultDisplayDTO(dd),
		"server_time":     float64(s.now().UnixNano()) / float64(time.Second),
	})
}

func (s *Server) handlePlayerPlaylist(w http.ResponseWriter, r *http.Request) {
	ctx := log.ContextWithDeviceCode(r.Context(), chi.URLParam(r, "accessCode"))
	logger := log.WithComponentFromContext(ctx, "api")

	device := s.deviceForCode(w, r)
	if device == nil {
		metrics.IncPlaylistRequest("error")
		return
	}
	_ = s.store.TouchDevice(ctx, device.ID)

	rp, err := s.store.ResolvePlaylist(ctx, device, s.now())
	if err != nil {
		metrics.IncPlaylistRequest("error")
		logger.Error().Err(err).Str("event", "playlist.resolve_failed").Msg("playlist resolution failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	switch {
	case rp.Result.Active != nil:
		metrics.IncPlaylistRequest("active")
	case rp.Result.Debug.FallbackMode:
		metrics.IncPlaylistRequest("fallback")
	default:
		metrics.IncPlaylistRequest("empty")
	}

	writeJSON(w, http.StatusOK, playlistResponse(rp))
}

// playlistResponse shapes the resolver output into the player JSON contract.
func playlistResponse(rp *store.ResolvedPlaylist) map[string]any {
	items := make([]map[string]any, 0, len(rp.Result.Playlist))
	for _, it := range rp.Result.Playlist {
		entry := map[string]any{
			"id":               it.ID,
			"name":             it.Name,
			"filename":         it.Filename,
			"file_type":        it.FileType,
			"file_size":        it.FileSize,
			"display_duration": it.DisplayDuration,
			"url":              "/uploads/content/" + it.Filename,
			"order":            it.Order,
		}
		if it.Duration != nil {
			entry["duration"] = *it.Duration
		}
		items = append(items, entry)
	}

	var active any
	if sc := rp.Result.Active; sc != nil {
		active = map[string]any{
			"id":       sc.ID,
			"name":     sc.Name,
			"start":    sc.StartTime,
			"end":      sc.EndTime,
			"days":     sc.DaysOfWeek,
			"priority": sc.Priority,
		}
	}

	transition := map[string]any{"type": model.TransitionCut, "duration": 0.0}
	if rp.Group != nil {
		transition["type"] = rp.Group.TransitionType
		if rp.Group.TransitionType == model.TransitionDissolve {
			transition["duration"] = rp.Group.TransitionDuration
		}
	}

	var sync any
	if rp.Origin != nil {
		sync = map[string]any{
			"start_time":     rp.Origin.Origin,
			"total_duration": rp.Origin.CycleDuration,
		}
	}

	return map[string]any{
		"playlist":        items,
		"active_schedule": active,
		"device": map[string]any{
			"orientation":     rp.Device.Orientation,
			"flip_horizontal": rp.Device.FlipH,
			"flip_vertical":   rp.Device.FlipV,
		},
		"transition": transition,
		"sync":       sync,
		"debug":      rp.Result.Debug,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Players connect from loopback or LAN kiosks, not browsers with
	// meaningful origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	device := s.deviceForCode(w, r)
	if device == nil {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	bus.NewClient(s.hub, conn, device.ID, remoteIP(r)).Start()
}

// outboundIP reports the address this host uses to reach the network. The
// UDP dial never actually sends a packet.
func outboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer func() { _ = conn.Close() }()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
