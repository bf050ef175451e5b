package api

import (
	"net/http"

	"github.com/kioskworks/signage/internal/bus"
	"github.com/kioskworks/signage/internal/log"
	"github.com/kioskworks/signage/internal/model"
	"github.com/kioskworks/signage/internal/store"
)

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(devices))
	for i := range devices {
		out = append(out, deviceDTO(&devices[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

type deviceRequest struct {
	Name        *string            `json:"name"`
	Description *string            `json:"description"`
	Location    *string            `json:"location"`
	Active      *bool              `json:"is_active"`
	Orientation *model.Orientation `json:"orientation"`
	FlipH       *bool              `json:"flip_horizontal"`
	FlipV       *bool              `json:"flip_vertical"`
	GroupID     **int64            `json:"schedule_group_id"`
}

func validOrientation(o model.Orientation) bool {
	return o == model.OrientationLandscape || o == model.OrientationPortrait
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Name == nil || *req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Orientation != nil && !validOrientation(*req.Orientation) {
		writeError(w, http.StatusBadRequest, "orientation must be landscape or portrait")
		return
	}

	d := &model.Device{Name: *req.Name}
	if req.Description != nil {
		d.Description = *req.Description
	}
	if req.Location != nil {
		d.Location = *req.Location
	}
	if req.Orientation != nil {
		d.Orientation = *req.Orientation
	}
	if err := s.store.CreateDevice(r.Context(), d); err != nil {
		writeStoreError(w, err)
		return
	}
	lg := log.WithComponentFromContext(r.Context(), "api")
	lg.Info().
		Str("event", "device.created").
		Int64("device_id", d.ID).
		Msg("device created")
	writeJSON(w, http.StatusCreated, deviceDTO(d))
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	d, err := s.store.GetDevice(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deviceDTO(d))
}

func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req deviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Orientation != nil && !validOrientation(*req.Orientation) {
		writeError(w, http.StatusBadRequest, "orientation must be landscape or portrait")
		return
	}
	if req.GroupID != nil && *req.GroupID != nil {
		if _, err := s.store.GetGroup(r.Context(), **req.GroupID); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	d, err := s.store.UpdateDevice(r.Context(), id, store.DevicePatch{
		Name:        req.Name,
		Description: req.Description,
		Location:    req.Location,
		Active:      req.Active,
		Orientation: req.Orientation,
		FlipH:       req.FlipH,
		FlipV:       req.FlipV,
		GroupID:     req.GroupID,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.hub.Broadcast(bus.EventConfigUpdated, map[string]any{"device_id": d.ID})
	writeJSON(w, http.StatusOK, deviceDTO(d))
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.store.DeleteDevice(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleRegenerateCode rotates a device's access code. The old code stops
// resolving immediately; a player still polling with it gets 404 and must
// re-enrol.
func (s *Server) handleRegenerateCode(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	code, err := s.store.RegenerateAccessCode(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	lg := log.WithComponentFromContext(r.Context(), "api")
	lg.Info().
		Str("event", "device.code_rotated").
		Int64("device_id", id).
		Msg("access code regenerated")
	writeJSON(w, http.StatusOK, map[string]any{"access_code": code})
}

func (s *Server) handleListSyncLogs(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if _, err := s.store.GetDevice(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	entries, err := s.store.ListSyncLogs(r.Context(), id, 50)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"id":         e.ID,
			"device_id":  e.DeviceID,
			"action":     e.Action,
			"status":     e.Status,
			"message":    e.Message,
			"created_at": timeDTO(e.CreatedAt),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
