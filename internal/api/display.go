package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/kioskworks/signage/internal/bus"
	"github.com/kioskworks/signage/internal/model"
	"github.com/kioskworks/signage/internal/store"
)

func (s *Server) handleGetDefaultDisplay(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetDefaultDisplay(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, defaultDisplayDTO(d))
}

type defaultDisplayRequest struct {
	LogoScale           *float64              `json:"logo_scale"`
	LogoPosition        *model.LogoPosition   `json:"logo_position"`
	BackgroundMode      *model.BackgroundMode `json:"background_mode"`
	BackgroundColor     *string               `json:"background_color"`
	SlideshowDuration   *float64              `json:"slideshow_duration"`
	SlideshowTransition *string               `json:"slideshow_transition"`
}

func (s *Server) handleUpdateDefaultDisplay(w http.ResponseWriter, r *http.Request) {
	var req defaultDisplayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.LogoScale != nil && (*req.LogoScale <= 0 || *req.LogoScale > 1) {
		writeError(w, http.StatusBadRequest, "logo_scale must be in (0, 1]")
		return
	}
	if req.LogoPosition != nil {
		switch *req.LogoPosition {
		case model.LogoTop, model.LogoCenter, model.LogoBottom:
		default:
			writeError(w, http.StatusBadRequest, "logo_position must be top, center or bottom")
			return
		}
	}
	if req.BackgroundMode != nil {
		switch *req.BackgroundMode {
		case model.BackgroundSolid, model.BackgroundModeImage, model.BackgroundSlideshow, model.BackgroundVideo:
		default:
			writeError(w, http.StatusBadRequest, "invalid background_mode")
			return
		}
	}
	d, err := s.store.UpdateDefaultDisplay(r.Context(), store.DefaultDisplayPatch{
		LogoScale:           req.LogoScale,
		LogoPosition:        req.LogoPosition,
		BackgroundMode:      req.BackgroundMode,
		BackgroundColor:     req.BackgroundColor,
		SlideshowDuration:   req.SlideshowDuration,
		SlideshowTransition: req.SlideshowTransition,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.hub.Broadcast(bus.EventDefaultDisplayUpdated, nil)
	writeJSON(w, http.StatusOK, defaultDisplayDTO(d))
}

func (s *Server) handleUploadLogo(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer func() { _ = file.Close() }()
	if !strings.HasPrefix(header.Header.Get("Content-Type"), "image/") {
		writeError(w, http.StatusBadRequest, "logo must be an image")
		return
	}
	filename, _, err := saveUpload(filepath.Join(s.cfg.DataDir, UploadsLogos), header, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}

	prev, err := s.store.GetDefaultDisplay(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	d, err := s.store.UpdateDefaultDisplay(r.Context(), store.DefaultDisplayPatch{LogoFilename: &filename})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if prev.LogoFilename != "" {
		_ = os.Remove(filepath.Join(s.cfg.DataDir, UploadsLogos, prev.LogoFilename))
	}
	s.hub.Broadcast(bus.EventDefaultDisplayUpdated, nil)
	writeJSON(w, http.StatusOK, defaultDisplayDTO(d))
}

func (s *Server) handleDeleteLogo(w http.ResponseWriter, r *http.Request) {
	prev, err := s.store.GetDefaultDisplay(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	empty := ""
	d, err := s.store.UpdateDefaultDisplay(r.Context(), store.DefaultDisplayPatch{LogoFilename: &empty})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if prev.LogoFilename != "" {
		_ = os.Remove(filepath.Join(s.cfg.DataDir, UploadsLogos, prev.LogoFilename))
	}
	s.hub.Broadcast(bus.EventDefaultDisplayUpdated, nil)
	writeJSON(w, http.StatusOK, defaultDisplayDTO(d))
}

func (s *Server) handleUploadBackground(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer func() { _ = file.Close() }()
	if !strings.HasPrefix(header.Header.Get("Content-Type"), "image/") {
		writeError(w, http.StatusBadRequest, "background must be an image")
		return
	}
	filename, _, err := saveUpload(filepath.Join(s.cfg.DataDir, UploadsBackgrounds), header, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}
	bg, err := s.store.AddBackgroundImage(r.Context(), filename)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.hub.Broadcast(bus.EventDefaultDisplayUpdated, nil)
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":        bg.ID,
		"filename":  bg.Filename,
		"url":       "/uploads/backgrounds/" + bg.Filename,
		"order":     bg.Order,
		"is_active": bg.Active,
	})
}

func (s *Server) handleDeleteBackground(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	filename, err := s.store.DeleteBackgroundImage(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	_ = os.Remove(filepath.Join(s.cfg.DataDir, UploadsBackgrounds, filename))
	s.hub.Broadcast(bus.EventDefaultDisplayUpdated, nil)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleUploadBackgroundVideo(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer func() { _ = file.Close() }()
	if !strings.HasPrefix(header.Header.Get("Content-Type"), "video/") {
		writeError(w, http.StatusBadRequest, "background video must be a video")
		return
	}
	filename, _, err := saveUpload(filepath.Join(s.cfg.DataDir, UploadsBackgrounds), header, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}

	prev, err := s.store.GetDefaultDisplay(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	d, err := s.store.UpdateDefaultDisplay(r.Context(), store.DefaultDisplayPatch{BackgroundVideoFilename: &filename})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if prev.BackgroundVideoFilename != "" {
		_ = os.Remove(filepath.Join(s.cfg.DataDir, UploadsBackgrounds, prev.BackgroundVideoFilename))
	}
	s.hub.Broadcast(bus.EventDefaultDisplayUpdated, nil)
	writeJSON(w, http.StatusOK, defaultDisplayDTO(d))
}

func (s *Server) handleDeleteBackgroundVideo(w http.ResponseWriter, r *http.Request) {
	prev, err := s.store.GetDefaultDisplay(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	empty := ""
	d, err := s.store.UpdateDefaultDisplay(r.Context(), store.DefaultDisplayPatch{BackgroundVideoFilename: &empty})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if prev.BackgroundVideoFilename != "" {
		_ = os.Remove(filepath.Join(s.cfg.DataDir, UploadsBackgrounds, prev.BackgroundVideoFilename))
	}
	s.hub.Broadcast(bus.EventDefaultDisplayUpdated, nil)
	writeJSON(w, http.StatusOK, defaultDisplayDTO(d))
}
