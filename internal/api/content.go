package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/kioskworks/signage/internal/bus"
	"github.com/kioskworks/signage/internal/log"
	"github.com/kioskworks/signage/internal/metrics"
	"github.com/kioskworks/signage/internal/model"
	"github.com/kioskworks/signage/internal/store"
)

// maxUploadBytes caps a single media upload at 2 GiB.
const maxUploadBytes = 2 << 30

// fileTypeFromMime classifies an upload by its MIME prefix.
func fileTypeFromMime(mime string) (model.FileType, bool) {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return model.FileTypeImage, true
	case strings.HasPrefix(mime, "video/"):
		return model.FileTypeVideo, true
	default:
		return "", false
	}
}

// saveUpload writes a multipart file under dir with a fresh UUID filename,
// preserving the original extension. The write is atomic: a partially
// transferred file never becomes visible under its final name.
func saveUpload(dir string, header *multipart.FileHeader, src multipart.File) (filename string, size int64, err error) {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	filename = uuid.NewString() + ext

	pending, err := renameio.TempFile("", filepath.Join(dir, filename))
	if err != nil {
		return "", 0, fmt.Errorf("stage upload: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	// Stream straight to the pending file; a multi-gigabyte video must never
	// sit in memory.
	size, err = io.Copy(pending, io.LimitReader(src, maxUploadBytes+1))
	if err != nil {
		return "", 0, fmt.Errorf("read upload: %w", err)
	}
	if size > maxUploadBytes {
		return "", 0, fmt.Errorf("upload exceeds %d bytes", maxUploadBytes)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", 0, fmt.Errorf("write upload: %w", err)
	}
	return filename, size, nil
}

func (s *Server) removeContentFiles(filenames []string) {
	for _, name := range filenames {
		_ = os.Remove(filepath.Join(s.cfg.DataDir, UploadsContent, name))
	}
}

func (s *Server) handleUploadContent(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api")
	groupID, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if _, err := s.store.GetGroup(r.Context(), groupID); err != nil {
		writeStoreError(w, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer func() { _ = file.Close() }()

	mimeType := header.Header.Get("Content-Type")
	fileType, ok := fileTypeFromMime(mimeType)
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported file type: only image/* and video/* uploads are accepted")
		return
	}

	filename, size, err := saveUpload(filepath.Join(s.cfg.DataDir, UploadsContent), header, file)
	if err != nil {
		logger.Error().Err(err).Str("event", "upload.failed").Msg("content upload failed")
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}

	name := r.FormValue("name")
	if name == "" {
		name = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}
	displayDuration := 10.0
	if v := r.FormValue("display_duration"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			displayDuration = parsed
		}
	}

	item := &model.ContentItem{
		GroupID:         groupID,
		Name:            name,
		Filename:        filename,
		FileType:        fileType,
		MimeType:        mimeType,
		FileSize:        size,
		DisplayDuration: displayDuration,
		Active:          true,
	}
	if v := r.FormValue("duration"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			item.Duration = &parsed
		}
	}
	if err := s.store.CreateContent(r.Context(), item); err != nil {
		_ = os.Remove(filepath.Join(s.cfg.DataDir, UploadsContent, filename))
		writeStoreError(w, err)
		return
	}

	metrics.Uploads.WithLabelValues(string(fileType)).Inc()
	metrics.UploadBytes.Add(float64(size))
	logger.Info().
		Str("event", "upload.stored").
		Int64("content_id", item.ID).
		Str("file_type", string(fileType)).
		Int64("bytes", size).
		Msg("content uploaded")

	s.hub.Broadcast(bus.EventContentUpdated, map[string]any{"group_id": groupID})
	writeJSON(w, http.StatusCreated, contentDTO(item))
}

type contentRequest struct {
	Name            *string  `json:"name"`
	DisplayDuration *float64 `json:"display_duration"`
	Duration        *float64 `json:"duration"`
	Order           *int     `json:"order"`
	Active          *bool    `json:"is_active"`
}

func (s *Server) handleUpdateContent(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req contentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.DisplayDuration != nil && *req.DisplayDuration <= 0 {
		writeError(w, http.StatusBadRequest, "display_duration must be positive")
		return
	}
	item, err := s.store.UpdateContent(r.Context(), id, store.ContentPatch{
		Name:            req.Name,
		DisplayDuration: req.DisplayDuration,
		Duration:        req.Duration,
		Order:           req.Order,
		Active:          req.Active,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.hub.Broadcast(bus.EventContentUpdated, map[string]any{"group_id": item.GroupID})
	writeJSON(w, http.StatusOK, contentDTO(item))
}

func (s *Server) handleDeleteContent(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	item, err := s.store.DeleteContent(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.removeContentFiles([]string{item.Filename})
	s.hub.Broadcast(bus.EventContentUpdated, map[string]any{"group_id": item.GroupID})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleReorderContent(w http.ResponseWriter, r *http.Request) {
	groupID, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if _, err := s.store.GetGroup(r.Context(), groupID); err != nil {
		writeStoreError(w, err)
		return
	}
	var req struct {
		ItemIDs []int64 `json:"item_ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.store.ReorderContent(r.Context(), groupID, req.ItemIDs); err != nil {
		writeStoreError(w, err)
		return
	}
	s.hub.Broadcast(bus.EventContentUpdated, map[string]any{"group_id": groupID})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
