package api

import (
	"net/http"
	"time"

	"github.com/kioskworks/signage/internal/model"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version(),
		"time":    float64(s.now().UnixNano()) / float64(time.Second),
	})
}

// handleStats aggregates fleet counters for the operator dashboard.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListGroups(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	devices, err := s.store.ListDevices(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	activeGroups := 0
	for _, g := range groups {
		if g.Active {
			activeGroups++
		}
	}
	online, registered := 0, 0
	totalContent, totalImages, totalVideos := 0, 0, 0
	for _, d := range devices {
		if d.Online {
			online++
		}
		if d.Registered {
			registered++
		}
	}
	for _, g := range groups {
		items, err := s.store.ListContent(r.Context(), g.ID)
		if err != nil {
			continue
		}
		totalContent += len(items)
		for _, it := range items {
			switch it.FileType {
			case model.FileTypeImage:
				totalImages++
			case model.FileTypeVideo:
				totalVideos++
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"schedule_groups": map[string]int{
			"total":  len(groups),
			"active": activeGroups,
		},
		"devices": map[string]int{
			"total":      len(devices),
			"online":     online,
			"registered": registered,
			"connected":  s.hub.ClientCount(),
		},
		"content": map[string]int{
			"total":  totalContent,
			"images": totalImages,
			"videos": totalVideos,
		},
	})
}
