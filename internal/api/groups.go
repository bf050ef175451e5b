package api

import (
	"net/http"

	"github.com/kioskworks/signage/internal/bus"
	"github.com/kioskworks/signage/internal/log"
	"github.com/kioskworks/signage/internal/model"
	"github.com/kioskworks/signage/internal/store"
)

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListGroups(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(groups))
	for i := range groups {
		dto := groupDTO(&groups[i])
		if counts, err := s.store.GroupCounts(r.Context(), groups[i].ID); err == nil {
			dto["content_count"] = counts.Content
			dto["schedule_count"] = counts.Schedules
			dto["device_count"] = counts.Devices
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

type groupRequest struct {
	Name               *string               `json:"name"`
	Description        *string               `json:"description"`
	Color              *string               `json:"color"`
	Active             *bool                 `json:"is_active"`
	TransitionType     *model.TransitionType `json:"transition_type"`
	TransitionDuration *float64              `json:"transition_duration"`
}

func validTransition(t model.TransitionType) bool {
	return t == model.TransitionCut || t == model.TransitionDissolve
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Name == nil || *req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.TransitionType != nil && !validTransition(*req.TransitionType) {
		writeError(w, http.StatusBadRequest, "transition_type must be cut or dissolve")
		return
	}

	g := &model.ScheduleGroup{Name: *req.Name, Active: true}
	if req.Description != nil {
		g.Description = *req.Description
	}
	if req.Color != nil {
		g.Color = *req.Color
	}
	if req.Active != nil {
		g.Active = *req.Active
	}
	if req.TransitionType != nil {
		g.TransitionType = *req.TransitionType
	}
	if req.TransitionDuration != nil {
		g.TransitionDuration = *req.TransitionDuration
	}
	if err := s.store.CreateGroup(r.Context(), g); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, groupDTO(g))
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	g, err := s.store.GetGroup(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	dto := groupDTO(g)
	schedules, err := s.store.ListSchedules(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	scs := make([]map[string]any, 0, len(schedules))
	for i := range schedules {
		scs = append(scs, scheduleDTO(&schedules[i]))
	}
	dto["schedules"] = scs

	items, err := s.store.ListContent(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	cts := make([]map[string]any, 0, len(items))
	for i := range items {
		cts = append(cts, contentDTO(&items[i]))
	}
	dto["content_items"] = cts
	writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req groupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.TransitionType != nil && !validTransition(*req.TransitionType) {
		writeError(w, http.StatusBadRequest, "transition_type must be cut or dissolve")
		return
	}
	g, err := s.store.UpdateGroup(r.Context(), id, store.GroupPatch{
		Name:               req.Name,
		Description:        req.Description,
		Color:              req.Color,
		Active:             req.Active,
		TransitionType:     req.TransitionType,
		TransitionDuration: req.TransitionDuration,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.hub.Broadcast(bus.EventScheduleUpdated, map[string]any{"group_id": id})
	writeJSON(w, http.StatusOK, groupDTO(g))
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	filenames, err := s.store.DeleteGroup(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.removeContentFiles(filenames)
	lg := log.WithComponentFromContext(r.Context(), "api")
	lg.Info().
		Str("event", "group.deleted").
		Int64("group_id", id).
		Int("files_removed", len(filenames)).
		Msg("schedule group deleted")
	s.hub.Broadcast(bus.EventScheduleUpdated, map[string]any{"group_id": id})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type scheduleRequest struct {
	GroupID    *int64  `json:"group_id"`
	Name       *string `json:"name"`
	StartTime  *string `json:"start_time"`
	EndTime    *string `json:"end_time"`
	DaysOfWeek *string `json:"days_of_week"`
	Priority   *int    `json:"priority"`
	Active     *bool   `json:"is_active"`
}

func validateScheduleFields(start, end, days *string) string {
	if start != nil {
		if _, err := model.ParseTimeOfDay(*start); err != nil {
			return "start_time must be HH:MM"
		}
	}
	if end != nil {
		if _, err := model.ParseTimeOfDay(*end); err != nil {
			return "end_time must be HH:MM"
		}
	}
	if days != nil && !model.ValidDayMask(*days) {
		return "days_of_week must contain only digits 0-6"
	}
	return ""
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.GroupID == nil || req.Name == nil || req.StartTime == nil || req.EndTime == nil {
		writeError(w, http.StatusBadRequest, "group_id, name, start_time and end_time are required")
		return
	}
	if msg := validateScheduleFields(req.StartTime, req.EndTime, req.DaysOfWeek); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	sc := &model.Schedule{
		GroupID:    *req.GroupID,
		Name:       *req.Name,
		StartTime:  *req.StartTime,
		EndTime:    *req.EndTime,
		DaysOfWeek: "0123456",
		Active:     true,
	}
	if req.DaysOfWeek != nil {
		sc.DaysOfWeek = *req.DaysOfWeek
	}
	if req.Priority != nil {
		sc.Priority = *req.Priority
	}
	if req.Active != nil {
		sc.Active = *req.Active
	}
	if err := s.store.CreateSchedule(r.Context(), sc); err != nil {
		writeStoreError(w, err)
		return
	}
	s.hub.Broadcast(bus.EventScheduleUpdated, map[string]any{"group_id": sc.GroupID})
	writeJSON(w, http.StatusCreated, scheduleDTO(sc))
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if msg := validateScheduleFields(req.StartTime, req.EndTime, req.DaysOfWeek); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	sc, err := s.store.UpdateSchedule(r.Context(), id, store.SchedulePatch{
		Name:       req.Name,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		DaysOfWeek: req.DaysOfWeek,
		Priority:   req.Priority,
		Active:     req.Active,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.hub.Broadcast(bus.EventScheduleUpdated, map[string]any{"group_id": sc.GroupID})
	writeJSON(w, http.StatusOK, scheduleDTO(sc))
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	sc, err := s.store.GetSchedule(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.store.DeleteSchedule(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	s.hub.Broadcast(bus.EventScheduleUpdated, map[string]any{"group_id": sc.GroupID})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
