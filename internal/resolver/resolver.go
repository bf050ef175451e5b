// Package resolver selects the active schedule for a device at a wall-clock
// instant and materializes the resulting playlist. It is a pure function over
// the stored data: it performs no writes and no I/O, so handlers may call it
// concurrently without locking.
package resolver

import (
	"sort"
	"time"

	"github.com/kioskworks/signage/internal/model"
	"github.com/kioskworks/signage/internal/timeline"
)

// Check records, for one schedule, why it did or did not fire. The rows are
// part of the player-facing JSON contract so operators can answer "why didn't
// my schedule fire?" from the debug overlay.
type Check struct {
	Name      string `json:"name"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Days      string `json:"days"`
	IsActive  bool   `json:"is_active"`
	DayMatch  bool   `json:"day_match"`
	TimeMatch bool   `json:"time_match"`
	Selected  bool   `json:"selected"`
}

// Debug is the diagnostic surface returned alongside every playlist.
type Debug struct {
	CurrentTime         string  `json:"current_time"`
	CurrentDay          string  `json:"current_day"`
	HasScheduleGroup    bool    `json:"has_schedule_group"`
	ScheduleGroupActive bool    `json:"schedule_group_active"`
	TotalSchedules      int     `json:"total_schedules"`
	TotalContent        int     `json:"total_content"`
	Checks              []Check `json:"schedule_check_results"`
	FallbackMode        bool    `json:"fallback_mode,omitempty"`
}

// Result is the resolver output for one device at one instant.
type Result struct {
	Active   *model.Schedule
	Playlist []model.ContentItem
	Debug    Debug
}

// Resolve evaluates the device's bound group at now. A nil or inactive group
// short-circuits before schedule enumeration. When no schedule matches, the
// playlist is empty and FallbackMode flags that content existed but nothing
// fired; the resolver never promotes unscheduled content to "play anyway".
func Resolve(group *model.ScheduleGroup, schedules []model.Schedule, items []model.ContentItem, now time.Time) Result {
	dow := model.Weekday(now)
	minute := now.Hour()*60 + now.Minute()

	res := Result{
		Debug: Debug{
			CurrentTime: now.Format("15:04:05"),
			CurrentDay:  string(rune('0' + dow)),
			Checks:      []Check{},
		},
	}

	if group == nil {
		return res
	}
	res.Debug.HasScheduleGroup = true
	res.Debug.ScheduleGroupActive = group.Active
	if !group.Active {
		return res
	}

	res.Debug.TotalSchedules = len(schedules)
	res.Debug.TotalContent = len(items)

	var active *model.Schedule
	winner := -1
	for i := range schedules {
		s := schedules[i]
		check := Check{
			Name:     s.Name,
			Start:    s.StartTime,
			End:      s.EndTime,
			Days:     s.DaysOfWeek,
			IsActive: s.Active,
			DayMatch: model.DayMatches(s.DaysOfWeek, dow),
		}
		if s.Active && check.DayMatch {
			start, errStart := model.ParseTimeOfDay(s.StartTime)
			end, errEnd := model.ParseTimeOfDay(s.EndTime)
			if errStart == nil && errEnd == nil {
				check.TimeMatch = model.InWindow(minute, start, end)
			}
		}
		if s.Active && check.DayMatch && check.TimeMatch {
			// Highest priority wins; ties break to the smallest id so the
			// selection is deterministic across requests and restarts.
			if active == nil ||
				s.Priority > active.Priority ||
				(s.Priority == active.Priority && s.ID < active.ID) {
				active = &schedules[i]
				winner = len(res.Debug.Checks)
			}
		}
		res.Debug.Checks = append(res.Debug.Checks, check)
	}
	if winner >= 0 {
		res.Debug.Checks[winner].Selected = true
	}

	activeItems := make([]model.ContentItem, 0, len(items))
	for _, it := range items {
		if it.Active {
			activeItems = append(activeItems, it)
		}
	}
	sort.SliceStable(activeItems, func(i, j int) bool {
		if activeItems[i].Order != activeItems[j].Order {
			return activeItems[i].Order < activeItems[j].Order
		}
		return activeItems[i].ID < activeItems[j].ID
	})

	if active != nil {
		res.Active = active
		res.Playlist = activeItems
	} else if len(activeItems) > 0 {
		res.Debug.FallbackMode = true
	}
	return res
}

// ActiveDurations maps a playlist onto (id, effective duration) pairs, the
// input to both the composition hash and timeline construction.
func ActiveDurations(playlist []model.ContentItem) []timeline.ItemDuration {
	out := make([]timeline.ItemDuration, 0, len(playlist))
	for _, it := range playlist {
		out = append(out, timeline.ItemDuration{ID: it.ID, Duration: it.EffectiveDuration()})
	}
	return out
}
