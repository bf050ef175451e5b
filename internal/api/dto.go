package api

import (
	"time"

	"github.com/kioskworks/signage/internal/model"
)

// DTO shaping keeps the wire contract stable regardless of internal struct
// changes; timestamps go out as RFC3339, absent values as null.

func timeDTO(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullTimeDTO(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeDTO(*t)
}

func groupDTO(g *model.ScheduleGroup) map[string]any {
	return map[string]any{
		"id":                  g.ID,
		"name":                g.Name,
		"description":         g.Description,
		"color":               g.Color,
		"is_active":           g.Active,
		"transition_type":     g.TransitionType,
		"transition_duration": g.TransitionDuration,
		"created_at":          timeDTO(g.CreatedAt),
		"updated_at":          timeDTO(g.UpdatedAt),
	}
}

func scheduleDTO(sc *model.Schedule) map[string]any {
	return map[string]any{
		"id":           sc.ID,
		"group_id":     sc.GroupID,
		"name":         sc.Name,
		"start_time":   sc.StartTime,
		"end_time":     sc.EndTime,
		"days_of_week": sc.DaysOfWeek,
		"priority":     sc.Priority,
		"is_active":    sc.Active,
	}
}

func contentDTO(c *model.ContentItem) map[string]any {
	out := map[string]any{
		"id":               c.ID,
		"group_id":         c.GroupID,
		"name":             c.Name,
		"filename":         c.Filename,
		"file_type":        c.FileType,
		"mime_type":        c.MimeType,
		"file_size":        c.FileSize,
		"display_duration": c.DisplayDuration,
		"order":            c.Order,
		"is_active":        c.Active,
		"url":              "/uploads/content/" + c.Filename,
	}
	if c.Duration != nil {
		out["duration"] = *c.Duration
	}
	if c.Width != nil {
		out["width"] = *c.Width
	}
	if c.Height != nil {
		out["height"] = *c.Height
	}
	return out
}

func deviceDTO(d *model.Device) map[string]any {
	out := map[string]any{
		"id":              d.ID,
		"name":            d.Name,
		"access_code":     d.AccessCode,
		"description":     d.Description,
		"location":        d.Location,
		"ip_address":      d.IPAddress,
		"last_seen":       nullTimeDTO(d.LastSeen),
		"is_online":       d.Online,
		"is_active":       d.Active,
		"is_registered":   d.Registered,
		"orientation":     d.Orientation,
		"flip_horizontal": d.FlipH,
		"flip_vertical":   d.FlipV,
	}
	// Dimensions stay null until the renderer reports real values.
	if d.ScreenWidth != nil {
		out["screen_width"] = *d.ScreenWidth
	} else {
		out["screen_width"] = nil
	}
	if d.ScreenHeight != nil {
		out["screen_height"] = *d.ScreenHeight
	} else {
		out["screen_height"] = nil
	}
	if d.GroupID != nil {
		out["schedule_group_id"] = *d.GroupID
	} else {
		out["schedule_group_id"] = nil
	}
	return out
}

func defaultDisplayDTO(d *model.DefaultDisplay) map[string]any {
	bgs := make([]map[string]any, 0, len(d.Backgrounds))
	for _, bg := range d.Backgrounds {
		bgs = append(bgs, map[string]any{
			"id":        bg.ID,
			"filename":  bg.Filename,
			"url":       "/uploads/backgrounds/" + bg.Filename,
			"order":     bg.Order,
			"is_active": bg.Active,
		})
	}
	out := map[string]any{
		"logo_scale":           d.LogoScale,
		"logo_position":        d.LogoPosition,
		"background_mode":      d.BackgroundMode,
		"background_color":     d.BackgroundColor,
		"slideshow_duration":   d.SlideshowDuration,
		"slideshow_transition": d.SlideshowTransition,
		"backgrounds":          bgs,
	}
	if d.LogoFilename != "" {
		out["logo_url"] = "/uploads/logos/" + d.LogoFilename
	} else {
		out["logo_url"] = nil
	}
	if d.BackgroundVideoFilename != "" {
		out["background_video_url"] = "/uploads/backgrounds/" + d.BackgroundVideoFilename
	} else {
		out["background_video_url"] = nil
	}
	return out
}
