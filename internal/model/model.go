// Package model defines the entities shared between the control server's
// store, the HTTP API, and the player.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FileType distinguishes the two supported content kinds.
type FileType string

const (
	FileTypeImage FileType = "image"
	FileTypeVideo FileType = "video"
)

// Orientation of the physical display.
type Orientation string

const (
	OrientationLandscape Orientation = "landscape"
	OrientationPortrait  Orientation = "portrait"
)

// BackgroundMode selects how the splash screen background is rendered.
type BackgroundMode string

const (
	BackgroundSolid     BackgroundMode = "solid"
	BackgroundModeImage BackgroundMode = "image"
	BackgroundSlideshow BackgroundMode = "slideshow"
	BackgroundVideo     BackgroundMode = "video"
)

// LogoPosition places the splash logo vertically.
type LogoPosition string

const (
	LogoTop    LogoPosition = "top"
	LogoCenter LogoPosition = "center"
	LogoBottom LogoPosition = "bottom"
)

// TransitionType is the item boundary style for a schedule group.
type TransitionType string

const (
	TransitionCut      TransitionType = "cut"
	TransitionDissolve TransitionType = "dissolve"
)

// ScheduleGroup bundles content and time-window rules; it is the unit of
// binding to a device.
type ScheduleGroup struct {
	ID                 int64
	Name               string
	Description        string
	Color              string
	Active             bool
	TransitionType     TransitionType
	TransitionDuration float64 // seconds, dissolve only
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Schedule is a time-of-day window within a group. Start and End are "HH:MM"
// strings; windows where Start > End wrap midnight.
type Schedule struct {
	ID         int64
	GroupID    int64
	Name       string
	StartTime  string
	EndTime    string
	DaysOfWeek string // digits '0'..'6' over Monday..Sunday, membership by inclusion
	Priority   int
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ContentItem is one uploaded media file inside a group. Filename is the
// immutable UUID-based name under uploads/content/.
type ContentItem struct {
	ID              int64
	GroupID         int64
	Name            string
	Filename        string
	FileType        FileType
	MimeType        string
	FileSize        int64
	Duration        *float64 // intrinsic duration, videos only, if known
	DisplayDuration float64  // seconds to display, images (and video fallback)
	Width           *int
	Height          *int
	Order           int
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EffectiveDuration is the item's contribution to the cycle: the intrinsic
// duration for videos when known, otherwise the display duration.
func (c ContentItem) EffectiveDuration() float64 {
	if c.FileType == FileTypeVideo && c.Duration != nil && *c.Duration > 0 {
		return *c.Duration
	}
	return c.DisplayDuration
}

// Device is one enrolled (or enrollable) display.
type Device struct {
	ID           int64
	Name         string
	AccessCode   string // exactly six decimal digits, leading zeros preserved
	Description  string
	Location     string
	IPAddress    string
	LastSeen     *time.Time
	Online       bool
	Active       bool
	Registered   bool
	ScreenWidth  *int // unknown until the renderer reports real values
	ScreenHeight *int
	Orientation  Orientation
	FlipH        bool
	FlipV        bool
	GroupID      *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DefaultDisplay is the singleton splash-screen configuration.
type DefaultDisplay struct {
	ID                      int64
	LogoFilename            string
	LogoScale               float64 // (0,1]
	LogoPosition            LogoPosition
	BackgroundMode          BackgroundMode
	BackgroundColor         string
	BackgroundVideoFilename string
	SlideshowDuration       float64
	SlideshowTransition     string
	Backgrounds             []BackgroundImage
}

// BackgroundImage is one ordered splash background.
type BackgroundImage struct {
	ID       int64
	Filename string
	Order    int
	Active   bool
}

// SyncOrigin is the per-group playback anchor: all devices bound to the group
// derive their cycle position from the same origin.
type SyncOrigin struct {
	GroupID         int64
	Origin          float64 // seconds since epoch
	CycleDuration   float64 // seconds
	CompositionHash string
}

// SyncLogEntry records a player-reported cache sync operation.
type SyncLogEntry struct {
	ID        int64
	DeviceID  int64
	Action    string
	Status    string
	Message   string
	CreatedAt time.Time
}

// Weekday maps t's weekday onto the day-mask encoding 0=Monday .. 6=Sunday.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// DayMatches reports whether dow (0=Monday..6=Sunday) is in the mask.
// An empty mask never matches.
func DayMatches(mask string, dow int) bool {
	if dow < 0 || dow > 6 {
		return false
	}
	return strings.ContainsRune(mask, rune('0'+dow))
}

// ValidDayMask reports whether mask consists only of digits '0'..'6'.
func ValidDayMask(mask string) bool {
	for _, r := range mask {
		if r < '0' || r > '6' {
			return false
		}
	}
	return true
}

// ParseTimeOfDay parses an "HH:MM" string into minutes since midnight.
func ParseTimeOfDay(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// InWindow reports whether the minute-of-day t falls inside [start, end],
// inclusive on both ends. Windows with start > end wrap midnight.
func InWindow(t, start, end int) bool {
	if start <= end {
		return start <= t && t <= end
	}
	return t >= start || t <= end
}

// ValidAccessCode reports whether code is exactly six decimal digits.
func ValidAccessCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
