package resolver

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioskworks/signage/internal/model"
)

func activeGroup() *model.ScheduleGroup {
	return &model.ScheduleGroup{ID: 1, Name: "Lobby", Active: true}
}

func schedule(id int64, name, start, end, days string, priority int, active bool) model.Schedule {
	return model.Schedule{
		ID: id, GroupID: 1, Name: name,
		StartTime: start, EndTime: end,
		DaysOfWeek: days, Priority: priority, Active: active,
	}
}

func item(id int64, order int, active bool) model.ContentItem {
	return model.ContentItem{
		ID: id, GroupID: 1, Name: "item", Filename: "f",
		FileType: model.FileTypeImage, DisplayDuration: 10,
		Order: order, Active: active,
	}
}

// at builds a deterministic instant. 2026-08-24 is a Monday (dow 0).
func at(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func TestResolveDeterminism(t *testing.T) {
	schedules := []model.Schedule{
		schedule(1, "morning", "08:00", "12:00", "0123456", 0, true),
		schedule(2, "all-day", "00:00", "23:59", "0123456", 1, true),
	}
	items := []model.ContentItem{item(1, 0, true), item(2, 1, true)}
	now := at(2026, time.August, 24, 10, 30) // Monday

	first := Resolve(activeGroup(), schedules, items, now)
	for i := 0; i < 10; i++ {
		again := Resolve(activeGroup(), schedules, items, now)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("resolver output differs across invocations (-want +got):\n%s", diff)
		}
	}
}

func TestPriorityWins(t *testing.T) {
	// E3: two schedules both match at 10:00; the higher priority is selected
	// and exactly its debug row is marked selected.
	schedules := []model.Schedule{
		schedule(1, "S1", "09:00", "11:00", "0123456", 0, true),
		schedule(2, "S2", "09:00", "11:00", "0123456", 5, true),
	}
	res := Resolve(activeGroup(), schedules, []model.ContentItem{item(1, 0, true)}, at(2026, time.August, 24, 10, 0))

	require.NotNil(t, res.Active)
	assert.Equal(t, int64(2), res.Active.ID)
	require.Len(t, res.Debug.Checks, 2)
	assert.False(t, res.Debug.Checks[0].Selected)
	assert.True(t, res.Debug.Checks[1].Selected)
}

func TestPriorityTieBreaksToSmallestID(t *testing.T) {
	schedules := []model.Schedule{
		schedule(7, "later", "00:00", "23:59", "0123456", 3, true),
		schedule(4, "earlier", "00:00", "23:59", "0123456", 3, true),
	}
	res := Resolve(activeGroup(), schedules, nil, at(2026, time.August, 24, 12, 0))
	require.NotNil(t, res.Active)
	assert.Equal(t, int64(4), res.Active.ID)

	// Same outcome with the slice order reversed.
	reversed := []model.Schedule{schedules[1], schedules[0]}
	res = Resolve(activeGroup(), reversed, nil, at(2026, time.August, 24, 12, 0))
	require.NotNil(t, res.Active)
	assert.Equal(t, int64(4), res.Active.ID)
}

func TestMidnightWrap(t *testing.T) {
	// E2: start=22:00 end=02:00 days=0123456. At 23:30 Tuesday the schedule
	// matches; it also matches at 01:00 and not at 12:00.
	s := schedule(1, "overnight", "22:00", "02:00", "0123456", 0, true)

	cases := []struct {
		hour, minute int
		want         bool
	}{
		{23, 30, true},
		{22, 0, true},
		{2, 0, true},
		{1, 0, true},
		{12, 0, false},
		{21, 59, false},
		{2, 1, false},
	}
	for _, tc := range cases {
		res := Resolve(activeGroup(), []model.Schedule{s}, []model.ContentItem{item(1, 0, true)}, at(2026, time.August, 25, tc.hour, tc.minute))
		if tc.want {
			assert.NotNilf(t, res.Active, "%02d:%02d should match", tc.hour, tc.minute)
		} else {
			assert.Nilf(t, res.Active, "%02d:%02d should not match", tc.hour, tc.minute)
		}
	}
}

func TestDayMaskMembership(t *testing.T) {
	// 2026-08-24 is a Monday (dow 0); 2026-08-29 a Saturday (dow 5).
	weekdaysOnly := schedule(1, "weekdays", "00:00", "23:59", "01234", 0, true)

	res := Resolve(activeGroup(), []model.Schedule{weekdaysOnly}, nil, at(2026, time.August, 24, 10, 0))
	assert.NotNil(t, res.Active)

	res = Resolve(activeGroup(), []model.Schedule{weekdaysOnly}, nil, at(2026, time.August, 29, 10, 0))
	assert.Nil(t, res.Active)
	require.Len(t, res.Debug.Checks, 1)
	assert.False(t, res.Debug.Checks[0].DayMatch)
}

func TestEmptyDayMaskNeverMatches(t *testing.T) {
	s := schedule(1, "never", "00:00", "23:59", "", 0, true)
	for day := 24; day <= 30; day++ {
		res := Resolve(activeGroup(), []model.Schedule{s}, nil, at(2026, time.August, day, 10, 0))
		assert.Nil(t, res.Active)
	}
}

func TestEqualStartAndEndMatchesExactlyThatMinute(t *testing.T) {
	s := schedule(1, "instant", "10:30", "10:30", "0123456", 0, true)

	res := Resolve(activeGroup(), []model.Schedule{s}, nil, at(2026, time.August, 24, 10, 30))
	assert.NotNil(t, res.Active)

	res = Resolve(activeGroup(), []model.Schedule{s}, nil, at(2026, time.August, 24, 10, 31))
	assert.Nil(t, res.Active)
	res = Resolve(activeGroup(), []model.Schedule{s}, nil, at(2026, time.August, 24, 10, 29))
	assert.Nil(t, res.Active)
}

func TestInactiveGroupShortCircuits(t *testing.T) {
	group := &model.ScheduleGroup{ID: 1, Name: "off", Active: false}
	schedules := []model.Schedule{schedule(1, "s", "00:00", "23:59", "0123456", 0, true)}

	res := Resolve(group, schedules, []model.ContentItem{item(1, 0, true)}, at(2026, time.August, 24, 10, 0))
	assert.Nil(t, res.Active)
	assert.Empty(t, res.Playlist)
	assert.True(t, res.Debug.HasScheduleGroup)
	assert.False(t, res.Debug.ScheduleGroupActive)
	assert.Zero(t, res.Debug.TotalSchedules, "schedules are not enumerated for an inactive group")
	assert.Empty(t, res.Debug.Checks)
}

func TestNilGroup(t *testing.T) {
	res := Resolve(nil, nil, nil, at(2026, time.August, 24, 10, 0))
	assert.Nil(t, res.Active)
	assert.Empty(t, res.Playlist)
	assert.False(t, res.Debug.HasScheduleGroup)
}

func TestInactiveScheduleIsReportedButNotSelected(t *testing.T) {
	s := schedule(1, "disabled", "00:00", "23:59", "0123456", 0, false)
	res := Resolve(activeGroup(), []model.Schedule{s}, nil, at(2026, time.August, 24, 10, 0))
	assert.Nil(t, res.Active)
	require.Len(t, res.Debug.Checks, 1)
	assert.False(t, res.Debug.Checks[0].IsActive)
	assert.False(t, res.Debug.Checks[0].Selected)
}

func TestPlaylistOrderingAndActiveFilter(t *testing.T) {
	schedules := []model.Schedule{schedule(1, "always", "00:00", "23:59", "0123456", 0, true)}
	items := []model.ContentItem{
		item(3, 2, true),
		item(1, 0, true),
		item(4, 1, false), // inactive items never appear
		item(2, 1, true),
	}
	res := Resolve(activeGroup(), schedules, items, at(2026, time.August, 24, 10, 0))
	require.NotNil(t, res.Active)
	require.Len(t, res.Playlist, 3)
	assert.Equal(t, int64(1), res.Playlist[0].ID)
	assert.Equal(t, int64(2), res.Playlist[1].ID)
	assert.Equal(t, int64(3), res.Playlist[2].ID)
}

func TestFallbackModeFlag(t *testing.T) {
	// Content exists but no schedule matches: empty playlist, informational
	// flag set, never auto-promoted to playback.
	schedules := []model.Schedule{schedule(1, "night", "01:00", "02:00", "0123456", 0, true)}
	items := []model.ContentItem{item(1, 0, true)}

	res := Resolve(activeGroup(), schedules, items, at(2026, time.August, 24, 12, 0))
	assert.Nil(t, res.Active)
	assert.Empty(t, res.Playlist)
	assert.True(t, res.Debug.FallbackMode)

	// No active content: the flag stays unset.
	res = Resolve(activeGroup(), schedules, []model.ContentItem{item(1, 0, false)}, at(2026, time.August, 24, 12, 0))
	assert.False(t, res.Debug.FallbackMode)
}

func TestActiveDurations(t *testing.T) {
	intrinsic := 20.0
	playlist := []model.ContentItem{
		{ID: 1, FileType: model.FileTypeImage, DisplayDuration: 10},
		{ID: 2, FileType: model.FileTypeVideo, DisplayDuration: 5, Duration: &intrinsic},
		{ID: 3, FileType: model.FileTypeVideo, DisplayDuration: 7}, // unknown intrinsic
	}
	durs := ActiveDurations(playlist)
	require.Len(t, durs, 3)
	assert.Equal(t, 10.0, durs[0].Duration)
	assert.Equal(t, 20.0, durs[1].Duration, "videos use intrinsic duration when known")
	assert.Equal(t, 7.0, durs[2].Duration, "videos fall back to display duration")
}
