package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kioskworks/signage/internal/model"
	"github.com/kioskworks/signage/internal/resolver"
)

// ResolvedPlaylist is everything a player needs for one playlist fetch: the
// resolver output plus the group and its playback anchor.
type ResolvedPlaylist struct {
	Device *model.Device
	Group  *model.ScheduleGroup
	Result resolver.Result
	Origin *model.SyncOrigin
}

// ResolvePlaylist runs the full playlist resolution for a device inside one
// transaction: group + schedules + content are read from a single snapshot,
// and the sync-origin reconciliation commits atomically with that snapshot.
// Two devices resolving concurrently therefore always observe the same origin
// for the same composition.
func (s *Store) ResolvePlaylist(ctx context.Context, device *model.Device, now time.Time) (*ResolvedPlaylist, error) {
	out := &ResolvedPlaylist{Device: device}

	if device.GroupID == nil {
		out.Result = resolver.Resolve(nil, nil, nil, now)
		return out, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	group, err := getGroupTx(ctx, tx, *device.GroupID)
	if errors.Is(err, ErrNotFound) {
		// Stale binding; treat as unbound rather than failing the player.
		out.Result = resolver.Resolve(nil, nil, nil, now)
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	out.Group = group

	schedules, err := s.listSchedules(ctx, tx, group.ID)
	if err != nil {
		return nil, err
	}
	items, err := s.listContent(ctx, tx, group.ID)
	if err != nil {
		return nil, err
	}

	out.Result = resolver.Resolve(group, schedules, items, now)

	if out.Result.Active != nil && len(out.Result.Playlist) > 0 {
		durations := resolver.ActiveDurations(out.Result.Playlist)
		origin, err := EnsureSyncOrigin(ctx, tx, group.ID, durations, now)
		if err != nil {
			return nil, err
		}
		out.Origin = origin
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func getGroupTx(ctx context.Context, tx *sql.Tx, id int64) (*model.ScheduleGroup, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM schedule_groups WHERE id = ?`, id)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}
