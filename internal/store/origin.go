package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kioskworks/signage/internal/model"
	"github.com/kioskworks/signage/internal/timeline"
)

// GetSyncOrigin returns the stored playback anchor for a group.
func (s *Store) GetSyncOrigin(ctx context.Context, groupID int64) (*model.SyncOrigin, error) {
	return getSyncOrigin(ctx, s.db, groupID)
}

func getSyncOrigin(ctx context.Context, q querier, groupID int64) (*model.SyncOrigin, error) {
	var o model.SyncOrigin
	err := q.QueryRowContext(ctx, `
		SELECT group_id, origin, cycle_duration, composition_hash
		FROM sync_origins WHERE group_id = ?`, groupID).
		Scan(&o.GroupID, &o.Origin, &o.CycleDuration, &o.CompositionHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// EnsureSyncOrigin reconciles the group's playback anchor with the current
// playlist composition, inside the caller's transaction so every reader of a
// given composition sees the same origin.
//
// The origin is re-minted (set to now) only when the composition hash changes
// or no anchor exists yet. An unchanged composition keeps its origin, which is
// what lets every device land on the same cycle position no matter when it
// asks.
func EnsureSyncOrigin(ctx context.Context, tx *sql.Tx, groupID int64, items []timeline.ItemDuration, now time.Time) (*model.SyncOrigin, error) {
	hash := timeline.CompositionHash(items)
	var cycle float64
	for _, it := range items {
		cycle += it.Duration
	}

	existing, err := getSyncOrigin(ctx, tx, groupID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.CompositionHash == hash {
		return existing, nil
	}

	o := &model.SyncOrigin{
		GroupID:         groupID,
		Origin:          float64(now.UnixNano()) / float64(time.Second),
		CycleDuration:   cycle,
		CompositionHash: hash,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_origins (group_id, origin, cycle_duration, composition_hash)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(group_id) DO UPDATE SET
			origin = excluded.origin,
			cycle_duration = excluded.cycle_duration,
			composition_hash = excluded.composition_hash`,
		o.GroupID, o.Origin, o.CycleDuration, o.CompositionHash)
	if err != nil {
		return nil, fmt.Errorf("upsert sync origin: %w", err)
	}
	return o, nil
}
