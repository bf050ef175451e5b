package store

import (
	"context"
	"fmt"
	"time"

	"github.com/kioskworks/signage/internal/model"
)

// AppendSyncLog records a player-reported cache sync event.
func (s *Store) AppendSyncLog(ctx context.Context, e *model.SyncLogEntry) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_logs (device_id, action, status, message, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.DeviceID, e.Action, e.Status, e.Message, fmtTime(now))
	if err != nil {
		return fmt.Errorf("insert sync log: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	e.CreatedAt = now
	return nil
}

// ListSyncLogs returns the most recent sync log entries for a device, newest
// first, capped at limit.
func (s *Store) ListSyncLogs(ctx context.Context, deviceID int64, limit int) ([]model.SyncLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, action, status, message, created_at
		FROM sync_logs WHERE device_id = ? ORDER BY id DESC LIMIT ?`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []model.SyncLogEntry
	for rows.Next() {
		var e model.SyncLogEntry
		var created string
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Action, &e.Status, &e.Message, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
