package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kioskworks/signage/internal/model"
)

const scheduleColumns = `id, group_id, name, start_time, end_time, days_of_week, priority, is_active, created_at, updated_at`

func scanSchedule(row interface{ Scan(...any) error }) (model.Schedule, error) {
	var sc model.Schedule
	var created, updated string
	err := row.Scan(&sc.ID, &sc.GroupID, &sc.Name, &sc.StartTime, &sc.EndTime,
		&sc.DaysOfWeek, &sc.Priority, &sc.Active, &created, &updated)
	if err != nil {
		return sc, err
	}
	sc.CreatedAt = parseTime(created)
	sc.UpdatedAt = parseTime(updated)
	return sc, nil
}

// CreateSchedule inserts a schedule into its group.
func (s *Store) CreateSchedule(ctx context.Context, sc *model.Schedule) error {
	if _, err := s.GetGroup(ctx, sc.GroupID); err != nil {
		return err
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (group_id, name, start_time, end_time, days_of_week, priority, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.GroupID, sc.Name, sc.StartTime, sc.EndTime, sc.DaysOfWeek, sc.Priority, sc.Active, fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	sc.ID, _ = res.LastInsertId()
	sc.CreatedAt = now
	sc.UpdatedAt = now
	return nil
}

// GetSchedule retrieves one schedule.
func (s *Store) GetSchedule(ctx context.Context, id int64) (*model.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// ListSchedules retrieves all schedules of a group ordered by id.
func (s *Store) ListSchedules(ctx context.Context, groupID int64) ([]model.Schedule, error) {
	return s.listSchedules(ctx, s.db, groupID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) listSchedules(ctx context.Context, q querier, groupID int64) ([]model.Schedule, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE group_id = ? ORDER BY id`, groupID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var schedules []model.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sc)
	}
	return schedules, rows.Err()
}

// SchedulePatch carries the mutable schedule fields; nil means unchanged.
type SchedulePatch struct {
	Name       *string
	StartTime  *string
	EndTime    *string
	DaysOfWeek *string
	Priority   *int
	Active     *bool
}

// UpdateSchedule applies a partial update to a schedule.
func (s *Store) UpdateSchedule(ctx context.Context, id int64, p SchedulePatch) (*model.Schedule, error) {
	sc, err := s.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		sc.Name = *p.Name
	}
	if p.StartTime != nil {
		sc.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		sc.EndTime = *p.EndTime
	}
	if p.DaysOfWeek != nil {
		sc.DaysOfWeek = *p.DaysOfWeek
	}
	if p.Priority != nil {
		sc.Priority = *p.Priority
	}
	if p.Active != nil {
		sc.Active = *p.Active
	}
	sc.UpdatedAt = time.Now()
	_, err = s.db.ExecContext(ctx, `
		UPDATE schedules
		SET name = ?, start_time = ?, end_time = ?, days_of_week = ?, priority = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		sc.Name, sc.StartTime, sc.EndTime, sc.DaysOfWeek, sc.Priority, sc.Active, fmtTime(sc.UpdatedAt), id)
	if err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return sc, nil
}

// DeleteSchedule removes a schedule.
func (s *Store) DeleteSchedule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
