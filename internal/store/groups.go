package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kioskworks/signage/internal/model"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// GroupCounts summarizes a group's attachments for operator listings.
type GroupCounts struct {
	Content   int
	Schedules int
	Devices   int
}

const groupColumns = `id, name, description, color, is_active, transition_type, transition_duration, created_at, updated_at`

func scanGroup(row interface{ Scan(...any) error }) (model.ScheduleGroup, error) {
	var g model.ScheduleGroup
	var created, updated string
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.Color, &g.Active,
		&g.TransitionType, &g.TransitionDuration, &created, &updated)
	if err != nil {
		return g, err
	}
	g.CreatedAt = parseTime(created)
	g.UpdatedAt = parseTime(updated)
	return g, nil
}

// CreateGroup inserts a new schedule group.
func (s *Store) CreateGroup(ctx context.Context, g *model.ScheduleGroup) error {
	now := time.Now()
	if g.Color == "" {
		g.Color = "#10B981"
	}
	if g.TransitionType == "" {
		g.TransitionType = model.TransitionCut
	}
	if g.TransitionDuration <= 0 {
		g.TransitionDuration = 0.5
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_groups (name, description, color, is_active, transition_type, transition_duration, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.Name, g.Description, g.Color, g.Active, g.TransitionType, g.TransitionDuration, fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("insert schedule group: %w", err)
	}
	g.ID, _ = res.LastInsertId()
	g.CreatedAt = now
	g.UpdatedAt = now
	return nil
}

// GetGroup retrieves a single schedule group.
func (s *Store) GetGroup(ctx context.Context, id int64) (*model.ScheduleGroup, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM schedule_groups WHERE id = ?`, id)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGroups retrieves all schedule groups ordered by id.
func (s *Store) ListGroups(ctx context.Context) ([]model.ScheduleGroup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+groupColumns+` FROM schedule_groups ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var groups []model.ScheduleGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// GroupCounts returns the content/schedule/device counts for a group.
func (s *Store) GroupCounts(ctx context.Context, id int64) (GroupCounts, error) {
	var c GroupCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM content_items WHERE group_id = ?),
			(SELECT COUNT(*) FROM schedules WHERE group_id = ?),
			(SELECT COUNT(*) FROM devices WHERE group_id = ?)`,
		id, id, id).Scan(&c.Content, &c.Schedules, &c.Devices)
	return c, err
}

// GroupPatch carries the mutable group fields; nil means unchanged.
type GroupPatch struct {
	Name               *string
	Description        *string
	Color              *string
	Active             *bool
	TransitionType     *model.TransitionType
	TransitionDuration *float64
}

// UpdateGroup applies a partial update to a schedule group.
func (s *Store) UpdateGroup(ctx context.Context, id int64, p GroupPatch) (*model.ScheduleGroup, error) {
	g, err := s.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		g.Name = *p.Name
	}
	if p.Description != nil {
		g.Description = *p.Description
	}
	if p.Color != nil {
		g.Color = *p.Color
	}
	if p.Active != nil {
		g.Active = *p.Active
	}
	if p.TransitionType != nil {
		g.TransitionType = *p.TransitionType
	}
	if p.TransitionDuration != nil {
		g.TransitionDuration = *p.TransitionDuration
	}
	g.UpdatedAt = time.Now()
	_, err = s.db.ExecContext(ctx, `
		UPDATE schedule_groups
		SET name = ?, description = ?, color = ?, is_active = ?, transition_type = ?, transition_duration = ?, updated_at = ?
		WHERE id = ?`,
		g.Name, g.Description, g.Color, g.Active, g.TransitionType, g.TransitionDuration, fmtTime(g.UpdatedAt), id)
	if err != nil {
		return nil, fmt.Errorf("update schedule group: %w", err)
	}
	return g, nil
}

// DeleteGroup removes a group. Schedules and content rows cascade; the
// caller is responsible for deleting the underlying content files, so the
// filenames are returned.
func (s *Store) DeleteGroup(ctx context.Context, id int64) ([]string, error) {
	items, err := s.ListContent(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedule_groups WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("delete schedule group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	filenames := make([]string, 0, len(items))
	for _, it := range items {
		filenames = append(filenames, it.Filename)
	}
	return filenames, nil
}
