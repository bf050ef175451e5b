package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kioskworks/signage/internal/model"
)

const contentColumns = `id, group_id, name, filename, file_type, mime_type, file_size, duration, display_duration, width, height, item_order, is_active, created_at, updated_at`

func scanContent(row interface{ Scan(...any) error }) (model.ContentItem, error) {
	var c model.ContentItem
	var created, updated string
	var duration sql.NullFloat64
	var width, height sql.NullInt64
	err := row.Scan(&c.ID, &c.GroupID, &c.Name, &c.Filename, &c.FileType, &c.MimeType,
		&c.FileSize, &duration, &c.DisplayDuration, &width, &height, &c.Order, &c.Active, &created, &updated)
	if err != nil {
		return c, err
	}
	if duration.Valid {
		d := duration.Float64
		c.Duration = &d
	}
	if width.Valid {
		w := int(width.Int64)
		c.Width = &w
	}
	if height.Valid {
		h := int(height.Int64)
		c.Height = &h
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return c, nil
}

// CreateContent inserts a content item at the end of its group's order.
func (s *Store) CreateContent(ctx context.Context, c *model.ContentItem) error {
	if _, err := s.GetGroup(ctx, c.GroupID); err != nil {
		return err
	}
	now := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var maxOrder sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(item_order) FROM content_items WHERE group_id = ?`, c.GroupID).Scan(&maxOrder); err != nil {
		return err
	}
	c.Order = 0
	if maxOrder.Valid {
		c.Order = int(maxOrder.Int64) + 1
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO content_items (group_id, name, filename, file_type, mime_type, file_size, duration, display_duration, width, height, item_order, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.GroupID, c.Name, c.Filename, c.FileType, c.MimeType, c.FileSize,
		nullFloat(c.Duration), c.DisplayDuration, nullInt(c.Width), nullInt(c.Height),
		c.Order, c.Active, fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("insert content item: %w", err)
	}
	c.ID, _ = res.LastInsertId()
	c.CreatedAt = now
	c.UpdatedAt = now
	return tx.Commit()
}

// GetContent retrieves one content item.
func (s *Store) GetContent(ctx context.Context, id int64) (*model.ContentItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM content_items WHERE id = ?`, id)
	c, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContent retrieves all content items of a group in display order.
func (s *Store) ListContent(ctx context.Context, groupID int64) ([]model.ContentItem, error) {
	return s.listContent(ctx, s.db, groupID)
}

func (s *Store) listContent(ctx context.Context, q querier, groupID int64) ([]model.ContentItem, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+contentColumns+` FROM content_items WHERE group_id = ? ORDER BY item_order, id`, groupID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []model.ContentItem
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// ContentPatch carries the mutable content fields; nil means unchanged.
type ContentPatch struct {
	Name            *string
	DisplayDuration *float64
	Duration        *float64
	Order           *int
	Active          *bool
}

// UpdateContent applies a partial update to a content item.
func (s *Store) UpdateContent(ctx context.Context, id int64, p ContentPatch) (*model.ContentItem, error) {
	c, err := s.GetContent(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.DisplayDuration != nil {
		c.DisplayDuration = *p.DisplayDuration
	}
	if p.Duration != nil {
		c.Duration = p.Duration
	}
	if p.Order != nil {
		c.Order = *p.Order
	}
	if p.Active != nil {
		c.Active = *p.Active
	}
	c.UpdatedAt = time.Now()
	_, err = s.db.ExecContext(ctx, `
		UPDATE content_items
		SET name = ?, display_duration = ?, duration = ?, item_order = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.DisplayDuration, nullFloat(c.Duration), c.Order, c.Active, fmtTime(c.UpdatedAt), id)
	if err != nil {
		return nil, fmt.Errorf("update content item: %w", err)
	}
	return c, nil
}

// DeleteContent removes a content item and returns it so the caller can
// delete the underlying file.
func (s *Store) DeleteContent(ctx context.Context, id int64) (*model.ContentItem, error) {
	c, err := s.GetContent(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM content_items WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete content item: %w", err)
	}
	return c, nil
}

// ReorderContent assigns item_order following the given id sequence. IDs not
// belonging to the group are ignored.
func (s *Store) ReorderContent(ctx context.Context, groupID int64, itemIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for order, id := range itemIDs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE content_items SET item_order = ?, updated_at = ?
			WHERE id = ? AND group_id = ?`,
			order, fmtTime(time.Now()), id, groupID); err != nil {
			return fmt.Errorf("reorder content item %d: %w", id, err)
		}
	}
	return tx.Commit()
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}
