package store

import (
	"context"
	"fmt"

	"github.com/kioskworks/signage/internal/model"
)

// GetDefaultDisplay returns the singleton splash configuration, including the
// ordered background images.
func (s *Store) GetDefaultDisplay(ctx context.Context) (*model.DefaultDisplay, error) {
	var d model.DefaultDisplay
	err := s.db.QueryRowContext(ctx, `
		SELECT id, logo_filename, logo_scale, logo_position, background_mode, background_color, background_video_filename, slideshow_duration, slideshow_transition
		FROM default_display WHERE id = 1`).
		Scan(&d.ID, &d.LogoFilename, &d.LogoScale, &d.LogoPosition, &d.BackgroundMode,
			&d.BackgroundColor, &d.BackgroundVideoFilename, &d.SlideshowDuration, &d.SlideshowTransition)
	if err != nil {
		return nil, fmt.Errorf("load default display: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, bg_order, is_active FROM background_images ORDER BY bg_order, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var bg model.BackgroundImage
		if err := rows.Scan(&bg.ID, &bg.Filename, &bg.Order, &bg.Active); err != nil {
			return nil, err
		}
		d.Backgrounds = append(d.Backgrounds, bg)
	}
	return &d, rows.Err()
}

// DefaultDisplayPatch carries the mutable splash fields; nil means unchanged.
type DefaultDisplayPatch struct {
	LogoScale               *float64
	LogoPosition            *model.LogoPosition
	BackgroundMode          *model.BackgroundMode
	BackgroundColor         *string
	SlideshowDuration       *float64
	SlideshowTransition     *string
	LogoFilename            *string
	BackgroundVideoFilename *string
}

// UpdateDefaultDisplay applies a partial update to the splash configuration.
func (s *Store) UpdateDefaultDisplay(ctx context.Context, p DefaultDisplayPatch) (*model.DefaultDisplay, error) {
	d, err := s.GetDefaultDisplay(ctx)
	if err != nil {
		return nil, err
	}
	if p.LogoScale != nil {
		d.LogoScale = *p.LogoScale
	}
	if p.LogoPosition != nil {
		d.LogoPosition = *p.LogoPosition
	}
	if p.BackgroundMode != nil {
		d.BackgroundMode = *p.BackgroundMode
	}
	if p.BackgroundColor != nil {
		d.BackgroundColor = *p.BackgroundColor
	}
	if p.SlideshowDuration != nil {
		d.SlideshowDuration = *p.SlideshowDuration
	}
	if p.SlideshowTransition != nil {
		d.SlideshowTransition = *p.SlideshowTransition
	}
	if p.LogoFilename != nil {
		d.LogoFilename = *p.LogoFilename
	}
	if p.BackgroundVideoFilename != nil {
		d.BackgroundVideoFilename = *p.BackgroundVideoFilename
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE default_display
		SET logo_filename = ?, logo_scale = ?, logo_position = ?, background_mode = ?, background_color = ?, background_video_filename = ?, slideshow_duration = ?, slideshow_transition = ?
		WHERE id = 1`,
		d.LogoFilename, d.LogoScale, d.LogoPosition, d.BackgroundMode,
		d.BackgroundColor, d.BackgroundVideoFilename, d.SlideshowDuration, d.SlideshowTransition)
	if err != nil {
		return nil, fmt.Errorf("update default display: %w", err)
	}
	return d, nil
}

// AddBackgroundImage appends a splash background at the end of the order.
func (s *Store) AddBackgroundImage(ctx context.Context, filename string) (*model.BackgroundImage, error) {
	var maxOrder int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(bg_order), -1) FROM background_images`).Scan(&maxOrder); err != nil {
		return nil, err
	}
	bg := model.BackgroundImage{Filename: filename, Order: maxOrder + 1, Active: true}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO background_images (filename, bg_order, is_active) VALUES (?, ?, 1)`,
		bg.Filename, bg.Order)
	if err != nil {
		return nil, fmt.Errorf("insert background image: %w", err)
	}
	bg.ID, _ = res.LastInsertId()
	return &bg, nil
}

// DeleteBackgroundImage removes a splash background and returns its filename
// so the caller can delete the file.
func (s *Store) DeleteBackgroundImage(ctx context.Context, id int64) (string, error) {
	var filename string
	err := s.db.QueryRowContext(ctx, `SELECT filename FROM background_images WHERE id = ?`, id).Scan(&filename)
	if err != nil {
		return "", ErrNotFound
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM background_images WHERE id = ?`, id); err != nil {
		return "", fmt.Errorf("delete background image: %w", err)
	}
	return filename, nil
}
