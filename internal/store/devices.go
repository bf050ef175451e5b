package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/kioskworks/signage/internal/model"
)

const deviceColumns = `id, name, access_code, description, location, ip_address, last_seen, is_online, is_active, is_registered, screen_width, screen_height, orientation, flip_horizontal, flip_vertical, group_id, created_at, updated_at`

func scanDevice(row interface{ Scan(...any) error }) (model.Device, error) {
	var d model.Device
	var lastSeen sql.NullString
	var width, height, groupID sql.NullInt64
	var created, updated string
	err := row.Scan(&d.ID, &d.Name, &d.AccessCode, &d.Description, &d.Location, &d.IPAddress,
		&lastSeen, &d.Online, &d.Active, &d.Registered, &width, &height,
		&d.Orientation, &d.FlipH, &d.FlipV, &groupID, &created, &updated)
	if err != nil {
		return d, err
	}
	d.LastSeen = parseNullTime(lastSeen)
	if width.Valid {
		w := int(width.Int64)
		d.ScreenWidth = &w
	}
	if height.Valid {
		h := int(height.Int64)
		d.ScreenHeight = &h
	}
	if groupID.Valid {
		g := groupID.Int64
		d.GroupID = &g
	}
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return d, nil
}

// allocateAccessCode draws 6-digit decimal codes until one is free among
// existing devices. Leading zeros are preserved: the code is a string, not a
// number. The namespace is 10^6 so collisions stay rare well past any
// realistic fleet size; the loop is still bounded to fail loudly rather than
// spin if the table ever approaches saturation.
func (s *Store) allocateAccessCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 1000; attempt++ {
		n, err := rand.Int(rand.Reader, big.NewInt(1000000))
		if err != nil {
			return "", fmt.Errorf("draw access code: %w", err)
		}
		code := fmt.Sprintf("%06d", n.Int64())
		var exists int
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices WHERE access_code = ?`, code).Scan(&exists)
		if err != nil {
			return "", err
		}
		if exists == 0 {
			return code, nil
		}
	}
	return "", errors.New("access code namespace exhausted")
}

// CreateDevice inserts a device with a freshly allocated unique access code.
func (s *Store) CreateDevice(ctx context.Context, d *model.Device) error {
	code, err := s.allocateAccessCode(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	if d.Orientation == "" {
		d.Orientation = model.OrientationLandscape
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (name, access_code, description, location, is_active, is_registered, orientation, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, 0, ?, ?, ?)`,
		d.Name, code, d.Description, d.Location, d.Orientation, fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	d.ID, _ = res.LastInsertId()
	d.AccessCode = code
	d.Active = true
	d.CreatedAt = now
	d.UpdatedAt = now
	return nil
}

// GetDevice retrieves one device by id.
func (s *Store) GetDevice(ctx context.Context, id int64) (*model.Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDeviceByAccessCode retrieves one device by its access code.
func (s *Store) GetDeviceByAccessCode(ctx context.Context, code string) (*model.Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE access_code = ?`, code)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDevices retrieves all devices ordered by id.
func (s *Store) ListDevices(ctx context.Context) ([]model.Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var devices []model.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// DevicePatch carries the mutable device fields; nil means unchanged.
// GroupID uses a double pointer so "set to NULL" and "unchanged" stay distinct.
type DevicePatch struct {
	Name        *string
	Description *string
	Location    *string
	Active      *bool
	Orientation *model.Orientation
	FlipH       *bool
	FlipV       *bool
	GroupID     **int64
}

// UpdateDevice applies a partial update to a device.
func (s *Store) UpdateDevice(ctx context.Context, id int64, p DevicePatch) (*model.Device, error) {
	d, err := s.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.Description != nil {
		d.Description = *p.Description
	}
	if p.Location != nil {
		d.Location = *p.Location
	}
	if p.Active != nil {
		d.Active = *p.Active
	}
	if p.Orientation != nil {
		d.Orientation = *p.Orientation
	}
	if p.FlipH != nil {
		d.FlipH = *p.FlipH
	}
	if p.FlipV != nil {
		d.FlipV = *p.FlipV
	}
	if p.GroupID != nil {
		d.GroupID = *p.GroupID
	}
	d.UpdatedAt = time.Now()
	var groupID any
	if d.GroupID != nil {
		groupID = *d.GroupID
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE devices
		SET name = ?, description = ?, location = ?, is_active = ?, orientation = ?, flip_horizontal = ?, flip_vertical = ?, group_id = ?, updated_at = ?
		WHERE id = ?`,
		d.Name, d.Description, d.Location, d.Active, d.Orientation, d.FlipH, d.FlipV, groupID, fmtTime(d.UpdatedAt), id)
	if err != nil {
		return nil, fmt.Errorf("update device: %w", err)
	}
	return d, nil
}

// DeleteDevice removes a device.
func (s *Store) DeleteDevice(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RegenerateAccessCode rotates a device's access code and clears the
// registered flag, invalidating the previous binding.
func (s *Store) RegenerateAccessCode(ctx context.Context, id int64) (string, error) {
	if _, err := s.GetDevice(ctx, id); err != nil {
		return "", err
	}
	code, err := s.allocateAccessCode(ctx)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE devices SET access_code = ?, is_registered = 0, updated_at = ? WHERE id = ?`,
		code, fmtTime(time.Now()), id)
	if err != nil {
		return "", fmt.Errorf("rotate access code: %w", err)
	}
	return code, nil
}

// MarkRegistered marks a device bound after a successful register call.
// Registering an already-bound device succeeds again: binding is idempotent.
func (s *Store) MarkRegistered(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE devices SET is_registered = 1, last_seen = ?, updated_at = ? WHERE id = ?`,
		fmtTime(time.Now()), fmtTime(time.Now()), id)
	return err
}

// TouchDevice updates last_seen and marks the device online. Called on every
// player config/playlist fetch.
func (s *Store) TouchDevice(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE devices SET last_seen = ?, is_online = 1 WHERE id = ?`,
		fmtTime(time.Now()), id)
	return err
}

// Heartbeat records the data a player reports on its event-stream heartbeat.
// Screen dimensions are stored only when the renderer reported real values.
func (s *Store) Heartbeat(ctx context.Context, id int64, ip string, screenW, screenH *int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE devices
		SET last_seen = ?, is_online = 1, ip_address = ?,
		    screen_width = COALESCE(?, screen_width),
		    screen_height = COALESCE(?, screen_height)
		WHERE id = ?`,
		fmtTime(time.Now()), ip, nullInt(screenW), nullInt(screenH), id)
	return err
}

// SetOnline flips the online flag, e.g. when the event stream disconnects.
func (s *Store) SetOnline(ctx context.Context, id int64, online bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE devices SET is_online = ? WHERE id = ?`, online, id)
	return err
}
