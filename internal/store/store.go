// Package store provides SQLite persistence for the control server: schedule
// groups, schedules, content items, devices, the default display, sync
// origins, and sync logs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

// Store wraps the SQLite handle. All reads and writes go through it; the
// sync-origin recomputation runs inside the same transaction as the write
// that might change the composition hash.
type Store struct {
	db *sql.DB
}

// Open initializes the SQLite store and runs migrations. WAL mode and
// busy_timeout avoid "database locked" errors under concurrent handlers.
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schedule_groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		color TEXT NOT NULL DEFAULT '#10B981',
		is_active INTEGER NOT NULL DEFAULT 1,
		transition_type TEXT NOT NULL DEFAULT 'cut' CHECK(transition_type IN ('cut', 'dissolve')),
		transition_duration REAL NOT NULL DEFAULT 0.5,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS schedules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id INTEGER NOT NULL REFERENCES schedule_groups(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		days_of_week TEXT NOT NULL DEFAULT '0123456',
		priority INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS content_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id INTEGER NOT NULL REFERENCES schedule_groups(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		filename TEXT NOT NULL,
		file_type TEXT NOT NULL CHECK(file_type IN ('image', 'video')),
		mime_type TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		duration REAL,
		display_duration REAL NOT NULL DEFAULT 10.0,
		width INTEGER,
		height INTEGER,
		item_order INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		access_code TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		last_seen TEXT,
		is_online INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		is_registered INTEGER NOT NULL DEFAULT 0,
		screen_width INTEGER,
		screen_height INTEGER,
		orientation TEXT NOT NULL DEFAULT 'landscape' CHECK(orientation IN ('landscape', 'portrait')),
		flip_horizontal INTEGER NOT NULL DEFAULT 0,
		flip_vertical INTEGER NOT NULL DEFAULT 0,
		group_id INTEGER REFERENCES schedule_groups(id) ON DELETE SET NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS default_display (
		id INTEGER PRIMARY KEY CHECK(id = 1),
		logo_filename TEXT NOT NULL DEFAULT '',
		logo_scale REAL NOT NULL DEFAULT 0.5,
		logo_position TEXT NOT NULL DEFAULT 'center' CHECK(logo_position IN ('top', 'center', 'bottom')),
		background_mode TEXT NOT NULL DEFAULT 'solid' CHECK(background_mode IN ('solid', 'image', 'slideshow', 'video')),
		background_color TEXT NOT NULL DEFAULT '#000000',
		background_video_filename TEXT NOT NULL DEFAULT '',
		slideshow_duration REAL NOT NULL DEFAULT 30.0,
		slideshow_transition TEXT NOT NULL DEFAULT 'fade'
	);

	CREATE TABLE IF NOT EXISTS background_images (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		filename TEXT NOT NULL,
		bg_order INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS sync_origins (
		group_id INTEGER PRIMARY KEY REFERENCES schedule_groups(id) ON DELETE CASCADE,
		origin REAL NOT NULL,
		cycle_duration REAL NOT NULL,
		composition_hash TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
		action TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_schedules_group ON schedules(group_id);
	CREATE INDEX IF NOT EXISTS idx_content_items_group ON content_items(group_id, item_order);
	CREATE INDEX IF NOT EXISTS idx_devices_group ON devices(group_id);
	CREATE INDEX IF NOT EXISTS idx_sync_logs_device ON sync_logs(device_id);

	INSERT OR IGNORE INTO default_display (id) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
