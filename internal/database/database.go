// Package database persists runtime settings and alert events in SQLite.
package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"vigil/internal/stage"
)

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// EventRecord represents an alert event stored in the database
type EventRecord struct {
	ID        string
	CameraID  int
	Stage     string
	Detail    string
	Summary   stage.Summary
	CreatedAt time.Time
}

// ConfigRecord represents a configuration key-value pair
type ConfigRecord struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS alert_events (
			id TEXT PRIMARY KEY,
			camera_id INTEGER NOT NULL,
			stage TEXT NOT NULL,
			detail TEXT,
			summary TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS app_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_camera_time ON alert_events(camera_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_time ON alert_events(created_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	fmt.Println("Database migrations completed successfully")
	return nil
}

// SaveEvent saves an alert event
func (d *Database) SaveEvent(event *EventRecord) error {
	summaryJSON, err := json.Marshal(event.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	query := `INSERT INTO alert_events (id, camera_id, stage, detail, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err = d.db.Exec(query, event.ID, event.CameraID, event.Stage, event.Detail,
		string(summaryJSON), event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// GetEvent retrieves an alert event by ID
func (d *Database) GetEvent(id string) (*EventRecord, error) {
	query := `SELECT id, camera_id, stage, detail, summary, created_at FROM alert_events WHERE id = ?`

	var event EventRecord
	var summaryJSON string

	err := d.db.QueryRow(query, id).Scan(&event.ID, &event.CameraID, &event.Stage,
		&event.Detail, &summaryJSON, &event.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	if summaryJSON != "" {
		if err := json.Unmarshal([]byte(summaryJSON), &event.Summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
		}
	}
	return &event, nil
}

// ListEvents returns alert events with optional filtering. A negative
// cameraID matches every camera.
func (d *Database) ListEvents(cameraID int, since *time.Time, limit int) ([]*EventRecord, error) {
	query := `SELECT id, camera_id, stage, detail, summary, created_at FROM alert_events WHERE 1=1`
	args := []interface{}{}

	if cameraID >= 0 {
		query += " AND camera_id = ?"
		args = append(args, cameraID)
	}

	if since != nil {
		query += " AND created_at >= ?"
		args = append(args, *since)
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*EventRecord
	for rows.Next() {
		var event EventRecord
		var summaryJSON string

		if err := rows.Scan(&event.ID, &event.CameraID, &event.Stage, &event.Detail,
			&summaryJSON, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		if summaryJSON != "" {
			if err := json.Unmarshal([]byte(summaryJSON), &event.Summary); err != nil {
				return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
			}
		}
		events = append(events, &event)
	}
	return events, nil
}

// DeleteOldEvents deletes events older than the specified time
func (d *Database) DeleteOldEvents(before time.Time) (int64, error) {
	result, err := d.db.Exec("DELETE FROM alert_events WHERE created_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return result.RowsAffected()
}

// SaveConfig saves a configuration value
func (d *Database) SaveConfig(key, value string) error {
	query := `INSERT INTO app_config (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`

	_, err := d.db.Exec(query, key, value)
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// GetConfig retrieves a configuration value
func (d *Database) GetConfig(key string) (string, error) {
	var value string
	err := d.db.QueryRow("SELECT value FROM app_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config: %w", err)
	}
	return value, nil
}

// ListConfigs returns all configuration values
func (d *Database) ListConfigs() (map[string]string, error) {
	rows, err := d.db.Query("SELECT key, value FROM app_config")
	if err != nil {
		return nil, fmt.Errorf("failed to list configs: %w", err)
	}
	defer rows.Close()

	configs := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan config: %w", err)
		}
		configs[key] = value
	}
	return configs, nil
}

// DeleteConfig deletes a configuration value
func (d *Database) DeleteConfig(key string) error {
	_, err := d.db.Exec("DELETE FROM app_config WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete config: %w", err)
	}
	return nil
}
