package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS commands (
	id         TEXT PRIMARY KEY,
	text       TEXT NOT NULL,
	intent     TEXT,
	priority   TEXT,
	timestamp  TIMESTAMP NOT NULL,
	jobsite_id TEXT
);
CREATE TABLE IF NOT EXISTS chat_messages (
	id              TEXT PRIMARY KEY,
	original        TEXT NOT NULL,
	translated      TEXT NOT NULL,
	role            TEXT NOT NULL,
	language        TEXT NOT NULL,
	source_language TEXT,
	timestamp       TIMESTAMP NOT NULL,
	jobsite_id      TEXT
);
CREATE TABLE IF NOT EXISTS jobsites (
	id      TEXT PRIMARY KEY,
	name    TEXT NOT NULL,
	status  TEXT NOT NULL DEFAULT 'active',
	address TEXT
);
CREATE TABLE IF NOT EXISTS weather_alerts (
	id         TEXT PRIMARY KEY,
	jobsite_id TEXT,
	severity   TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`

// SQLite is the file-backed Store. database/sql serializes access per
// connection, so it satisfies the concurrent-use contract without
// extra locking here.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed creates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) CreateCommand(ctx context.Context, cmd Command) (Command, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO commands (id, text, intent, priority, timestamp, jobsite_id) VALUES (?, ?, ?, ?, ?, ?)`,
		cmd.ID, cmd.Text, cmd.Intent, cmd.Priority, cmd.Timestamp, cmd.JobsiteID)
	if err != nil {
		return Command{}, fmt.Errorf("failed to insert command: %w", err)
	}
	return cmd, nil
}

func (s *SQLite) CreateChatMessage(ctx context.Context, msg ChatMessage) (ChatMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, original, translated, role, language, source_language, timestamp, jobsite_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Original, msg.Translated, msg.Role, msg.Language, msg.SourceLanguage, msg.Timestamp, msg.JobsiteID)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("failed to insert chat message: %w", err)
	}
	return msg, nil
}

func (s *SQLite) Jobsites(ctx context.Context) ([]Jobsite, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, status, COALESCE(address, '') FROM jobsites`)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobsites: %w", err)
	}
	defer rows.Close()

	var out []Jobsite
	for rows.Next() {
		var j Jobsite
		if err := rows.Scan(&j.ID, &j.Name, &j.Status, &j.Address); err != nil {
			return nil, fmt.Errorf("failed to scan jobsite: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLite) WeatherAlerts(ctx context.Context) ([]WeatherAlert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(jobsite_id, ''), severity, message, created_at FROM weather_alerts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query weather alerts: %w", err)
	}
	defer rows.Close()

	var out []WeatherAlert
	for rows.Next() {
		var a WeatherAlert
		if err := rows.Scan(&a.ID, &a.JobsiteID, &a.Severity, &a.Message, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan weather alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) UpdateJobsiteStatus(ctx context.Context, jobsiteID, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobsites SET status = ? WHERE id = ?`, status, jobsiteID)
	if err != nil {
		return fmt.Errorf("failed to update jobsite status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("jobsite %s not found", jobsiteID)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }
