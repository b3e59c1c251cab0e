// Package archive persists every event the synchronizer ingests into a
// local SQLite database so history survives the in-memory log cap. Writes
// are idempotent per event id; the synchronizer treats archive failures as
// log-and-continue.
package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"mortalpath/client/internal/world"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	text        TEXT NOT NULL,
	content     TEXT NOT NULL DEFAULT '',
	year        INTEGER NOT NULL,
	month       INTEGER NOT NULL,
	time_rank   INTEGER NOT NULL,
	created_at  TEXT NOT NULL DEFAULT '',
	related_ids TEXT NOT NULL DEFAULT '[]',
	is_major    INTEGER NOT NULL DEFAULT 0,
	is_story    INTEGER NOT NULL DEFAULT 0,
	archived_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_time_rank ON events(time_rank);
`

// Store is a SQLite-backed event archive.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the archive at path and applies the schema and
// the production pragmas (WAL journal, busy timeout) via Exec so they work
// regardless of driver DSN conventions.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply archive schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts the batch, skipping ids that are already archived.
func (s *Store) Record(events []world.GameEvent) error {
	if s == nil || s.db == nil || len(events) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("archive batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO events
		(id, text, content, year, month, time_rank, created_at, related_ids, is_major, is_story, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("archive batch: %w", err)
	}
	defer stmt.Close()

	archivedAt := time.Now().UTC().Format(time.RFC3339)
	for _, ev := range events {
		related, err := json.Marshal(ev.RelatedAvatarIDs)
		if err != nil {
			related = []byte("[]")
		}
		createdAt := ""
		if !ev.CreatedAt.IsZero() {
			createdAt = ev.CreatedAt.UTC().Format(time.RFC3339)
		}
		if _, err := stmt.Exec(
			ev.ID, ev.Text, ev.Content, ev.Year, ev.Month, ev.TimeRank,
			createdAt, string(related), boolToInt(ev.IsMajor), boolToInt(ev.IsStory), archivedAt,
		); err != nil {
			return fmt.Errorf("archive event %s: %w", ev.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive batch: %w", err)
	}
	return nil
}

// Recent returns up to limit archived events, newest by time rank first.
func (s *Store) Recent(limit int) ([]world.GameEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, text, content, year, month, time_rank, created_at, related_ids, is_major, is_story
		FROM events ORDER BY time_rank DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var events []world.GameEvent
	for rows.Next() {
		var (
			ev        world.GameEvent
			createdAt string
			related   string
			isMajor   int
			isStory   int
		)
		if err := rows.Scan(&ev.ID, &ev.Text, &ev.Content, &ev.Year, &ev.Month, &ev.TimeRank,
			&createdAt, &related, &isMajor, &isStory); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		if createdAt != "" {
			if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
				ev.CreatedAt = ts
			}
		}
		if err := json.Unmarshal([]byte(related), &ev.RelatedAvatarIDs); err != nil {
			ev.RelatedAvatarIDs = nil
		}
		ev.IsMajor = isMajor != 0
		ev.IsStory = isStory != 0
		ev.Seq = -1
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive rows: %w", err)
	}
	return events, nil
}

// Count reports the number of archived events.
func (s *Store) Count() (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count archive: %w", err)
	}
	return count, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
