package artifact

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store persists artifacts and capture-log entries in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) a SQLite database at the given path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for concurrent capture writers and dashboard readers.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS artifacts (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			captured_at DATETIME NOT NULL,
			method      TEXT NOT NULL,
			event       TEXT NOT NULL,
			subject     TEXT NOT NULL DEFAULT '',
			width       INTEGER NOT NULL DEFAULT 0,
			height      INTEGER NOT NULL DEFAULT 0,
			byte_size   INTEGER NOT NULL,
			format      TEXT NOT NULL,
			image       BLOB NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_artifacts_user
			ON artifacts(user_id, captured_at DESC);

		CREATE TABLE IF NOT EXISTS capture_log (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id     TEXT NOT NULL,
			artifact_id TEXT NOT NULL,
			event       TEXT NOT NULL,
			created_at  DATETIME NOT NULL,
			FOREIGN KEY (artifact_id) REFERENCES artifacts(id)
		);

		CREATE INDEX IF NOT EXISTS idx_capture_log_user
			ON capture_log(user_id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save validates and persists an artifact, returning its storage-assigned
// id. The payload tag is the hard gate: missing, empty, or untagged
// payloads are rejected and nothing is written. On durable success the
// local staging file is deleted best-effort; on write failure it is kept
// for retry and inspection.
func (s *Store) Save(a *Artifact) (string, error) {
	format, raw, err := DecodePayload(a.Payload)
	if err != nil {
		return "", err
	}

	a.ID = uuid.New().String()
	a.Format = format
	a.ImageBytes = raw
	a.ByteSize = len(raw)
	if a.CapturedAt.IsZero() {
		a.CapturedAt = time.Now().UTC()
	}

	_, err = s.db.Exec(
		`INSERT INTO artifacts (id, user_id, captured_at, method, event, subject,
		                        width, height, byte_size, format, image)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.CapturedAt, a.Method, a.Event, a.Subject,
		a.Width, a.Height, a.ByteSize, a.Format, a.ImageBytes,
	)
	if err != nil {
		// Keep the staging file so the capture is not lost.
		return "", fmt.Errorf("persisting artifact: %w", err)
	}

	if a.StagingPath != "" {
		if rmErr := os.Remove(a.StagingPath); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Printf("artifact: removing staging file %s: %v", a.StagingPath, rmErr)
		}
	}
	return a.ID, nil
}

// Get retrieves an artifact by id, including its image bytes.
func (s *Store) Get(id string) (*Artifact, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, captured_at, method, event, subject,
		        width, height, byte_size, format, image
		 FROM artifacts WHERE id = ?`, id,
	)
	a := &Artifact{}
	err := row.Scan(&a.ID, &a.UserID, &a.CapturedAt, &a.Method, &a.Event,
		&a.Subject, &a.Width, &a.Height, &a.ByteSize, &a.Format, &a.ImageBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListByUser returns a user's artifacts newest-first, without image bytes.
func (s *Store) ListByUser(userID string, limit int) ([]*Artifact, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, user_id, captured_at, method, event, subject,
		        width, height, byte_size, format
		 FROM artifacts
		 WHERE user_id = ?
		 ORDER BY captured_at DESC
		 LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		a := &Artifact{}
		if err := rows.Scan(&a.ID, &a.UserID, &a.CapturedAt, &a.Method, &a.Event,
			&a.Subject, &a.Width, &a.Height, &a.ByteSize, &a.Format); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// Stats summarizes stored artifacts for observability.
type Stats struct {
	Count      int            `json:"count"`
	TotalBytes int64          `json:"total_bytes"`
	ByMethod   map[string]int `json:"by_method"`
	ByEvent    map[string]int `json:"by_event"`
}

// Stats returns artifact counts, total bytes, and per-method/per-event
// breakdowns.
func (s *Store) Stats() (*Stats, error) {
	st := &Stats{
		ByMethod: make(map[string]int),
		ByEvent:  make(map[string]int),
	}

	row := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(byte_size), 0) FROM artifacts`)
	if err := row.Scan(&st.Count, &st.TotalBytes); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT method, event, COUNT(*) FROM artifacts GROUP BY method, event`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var method, event string
		var n int
		if err := rows.Scan(&method, &event, &n); err != nil {
			return nil, err
		}
		st.ByMethod[method] += n
		st.ByEvent[event] += n
	}
	return st, rows.Err()
}

// AddLogEntry appends a capture-log entry. This is the narrow append-only
// log sink the activity dashboard reads from.
func (s *Store) AddLogEntry(entry *LogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.Exec(
		`INSERT INTO capture_log (user_id, artifact_id, event, created_at)
		 VALUES (?, ?, ?, ?)`,
		entry.UserID, entry.ArtifactID, entry.Event, entry.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = id
	return nil
}

// ListLogEntries returns a user's capture-log entries, newest first.
func (s *Store) ListLogEntries(userID string, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, user_id, artifact_id, event, created_at
		 FROM capture_log
		 WHERE user_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		e := &LogEntry{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.ArtifactID, &e.Event, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
