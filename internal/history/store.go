// Package history records synthesis, combine and cleanup events per session in
// a SQLite database with day-based retention.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-session-service/internal/config"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Event kinds.
const (
	KindSynthesize = "synthesize"
	KindCombine    = "combine"
	KindCleanup    = "cleanup"
	KindFailure    = "failure"
)

const (
	defaultListLimit = 100
	hoursPerDay      = 24
	dataDirPerms     = 0o750
	dsnFormat        = "file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	logFmtPruneStart = "History prune on open failed: %v"
	errFmtCreateDir  = "create history dir: %w"
	errFmtOpen       = "open sqlite: %w"
	errFmtPing       = "ping sqlite: %w"
	errFmtSchema     = "init history schema: %w"
	errFmtAppend     = "append history event: %w"
	errFmtList       = "list history events: %w"
	errFmtPrune      = "prune history: %w"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    request_id TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session_created ON events(session_id, created_at);
`

// Event is one recorded history entry.
type Event struct {
	CreatedAt time.Time `json:"created_at"`
	SessionID string    `json:"session_id"`
	RequestID string    `json:"request_id,omitempty"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	ID        int64     `json:"id"`
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock used for timestamps and retention.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// Store wraps the SQLite history database. A disabled store accepts every call
// and records nothing.
type Store struct {
	db            *sql.DB
	log           *logger.Logger
	clock         func() time.Time
	retentionDays int
}

// Open opens the store described by cfg. When history is disabled it returns
// a no-op store.
func Open(ctx context.Context, cfg config.HistoryConfig, log *logger.Logger, opts ...Option) (*Store, error) {
	store := &Store{db: nil, log: log, clock: time.Now, retentionDays: cfg.RetentionDays}
	for _, opt := range opts {
		opt(store)
	}

	if !cfg.Enabled {
		return store, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		mkdirErr := os.MkdirAll(dir, dataDirPerms)
		if mkdirErr != nil {
			return nil, fmt.Errorf(errFmtCreateDir, mkdirErr)
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf(dsnFormat, cfg.Path))
	if err != nil {
		return nil, fmt.Errorf(errFmtOpen, err)
	}

	pingErr := db.PingContext(ctx)
	if pingErr != nil {
		_ = db.Close()

		return nil, fmt.Errorf(errFmtPing, pingErr)
	}

	_, schemaErr := db.ExecContext(ctx, schema)
	if schemaErr != nil {
		_ = db.Close()

		return nil, fmt.Errorf(errFmtSchema, schemaErr)
	}

	store.db = db

	pruneErr := store.Prune(ctx)
	if pruneErr != nil {
		log.Warn(logFmtPruneStart, pruneErr)
	}

	return store, nil
}

// Enabled reports whether events are persisted.
func (s *Store) Enabled() bool {
	return s.db != nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	return s.db.Close()
}

// Append records evt, stamping it with the store clock when CreatedAt is zero.
func (s *Store) Append(ctx context.Context, evt Event) error {
	if s.db == nil {
		return nil
	}

	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(session_id, request_id, kind, detail, created_at) VALUES(?, ?, ?, ?, ?)`,
		evt.SessionID, evt.RequestID, evt.Kind, evt.Detail, evt.CreatedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf(errFmtAppend, err)
	}

	return nil
}

// List returns up to limit events of sessionID, oldest first.
func (s *Store) List(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if s.db == nil {
		return []Event{}, nil
	}

	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, request_id, kind, detail, created_at
		 FROM events WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf(errFmtList, err)
	}
	defer rows.Close()

	events := []Event{}

	for rows.Next() {
		var (
			evt     Event
			created int64
		)

		scanErr := rows.Scan(&evt.ID, &evt.SessionID, &evt.RequestID, &evt.Kind, &evt.Detail, &created)
		if scanErr != nil {
			return nil, fmt.Errorf(errFmtList, scanErr)
		}

		evt.CreatedAt = time.Unix(0, created).UTC()
		events = append(events, evt)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf(errFmtList, rowsErr)
	}

	return events, nil
}

// Prune deletes events older than the retention window. A non-positive
// retention keeps everything.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil || s.retentionDays <= 0 {
		return nil
	}

	cutoff := s.clock().Add(-time.Duration(s.retentionDays) * hoursPerDay * time.Hour)

	_, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf(errFmtPrune, err)
	}

	return nil
}
