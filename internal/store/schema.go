// Package store provides the SQLite-backed transactional record store for
// idea records. It exclusively owns the canonical persisted representation;
// engines mutate records only through this API.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/voicebridge/voicebridge/internal/artifact"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS ideas (
	id            TEXT PRIMARY KEY,
	created_at    DATETIME NOT NULL,
	audio_file    TEXT NOT NULL DEFAULT '',
	audio_data    BLOB,
	transcription TEXT NOT NULL DEFAULT '',
	duration      REAL NOT NULL DEFAULT 0,
	recording     INTEGER NOT NULL DEFAULT 0,
	synced        INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_ideas_synced ON ideas(synced);
CREATE INDEX IF NOT EXISTS idx_ideas_created ON ideas(created_at);
`

// Store wraps a sql.DB with idea-record operations. Writes serialize through
// a single mutex (one logical write queue per store instance); reads run
// concurrently against the WAL snapshot.
type Store struct {
	conn      *sql.DB
	artifacts *artifact.Dir
	logger    *slog.Logger

	writeMu sync.Mutex
}

// Open opens (or creates) the SQLite database and applies the schema.
// artifacts is the directory owning this device's audio files; it is used
// for cascade deletes and lazy flushing of inline audio bytes.
func Open(dsn string, artifacts *artifact.Dir, logger *slog.Logger) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{conn: conn, artifacts: artifacts, logger: logger}, nil
}

// Artifacts returns the artifact directory this store owns files in.
func (s *Store) Artifacts() *artifact.Dir { return s.artifacts }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}
