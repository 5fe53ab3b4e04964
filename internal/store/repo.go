package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voicebridge/voicebridge/internal/apperr"
	"github.com/voicebridge/voicebridge/internal/models"
)

// Filter narrows List results. Zero value returns everything.
type Filter struct {
	Unsynced           bool // only records not yet acknowledged by the peer
	NeedsTranscription bool // only records whose text is absent or pending
}

func persistErr(op string, err error) error {
	return &apperr.PersistenceError{Cause: fmt.Errorf("store: %s: %w", op, err)}
}

const ideaColumns = `id, created_at, audio_file, audio_data, transcription, duration, recording, synced`

func scanIdea(row interface{ Scan(...any) error }) (*models.Idea, error) {
	var i models.Idea
	var audioFile, transcription string
	if err := row.Scan(&i.ID, &i.Timestamp, &audioFile, &i.AudioData, &transcription, &i.Duration, &i.Recording, &i.Synced); err != nil {
		return nil, err
	}
	i.AudioFileName = audioFile
	i.Transcription = transcription
	return &i, nil
}

// Create inserts a new record. The id must not already exist; a record
// arriving from the peer with a known id is an update-merge, not a create.
func (s *Store) Create(idea *models.Idea) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO ideas (`+ideaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, idea.ID, idea.Timestamp, idea.AudioFileName, idea.AudioData, idea.Transcription, idea.Duration, idea.Recording, idea.Synced)
	if err != nil {
		return persistErr("create", err)
	}
	return nil
}

// Get returns the record with the given id, or apperr.ErrNotFound.
func (s *Store) Get(id string) (*models.Idea, error) {
	row := s.conn.QueryRow(`SELECT `+ideaColumns+` FROM ideas WHERE id = ?`, id)
	idea, err := scanIdea(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, persistErr("get", err)
	}
	return idea, nil
}

// List returns records matching f, newest first.
func (s *Store) List(f Filter) ([]models.Idea, error) {
	q := `SELECT ` + ideaColumns + ` FROM ideas WHERE 1=1`
	if f.Unsynced {
		q += ` AND synced = 0 AND recording = 0`
	}
	if f.NeedsTranscription {
		q += ` AND recording = 0 AND (audio_file != '' OR audio_data IS NOT NULL)
		       AND (transcription = '' OR transcription = ?)`
	}
	q += ` ORDER BY created_at DESC`

	var args []any
	if f.NeedsTranscription {
		args = append(args, models.TranscriptionPending)
	}

	rows, err := s.conn.Query(q, args...)
	if err != nil {
		return nil, persistErr("list", err)
	}
	defer rows.Close()

	var out []models.Idea
	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			return nil, persistErr("list scan", err)
		}
		out = append(out, *idea)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list rows", err)
	}
	return out, nil
}

// Update applies mutate to the current record inside a transaction and
// persists the result. ID and creation timestamp are immutable; a synced
// flag already set stays set regardless of what mutate does.
func (s *Store) Update(id string, mutate func(*models.Idea) error) (*models.Idea, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.conn.Begin()
	if err != nil {
		return nil, persistErr("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	row := tx.QueryRow(`SELECT `+ideaColumns+` FROM ideas WHERE id = ?`, id)
	idea, err := scanIdea(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, persistErr("update read", err)
	}

	wasSynced := idea.Synced
	if err := mutate(idea); err != nil {
		return nil, err
	}
	if wasSynced {
		idea.Synced = true
	}

	_, err = tx.Exec(`
		UPDATE ideas
		SET audio_file = ?, audio_data = ?, transcription = ?, duration = ?, recording = ?, synced = ?
		WHERE id = ?
	`, idea.AudioFileName, idea.AudioData, idea.Transcription, idea.Duration, idea.Recording, idea.Synced, id)
	if err != nil {
		return nil, persistErr("update write", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, persistErr("update commit", err)
	}
	return idea, nil
}

// Delete removes a record and, best-effort, its locally owned artifact
// file. A missing or undeletable file is logged and does not fail the
// record deletion.
func (s *Store) Delete(id string) error {
	idea, err := s.Get(id)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	_, err = s.conn.Exec(`DELETE FROM ideas WHERE id = ?`, id)
	s.writeMu.Unlock()
	if err != nil {
		return persistErr("delete", err)
	}

	if idea.AudioFileName != "" && s.artifacts != nil {
		if rmErr := s.artifacts.Delete(idea.AudioFileName); rmErr != nil {
			s.logger.Warn("store: artifact cleanup failed",
				slog.String("id", id),
				slog.String("file", idea.AudioFileName),
				slog.String("error", rmErr.Error()))
		}
	}
	return nil
}

// FindUnsynced returns all completed records the peer has not yet
// acknowledged, oldest first so retries replay in capture order.
func (s *Store) FindUnsynced() ([]models.Idea, error) {
	rows, err := s.conn.Query(`
		SELECT ` + ideaColumns + ` FROM ideas
		WHERE synced = 0 AND recording = 0
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, persistErr("find unsynced", err)
	}
	defer rows.Close()

	var out []models.Idea
	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			return nil, persistErr("find unsynced scan", err)
		}
		out = append(out, *idea)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("find unsynced", err)
	}
	return out, nil
}

// Count returns the total number of records.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.conn.QueryRow(`SELECT count(*) FROM ideas`).Scan(&n); err != nil {
		return 0, persistErr("count", err)
	}
	return n, nil
}
