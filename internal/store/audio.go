package store

import (
	"fmt"
	"log/slog"

	"github.com/voicebridge/voicebridge/internal/artifact"
	"github.com/voicebridge/voicebridge/internal/models"
)

// ResolveAudio returns the absolute on-disk path of the record's artifact,
// flushing inline bytes to a fresh file first if the record carries only a
// blob. After a successful flush the file name is authoritative and the
// inline bytes are dropped from the row.
func (s *Store) ResolveAudio(id string) (string, error) {
	idea, err := s.Get(id)
	if err != nil {
		return "", err
	}

	if idea.AudioFileName != "" && s.artifacts.Exists(idea.AudioFileName) {
		return s.artifacts.Path(idea.AudioFileName)
	}

	if len(idea.AudioData) == 0 {
		return "", fmt.Errorf("store: record %s has no playable audio", id)
	}

	name := artifact.NewName()
	if idea.AudioFileName != "" {
		// Keep the advertised name so the peer-side file reference stays valid.
		name = idea.AudioFileName
	}
	if err := s.artifacts.Write(name, idea.AudioData); err != nil {
		return "", persistErr("flush inline audio", err)
	}

	if _, err := s.Update(id, func(i *models.Idea) error {
		i.AudioFileName = name
		i.AudioData = nil
		return nil
	}); err != nil {
		return "", err
	}
	return s.artifacts.Path(name)
}

// FlushInline sweeps all records carrying inline audio bytes and reconciles
// them to files. Run at startup; per-record failures are logged and skipped.
func (s *Store) FlushInline() {
	rows, err := s.conn.Query(`SELECT id FROM ideas WHERE audio_data IS NOT NULL AND recording = 0`)
	if err != nil {
		s.logger.Warn("store: inline sweep query failed", slog.String("error", err.Error()))
		return
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return
		}
		ids = append(ids, id)
	}

	for _, id := range ids {
		if _, err := s.ResolveAudio(id); err != nil {
			s.logger.Warn("store: inline flush failed",
				slog.String("id", id), slog.String("error", err.Error()))
		} else {
			s.logger.Debug("store: flushed inline audio", slog.String("id", id))
		}
	}
}
