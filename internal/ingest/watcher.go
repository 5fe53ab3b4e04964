// Package ingest watches a drop directory for externally recorded audio
// files and turns each one into a new unsynced idea record. It covers
// capture paths that bypass the built-in engine, e.g. a hardware recorder
// spooling finished files to disk.
package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/voicebridge/voicebridge/internal/artifact"
	"github.com/voicebridge/voicebridge/internal/events"
	"github.com/voicebridge/voicebridge/internal/models"
	"github.com/voicebridge/voicebridge/internal/store"
)

// settle is how long a dropped file must be quiet before it is ingested,
// so a file still being written is not picked up half-way.
const settle = 500 * time.Millisecond

var audioExts = map[string]bool{
	".m4a": true, ".mp3": true, ".wav": true, ".ogg": true, ".flac": true,
}

// Watch starts an fsnotify watcher on dropDir and ingests audio files
// until ctx is cancelled. Files already present at startup are ingested
// on the first sweep.
func Watch(ctx context.Context, dropDir string, records store.RecordStore, artifacts *artifact.Dir, broker *events.Broker, logger *slog.Logger) error {
	if err := os.MkdirAll(dropDir, 0o755); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dropDir); err != nil {
		return err
	}

	logger.Info("ingest: watching", slog.String("dir", dropDir))

	// sweepTimer debounces bursts of write events into one sweep.
	sweepTimer := time.NewTimer(settle)
	defer sweepTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("ingest: stopped")
			return nil

		case <-sweepTimer.C:
			if sweep(dropDir, records, artifacts, broker, logger) {
				// Something is still settling; look again shortly.
				sweepTimer.Reset(settle)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				sweepTimer.Reset(settle)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("ingest: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// sweep ingests every settled audio file in the drop directory and
// reports whether any candidate was skipped as still settling.
func sweep(dropDir string, records store.RecordStore, artifacts *artifact.Dir, broker *events.Broker, logger *slog.Logger) bool {
	entries, err := os.ReadDir(dropDir)
	if err != nil {
		logger.Warn("ingest: read drop dir failed", slog.String("error", err.Error()))
		return false
	}

	pending := false
	for _, entry := range entries {
		if entry.IsDir() || !audioExts[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) < settle {
			pending = true
			continue
		}
		src := filepath.Join(dropDir, entry.Name())
		if err := ingestFile(src, records, artifacts, broker); err != nil {
			logger.Warn("ingest: failed", slog.String("file", entry.Name()), slog.String("error", err.Error()))
		} else {
			logger.Info("ingest: new idea from drop", slog.String("file", entry.Name()))
		}
	}
	return pending
}

func ingestFile(src string, records store.RecordStore, artifacts *artifact.Dir, broker *events.Broker) error {
	name := uuid.New().String() + strings.ToLower(filepath.Ext(src))
	if err := artifacts.MoveIn(src, name); err != nil {
		return err
	}

	idea := &models.Idea{
		ID:            uuid.New().String(),
		Timestamp:     time.Now(),
		AudioFileName: name,
		Transcription: models.TranscriptionPending,
	}
	if err := records.Create(idea); err != nil {
		return err
	}
	broker.Publish(events.Event{Type: events.TypeRecordCreated, Data: map[string]any{"id": idea.ID}})
	return nil
}
