// Package transcribe converts audio artifacts to text through an opaque
// speech recognizer. One attempt per artifact, cancelable, with coarse
// progress reporting and a strictly sequential batch mode.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/voicebridge/voicebridge/internal/apperr"
	"github.com/voicebridge/voicebridge/internal/events"
	"github.com/voicebridge/voicebridge/internal/models"
	"github.com/voicebridge/voicebridge/internal/permission"
	"github.com/voicebridge/voicebridge/internal/store"
)

// Recognizer is the opaque speech-to-text capability. Recognize blocks
// until a final result, an error, or ctx cancellation.
type Recognizer interface {
	Recognize(ctx context.Context, audioPath string) (string, error)
}

// Snapshot reports engine activity for the coordinator.
type Snapshot struct {
	Active        bool    `json:"active"`
	ItemProgress  float64 `json:"item_progress"`
	BatchProgress float64 `json:"batch_progress"`
}

// Engine runs transcription attempts. The recognition resource is
// exclusive: batch mode serializes items and never interleaves them.
type Engine struct {
	rec     Recognizer
	auth    *permission.Authority
	records store.RecordStore
	broker  *events.Broker
	logger  *slog.Logger

	batchMu sync.Mutex // recognition resource is exclusive in batch mode

	mu            sync.Mutex
	active        int
	itemProgress  float64
	batchProgress float64
	cancels       map[uint64]context.CancelFunc
	nextCancelID  uint64
}

// NewEngine creates a transcription engine. A nil recognizer means the
// capability is absent on this device class; every attempt then fails
// with ErrEngineUnavailable.
func NewEngine(rec Recognizer, auth *permission.Authority, records store.RecordStore, broker *events.Broker, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		rec:     rec,
		auth:    auth,
		records: records,
		broker:  broker,
		logger:  logger,
		cancels: map[uint64]context.CancelFunc{},
	}
}

// Snapshot returns current activity and progress.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{Active: e.active > 0, ItemProgress: e.itemProgress, BatchProgress: e.batchProgress}
}

// Cancel stops all in-flight recognition tasks and resets activity to
// idle. Records keep whatever transcription value they had; a pending
// placeholder stays in place so the user can retry manually.
func (e *Engine) Cancel() {
	e.mu.Lock()
	for _, cancel := range e.cancels {
		cancel()
	}
	e.mu.Unlock()
}

// Transcribe runs one recognition attempt for the record and persists the
// outcome. Authorization is checked first and requested once if
// undetermined. Empty recognized text becomes the no-speech sentinel, a
// terminal success. A recognition error leaves the failure placeholder so
// the user retains a retry affordance.
func (e *Engine) Transcribe(ctx context.Context, recordID string) (string, error) {
	if e.rec == nil {
		return "", fmt.Errorf("transcribe: %w", apperr.ErrEngineUnavailable)
	}

	idea, err := e.records.Get(recordID)
	if err != nil {
		return "", err
	}
	if idea.Recording {
		return "", fmt.Errorf("transcribe: record %s is still recording", recordID)
	}
	if !idea.HasAudio() {
		return "", fmt.Errorf("transcribe: record %s has no audio", recordID)
	}
	if idea.TranscriptionFinal() {
		return idea.Transcription, nil
	}

	status := e.auth.Status(permission.Speech)
	if status == permission.Undetermined {
		status, err = e.auth.Request(ctx, permission.Speech)
		if err != nil {
			return "", err
		}
	}
	if status != permission.Granted {
		return "", fmt.Errorf("transcribe: speech recognition: %w", apperr.ErrPermissionDenied)
	}

	path, err := e.records.ResolveAudio(recordID)
	if err != nil {
		return "", err
	}

	if _, err := e.records.Update(recordID, func(i *models.Idea) error {
		if !i.TranscriptionFinal() {
			i.Transcription = models.TranscriptionPending
		}
		return nil
	}); err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(ctx)
	id := e.register(cancel)
	defer e.unregister(id, cancel)

	e.setItemProgress(0)
	e.setItemProgress(0.7) // recognition task submitted, awaiting result

	text, recErr := e.rec.Recognize(ctx, path)

	if ctx.Err() != nil {
		e.setItemProgress(0)
		e.logger.Info("transcribe: canceled", slog.String("id", recordID))
		return "", ctx.Err()
	}
	if recErr != nil {
		e.setItemProgress(0)
		if errors.Is(recErr, apperr.ErrEngineUnavailable) {
			return "", recErr
		}
		if _, uerr := e.records.Update(recordID, func(i *models.Idea) error {
			if !i.TranscriptionFinal() {
				i.Transcription = models.TranscriptionFailed
			}
			return nil
		}); uerr != nil {
			e.logger.Warn("transcribe: failure marker not persisted",
				slog.String("id", recordID), slog.String("error", uerr.Error()))
		}
		return "", &apperr.RecognitionError{Cause: recErr}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		text = models.NoSpeechDetected
	}

	if _, err := e.records.Update(recordID, func(i *models.Idea) error {
		i.Transcription = text
		return nil
	}); err != nil {
		return "", err
	}

	e.setItemProgress(1.0)
	e.logger.Info("transcribe: completed", slog.String("id", recordID))
	e.broker.Publish(events.Event{Type: events.TypeRecordUpdated, Data: map[string]any{
		"id": recordID,
	}})
	return text, nil
}

// TranscribeAll processes every record whose transcription is absent or
// still pending, strictly sequentially. A per-item failure is logged and
// the batch moves on; batch progress reaches 1.0 regardless of failures.
func (e *Engine) TranscribeAll(ctx context.Context) error {
	e.batchMu.Lock()
	defer e.batchMu.Unlock()

	items, err := e.records.List(store.Filter{NeedsTranscription: true})
	if err != nil {
		return err
	}

	total := len(items)
	for done, item := range items {
		e.setBatchProgress(float64(done) / float64(total))
		if ctx.Err() != nil {
			break
		}
		if _, err := e.Transcribe(ctx, item.ID); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			e.logger.Warn("transcribe: batch item failed",
				slog.String("id", item.ID), slog.String("error", err.Error()))
		}
	}

	e.setBatchProgress(1.0)
	return nil
}

func (e *Engine) register(cancel context.CancelFunc) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextCancelID++
	id := e.nextCancelID
	e.cancels[id] = cancel
	e.active++
	return id
}

func (e *Engine) unregister(id uint64, cancel context.CancelFunc) {
	cancel()
	e.mu.Lock()
	delete(e.cancels, id)
	e.active--
	if e.active == 0 {
		e.itemProgress = 0
	}
	e.mu.Unlock()
}

func (e *Engine) setItemProgress(p float64) {
	e.mu.Lock()
	e.itemProgress = p
	snap := Snapshot{Active: e.active > 0, ItemProgress: e.itemProgress, BatchProgress: e.batchProgress}
	e.mu.Unlock()
	e.broker.Publish(events.Event{Type: events.TypeTranscribeProgress, Data: snap})
}

func (e *Engine) setBatchProgress(p float64) {
	e.mu.Lock()
	e.batchProgress = p
	snap := Snapshot{Active: e.active > 0, ItemProgress: e.itemProgress, BatchProgress: e.batchProgress}
	e.mu.Unlock()
	e.broker.Publish(events.Event{Type: events.TypeTranscribeProgress, Data: snap})
}
