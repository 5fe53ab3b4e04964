// Package coordinator is the orchestration layer between the engines and
// any presentation surface. It translates user intents into engine calls,
// aggregates published state into one snapshot, and formats engine errors
// into a single dismissible message. It performs no business logic beyond
// sequencing.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/voicebridge/voicebridge/internal/apperr"
	"github.com/voicebridge/voicebridge/internal/capture"
	"github.com/voicebridge/voicebridge/internal/events"
	"github.com/voicebridge/voicebridge/internal/models"
	"github.com/voicebridge/voicebridge/internal/playback"
	"github.com/voicebridge/voicebridge/internal/store"
	"github.com/voicebridge/voicebridge/internal/syncer"
	"github.com/voicebridge/voicebridge/internal/transcribe"
)

// Snapshot is the merged state exposed to presentation.
type Snapshot struct {
	Records       []models.Idea       `json:"records"`
	Loading       bool                `json:"loading"`
	ErrorText     string              `json:"error_text,omitempty"`
	CaptureState  capture.State       `json:"capture_state"`
	Elapsed       float64             `json:"elapsed"`
	Playback      playback.Progress   `json:"playback"`
	Transcription transcribe.Snapshot `json:"transcription"`
	UnsyncedCount int                 `json:"unsynced_count"`
	Reachable     bool                `json:"reachable"`
}

// Glance is the read-only summary for the companion surface.
type Glance struct {
	RecordCount   int       `json:"record_count"`
	LatestSnippet string    `json:"latest_snippet,omitempty"`
	LastActivity  time.Time `json:"last_activity,omitempty"`
}

// Coordinator wires the engines together. Construct once and inject into
// presentation; no globals.
type Coordinator struct {
	records     store.RecordStore
	capture     *capture.Engine
	playback    *playback.Engine
	transcriber *transcribe.Engine
	sync        *syncer.Manager
	broker      *events.Broker
	logger      *slog.Logger

	mu        sync.Mutex
	errorText string
	loading   bool
}

// New creates a coordinator over the given engines.
func New(records store.RecordStore, cap *capture.Engine, play *playback.Engine, trans *transcribe.Engine, sync *syncer.Manager, broker *events.Broker, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		records:     records,
		capture:     cap,
		playback:    play,
		transcriber: trans,
		sync:        sync,
		broker:      broker,
		logger:      logger,
	}
}

// Snapshot assembles the current merged state.
func (c *Coordinator) Snapshot() (Snapshot, error) {
	c.mu.Lock()
	errText := c.errorText
	loading := c.loading
	c.mu.Unlock()

	records, err := c.records.List(store.Filter{})
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Records:       records,
		Loading:       loading,
		ErrorText:     errText,
		CaptureState:  c.capture.State(),
		Elapsed:       c.capture.Elapsed(),
		Playback:      c.playback.Snapshot(),
		Transcription: c.transcriber.Snapshot(),
		UnsyncedCount: c.sync.UnsyncedCount(),
		Reachable:     c.sync.Reachable(),
	}, nil
}

// Records returns the record list, newest first.
func (c *Coordinator) Records() ([]models.Idea, error) {
	return c.records.List(store.Filter{})
}

// Record returns one record by id.
func (c *Coordinator) Record(id string) (*models.Idea, error) {
	return c.records.Get(id)
}

// StartRecording begins a capture session. This is also the target of the
// "begin recording now" deep-link action.
func (c *Coordinator) StartRecording(ctx context.Context) error {
	_, err := c.capture.Start(ctx)
	return c.noteError(err)
}

// StopRecording finalizes the capture session. A stop while idle is a
// benign no-op.
func (c *Coordinator) StopRecording() (capture.Result, error) {
	res, err := c.capture.Stop()
	if apperr.Benign(err) {
		return res, nil
	}
	return res, c.noteError(err)
}

// TogglePlayback plays, pauses, or resumes the record's artifact.
func (c *Coordinator) TogglePlayback(id string) error {
	return c.noteError(c.playback.Toggle(id))
}

// PausePlayback pauses if playing; no-op otherwise.
func (c *Coordinator) PausePlayback() { c.playback.Pause() }

// StopPlayback stops from any state.
func (c *Coordinator) StopPlayback() { c.playback.Stop() }

// SeekPlayback moves the playback position.
func (c *Coordinator) SeekPlayback(position float64) { c.playback.Seek(position) }

// Transcribe runs one transcription attempt for the record.
func (c *Coordinator) Transcribe(ctx context.Context, id string) (string, error) {
	text, err := c.transcriber.Transcribe(ctx, id)
	return text, c.noteError(err)
}

// TranscribeAll starts a batch over every untranscribed record. The batch
// runs in the background, detached from the caller's cancellation;
// progress arrives on the event bus.
func (c *Coordinator) TranscribeAll(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := c.transcriber.TranscribeAll(ctx); err != nil {
			_ = c.noteError(err)
		}
	}()
}

// CancelTranscription stops in-flight recognition.
func (c *Coordinator) CancelTranscription() { c.transcriber.Cancel() }

// Delete removes a record and its locally owned audio.
func (c *Coordinator) Delete(id string) error {
	err := c.records.Delete(id)
	if err == nil {
		c.broker.Publish(events.Event{Type: events.TypeRecordDeleted, Data: map[string]any{"id": id}})
	}
	return c.noteError(err)
}

// Refresh asks the peer to push anything we are missing and re-pushes our
// own unsynced records. The push outlives the caller's cancellation.
func (c *Coordinator) Refresh(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	c.sync.RequestSync(ctx)
	go c.sync.PushUnsynced(ctx)
}

// Glance returns the read-only companion summary.
func (c *Coordinator) Glance() (Glance, error) {
	records, err := c.records.List(store.Filter{})
	if err != nil {
		return Glance{}, err
	}
	g := Glance{RecordCount: len(records)}
	if len(records) > 0 {
		latest := records[0]
		g.LatestSnippet = latest.Snippet(80)
		g.LastActivity = latest.Timestamp
	}
	return g, nil
}

// ErrorText returns the current dismissible error message.
func (c *Coordinator) ErrorText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorText
}

// DismissError clears the current error message.
func (c *Coordinator) DismissError() {
	c.mu.Lock()
	c.errorText = ""
	c.mu.Unlock()
}

// noteError records a user-facing message for err and passes it through.
// Benign usage errors and nil are ignored.
func (c *Coordinator) noteError(err error) error {
	if err == nil || apperr.Benign(err) {
		return err
	}
	msg := formatError(err)
	c.mu.Lock()
	c.errorText = msg
	c.mu.Unlock()
	c.logger.Debug("coordinator: error surfaced", slog.String("message", msg))
	return err
}

// formatError maps the error taxonomy to one-line user messages.
func formatError(err error) string {
	var recErr *apperr.RecognitionError
	var persErr *apperr.PersistenceError
	switch {
	case errors.Is(err, apperr.ErrPermissionDenied):
		return "Permission denied. Enable access in system settings and try again."
	case errors.Is(err, apperr.ErrEngineUnavailable):
		return "Speech recognition is not available on this device right now."
	case errors.As(err, &recErr):
		return "Transcription failed. Tap the record to retry."
	case errors.As(err, &persErr):
		return "Could not save your changes. Please try again."
	case errors.Is(err, apperr.ErrNotFound):
		return "That idea no longer exists."
	default:
		return "Something went wrong: " + err.Error()
	}
}
