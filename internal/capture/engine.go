// Package capture implements the audio capture engine: a single-session
// state machine that writes an encoded artifact and persists exactly one
// idea record per successful start/stop cycle.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicebridge/voicebridge/internal/apperr"
	"github.com/voicebridge/voicebridge/internal/artifact"
	"github.com/voicebridge/voicebridge/internal/events"
	"github.com/voicebridge/voicebridge/internal/models"
	"github.com/voicebridge/voicebridge/internal/permission"
	"github.com/voicebridge/voicebridge/internal/store"
)

// State of the capture engine.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
)

// Encoder is the opaque platform capture driver. Start begins writing an
// encoded artifact at path; Stop finalizes it. Stop must release the
// microphone before returning.
type Encoder interface {
	Start(path string) error
	Stop() error
}

// Result describes a completed recording.
type Result struct {
	RecordID string
	FileName string
	Duration float64
}

// Engine owns the microphone session. Only one recording may be active at
// a time; a start while recording is a no-op, not an error.
type Engine struct {
	enc       Encoder
	auth      *permission.Authority
	records   store.RecordStore
	artifacts *artifact.Dir
	broker    *events.Broker
	logger    *slog.Logger

	mu        sync.Mutex
	state     State
	recordID  string
	fileName  string
	startedAt time.Time
	elapsed   float64
	stopTick  chan struct{}
	tickDone  chan struct{}
}

// NewEngine creates an idle capture engine.
func NewEngine(enc Encoder, auth *permission.Authority, records store.RecordStore, artifacts *artifact.Dir, broker *events.Broker, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		enc:       enc,
		auth:      auth,
		records:   records,
		artifacts: artifacts,
		broker:    broker,
		logger:    logger,
		state:     StateIdle,
	}
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Elapsed returns the seconds recorded so far in the active session.
func (e *Engine) Elapsed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.elapsed
}

// Start begins a recording session. If a session is already active it
// returns the current state without error. Microphone permission is
// requested on first use and a refusal fails with ErrPermissionDenied.
func (e *Engine) Start(ctx context.Context) (State, error) {
	e.mu.Lock()
	if e.state == StateRecording {
		e.mu.Unlock()
		return StateRecording, nil
	}
	e.mu.Unlock()

	status, err := e.auth.Request(ctx, permission.Microphone)
	if err != nil {
		return StateIdle, err
	}
	if status != permission.Granted {
		return StateIdle, fmt.Errorf("capture: microphone: %w", apperr.ErrPermissionDenied)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateRecording {
		return StateRecording, nil
	}

	name := artifact.NewName()
	path, err := e.artifacts.Path(name)
	if err != nil {
		return StateIdle, err
	}
	if err := e.enc.Start(path); err != nil {
		return StateIdle, fmt.Errorf("capture: start encoder: %w", err)
	}

	idea := &models.Idea{
		ID:            uuid.New().String(),
		Timestamp:     time.Now(),
		AudioFileName: name,
		Recording:     true,
	}
	if err := e.records.Create(idea); err != nil {
		_ = e.enc.Stop()
		return StateIdle, err
	}

	e.state = StateRecording
	e.recordID = idea.ID
	e.fileName = name
	e.startedAt = time.Now()
	e.elapsed = 0
	e.stopTick = make(chan struct{})
	e.tickDone = make(chan struct{})
	go e.trackDuration(e.stopTick, e.tickDone)

	e.logger.Info("capture: recording started",
		slog.String("id", idea.ID), slog.String("file", name))
	e.broker.Publish(events.Event{Type: events.TypeCaptureState, Data: map[string]any{
		"state": StateRecording, "id": idea.ID,
	}})
	return StateRecording, nil
}

// trackDuration updates elapsed time at a fixed cadence until stopped.
// The cadence is not a contract; monotonic increase is.
func (e *Engine) trackDuration(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			e.elapsed = time.Since(e.startedAt).Seconds()
			elapsed := e.elapsed
			e.mu.Unlock()
			e.broker.Publish(events.Event{Type: events.TypeCaptureState, Data: map[string]any{
				"state": StateRecording, "elapsed": elapsed,
			}})
		}
	}
}

// Stop finalizes the active session: the encoder releases the microphone,
// duration tracking halts, and the provisional record becomes a completed
// one carrying the pending-transcription placeholder. Fails with
// ErrNotRecording when no session is active.
func (e *Engine) Stop() (Result, error) {
	e.mu.Lock()
	if e.state != StateRecording {
		e.mu.Unlock()
		return Result{}, apperr.ErrNotRecording
	}
	close(e.stopTick)
	duration := time.Since(e.startedAt).Seconds()
	recordID, fileName := e.recordID, e.fileName
	tickDone := e.tickDone
	e.state = StateIdle
	e.recordID, e.fileName = "", ""
	e.mu.Unlock()

	<-tickDone

	encErr := e.enc.Stop()

	_, err := e.records.Update(recordID, func(i *models.Idea) error {
		i.Duration = duration
		i.Recording = false
		if i.Transcription == "" {
			i.Transcription = models.TranscriptionPending
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if encErr != nil {
		// The session is over and the record exists; a finalize error only
		// means the artifact may be truncated.
		e.logger.Warn("capture: encoder stop failed",
			slog.String("id", recordID), slog.String("error", encErr.Error()))
	}

	e.logger.Info("capture: recording stopped",
		slog.String("id", recordID), slog.Float64("duration", duration))
	e.broker.Publish(events.Event{Type: events.TypeCaptureState, Data: map[string]any{
		"state": StateIdle,
	}})
	e.broker.Publish(events.Event{Type: events.TypeRecordCreated, Data: map[string]any{
		"id": recordID,
	}})

	return Result{RecordID: recordID, FileName: fileName, Duration: duration}, nil
}
