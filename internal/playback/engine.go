// Package playback implements the audio playback engine state machine:
// stopped → playing ⇄ paused → stopped, with stop reachable from any state
// and natural completion when the clock passes the artifact duration.
package playback

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voicebridge/voicebridge/internal/events"
	"github.com/voicebridge/voicebridge/internal/store"
)

// State of the playback engine.
type State string

const (
	StateStopped State = "stopped"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// Device is the opaque platform playback driver. Start begins playing the
// artifact at path; Stop must release the output session before returning.
type Device interface {
	Start(path string) error
	Pause() error
	Resume() error
	Stop() error
}

// Progress is a snapshot of the current playback position.
type Progress struct {
	RecordID string  `json:"record_id,omitempty"`
	State    State   `json:"state"`
	Position float64 `json:"position"`
	Duration float64 `json:"duration"`
}

// Engine plays one artifact at a time.
type Engine struct {
	device  Device
	records store.RecordStore
	broker  *events.Broker
	logger  *slog.Logger

	mu        sync.Mutex
	state     State
	currentID string
	duration  float64
	position  float64
	stopTick  chan struct{}
}

// NewEngine creates a stopped playback engine.
func NewEngine(device Device, records store.RecordStore, broker *events.Broker, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		device:  device,
		records: records,
		broker:  broker,
		logger:  logger,
		state:   StateStopped,
	}
}

// Snapshot returns the current progress state.
func (e *Engine) Snapshot() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Progress{RecordID: e.currentID, State: e.state, Position: e.position, Duration: e.duration}
}

// Play stops any current playback, resolves the record's artifact, and
// starts playing it from the beginning. A decode failure leaves the engine
// stopped with progress cleared.
func (e *Engine) Play(recordID string) error {
	e.Stop()

	idea, err := e.records.Get(recordID)
	if err != nil {
		return err
	}
	path, err := e.records.ResolveAudio(recordID)
	if err != nil {
		return fmt.Errorf("playback: resolve audio: %w", err)
	}

	if err := e.device.Start(path); err != nil {
		e.clear()
		return fmt.Errorf("playback: start: %w", err)
	}

	e.mu.Lock()
	e.state = StatePlaying
	e.currentID = recordID
	e.duration = idea.Duration
	e.position = 0
	e.stopTick = make(chan struct{})
	stop := e.stopTick
	e.mu.Unlock()

	go e.trackProgress(stop)

	e.logger.Debug("playback: started", slog.String("id", recordID))
	e.publishState()
	return nil
}

// Pause pauses playback. A no-op unless currently playing.
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.state != StatePlaying {
		e.mu.Unlock()
		return
	}
	e.state = StatePaused
	e.mu.Unlock()

	if err := e.device.Pause(); err != nil {
		e.logger.Warn("playback: pause failed", slog.String("error", err.Error()))
	}
	e.publishState()
}

// Resume resumes playback. A no-op unless currently paused.
func (e *Engine) Resume() {
	e.mu.Lock()
	if e.state != StatePaused {
		e.mu.Unlock()
		return
	}
	e.state = StatePlaying
	e.mu.Unlock()

	if err := e.device.Resume(); err != nil {
		e.logger.Warn("playback: resume failed", slog.String("error", err.Error()))
	}
	e.publishState()
}

// Toggle plays recordID if it is not the active artifact, pauses it if it
// is currently playing, and resumes it if it is currently paused.
func (e *Engine) Toggle(recordID string) error {
	e.mu.Lock()
	sameActive := e.currentID == recordID && e.state != StateStopped
	state := e.state
	e.mu.Unlock()

	if !sameActive {
		return e.Play(recordID)
	}
	if state == StatePlaying {
		e.Pause()
	} else {
		e.Resume()
	}
	return nil
}

// Seek moves the playback clock. Positions outside [0, duration] clamp.
func (e *Engine) Seek(position float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateStopped {
		return
	}
	if position < 0 {
		position = 0
	}
	if e.duration > 0 && position > e.duration {
		position = e.duration
	}
	e.position = position
}

// Stop halts playback from any state and clears progress. The output
// session is released before Stop returns.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state == StateStopped {
		e.mu.Unlock()
		return
	}
	// Transition and close together, so a concurrent Stop observes
	// stopped instead of closing stopTick a second time.
	close(e.stopTick)
	e.state = StateStopped
	e.currentID = ""
	e.duration = 0
	e.position = 0
	e.stopTick = nil
	e.mu.Unlock()

	if err := e.device.Stop(); err != nil {
		e.logger.Warn("playback: stop failed", slog.String("error", err.Error()))
	}
	e.publishState()
}

func (e *Engine) clear() {
	e.mu.Lock()
	e.state = StateStopped
	e.currentID = ""
	e.duration = 0
	e.position = 0
	e.stopTick = nil
	e.mu.Unlock()
}

// trackProgress advances the playback clock while playing and detects
// natural end-of-playback.
func (e *Engine) trackProgress(stop chan struct{}) {
	const tick = 200 * time.Millisecond
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			if e.state == StatePlaying {
				e.position += tick.Seconds()
			}
			finished := e.duration > 0 && e.position >= e.duration
			snap := Progress{RecordID: e.currentID, State: e.state, Position: e.position, Duration: e.duration}
			e.mu.Unlock()

			e.broker.Publish(events.Event{Type: events.TypePlaybackProgress, Data: snap})

			if finished {
				e.Stop()
				return
			}
		}
	}
}

func (e *Engine) publishState() {
	e.broker.Publish(events.Event{Type: events.TypePlaybackState, Data: e.Snapshot()})
}
