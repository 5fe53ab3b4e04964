// Package syncer maintains eventual consistency of the idea record set
// between the two devices. It pushes unsynced records when the link is
// reachable, merges peer pushes idempotently, associates deferred file
// transfers, and triggers transcription for audio arriving without text.
//
// Sync is a background concern: every failure here is logged, never
// surfaced to the interactive layer. Reachability transitions are the
// sole retry trigger.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/voicebridge/voicebridge/internal/apperr"
	"github.com/voicebridge/voicebridge/internal/artifact"
	"github.com/voicebridge/voicebridge/internal/events"
	"github.com/voicebridge/voicebridge/internal/link"
	"github.com/voicebridge/voicebridge/internal/models"
	"github.com/voicebridge/voicebridge/internal/store"
	"github.com/voicebridge/voicebridge/internal/transcribe"
)

// Manager is one device's side of the sync protocol. Roles are symmetric;
// both devices run the same manager.
type Manager struct {
	records     store.RecordStore
	artifacts   *artifact.Dir
	transcriber *transcribe.Engine
	broker      *events.Broker
	logger      *slog.Logger

	mu      sync.Mutex
	session link.Session
	ctx     context.Context

	pushMu sync.Mutex // one push sweep at a time
}

// NewManager creates a sync manager. Bind a session via Start before use.
func NewManager(records store.RecordStore, artifacts *artifact.Dir, transcriber *transcribe.Engine, broker *events.Broker, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		records:     records,
		artifacts:   artifacts,
		transcriber: transcriber,
		broker:      broker,
		logger:      logger,
	}
}

// Handler returns the link callbacks to register when constructing the
// session. Callbacks arrive serially from the link's read loop, which
// gives merge-before-transcribe ordering per file for free.
func (m *Manager) Handler() link.Handler {
	return link.Handler{
		OnMessage:   m.handleMessage,
		OnFile:      m.handleFile,
		OnReachable: m.handleReachability,
	}
}

// Start binds the session and activates it. The session reactivates
// itself on deactivation; Start is called once at startup.
func (m *Manager) Start(ctx context.Context, session link.Session) error {
	m.mu.Lock()
	m.session = session
	m.ctx = ctx
	m.mu.Unlock()
	return session.Activate(ctx)
}

func (m *Manager) currentSession() (link.Session, context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, m.ctx
}

func (m *Manager) handleReachability(reachable bool) {
	m.broker.Publish(events.Event{Type: events.TypeLinkReachable, Data: map[string]any{
		"reachable": reachable,
	}})
	if !reachable {
		return
	}
	_, ctx := m.currentSession()
	go m.PushUnsynced(ctx)
}

// PushUnsynced sends metadata for every unsynced completed record, one
// message per record, and enqueues the matching file transfers. A record
// becomes synced only on a successful ack; anything else leaves it
// unsynced for the next reachability-triggered sweep.
func (m *Manager) PushUnsynced(ctx context.Context) {
	m.pushMu.Lock()
	defer m.pushMu.Unlock()

	session, _ := m.currentSession()
	if session == nil {
		return
	}

	ideas, err := m.records.FindUnsynced()
	if err != nil {
		m.logger.Warn("sync: list unsynced failed", slog.String("error", err.Error()))
		return
	}
	if len(ideas) == 0 {
		return
	}

	pushed := 0
	for i := range ideas {
		if ctx != nil && ctx.Err() != nil {
			break
		}
		if !m.pushOne(ctx, session, &ideas[i]) {
			// Link dropped mid-sweep; the rest waits for the next
			// reachability event.
			break
		}
		pushed++
	}

	if pushed > 0 {
		if err := session.Notify(link.Message{Type: link.MsgSyncComplete}); err != nil {
			m.logger.Debug("sync: syncComplete notify failed", slog.String("error", err.Error()))
		}
	}
	m.publishSyncState()
}

// pushOne pushes one record's metadata and audio. Returns false when the
// link looks gone and the sweep should stop.
func (m *Manager) pushOne(ctx context.Context, session link.Session, idea *models.Idea) bool {
	payload := link.IdeaPayload{
		ID:            idea.ID,
		Timestamp:     idea.Timestamp,
		Transcription: idea.Transcription,
		Duration:      idea.Duration,
		IsRecording:   idea.Recording,
		AudioFileName: idea.AudioFileName,
	}
	msg, err := link.NewMessage(link.MsgNewIdea, payload)
	if err != nil {
		m.logger.Warn("sync: build message failed", slog.String("id", idea.ID), slog.String("error", err.Error()))
		return true
	}

	ack, err := session.Send(ctx, msg)
	if err != nil {
		m.logger.Info("sync: push failed, will retry on reachability",
			slog.String("id", idea.ID), slog.String("error", err.Error()))
		return false
	}

	if ack.Success {
		if _, err := m.records.Update(idea.ID, func(i *models.Idea) error {
			i.Synced = true
			return nil
		}); err != nil {
			m.logger.Warn("sync: mark synced failed", slog.String("id", idea.ID), slog.String("error", err.Error()))
		} else {
			m.broker.Publish(events.Event{Type: events.TypeRecordUpdated, Data: map[string]any{"id": idea.ID}})
		}
	} else {
		m.logger.Warn("sync: peer rejected record",
			slog.String("id", idea.ID), slog.String("error", ack.Error))
	}

	// File transfer rides independently of the metadata ack; it may land
	// before, after, or never relative to the message.
	m.transferAudio(ctx, session, idea)
	return true
}

func (m *Manager) transferAudio(ctx context.Context, session link.Session, idea *models.Idea) {
	if !idea.HasAudio() {
		return
	}
	path, err := m.records.ResolveAudio(idea.ID)
	if err != nil {
		m.logger.Warn("sync: resolve audio failed", slog.String("id", idea.ID), slog.String("error", err.Error()))
		return
	}
	name := idea.AudioFileName
	if name == "" {
		// ResolveAudio flushed inline bytes and assigned a name.
		if fresh, gerr := m.records.Get(idea.ID); gerr == nil {
			name = fresh.AudioFileName
		}
	}
	header := link.FileHeader{RecordID: idea.ID, FileName: name}
	if err := session.TransferFile(ctx, header, path); err != nil {
		m.logger.Info("sync: file transfer failed",
			slog.String("id", idea.ID), slog.String("error", err.Error()))
	}
}

func (m *Manager) handleMessage(msg link.Message) *link.Message {
	switch msg.Type {
	case link.MsgNewIdea:
		var payload link.IdeaPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			m.logger.Warn("sync: bad newIdea payload", slog.String("error", err.Error()))
			reply := link.AckFor(msg, link.AckPayload{Success: false, Error: "bad payload"})
			return &reply
		}
		if err := m.merge(payload); err != nil {
			m.logger.Warn("sync: merge failed", slog.String("id", payload.ID), slog.String("error", err.Error()))
			reply := link.AckFor(msg, link.AckPayload{Success: false, Error: err.Error()})
			return &reply
		}
		reply := link.AckFor(msg, link.AckPayload{Success: true})
		return &reply

	case link.MsgSyncRequest:
		_, ctx := m.currentSession()
		go m.PushUnsynced(ctx)
		reply := link.AckFor(msg, link.AckPayload{Success: true})
		return &reply

	case link.MsgRequestFullSync:
		_, ctx := m.currentSession()
		go m.pushAll(ctx)
		reply := link.AckFor(msg, link.AckPayload{Success: true})
		return &reply

	case link.MsgSyncComplete:
		m.logger.Debug("sync: peer finished pushing")
		m.publishSyncState()
		return nil

	default:
		m.logger.Warn("sync: unknown message type", slog.String("type", msg.Type))
		return nil
	}
}

// merge applies a peer-pushed record idempotently: an unknown id becomes
// a new local record born synced (it already reached both devices); a
// known id is a field-level update, never a duplicate insert.
func (m *Manager) merge(payload link.IdeaPayload) error {
	if payload.ID == "" {
		return errors.New("sync: record id is required")
	}
	if payload.IsRecording {
		// In-progress records are never eligible for sync; refuse them.
		return errors.New("sync: record still recording")
	}

	existing, err := m.records.Get(payload.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		idea := &models.Idea{
			ID:            payload.ID,
			Timestamp:     payload.Timestamp,
			Transcription: payload.Transcription,
			Duration:      payload.Duration,
			Synced:        true,
		}
		if err := m.records.Create(idea); err != nil {
			return err
		}
		m.logger.Info("sync: record received", slog.String("id", payload.ID))
		m.broker.Publish(events.Event{Type: events.TypeRecordCreated, Data: map[string]any{"id": payload.ID}})
		m.publishSyncState()
		return nil
	}
	if err != nil {
		return err
	}

	_, err = m.records.Update(existing.ID, func(i *models.Idea) error {
		if !i.TranscriptionFinal() && payload.Transcription != "" {
			i.Transcription = payload.Transcription
		}
		if i.Duration == 0 && payload.Duration > 0 {
			i.Duration = payload.Duration
		}
		i.Synced = true
		return nil
	})
	if err != nil {
		return err
	}
	m.broker.Publish(events.Event{Type: events.TypeRecordUpdated, Data: map[string]any{"id": payload.ID}})
	return nil
}

// handleFile lands a completed transfer: the spooled payload moves into
// permanent artifact storage, the record gains its audio reference, and —
// when no final transcription exists yet — a transcription attempt starts
// on the newly arrived audio. Metadata must precede its file; an orphaned
// arrival is a logged error and the spool is discarded.
func (m *Manager) handleFile(header link.FileHeader, spoolPath string) {
	idea, err := m.records.Get(header.RecordID)
	if errors.Is(err, apperr.ErrNotFound) {
		m.logger.Error("sync: file arrived for unknown record",
			slog.String("id", header.RecordID), slog.String("file", header.FileName))
		_ = os.Remove(spoolPath)
		return
	}
	if err != nil {
		m.logger.Warn("sync: file lookup failed", slog.String("id", header.RecordID), slog.String("error", err.Error()))
		_ = os.Remove(spoolPath)
		return
	}

	if err := m.artifacts.MoveIn(spoolPath, header.FileName); err != nil {
		m.logger.Warn("sync: store transferred file failed",
			slog.String("id", header.RecordID), slog.String("error", err.Error()))
		_ = os.Remove(spoolPath)
		return
	}

	if _, err := m.records.Update(idea.ID, func(i *models.Idea) error {
		i.AudioFileName = header.FileName
		i.AudioData = nil
		return nil
	}); err != nil {
		m.logger.Warn("sync: attach audio failed", slog.String("id", idea.ID), slog.String("error", err.Error()))
		return
	}

	m.logger.Info("sync: audio received", slog.String("id", idea.ID), slog.String("file", header.FileName))
	m.broker.Publish(events.Event{Type: events.TypeRecordUpdated, Data: map[string]any{"id": idea.ID}})

	if !idea.TranscriptionFinal() {
		_, ctx := m.currentSession()
		if ctx == nil {
			ctx = context.Background()
		}
		go func() {
			if _, err := m.transcriber.Transcribe(ctx, idea.ID); err != nil {
				m.logger.Warn("sync: transcription on arrival failed",
					slog.String("id", idea.ID), slog.String("error", err.Error()))
			}
		}()
	}
}

// pushAll re-sends every completed record regardless of its synced flag,
// answering a peer's requestFullSync (e.g. after it was wiped).
func (m *Manager) pushAll(ctx context.Context) {
	m.pushMu.Lock()
	defer m.pushMu.Unlock()

	session, _ := m.currentSession()
	if session == nil {
		return
	}

	ideas, err := m.records.List(store.Filter{})
	if err != nil {
		m.logger.Warn("sync: full sync list failed", slog.String("error", err.Error()))
		return
	}
	for i := range ideas {
		if ideas[i].Recording {
			continue
		}
		if !m.pushOne(ctx, session, &ideas[i]) {
			break
		}
	}
	if err := session.Notify(link.Message{Type: link.MsgSyncComplete}); err != nil {
		m.logger.Debug("sync: syncComplete notify failed", slog.String("error", err.Error()))
	}
}

// RequestSync asks the peer to push its unsynced records to us.
func (m *Manager) RequestSync(ctx context.Context) {
	session, _ := m.currentSession()
	if session == nil || !session.Reachable() {
		return
	}
	if _, err := session.Send(ctx, link.Message{Type: link.MsgSyncRequest}); err != nil {
		m.logger.Debug("sync: syncRequest failed", slog.String("error", err.Error()))
	}
}

func (m *Manager) publishSyncState() {
	unsynced, err := m.records.FindUnsynced()
	if err != nil {
		return
	}
	session, _ := m.currentSession()
	reachable := session != nil && session.Reachable()
	m.broker.Publish(events.Event{Type: events.TypeSyncState, Data: map[string]any{
		"unsynced":  len(unsynced),
		"reachable": reachable,
	}})
}

// UnsyncedCount reports how many records still await peer acknowledgment.
func (m *Manager) UnsyncedCount() int {
	unsynced, err := m.records.FindUnsynced()
	if err != nil {
		return 0
	}
	return len(unsynced)
}

// Reachable reports the current link reachability.
func (m *Manager) Reachable() bool {
	session, _ := m.currentSession()
	return session != nil && session.Reachable()
}
