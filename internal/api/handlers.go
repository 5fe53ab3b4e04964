package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/voicebridge/voicebridge/internal/apperr"
	"github.com/voicebridge/voicebridge/internal/coordinator"
)

// Handler holds API route handlers. All routes delegate to the
// coordinator; presentation never reaches the engines directly.
type Handler struct {
	coord *coordinator.Coordinator
}

// NewHandler creates a new Handler.
func NewHandler(coord *coordinator.Coordinator) *Handler {
	return &Handler{coord: coord}
}

// ListIdeas handles GET /api/ideas.
func (h *Handler) ListIdeas(w http.ResponseWriter, r *http.Request) {
	records, err := h.coord.Records()
	if err != nil {
		slog.Error("list ideas failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, IdeaListResponse{Ideas: toItems(records), Total: len(records)})
}

// GetIdea handles GET /api/ideas/{id}.
func (h *Handler) GetIdea(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	idea, err := h.coord.Record(id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get idea failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, toItem(*idea))
}

// DeleteIdea handles DELETE /api/ideas/{id}. Removing a record also
// removes its locally owned artifact.
func (h *Handler) DeleteIdea(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.coord.Delete(id); err != nil {
		slog.Error("delete idea failed", slog.String("id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StartRecording handles POST /api/record. This is the deep-link entry:
// "begin recording now".
func (h *Handler) StartRecording(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.StartRecording(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, apperr.ErrPermissionDenied) {
			status = http.StatusForbidden
		}
		writeJSON(w, status, errorBody(h.coord.ErrorText()))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"state": "recording"})
}

// StopRecording handles POST /api/record/stop.
func (h *Handler) StopRecording(w http.ResponseWriter, r *http.Request) {
	res, err := h.coord.StopRecording()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody(h.coord.ErrorText()))
		return
	}
	writeJSON(w, http.StatusOK, RecordingResult{
		RecordID: res.RecordID,
		FileName: res.FileName,
		Duration: res.Duration,
	})
}

// Toggle handles POST /api/ideas/{id}/play.
func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.coord.TogglePlayback(id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody(h.coord.ErrorText()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": "ok"})
}

// PausePlayback handles POST /api/playback/pause.
func (h *Handler) PausePlayback(w http.ResponseWriter, _ *http.Request) {
	h.coord.PausePlayback()
	w.WriteHeader(http.StatusNoContent)
}

// StopPlayback handles POST /api/playback/stop.
func (h *Handler) StopPlayback(w http.ResponseWriter, _ *http.Request) {
	h.coord.StopPlayback()
	w.WriteHeader(http.StatusNoContent)
}

// SeekPlayback handles POST /api/playback/seek?position=SECONDS.
func (h *Handler) SeekPlayback(w http.ResponseWriter, r *http.Request) {
	pos, err := strconv.ParseFloat(r.URL.Query().Get("position"), 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("position is required"))
		return
	}
	h.coord.SeekPlayback(pos)
	w.WriteHeader(http.StatusNoContent)
}

// Transcribe handles POST /api/ideas/{id}/transcribe.
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	text, err := h.coord.Transcribe(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrPermissionDenied):
			writeJSON(w, http.StatusForbidden, errorBody(h.coord.ErrorText()))
		case errors.Is(err, apperr.ErrEngineUnavailable):
			writeJSON(w, http.StatusServiceUnavailable, errorBody(h.coord.ErrorText()))
		default:
			writeJSON(w, http.StatusInternalServerError, errorBody(h.coord.ErrorText()))
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transcription": text})
}

// TranscribeAll handles POST /api/transcribe. The batch runs in the
// background; progress is published on /api/events.
func (h *Handler) TranscribeAll(w http.ResponseWriter, r *http.Request) {
	h.coord.TranscribeAll(r.Context())
	w.WriteHeader(http.StatusAccepted)
}

// CancelTranscription handles POST /api/transcribe/cancel.
func (h *Handler) CancelTranscription(w http.ResponseWriter, _ *http.Request) {
	h.coord.CancelTranscription()
	w.WriteHeader(http.StatusNoContent)
}

// Refresh handles POST /api/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.coord.Refresh(r.Context())
	w.WriteHeader(http.StatusAccepted)
}

// Glance handles GET /api/glance: the read-only companion summary.
func (h *Handler) Glance(w http.ResponseWriter, _ *http.Request) {
	g, err := h.coord.Glance()
	if err != nil {
		slog.Error("glance failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// State handles GET /api/state: the full coordinator snapshot.
func (h *Handler) State(w http.ResponseWriter, _ *http.Request) {
	snap, err := h.coord.Snapshot()
	if err != nil {
		slog.Error("snapshot failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// DismissError handles POST /api/error/dismiss.
func (h *Handler) DismissError(w http.ResponseWriter, _ *http.Request) {
	h.coord.DismissError()
	w.WriteHeader(http.StatusNoContent)
}
