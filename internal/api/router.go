package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/voicebridge/voicebridge/internal/artifact"
	"github.com/voicebridge/voicebridge/internal/coordinator"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(coord *coordinator.Coordinator, artifacts *artifact.Dir, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(coord)
	ah := NewAudioHandler(artifacts)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Ideas.
	r.Get("/ideas", h.ListIdeas)
	r.Get("/ideas/{id}", h.GetIdea)
	r.Delete("/ideas/{id}", h.DeleteIdea)
	r.Post("/ideas/{id}/play", h.Toggle)
	r.Post("/ideas/{id}/transcribe", h.Transcribe)

	// Recording (POST /record doubles as the deep-link action).
	r.Post("/record", h.StartRecording)
	r.Post("/record/stop", h.StopRecording)

	// Playback.
	r.Post("/playback/pause", h.PausePlayback)
	r.Post("/playback/stop", h.StopPlayback)
	r.Post("/playback/seek", h.SeekPlayback)

	// Transcription.
	r.Post("/transcribe", h.TranscribeAll)
	r.Post("/transcribe/cancel", h.CancelTranscription)

	// Sync + state.
	r.Post("/refresh", h.Refresh)
	r.Get("/state", h.State)
	r.Get("/glance", h.Glance)
	r.Post("/error/dismiss", h.DismissError)

	// Audio artifacts.
	r.Get("/audio/{filename}", ah.ServeFile)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
