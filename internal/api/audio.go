package api

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/voicebridge/voicebridge/internal/artifact"
)

// AudioHandler serves stored audio artifacts by file name.
type AudioHandler struct {
	artifacts *artifact.Dir
}

// NewAudioHandler creates a handler over the artifact directory.
func NewAudioHandler(artifacts *artifact.Dir) *AudioHandler {
	return &AudioHandler{artifacts: artifacts}
}

// ServeFile handles GET /api/audio/{filename}. Name validation (no path
// separators, no traversal) happens inside the artifact directory.
func (h *AudioHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	abs, err := h.artifacts.Path(filename)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid file name"))
		return
	}
	if _, statErr := os.Stat(abs); os.IsNotExist(statErr) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, abs)
}
