package api

import (
	"time"

	"github.com/voicebridge/voicebridge/internal/models"
)

// IdeaItem is one record in API responses.
type IdeaItem struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Transcription string    `json:"transcription,omitempty"`
	Duration      float64   `json:"duration"`
	Synced        bool      `json:"synced"`
	HasAudio      bool      `json:"has_audio"`
	AudioURL      string    `json:"audio_url,omitempty"`
}

// IdeaListResponse wraps the record listing.
type IdeaListResponse struct {
	Ideas []IdeaItem `json:"ideas"`
	Total int        `json:"total"`
}

// RecordingResult is returned after a completed start/stop cycle.
type RecordingResult struct {
	RecordID string  `json:"record_id"`
	FileName string  `json:"file_name"`
	Duration float64 `json:"duration"`
}

func toItem(i models.Idea) IdeaItem {
	item := IdeaItem{
		ID:            i.ID,
		Timestamp:     i.Timestamp,
		Transcription: i.Transcription,
		Duration:      i.Duration,
		Synced:        i.Synced,
		HasAudio:      i.HasAudio(),
	}
	if i.AudioFileName != "" {
		item.AudioURL = "/api/audio/" + i.AudioFileName
	}
	return item
}

func toItems(ideas []models.Idea) []IdeaItem {
	out := make([]IdeaItem, len(ideas))
	for n, i := range ideas {
		out[n] = toItem(i)
	}
	return out
}
