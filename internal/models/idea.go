// Package models defines the domain types for Voicebridge.
package models

import "time"

// Transcription sentinels. A record's transcription moves from absent ("")
// to TranscriptionPending once audio exists, and from there to either the
// recognized text, NoSpeechDetected, or TranscriptionFailed. It never
// moves back to absent.
const (
	TranscriptionPending = "Transcription in progress…"
	TranscriptionFailed  = "Transcription failed"
	NoSpeechDetected     = "No speech detected"
)

// Idea represents one captured voice idea. ID is the merge key across
// devices and never changes after creation.
type Idea struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	AudioFileName string    `json:"audio_file_name,omitempty"`
	AudioData     []byte    `json:"-"`
	Transcription string    `json:"transcription,omitempty"`
	Duration      float64   `json:"duration"`
	Recording     bool      `json:"recording"`
	Synced        bool      `json:"synced"`
}

// HasAudio reports whether the record resolves to a playable artifact,
// either on disk or as inline bytes not yet flushed.
func (i *Idea) HasAudio() bool {
	return i.AudioFileName != "" || len(i.AudioData) > 0
}

// TranscriptionFinal reports whether the transcription field holds a
// terminal value: recognized text or the no-speech sentinel. Pending and
// failed placeholders are not final.
func (i *Idea) TranscriptionFinal() bool {
	switch i.Transcription {
	case "", TranscriptionPending, TranscriptionFailed:
		return false
	}
	return true
}

// NeedsTranscription reports whether batch transcription should pick this
// record up: it has audio and its text is absent or still the in-progress
// placeholder. A failed attempt is retried only by explicit user action.
func (i *Idea) NeedsTranscription() bool {
	if !i.HasAudio() || i.Recording {
		return false
	}
	return i.Transcription == "" || i.Transcription == TranscriptionPending
}

// Snippet returns a short preview of the transcription for glanceable
// surfaces, truncated to max runes.
func (i *Idea) Snippet(max int) string {
	r := []rune(i.Transcription)
	if len(r) <= max {
		return i.Transcription
	}
	return string(r[:max]) + "…"
}
