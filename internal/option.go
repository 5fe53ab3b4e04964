package internal

import (
	"github.com/voicebridge/voicebridge/internal/capture"
	"github.com/voicebridge/voicebridge/internal/permission"
	"github.com/voicebridge/voicebridge/internal/playback"
	"github.com/voicebridge/voicebridge/internal/transcribe"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config     *Config
	encoder    capture.Encoder
	device     playback.Device
	recognizer transcribe.Recognizer
	prompter   permission.Prompter
	mcpStdio   bool
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithEncoder overrides the capture encoder built from config.
func WithEncoder(enc capture.Encoder) Option {
	return func(a *application) {
		a.encoder = enc
	}
}

// WithPlaybackDevice overrides the playback device built from config.
func WithPlaybackDevice(dev playback.Device) Option {
	return func(a *application) {
		a.device = dev
	}
}

// WithRecognizer overrides the speech recognizer built from config.
func WithRecognizer(rec transcribe.Recognizer) Option {
	return func(a *application) {
		a.recognizer = rec
	}
}

// WithPrompter overrides the permission prompter built from config.
func WithPrompter(p permission.Prompter) Option {
	return func(a *application) {
		a.prompter = p
	}
}

// WithMCPStdio serves the MCP tool surface on stdin/stdout alongside the
// HTTP server.
func WithMCPStdio() Option {
	return func(a *application) {
		a.mcpStdio = true
	}
}
