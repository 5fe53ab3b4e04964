package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/voicebridge/voicebridge/internal/apperr"
)

// CommandRecognizer shells out to an on-device speech-to-text command
// (e.g. a whisper.cpp wrapper). The artifact path is appended to the
// configured arguments and the recognized text is read from stdout.
type CommandRecognizer struct {
	command string
	args    []string
}

// NewCommandRecognizer creates a recognizer for the given command. An
// empty command yields ErrEngineUnavailable on every attempt, matching a
// device class without recognition support.
func NewCommandRecognizer(command string, args ...string) *CommandRecognizer {
	return &CommandRecognizer{command: command, args: args}
}

// Recognize runs the command and returns its stdout as the final text.
// Cancellation kills the process.
func (r *CommandRecognizer) Recognize(ctx context.Context, audioPath string) (string, error) {
	if r.command == "" {
		return "", apperr.ErrEngineUnavailable
	}
	if _, err := exec.LookPath(r.command); err != nil {
		return "", fmt.Errorf("recognizer %s: %w", r.command, apperr.ErrEngineUnavailable)
	}

	args := append(append([]string{}, r.args...), audioPath)
	cmd := exec.CommandContext(ctx, r.command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("recognizer %s: %w (stderr: %s)", r.command, err, stderr.String())
	}
	return stdout.String(), nil
}
