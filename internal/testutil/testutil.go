// Package testutil provides shared test helpers for setting up stores and audio directories.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/voicebridge/voicebridge/internal/artifact"
	"github.com/voicebridge/voicebridge/internal/store"
)

// Logger returns a logger that discards all output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestArtifacts creates a temporary audio artifact directory that is
// automatically cleaned up.
func TestArtifacts(t *testing.T) *artifact.Dir {
	t.Helper()
	dir, err := artifact.NewDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

// TestStore creates a temporary SQLite record store backed by a temporary
// audio directory, both cleaned up automatically.
func TestStore(t *testing.T) (*store.Store, *artifact.Dir) {
	t.Helper()
	artifacts := TestArtifacts(t)

	dbFile, err := os.CreateTemp("", "voicebridge-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	s, err := store.Open(dbFile.Name(), artifacts, Logger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, artifacts
}
