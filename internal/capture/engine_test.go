package capture

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/voicebridge/voicebridge/internal/apperr"
	"github.com/voicebridge/voicebridge/internal/models"
	"github.com/voicebridge/voicebridge/internal/permission"
	"github.com/voicebridge/voicebridge/internal/store"
	"github.com/voicebridge/voicebridge/internal/testutil"
)

type fakeEncoder struct {
	startErr error
	stopErr  error
	starts   int
	stops    int
	path     string
}

func (f *fakeEncoder) Start(path string) error {
	f.starts++
	f.path = path
	return f.startErr
}

func (f *fakeEncoder) Stop() error {
	f.stops++
	return f.stopErr
}

func testAuthority(t *testing.T, answer permission.Status) *permission.Authority {
	t.Helper()
	a, err := permission.NewAuthority(t.TempDir()+"/grants.json", permission.StaticPrompter(answer))
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func testEngine(t *testing.T, enc Encoder, answer permission.Status) (*Engine, *store.Store) {
	t.Helper()
	s, artifacts := testutil.TestStore(t)
	e := NewEngine(enc, testAuthority(t, answer), s, artifacts, nil, testutil.Logger())
	return e, s
}

func TestStartStopCreatesOneRecord(t *testing.T) {
	enc := &fakeEncoder{}
	e, s := testEngine(t, enc, permission.Granted)

	state, err := e.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if state != StateRecording {
		t.Fatalf("state = %v, want recording", state)
	}
	if enc.starts != 1 {
		t.Fatalf("encoder starts = %d, want 1", enc.starts)
	}

	// The provisional record exists while recording but is excluded from sync.
	ideas, err := s.FindUnsynced()
	if err != nil {
		t.Fatal(err)
	}
	if len(ideas) != 0 {
		t.Errorf("provisional record visible to sync: %d", len(ideas))
	}

	time.Sleep(20 * time.Millisecond)
	res, err := e.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if enc.stops != 1 {
		t.Fatalf("encoder stops = %d, want 1", enc.stops)
	}
	if res.Duration <= 0 {
		t.Errorf("duration = %v, want > 0", res.Duration)
	}

	n, _ := s.Count()
	if n != 1 {
		t.Fatalf("record count = %d, want 1", n)
	}
	got, err := s.Get(res.RecordID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Recording {
		t.Error("record still flagged recording after stop")
	}
	if got.Transcription != models.TranscriptionPending {
		t.Errorf("transcription = %q, want pending placeholder", got.Transcription)
	}
	if got.AudioFileName != res.FileName {
		t.Errorf("file = %q, want %q", got.AudioFileName, res.FileName)
	}
}

func TestStartWhileRecordingIsNoop(t *testing.T) {
	enc := &fakeEncoder{}
	e, s := testEngine(t, enc, permission.Granted)

	if _, err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	state, err := e.Start(context.Background())
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if state != StateRecording {
		t.Errorf("state = %v, want recording", state)
	}
	if enc.starts != 1 {
		t.Errorf("encoder starts = %d, want 1", enc.starts)
	}
	if _, err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	n, _ := s.Count()
	if n != 1 {
		t.Errorf("record count = %d, want 1", n)
	}
}

func TestStopWhileIdle(t *testing.T) {
	e, _ := testEngine(t, &fakeEncoder{}, permission.Granted)
	if _, err := e.Stop(); !errors.Is(err, apperr.ErrNotRecording) {
		t.Fatalf("err = %v, want ErrNotRecording", err)
	}
}

func TestStartDeniedPermission(t *testing.T) {
	enc := &fakeEncoder{}
	e, s := testEngine(t, enc, permission.Denied)

	_, err := e.Start(context.Background())
	if !errors.Is(err, apperr.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if enc.starts != 0 {
		t.Errorf("encoder started despite denial")
	}
	n, _ := s.Count()
	if n != 0 {
		t.Errorf("record created despite denial")
	}
}

func TestStartEncoderFailure(t *testing.T) {
	enc := &fakeEncoder{startErr: errors.New("device busy")}
	e, s := testEngine(t, enc, permission.Granted)

	if _, err := e.Start(context.Background()); err == nil {
		t.Fatal("expected error from encoder start")
	}
	if e.State() != StateIdle {
		t.Errorf("state = %v, want idle", e.State())
	}
	n, _ := s.Count()
	if n != 0 {
		t.Errorf("record created despite encoder failure")
	}
}

func TestStopEncoderFailureKeepsRecord(t *testing.T) {
	enc := &fakeEncoder{stopErr: errors.New("flush failed")}
	e, s := testEngine(t, enc, permission.Granted)

	if _, err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	res, err := e.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := s.Get(res.RecordID); err != nil {
		t.Errorf("record missing after encoder stop failure: %v", err)
	}
}

func TestElapsedAdvances(t *testing.T) {
	e, _ := testEngine(t, &fakeEncoder{}, permission.Granted)
	if _, err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(250 * time.Millisecond)
	if e.Elapsed() <= 0 {
		t.Error("elapsed did not advance")
	}
	if _, err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestDeviceEncoderWritesArtifact(t *testing.T) {
	src := t.TempDir() + "/source"
	if err := os.WriteFile(src, make([]byte, 1024), 0o644); err != nil {
		t.Fatal(err)
	}
	dst := t.TempDir() + "/out.m4a"

	enc := NewDeviceEncoder(src)
	if err := enc.Start(dst); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := enc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if info.Size() == 0 {
		t.Error("artifact empty")
	}
}
