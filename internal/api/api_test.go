package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/voicebridge/voicebridge/internal/artifact"
	"github.com/voicebridge/voicebridge/internal/capture"
	"github.com/voicebridge/voicebridge/internal/coordinator"
	"github.com/voicebridge/voicebridge/internal/models"
	"github.com/voicebridge/voicebridge/internal/permission"
	"github.com/voicebridge/voicebridge/internal/playback"
	"github.com/voicebridge/voicebridge/internal/store"
	"github.com/voicebridge/voicebridge/internal/syncer"
	"github.com/voicebridge/voicebridge/internal/testutil"
	"github.com/voicebridge/voicebridge/internal/transcribe"
)

type nopEncoder struct{}

func (nopEncoder) Start(string) error { return nil }
func (nopEncoder) Stop() error        { return nil }

type nopDevice struct{}

func (nopDevice) Start(string) error { return nil }
func (nopDevice) Pause() error       { return nil }
func (nopDevice) Resume() error      { return nil }
func (nopDevice) Stop() error        { return nil }

type echoRecognizer struct{}

func (echoRecognizer) Recognize(context.Context, string) (string, error) {
	return "recognized", nil
}

// testEnv wires real engines over a temp store and returns the mounted
// router. authToken empty means auth disabled.
func testEnv(t *testing.T, authToken string) (http.Handler, *store.Store, *artifact.Dir) {
	t.Helper()
	s, artifacts := testutil.TestStore(t)
	auth, err := permission.NewAuthority(t.TempDir()+"/grants.json", permission.StaticPrompter(permission.Granted))
	if err != nil {
		t.Fatal(err)
	}
	logger := testutil.Logger()

	capEngine := capture.NewEngine(nopEncoder{}, auth, s, artifacts, nil, logger)
	playEngine := playback.NewEngine(nopDevice{}, s, nil, logger)
	t.Cleanup(playEngine.Stop)
	transEngine := transcribe.NewEngine(echoRecognizer{}, auth, s, nil, logger)
	sync := syncer.NewManager(s, artifacts, transEngine, nil, logger)
	coord := coordinator.New(s, capEngine, playEngine, transEngine, sync, nil, logger)

	router := NewRouter(coord, artifacts, authToken != "", authToken, nil)
	return router, s, artifacts
}

func seedIdea(t *testing.T, s *store.Store, artifacts *artifact.Dir, id string) {
	t.Helper()
	name := id + ".m4a"
	if err := artifacts.Write(name, []byte("audio-"+id)); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(&models.Idea{
		ID: id, Timestamp: time.Now(), AudioFileName: name, Transcription: "text " + id, Duration: 2,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestListIdeas(t *testing.T) {
	router, s, artifacts := testEnv(t, "")
	seedIdea(t, s, artifacts, "one")
	seedIdea(t, s, artifacts, "two")

	req := httptest.NewRequest(http.MethodGet, "/ideas", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp IdeaListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 || len(resp.Ideas) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if !resp.Ideas[0].HasAudio || resp.Ideas[0].AudioURL == "" {
		t.Errorf("item = %+v, want audio fields set", resp.Ideas[0])
	}
}

func TestGetIdea(t *testing.T) {
	router, s, artifacts := testEnv(t, "")
	seedIdea(t, s, artifacts, "g1")

	req := httptest.NewRequest(http.MethodGet, "/ideas/g1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var item IdeaItem
	if err := json.Unmarshal(w.Body.Bytes(), &item); err != nil {
		t.Fatal(err)
	}
	if item.ID != "g1" || item.Transcription != "text g1" {
		t.Errorf("item = %+v", item)
	}

	req = httptest.NewRequest(http.MethodGet, "/ideas/missing", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing idea status = %d, want 404", w.Code)
	}
}

func TestDeleteIdea(t *testing.T) {
	router, s, artifacts := testEnv(t, "")
	seedIdea(t, s, artifacts, "d1")

	req := httptest.NewRequest(http.MethodDelete, "/ideas/d1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if n, _ := s.Count(); n != 0 {
		t.Errorf("record count = %d, want 0", n)
	}
	if artifacts.Exists("d1.m4a") {
		t.Error("artifact not deleted with record")
	}
}

func TestRecordCycle(t *testing.T) {
	router, s, _ := testEnv(t, "")

	req := httptest.NewRequest(http.MethodPost, "/record", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, body = %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/record/stop", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("stop status = %d, body = %s", w.Code, w.Body.String())
	}
	var res RecordingResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.RecordID == "" {
		t.Fatal("no record id")
	}
	if _, err := s.Get(res.RecordID); err != nil {
		t.Errorf("record not stored: %v", err)
	}
}

func TestStopWithoutRecording(t *testing.T) {
	router, _, _ := testEnv(t, "")
	req := httptest.NewRequest(http.MethodPost, "/record/stop", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	// A stop while idle is benign; the surface answers normally.
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestTranscribeRoute(t *testing.T) {
	router, s, artifacts := testEnv(t, "")
	seedIdea(t, s, artifacts, "t1")
	// Clear the final text so the attempt actually runs.
	if _, err := s.Update("t1", func(i *models.Idea) error {
		i.Transcription = models.TranscriptionPending
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/ideas/t1/transcribe", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["transcription"] != "recognized" {
		t.Errorf("transcription = %q", resp["transcription"])
	}

	req = httptest.NewRequest(http.MethodPost, "/ideas/missing/transcribe", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing idea status = %d, want 404", w.Code)
	}
}

func TestTranscribeAllAccepted(t *testing.T) {
	router, _, _ := testEnv(t, "")
	req := httptest.NewRequest(http.MethodPost, "/transcribe", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
}

func TestPlaybackRoutes(t *testing.T) {
	router, s, artifacts := testEnv(t, "")
	seedIdea(t, s, artifacts, "p1")

	req := httptest.NewRequest(http.MethodPost, "/ideas/p1/play", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("play status = %d, body = %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/playback/seek?position=1.5", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("seek status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/playback/seek", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("seek without position status = %d, want 400", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/playback/stop", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("stop status = %d", w.Code)
	}
}

func TestServeAudio(t *testing.T) {
	router, s, artifacts := testEnv(t, "")
	seedIdea(t, s, artifacts, "a1")

	req := httptest.NewRequest(http.MethodGet, "/audio/a1.m4a", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Body.String() != "audio-a1" {
		t.Errorf("body = %q", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/audio/nothing.m4a", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing audio status = %d, want 404", w.Code)
	}
}

func TestStateAndGlance(t *testing.T) {
	router, s, artifacts := testEnv(t, "")
	seedIdea(t, s, artifacts, "s1")

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("state status = %d", w.Code)
	}
	var snap coordinator.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Records) != 1 {
		t.Errorf("snapshot records = %d, want 1", len(snap.Records))
	}

	req = httptest.NewRequest(http.MethodGet, "/glance", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("glance status = %d", w.Code)
	}
	var g coordinator.Glance
	if err := json.Unmarshal(w.Body.Bytes(), &g); err != nil {
		t.Fatal(err)
	}
	if g.RecordCount != 1 || g.LatestSnippet != "text s1" {
		t.Errorf("glance = %+v", g)
	}
}

func TestAuthToken(t *testing.T) {
	router, _, _ := testEnv(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/ideas", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/ideas", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/ideas", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("valid token status = %d, want 200", w.Code)
	}
}
