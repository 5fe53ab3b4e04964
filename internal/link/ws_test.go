package link

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// linkPair wires a dialing session to an accepting one through a real
// HTTP server and waits until both sides see the peer.
func linkPair(t *testing.T, serverHandler, clientHandler Handler) (*WSSession, *WSSession) {
	t.Helper()

	server := NewWSSession("", t.TempDir(), serverHandler, discard())
	t.Cleanup(func() { server.Close() })

	srv := httptest.NewServer(http.HandlerFunc(server.HTTPHandler()))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := NewWSSession(url, t.TempDir(), clientHandler, discard())
	client.dialInterval = 50 * time.Millisecond
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := client.Activate(ctx); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for !client.Reachable() || !server.Reachable() {
		select {
		case <-deadline:
			t.Fatal("sessions never connected")
		case <-time.After(10 * time.Millisecond):
		}
	}
	return server, client
}

func TestSendReceivesAck(t *testing.T) {
	var gotMu sync.Mutex
	var got []Message
	serverHandler := Handler{
		OnMessage: func(msg Message) *Message {
			gotMu.Lock()
			got = append(got, msg)
			gotMu.Unlock()
			reply := AckFor(msg, AckPayload{Success: true})
			return &reply
		},
	}
	_, client := linkPair(t, serverHandler, Handler{})

	msg, err := NewMessage(MsgNewIdea, IdeaPayload{ID: "i1"})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ack, err := client.Send(ctx, msg)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !ack.Success {
		t.Errorf("ack = %+v, want success", ack)
	}

	gotMu.Lock()
	defer gotMu.Unlock()
	if len(got) != 1 || got[0].Type != MsgNewIdea || got[0].Seq == 0 {
		t.Errorf("server saw %+v", got)
	}
}

func TestSendWhileUnreachable(t *testing.T) {
	s := NewWSSession("", t.TempDir(), Handler{}, discard())
	msg, _ := NewMessage(MsgSyncRequest, nil)
	if _, err := s.Send(context.Background(), msg); err == nil {
		t.Fatal("Send succeeded without a connection")
	}
	if err := s.Notify(msg); err == nil {
		t.Fatal("Notify succeeded without a connection")
	}
}

func TestNotifyDelivers(t *testing.T) {
	received := make(chan Message, 1)
	serverHandler := Handler{
		OnMessage: func(msg Message) *Message {
			received <- msg
			return nil
		},
	}
	_, client := linkPair(t, serverHandler, Handler{})

	msg, _ := NewMessage(MsgSyncComplete, nil)
	if err := client.Notify(msg); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	select {
	case got := <-received:
		if got.Type != MsgSyncComplete {
			t.Errorf("type = %q", got.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("notify never arrived")
	}
}

func TestTransferFileSpoolsWithChecksum(t *testing.T) {
	type arrived struct {
		header FileHeader
		path   string
	}
	fileCh := make(chan arrived, 1)
	serverHandler := Handler{
		OnFile: func(header FileHeader, spoolPath string) {
			fileCh <- arrived{header, spoolPath}
		},
	}
	_, client := linkPair(t, serverHandler, Handler{})

	src := filepath.Join(t.TempDir(), "idea.m4a")
	if err := os.WriteFile(src, []byte("audio-payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := client.TransferFile(context.Background(), FileHeader{RecordID: "r1", FileName: "idea.m4a"}, src)
	if err != nil {
		t.Fatalf("TransferFile: %v", err)
	}

	select {
	case got := <-fileCh:
		if got.header.RecordID != "r1" || got.header.Size != int64(len("audio-payload")) {
			t.Errorf("header = %+v", got.header)
		}
		data, err := os.ReadFile(got.path)
		if err != nil {
			t.Fatalf("spool read: %v", err)
		}
		if string(data) != "audio-payload" {
			t.Errorf("spooled data = %q", data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("file never arrived")
	}
}

func TestReachabilityTransitions(t *testing.T) {
	transitions := make(chan bool, 8)
	clientHandler := Handler{
		OnReachable: func(up bool) { transitions <- up },
	}
	server, _ := linkPair(t, Handler{}, clientHandler)

	select {
	case up := <-transitions:
		if !up {
			t.Fatal("first transition should be up")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reachability callback")
	}

	// Server drops the link; client must observe down, then redial up.
	server.Close()
	waitFor := func(want bool) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case up := <-transitions:
				if up == want {
					return
				}
			case <-deadline:
				t.Fatalf("never observed reachable=%v", want)
			}
		}
	}
	waitFor(false)
	waitFor(true)
}

func TestDroppedLinkFailsPendingSend(t *testing.T) {
	// Server never acks, so the send stays pending until the drop.
	server, client := linkPair(t, Handler{OnMessage: func(Message) *Message { return nil }}, Handler{})

	msg, _ := NewMessage(MsgNewIdea, IdeaPayload{ID: "stuck"})
	errCh := make(chan error, 1)
	go func() {
		_, err := client.Send(context.Background(), msg)
		errCh <- err
	}()

	time.Sleep(100 * time.Millisecond)
	server.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("pending send succeeded after link drop")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pending send never failed")
	}
}

func TestHandoverFailsPendingSend(t *testing.T) {
	server := NewWSSession("", t.TempDir(), Handler{}, discard())
	t.Cleanup(func() { server.Close() })
	srv := httptest.NewServer(http.HandlerFunc(server.HTTPHandler()))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	// First peer connects but never acks anything.
	first := NewWSSession(url, t.TempDir(), Handler{OnMessage: func(Message) *Message { return nil }}, discard())
	first.dialInterval = 50 * time.Millisecond
	t.Cleanup(func() { first.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := first.Activate(ctx); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	deadline := time.After(3 * time.Second)
	for !first.Reachable() || !server.Reachable() {
		select {
		case <-deadline:
			t.Fatal("sessions never connected")
		case <-time.After(10 * time.Millisecond):
		}
	}

	msg, _ := NewMessage(MsgNewIdea, IdeaPayload{ID: "stranded"})
	errCh := make(chan error, 1)
	go func() {
		_, err := server.Send(context.Background(), msg)
		errCh <- err
	}()

	pendingDeadline := time.After(3 * time.Second)
	for {
		server.mu.Lock()
		n := len(server.pending)
		server.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-pendingDeadline:
			t.Fatal("send never went pending")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// A second peer connects, replacing the first connection. The pending
	// send must fail promptly instead of blocking until its context ends.
	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { second.Close() })

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("send succeeded with no ack")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending send survived the connection handover")
	}
	if !server.Reachable() {
		t.Error("server lost reachability after adopting the new connection")
	}
}

func TestCorruptFrameIgnored(t *testing.T) {
	called := make(chan struct{}, 1)
	serverHandler := Handler{
		OnFile: func(FileHeader, string) { called <- struct{}{} },
		OnMessage: func(msg Message) *Message {
			reply := AckFor(msg, AckPayload{Success: true})
			return &reply
		},
	}
	_, client := linkPair(t, serverHandler, Handler{})

	// A binary frame whose checksum does not match must be dropped.
	header := FileHeader{RecordID: "bad", FileName: "bad.m4a", Checksum: "not-the-sum"}
	frame, err := encodeFileFrame(header, []byte("tampered"))
	if err != nil {
		t.Fatal(err)
	}
	if err := client.write(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The link must remain usable for control traffic afterwards.
	msg, _ := NewMessage(MsgSyncRequest, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := client.Send(ctx, msg); err != nil {
		t.Fatalf("Send after corrupt frame: %v", err)
	}

	select {
	case <-called:
		t.Fatal("corrupt frame delivered to handler")
	default:
	}
}

func TestMessageJSONOmitsEmptySeq(t *testing.T) {
	data, err := json.Marshal(Message{Type: MsgSyncComplete})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "seq") {
		t.Errorf("fire-and-forget message carries seq: %s", data)
	}
}
