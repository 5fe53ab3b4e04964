package link

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voicebridge/voicebridge/internal/checksum"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 16,
	WriteBufferSize: 1 << 16,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WSSession is a WebSocket-backed Session. A node may dial a peer URL,
// accept an incoming upgrade on its HTTP surface, or both; whichever
// connection is live carries the traffic. Redial is automatic, so the
// session only needs activating once.
type WSSession struct {
	peerURL      string
	dialInterval time.Duration
	spoolDir     string
	handler      Handler
	logger       *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	reachable bool
	pending   map[uint64]chan AckPayload
	nextSeq   uint64
	ctx       context.Context
	activated bool

	writeMu sync.Mutex
}

// NewWSSession creates a session. peerURL may be empty for a listen-only
// node; spoolDir receives in-flight file payloads.
func NewWSSession(peerURL, spoolDir string, handler Handler, logger *slog.Logger) *WSSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSSession{
		peerURL:      peerURL,
		dialInterval: 3 * time.Second,
		spoolDir:     spoolDir,
		handler:      handler,
		logger:       logger,
		pending:      map[uint64]chan AckPayload{},
	}
}

// Activate starts the dial loop (when a peer URL is configured). Incoming
// connections are adopted through HTTPHandler regardless.
func (s *WSSession) Activate(ctx context.Context) error {
	s.mu.Lock()
	if s.activated {
		s.mu.Unlock()
		return nil
	}
	s.activated = true
	s.ctx = ctx
	s.mu.Unlock()

	if s.peerURL != "" {
		go s.dialLoop(ctx)
	}
	return nil
}

// HTTPHandler returns the endpoint that upgrades an incoming peer
// connection. Mount it on the node's HTTP router.
func (s *WSSession) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("link: upgrade failed", slog.String("error", err.Error()))
			return
		}
		s.adopt(conn)
	}
}

func (s *WSSession) dialLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		connected := s.conn != nil
		s.mu.Unlock()

		if !connected {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.peerURL, nil)
			if err != nil {
				s.logger.Debug("link: dial failed", slog.String("peer", s.peerURL), slog.String("error", err.Error()))
			} else {
				s.adopt(conn)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.dialInterval):
		}
	}
}

// adopt installs conn as the live link, replacing any previous one, and
// starts its read loop. Reachability transitions fire here and when the
// read loop exits.
func (s *WSSession) adopt(conn *websocket.Conn) {
	s.mu.Lock()
	old := s.conn
	s.conn = conn
	s.reachable = true
	var orphaned map[uint64]chan AckPayload
	if old != nil {
		// Acks for sends issued on the replaced connection can never
		// arrive; fail those sends now rather than leaving them to
		// block until their context ends.
		orphaned = s.pending
		s.pending = map[uint64]chan AckPayload{}
	}
	s.mu.Unlock()

	for _, ch := range orphaned {
		close(ch)
	}
	if old != nil {
		_ = old.Close()
	}

	s.logger.Info("link: peer connected", slog.String("remote", conn.RemoteAddr().String()))
	if s.handler.OnReachable != nil {
		s.handler.OnReachable(true)
	}

	go s.readLoop(conn)
}

func (s *WSSession) readLoop(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()

		s.mu.Lock()
		wasCurrent := s.conn == conn
		var pending map[uint64]chan AckPayload
		if wasCurrent {
			s.conn = nil
			s.reachable = false
			pending = s.pending
			s.pending = map[uint64]chan AckPayload{}
		}
		s.mu.Unlock()

		if wasCurrent {
			for _, ch := range pending {
				close(ch)
			}
			s.logger.Info("link: peer disconnected")
			if s.handler.OnReachable != nil {
				s.handler.OnReachable(false)
			}
		}
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch mt {
		case websocket.TextMessage:
			s.handleText(data)
		case websocket.BinaryMessage:
			s.handleBinary(data)
		}
	}
}

func (s *WSSession) handleText(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("link: bad message", slog.String("error", err.Error()))
		return
	}

	if msg.Type == MsgAck {
		var ack AckPayload
		_ = json.Unmarshal(msg.Data, &ack)
		s.mu.Lock()
		ch, ok := s.pending[msg.Seq]
		if ok {
			delete(s.pending, msg.Seq)
		}
		s.mu.Unlock()
		if ok {
			ch <- ack
			close(ch)
		}
		return
	}

	if s.handler.OnMessage == nil {
		return
	}
	if reply := s.handler.OnMessage(msg); reply != nil {
		if err := s.write(websocket.TextMessage, mustMarshal(*reply)); err != nil {
			s.logger.Warn("link: reply send failed", slog.String("error", err.Error()))
		}
	}
}

func (s *WSSession) handleBinary(data []byte) {
	header, payload, err := decodeFileFrame(data)
	if err != nil {
		s.logger.Warn("link: bad file frame", slog.String("error", err.Error()))
		return
	}
	if header.Checksum != "" && checksum.Sum(payload) != header.Checksum {
		s.logger.Warn("link: file checksum mismatch",
			slog.String("record", header.RecordID), slog.String("file", header.FileName))
		return
	}

	spool := filepath.Join(s.spoolDir, "transfer-"+uuid.New().String())
	if err := os.WriteFile(spool, payload, 0o600); err != nil {
		s.logger.Warn("link: spool write failed", slog.String("error", err.Error()))
		return
	}

	if s.handler.OnFile != nil {
		s.handler.OnFile(header, spool)
	} else {
		_ = os.Remove(spool)
	}
}

// Reachable reports whether a live connection to the peer exists.
func (s *WSSession) Reachable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reachable
}

// Send transmits msg and blocks until the peer's ack, ctx cancellation,
// or link drop. A dropped link fails the send; the caller retries on the
// next reachability transition.
func (s *WSSession) Send(ctx context.Context, msg Message) (AckPayload, error) {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return AckPayload{}, fmt.Errorf("link: peer unreachable")
	}
	s.nextSeq++
	msg.Seq = s.nextSeq
	ch := make(chan AckPayload, 1)
	s.pending[msg.Seq] = ch
	s.mu.Unlock()

	if err := s.write(websocket.TextMessage, mustMarshal(msg)); err != nil {
		s.mu.Lock()
		delete(s.pending, msg.Seq)
		s.mu.Unlock()
		return AckPayload{}, fmt.Errorf("link: send %s: %w", msg.Type, err)
	}

	select {
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, msg.Seq)
		s.mu.Unlock()
		return AckPayload{}, ctx.Err()
	case ack, ok := <-ch:
		if !ok {
			return AckPayload{}, fmt.Errorf("link: dropped before ack")
		}
		return ack, nil
	}
}

// Notify transmits a fire-and-forget message.
func (s *WSSession) Notify(msg Message) error {
	s.mu.Lock()
	connected := s.conn != nil
	s.mu.Unlock()
	if !connected {
		return fmt.Errorf("link: peer unreachable")
	}
	return s.write(websocket.TextMessage, mustMarshal(msg))
}

// TransferFile sends the file at path as one binary frame tagged with
// header. Checksum and size are filled in from the file content.
func (s *WSSession) TransferFile(ctx context.Context, header FileHeader, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("link: read transfer source: %w", err)
	}
	header.Checksum = checksum.Sum(data)
	header.Size = int64(len(data))

	frame, err := encodeFileFrame(header, data)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	connected := s.conn != nil
	s.mu.Unlock()
	if !connected {
		return fmt.Errorf("link: peer unreachable")
	}
	if err := s.write(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("link: transfer %s: %w", header.FileName, err)
	}
	return nil
}

// Close tears down the live connection. The dial loop (if any) stops with
// the activation context.
func (s *WSSession) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.reachable = false
	pending := s.pending
	s.pending = map[uint64]chan AckPayload{}
	s.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// write serializes frame writes; gorilla/websocket permits one concurrent
// writer only.
func (s *WSSession) write(messageType int, data []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("link: peer unreachable")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(messageType, data)
}

func mustMarshal(msg Message) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		panic(fmt.Sprintf("link: marshal message: %v", err))
	}
	return data
}

// Verify WSSession satisfies Session at compile time.
var _ Session = (*WSSession)(nil)
