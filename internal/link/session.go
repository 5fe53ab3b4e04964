package link

import "context"

// Handler receives link activity. All callbacks fire from the session's
// read loop, one at a time, so a handler observes messages in arrival
// order. OnMessage may return a reply to send back; OnFile receives the
// already-verified payload spooled to a temporary file.
type Handler struct {
	OnMessage   func(msg Message) *Message
	OnFile      func(header FileHeader, spoolPath string)
	OnReachable func(reachable bool)
}

// Session is the opaque bidirectional device link. Implementations
// activate once and reconnect on their own; reachability transitions are
// delivered through the Handler.
type Session interface {
	// Activate starts the session's connect/accept machinery. It returns
	// immediately; the link becomes reachable asynchronously.
	Activate(ctx context.Context) error
	// Reachable reports whether the peer is currently addressable.
	Reachable() bool
	// Send transmits a request message and blocks for the peer's ack.
	Send(ctx context.Context, msg Message) (AckPayload, error)
	// Notify transmits a fire-and-forget message.
	Notify(msg Message) error
	// TransferFile enqueues a bulk transfer of the file at path, tagged
	// with header. Completion is independent of any control message.
	TransferFile(ctx context.Context, header FileHeader, path string) error
	// Close tears the session down.
	Close() error
}
