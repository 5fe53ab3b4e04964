// Package link implements the bidirectional device-link session used to
// keep the phone and watch record sets in sync. Control messages are JSON
// text frames with a sequence-numbered request/reply shape; bulk audio
// transfers ride in binary frames tagged with a JSON side-channel header.
package link

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"
)

// Control message types.
const (
	MsgNewIdea         = "newIdea"
	MsgAck             = "ack"
	MsgSyncRequest     = "syncRequest"
	MsgSyncComplete    = "syncComplete"
	MsgRequestFullSync = "requestFullSync"
)

// Message is one control message on the link. Seq correlates a reply with
// its request; fire-and-forget messages carry no Seq.
type Message struct {
	Type string          `json:"type"`
	Seq  uint64          `json:"seq,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IdeaPayload is the metadata pushed for one record.
type IdeaPayload struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Transcription string    `json:"transcription,omitempty"`
	Duration      float64   `json:"duration"`
	IsRecording   bool      `json:"isRecording"`
	AudioFileName string    `json:"audioFileName,omitempty"`
}

// AckPayload is the reply to a request message.
type AckPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// FileHeader is the side-channel metadata attached to a bulk file frame.
type FileHeader struct {
	RecordID string `json:"recordId"`
	FileName string `json:"fileName"`
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
}

// NewMessage marshals data into a Message of the given type.
func NewMessage(msgType string, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("link: marshal %s: %w", msgType, err)
	}
	return Message{Type: msgType, Data: raw}, nil
}

// AckFor builds the reply message for a request, carrying its Seq.
func AckFor(req Message, ack AckPayload) Message {
	raw, _ := json.Marshal(ack)
	return Message{Type: MsgAck, Seq: req.Seq, Data: raw}
}

// encodeFileFrame builds a binary frame: 4-byte big-endian header length,
// JSON header, payload bytes.
func encodeFileFrame(header FileHeader, payload []byte) ([]byte, error) {
	h, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("link: marshal file header: %w", err)
	}
	frame := make([]byte, 4+len(h)+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(h)))
	copy(frame[4:], h)
	copy(frame[4+len(h):], payload)
	return frame, nil
}

// decodeFileFrame splits a binary frame back into header and payload.
func decodeFileFrame(frame []byte) (FileHeader, []byte, error) {
	var header FileHeader
	if len(frame) < 4 {
		return header, nil, fmt.Errorf("link: file frame too short")
	}
	hlen := binary.BigEndian.Uint32(frame[:4])
	if int(hlen) > len(frame)-4 {
		return header, nil, fmt.Errorf("link: file header length %d exceeds frame", hlen)
	}
	if err := json.Unmarshal(frame[4:4+hlen], &header); err != nil {
		return header, nil, fmt.Errorf("link: parse file header: %w", err)
	}
	return header, frame[4+hlen:], nil
}
