package telephony

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Media-stream protocol: JSON text frames over the websocket Twilio opens at
// <Connect><Stream>. Inbound events are start/media/stop; this server sends
// media (audio toward the caller) and clear (flush queued playback).

// Custom parameter names carried in the start frame. These are the only
// channel for call metadata.
const (
	ParamCallDirection = "call_direction"
	ParamCallSID       = "call_sid"
	ParamTimezone      = "timezone"
)

// Frame is one inbound media-stream message.
type Frame struct {
	Event string      `json:"event"`
	Start *StartFrame `json:"start,omitempty"`
	Media *MediaFrame `json:"media,omitempty"`

	StreamSID string `json:"streamSid,omitempty"`
}

type StartFrame struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

type MediaFrame struct {
	// Payload is base64 audio, forwarded upstream unmodified.
	Payload string `json:"payload"`
}

const (
	EventStart = "start"
	EventMedia = "media"
	EventStop  = "stop"
)

func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("telephony: parse stream frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("telephony: stream frame missing event")
	}
	return f, nil
}

type outboundMedia struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

// MediaStream is the telephony side of the relay as consumed by it: a frame
// source plus the two outbound messages the bridge produces.
type MediaStream interface {
	// ReadFrame blocks for the next inbound frame. It returns an error when
	// the peer closes, which ends the call.
	ReadFrame() (Frame, error)

	// WriteMedia forwards one audio payload to the caller, tagged with the
	// media session id.
	WriteMedia(streamSID, payload string) error

	// WriteClear tells the peer to drop queued playback (barge-in).
	WriteClear(streamSID string) error

	Close() error
}

// WSMediaStream adapts a websocket connection to MediaStream. Writes are
// serialized; gorilla allows one concurrent writer only.
type WSMediaStream struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

func NewWSMediaStream(conn *websocket.Conn) *WSMediaStream {
	return &WSMediaStream{conn: conn}
}

func (s *WSMediaStream) ReadFrame() (Frame, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	return ParseFrame(data)
}

func (s *WSMediaStream) WriteMedia(streamSID, payload string) error {
	return s.writeJSON(outboundMedia{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     mediaPayload{Payload: payload},
	})
}

func (s *WSMediaStream) WriteClear(streamSID string) error {
	return s.writeJSON(outboundClear{Event: "clear", StreamSID: streamSID})
}

func (s *WSMediaStream) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *WSMediaStream) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return s.conn.Close()
}

var _ MediaStream = (*WSMediaStream)(nil)
