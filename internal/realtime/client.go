// Package realtime is the websocket client for the upstream real-time
// conversational AI API.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultRealtimeURL = "wss://api.openai.com/v1/realtime"

// Tool is one function declaration in the session's tool catalog.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

// SessionConfig is the full session.update payload sent before any audio
// flows: bidirectional audio, input transcription, VAD turn detection, and
// the declared tool catalog with automatic invocation.
type SessionConfig struct {
	Instructions  string
	Voice         string
	Temperature   float64
	Tools         []Tool
	TurnDetection TurnDetection
}

// DialConfig carries connection parameters.
type DialConfig struct {
	APIKey      string
	Model       string
	Temperature float64

	// URL overrides the API endpoint, for tests.
	URL string

	HandshakeTimeout time.Duration
}

// Client is one upstream connection for one call. Reads happen from a single
// goroutine (the relay's upstream loop); writes are serialized internally so
// tool dispatches may write concurrently.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger

	writeMu sync.Mutex
	closed  bool
}

var ErrClosed = errors.New("realtime: connection closed")

// Dial opens the upstream websocket. One connection serves exactly one call.
func Dial(ctx context.Context, cfg DialConfig, log *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("realtime: api key required")
	}
	if cfg.Model == "" {
		return nil, errors.New("realtime: model required")
	}
	base := cfg.URL
	if base == "" {
		base = defaultRealtimeURL
	}
	if log == nil {
		log = slog.Default()
	}

	url := fmt.Sprintf("%s?model=%s&temperature=%g", base, cfg.Model, cfg.Temperature)
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	conn, resp, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime: dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime: dial failed: %w", err)
	}

	return &Client{conn: conn, log: log}, nil
}

// UpdateSession sends the full session configuration.
func (c *Client) UpdateSession(cfg SessionConfig) error {
	tools := cfg.Tools
	if tools == nil {
		tools = []Tool{}
	}
	return c.writeJSON(map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"text", "audio"},
			"instructions":        cfg.Instructions,
			"voice":               cfg.Voice,
			"input_audio_format":  "g711_ulaw",
			"output_audio_format": "g711_ulaw",
			"input_audio_transcription": map[string]any{
				"model": "whisper-1",
			},
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"threshold":           cfg.TurnDetection.Threshold,
				"prefix_padding_ms":   cfg.TurnDetection.PrefixPaddingMs,
				"silence_duration_ms": cfg.TurnDetection.SilenceDurationMs,
			},
			"tools":       tools,
			"tool_choice": "auto",
			"temperature": cfg.Temperature,
		},
	})
}

// UpdateInstructions replaces only the session instructions, used when the
// call direction becomes known after connect.
func (c *Client) UpdateInstructions(instructions string) error {
	return c.writeJSON(map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"instructions": instructions,
		},
	})
}

// AppendAudio forwards one base64 audio payload into the input buffer. One
// inbound telephony frame yields exactly one append.
func (c *Client) AppendAudio(payload string) error {
	return c.writeJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": payload,
	})
}

// CreateResponse asks the model to generate.
func (c *Client) CreateResponse() error {
	return c.writeJSON(map[string]any{"type": "response.create"})
}

// CancelResponse cancels the identified in-flight response (barge-in).
func (c *Client) CancelResponse(responseID string) error {
	return c.writeJSON(map[string]any{
		"type":        "response.cancel",
		"response_id": responseID,
	})
}

// CreateUserMessage injects a synthetic user turn.
func (c *Client) CreateUserMessage(text string) error {
	return c.writeJSON(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	})
}

// SubmitToolOutput pushes a function-call result back into the conversation.
func (c *Client) SubmitToolOutput(callID string, output []byte) error {
	return c.writeJSON(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  string(output),
		},
	})
}

// ReadEvent blocks for the next upstream event. Unparseable frames are
// skipped with a warning rather than ending the call.
func (c *Client) ReadEvent() (Event, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return Event{}, ErrClosed
			}
			return Event{}, err
		}
		ev, err := ParseEvent(data)
		if err != nil {
			c.log.Warn("skipping malformed upstream event", "err", err)
			continue
		}
		return ev, nil
	}
}

func (c *Client) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and tears the connection down. Safe to call more
// than once.
func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}
