// Package transcript accumulates the time-ordered event log for one call.
//
// It is append-only for the call's lifetime; no Update/Delete by design. The
// whole log is handed to the external memory collaborator at call end and is
// not persisted by this process.
package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventCallStarted      EventType = "call_started"
	EventUserMessage      EventType = "user_message"
	EventAssistantMessage EventType = "assistant_message"
	EventToolCall         EventType = "tool_call"
	EventToolResult       EventType = "tool_result"
	EventMissionResult    EventType = "mission_result"
	EventCallEnded        EventType = "call_ended"
	EventError            EventType = "error"
)

// Event is one transcript record. Field usage depends on Type.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Text carries user/assistant speech.
	Text string `json:"text,omitempty"`

	// Tool holds the tool name for tool_call events; ToolCallID ties a
	// tool_call to its tool_result.
	Tool       string          `json:"tool,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`

	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// Recorder is a per-call transcript. Both relay loops and tool dispatches
// append concurrently.
type Recorder struct {
	mu      sync.Mutex
	events  []Event
	started time.Time
	clock   func() time.Time
}

func NewRecorder() *Recorder {
	r := &Recorder{clock: time.Now}
	r.started = r.clock().UTC()
	return r
}

func (r *Recorder) append(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.clock().UTC()
	}
	r.events = append(r.events, e)
}

func (r *Recorder) CallStarted(callSID, streamSID string, direction string) {
	payload, _ := json.Marshal(map[string]string{
		"call_sid":       callSID,
		"stream_sid":     streamSID,
		"call_direction": direction,
	})
	r.append(Event{Type: EventCallStarted, Payload: payload})
}

func (r *Recorder) UserMessage(text string) {
	r.append(Event{Type: EventUserMessage, Text: text})
}

func (r *Recorder) AssistantMessage(text string) {
	r.append(Event{Type: EventAssistantMessage, Text: text})
}

func (r *Recorder) ToolCall(toolCallID, tool string, args json.RawMessage) {
	r.append(Event{Type: EventToolCall, Tool: tool, ToolCallID: toolCallID, Payload: args})
}

func (r *Recorder) ToolResult(toolCallID string, result json.RawMessage) {
	r.append(Event{Type: EventToolResult, ToolCallID: toolCallID, Payload: result})
}

func (r *Recorder) MissionResult(toolCallID string, payload json.RawMessage) {
	r.append(Event{Type: EventMissionResult, ToolCallID: toolCallID, Payload: payload})
}

// Error records an upstream error event verbatim. Errors do not end the call.
func (r *Recorder) Error(raw json.RawMessage) {
	r.append(Event{Type: EventError, Payload: raw})
}

// CallEnded appends the terminal event with the computed call duration.
func (r *Recorder) CallEnded() {
	r.mu.Lock()
	dur := r.clock().UTC().Sub(r.started).Seconds()
	r.mu.Unlock()
	r.append(Event{Type: EventCallEnded, DurationSeconds: dur})
}

func (r *Recorder) StartedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clock().UTC().Sub(r.started)
}

// Events returns a copy of the log in append order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Summary counts the conversational events.
type Summary struct {
	UserMessages      int `json:"user_messages"`
	AssistantMessages int `json:"assistant_messages"`
	ToolCalls         int `json:"tool_calls"`
}

func (r *Recorder) Summary() Summary {
	var s Summary
	for _, e := range r.Events() {
		switch e.Type {
		case EventUserMessage:
			s.UserMessages++
		case EventAssistantMessage:
			s.AssistantMessages++
		case EventToolCall:
			s.ToolCalls++
		}
	}
	return s
}

// RenderText renders the spoken exchange as "Them:"/"Agent:" lines for the
// mission report.
func (r *Recorder) RenderText() string {
	var b strings.Builder
	for _, e := range r.Events() {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		switch e.Type {
		case EventUserMessage:
			fmt.Fprintf(&b, "Them: %s\n", text)
		case EventAssistantMessage:
			fmt.Fprintf(&b, "Agent: %s\n", text)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}
