package realtime

import (
	"encoding/json"
	"fmt"
)

// Received event types this server acts on. Anything else is passed through
// with its raw payload so callers can ignore it.
const (
	EventSessionCreated         = "session.created"
	EventSessionUpdated         = "session.updated"
	EventResponseCreated        = "response.created"
	EventResponseDone           = "response.done"
	EventAudioDelta             = "response.audio.delta"
	EventSpeechStarted          = "input_audio_buffer.speech_started"
	EventTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventFunctionCallDone       = "response.function_call_arguments.done"
	EventError                  = "error"
)

// Event is one upstream protocol event, decoded at the boundary.
type Event struct {
	Type string `json:"type"`

	// Response is set for response.created / response.done.
	Response *Response `json:"response,omitempty"`

	// Delta carries base64 audio for response.audio.delta.
	Delta string `json:"delta,omitempty"`

	// Transcript carries the recognized caller utterance.
	Transcript string `json:"transcript,omitempty"`

	// Function-call fields for response.function_call_arguments.done.
	Name      string `json:"name,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// Raw is the full event as received, kept for error logging and the
	// transcript's verbatim error records.
	Raw json.RawMessage `json:"-"`
}

// Response is the subset of an upstream response object this server reads.
type Response struct {
	ID     string       `json:"id"`
	Output []OutputItem `json:"output"`
}

type OutputItem struct {
	Type    string        `json:"type"`
	Content []ContentPart `json:"content"`
}

type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
}

// MessageText collects the textual content of a completed response's message
// items. Audio parts contribute their transcript.
func (r *Response) MessageText() []string {
	if r == nil {
		return nil
	}
	var out []string
	for _, item := range r.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			switch c.Type {
			case "text":
				if c.Text != "" {
					out = append(out, c.Text)
				}
			case "audio":
				if c.Transcript != "" {
					out = append(out, c.Transcript)
				}
			}
		}
	}
	return out
}

func ParseEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("realtime: parse event: %w", err)
	}
	if e.Type == "" {
		return Event{}, fmt.Errorf("realtime: event missing type")
	}
	e.Raw = append(json.RawMessage(nil), data...)
	return e, nil
}
