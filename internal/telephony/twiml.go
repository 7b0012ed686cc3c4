package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// Minimal Twilio Markup Language response builder. It intentionally avoids any
// provider SDK dependency; only the verbs this server emits are modeled.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// StreamParameter is a customParameter delivered to the media stream in its
// start frame. This is the only channel for call metadata; mission content
// must never be passed here.
type StreamParameter struct {
	Name  string
	Value string
}

// RenderDenial produces the spoken rejection for disallowed callers. The call
// is torn down before any media session is opened.
func RenderDenial(message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", errors.New("telephony: denial message required")
	}
	return render(twimlResponse{Verbs: []any{twimlSay{Text: message}, twimlHangup{}}})
}

// RenderConnectStream produces the TwiML that bridges a call into the media
// stream websocket.
func RenderConnectStream(wsURL string, params []StreamParameter) (string, error) {
	if strings.TrimSpace(wsURL) == "" {
		return "", errors.New("telephony: stream url required")
	}
	stream := twimlStream{URL: wsURL}
	for _, p := range params {
		stream.Parameters = append(stream.Parameters, twimlParameter{Name: p.Name, Value: p.Value})
	}
	return render(twimlResponse{Verbs: []any{twimlConnect{Stream: stream}}})
}

func render(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
