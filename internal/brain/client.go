// Package brain is the HTTP client for the backend collaborator that answers
// questions, performs privileged actions, and remembers calls.
package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gnaritas/openclaw-advanced-voice/internal/transcript"
)

// Client talks to the brain API. All methods honor ctx for cancellation; the
// relay must never block on a backend round-trip.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("brain: base url required")
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// ExecuteToolRequest delegates one tool invocation to the backend.
type ExecuteToolRequest struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	CallID    string         `json:"call_id"`
	Context   string         `json:"context,omitempty"`
	CallSID   string         `json:"call_sid,omitempty"`
}

// Envelope is the backend's uniform tool-execution response.
type Envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (c *Client) ExecuteTool(ctx context.Context, req ExecuteToolRequest) (Envelope, error) {
	var env Envelope
	if err := c.post(ctx, "/v1/tools/execute", req, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// ReportRequest records a mission outcome with the backend.
type ReportRequest struct {
	CallSID        string         `json:"call_sid"`
	Success        bool           `json:"success"`
	Outcome        string         `json:"outcome"`
	Data           map[string]any `json:"data,omitempty"`
	NextSteps      string         `json:"next_steps,omitempty"`
	TranscriptText string         `json:"transcript_text,omitempty"`
}

type ReportResult struct {
	ReportID string `json:"report_id"`
}

func (c *Client) ReportMissionResult(ctx context.Context, req ReportRequest) (ReportResult, error) {
	var out ReportResult
	if err := c.post(ctx, "/v1/reports", req, &out); err != nil {
		return ReportResult{}, err
	}
	return out, nil
}

// TranscriptUpload hands the whole call log to the memory collaborator at
// call end.
type TranscriptUpload struct {
	CallSID         string             `json:"call_sid"`
	StartTime       time.Time          `json:"start_time"`
	EndTime         time.Time          `json:"end_time"`
	DurationSeconds float64            `json:"duration_seconds"`
	Events          []transcript.Event `json:"events"`
	Summary         transcript.Summary `json:"summary"`
}

func (c *Client) SaveTranscript(ctx context.Context, upload TranscriptUpload) error {
	return c.post(ctx, "/v1/transcripts", upload, nil)
}

// NarrativeContext fetches the optional workspace narrative string prepended
// to session instructions. Best-effort: any failure yields an empty narrative
// so a call can proceed without it.
func (c *Client) NarrativeContext(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/narrative", nil)
	if err != nil {
		return ""
	}
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var out struct {
		Narrative string `json:"narrative"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return ""
	}
	return out.Narrative
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("brain: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("brain: %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("brain: %s: read response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("brain: %s returned status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("brain: %s: decode response: %w", path, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
