package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTwilioAPIBase = "https://api.twilio.com"

// Client places outbound calls through the Twilio REST API. Provider SDK
// calls stay inside this adapter; business logic sees PlaceCallRequest and
// the returned call SID only.
type Client struct {
	accountSID string
	authToken  string
	from       string

	apiBase string
	httpc   *http.Client
}

func NewClient(accountSID, authToken, from string) (*Client, error) {
	if accountSID == "" || authToken == "" {
		return nil, errors.New("telephony: twilio credentials not configured")
	}
	if from == "" {
		return nil, errors.New("telephony: twilio caller number not configured")
	}
	return &Client{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		apiBase:    defaultTwilioAPIBase,
		httpc:      &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// PlaceCallRequest asks the provider to dial a number and fetch TwiML from
// CallbackURL once answered. StatusCallbackURL receives lifecycle updates.
type PlaceCallRequest struct {
	To                string
	CallbackURL       string
	StatusCallbackURL string
}

type PlaceCallResult struct {
	CallSID string
	Status  string
}

func (c *Client) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	if req.To == "" {
		return PlaceCallResult{}, errors.New("telephony: destination number required")
	}
	if req.CallbackURL == "" {
		return PlaceCallResult{}, errors.New("telephony: callback url required")
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", c.from)
	form.Set("Url", req.CallbackURL)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.apiBase, c.accountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return PlaceCallResult{}, err
	}
	httpReq.SetBasicAuth(c.accountSID, c.authToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return PlaceCallResult{}, fmt.Errorf("telephony: place call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return PlaceCallResult{}, fmt.Errorf("telephony: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return PlaceCallResult{}, fmt.Errorf("telephony: place call failed with status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var out struct {
		Sid    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return PlaceCallResult{}, fmt.Errorf("telephony: decode response: %w", err)
	}
	if out.Sid == "" {
		return PlaceCallResult{}, errors.New("telephony: provider returned no call sid")
	}
	return PlaceCallResult{CallSID: out.Sid, Status: out.Status}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
