package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gnaritas/openclaw-advanced-voice/internal/authgate"
	"github.com/gnaritas/openclaw-advanced-voice/internal/calls"
	"github.com/gnaritas/openclaw-advanced-voice/internal/config"
	"github.com/gnaritas/openclaw-advanced-voice/internal/prompts"
	"github.com/gnaritas/openclaw-advanced-voice/internal/telephony"
)

type fakePlacer struct {
	req telephony.PlaceCallRequest
	err error
}

func (p *fakePlacer) PlaceCall(_ context.Context, req telephony.PlaceCallRequest) (telephony.PlaceCallResult, error) {
	p.req = req
	if p.err != nil {
		return telephony.PlaceCallResult{}, p.err
	}
	return telephony.PlaceCallResult{CallSID: "CA100", Status: "queued"}, nil
}

func testHandlers(t *testing.T) (*Handlers, *fakePlacer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	policy, err := authgate.NewAllowlistPolicy([]string{"+14805551234"})
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	placer := &fakePlacer{}
	h := &Handlers{
		Cfg: config.Config{
			App: config.AppConfig{VoiceAPIKey: "sekrit", PublicURL: "https://voice.example.com"},
			Twilio: config.TwilioConfig{
				AccountSID: "AC1", AuthToken: "tok", Number: "+15550001111",
			},
			Calls: config.CallsConfig{
				DefaultTimezone: "America/Los_Angeles",
				Contacts:        map[string]string{"dentist": "+14805559999"},
			},
		},
		Registry: calls.NewRegistry(time.Hour),
		Policy:   policy,
		Prompts: prompts.Set{
			Inbound:          "inbound prompt",
			OutboundTemplate: "Role: {ROLE}. Mission: {MISSION}",
		},
		Twilio: placer,
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return h, placer
}

func router(h *Handlers) *gin.Engine {
	r := gin.New()
	r.GET("/", h.Root)

	gated := r.Group("/", h.RequireVoiceKey)
	gated.POST("/call/id/:contact_id", h.PlaceCallByContact)
	gated.POST("/call/number/:number", h.PlaceCallByNumber)
	gated.GET("/call/:call_sid/result", h.CallResult)

	r.GET("/incoming-call", h.IncomingCall)
	r.POST("/incoming-call", h.IncomingCall)
	r.GET("/twiml", h.TwiML)
	r.POST("/twiml", h.TwiML)
	r.POST("/call-status", h.CallStatus)
	r.GET("/healthz", h.Healthz)
	return r
}

func doJSON(r *gin.Engine, method, path, body, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-Voice-Key", key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPlaceCallByNumber(t *testing.T) {
	h, placer := testHandlers(t)
	r := router(h)

	w := doJSON(r, http.MethodPost, "/call/number/14805550000",
		`{"mission":"book a table","role":"booking agent"}`, "sekrit")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["call_sid"] != "CA100" || resp["to"] != "+14805550000" {
		t.Errorf("resp = %v", resp)
	}

	if placer.req.To != "+14805550000" {
		t.Errorf("dialed %q", placer.req.To)
	}
	if placer.req.CallbackURL != "https://voice.example.com/twiml?timezone=America/Los_Angeles" {
		t.Errorf("callback = %q", placer.req.CallbackURL)
	}
	if placer.req.StatusCallbackURL != "https://voice.example.com/call-status" {
		t.Errorf("status callback = %q", placer.req.StatusCallbackURL)
	}

	// Rendered mission is stored server-side keyed by the new call sid.
	mission, ok := h.Registry.PopMission("CA100")
	if !ok || mission != "Role: booking agent. Mission: book a table" {
		t.Errorf("mission = %q ok = %v", mission, ok)
	}
	c, _ := h.Registry.Get("CA100")
	if c.Status != calls.StatusInitiated || c.Direction != calls.DirectionOutbound {
		t.Errorf("call = %+v", c)
	}
}

func TestPlaceCall_MissionRequired(t *testing.T) {
	h, placer := testHandlers(t)
	r := router(h)

	w := doJSON(r, http.MethodPost, "/call/number/14805550000", `{"role":"agent"}`, "sekrit")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if placer.req.To != "" {
		t.Error("call must not be placed without a mission")
	}
}

func TestPlaceCall_RequiresKey(t *testing.T) {
	h, _ := testHandlers(t)
	r := router(h)

	if w := doJSON(r, http.MethodPost, "/call/number/14805550000", `{"mission":"m"}`, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("missing key: status = %d", w.Code)
	}
	if w := doJSON(r, http.MethodPost, "/call/number/14805550000", `{"mission":"m"}`, "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d", w.Code)
	}
}

func TestPlaceCallByContact(t *testing.T) {
	h, placer := testHandlers(t)
	r := router(h)

	w := doJSON(r, http.MethodPost, "/call/id/dentist", `{"mission":"confirm appointment"}`, "sekrit")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	if placer.req.To != "+14805559999" {
		t.Errorf("dialed %q", placer.req.To)
	}

	if w := doJSON(r, http.MethodPost, "/call/id/nobody", `{"mission":"m"}`, "sekrit"); w.Code != http.StatusNotFound {
		t.Errorf("unknown contact: status = %d", w.Code)
	}
}

func postForm(r *gin.Engine, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIncomingCall_Allowed(t *testing.T) {
	h, _ := testHandlers(t)
	r := router(h)

	w := postForm(r, "/incoming-call", url.Values{
		"From":    {"+1 (480) 555-1234"},
		"CallSid": {"CA200"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "wss://voice.example.com/media-stream") {
		t.Errorf("twiml = %s", body)
	}
	if !strings.Contains(body, `name="call_direction" value="inbound"`) {
		t.Errorf("twiml missing direction: %s", body)
	}
	if !strings.Contains(body, `name="call_sid" value="CA200"`) {
		t.Errorf("twiml missing call sid: %s", body)
	}
}

func TestIncomingCall_Denied(t *testing.T) {
	h, _ := testHandlers(t)
	r := router(h)

	w := postForm(r, "/incoming-call", url.Values{
		"From":    {"+19998887777"},
		"CallSid": {"CA201"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<Hangup") || !strings.Contains(body, "Access denied.") {
		t.Errorf("denial twiml = %s", body)
	}
	if strings.Contains(body, "<Connect") {
		t.Error("denied caller must never be connected")
	}
}

func TestTwiML_Outbound(t *testing.T) {
	h, _ := testHandlers(t)
	r := router(h)

	req := httptest.NewRequest(http.MethodGet, "/twiml?timezone=Europe/Berlin", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, `name="call_direction" value="outbound"`) {
		t.Errorf("twiml = %s", body)
	}
	if !strings.Contains(body, `name="timezone" value="Europe/Berlin"`) {
		t.Errorf("twiml = %s", body)
	}
	if strings.Contains(body, "mission") {
		t.Error("mission content must never appear in twiml")
	}
}

func TestCallStatus(t *testing.T) {
	h, _ := testHandlers(t)
	r := router(h)
	h.Registry.Track("CA300", calls.StatusInitiated, nil)

	w := postForm(r, "/call-status", url.Values{
		"CallSid":    {"CA300"},
		"CallStatus": {"no-answer"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	c, _ := h.Registry.Get("CA300")
	if c.Status != calls.StatusFailed || c.Reason != "no-answer" {
		t.Errorf("call = %+v", c)
	}
}

func TestCallResult(t *testing.T) {
	h, _ := testHandlers(t)
	r := router(h)
	h.Registry.RecordResult("CA400", calls.Result{Success: true, Outcome: "done"})

	w := doJSON(r, http.MethodGet, "/call/CA400/result", "", "sekrit")
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "completed" {
		t.Errorf("resp = %v", resp)
	}

	w = doJSON(r, http.MethodGet, "/call/CA999/result", "", "sekrit")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "unknown" || resp["call_sid"] != "CA999" {
		t.Errorf("resp = %v", resp)
	}
}

func TestWSURL_DerivedFromHost(t *testing.T) {
	h, _ := testHandlers(t)
	h.Cfg.App.PublicURL = ""
	r := router(h)

	req := httptest.NewRequest(http.MethodGet, "/twiml", nil)
	req.Host = "abc.trycloudflare.com"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), "wss://abc.trycloudflare.com/media-stream") {
		t.Errorf("twiml = %s", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/twiml", nil)
	req.Host = "localhost:8080"
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), "ws://localhost:8080/media-stream") {
		t.Errorf("twiml = %s", w.Body.String())
	}
}
