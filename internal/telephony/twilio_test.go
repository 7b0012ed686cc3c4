package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestClient_PlaceCall(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC123/Calls.json" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "tok" {
			t.Errorf("unexpected basic auth %q/%q", user, pass)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"CA999","status":"queued"}`))
	}))
	defer srv.Close()

	c, err := NewClient("AC123", "tok", "+15550001111")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	c.apiBase = srv.URL

	res, err := c.PlaceCall(context.Background(), PlaceCallRequest{
		To:                "+14805551234",
		CallbackURL:       "https://voice.example.com/twiml?timezone=America/Phoenix",
		StatusCallbackURL: "https://voice.example.com/call-status",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.CallSID != "CA999" || res.Status != "queued" {
		t.Fatalf("unexpected result: %+v", res)
	}

	if got := gotForm.Get("To"); got != "+14805551234" {
		t.Fatalf("To = %q", got)
	}
	if got := gotForm.Get("From"); got != "+15550001111" {
		t.Fatalf("From = %q", got)
	}
	if got := gotForm.Get("StatusCallback"); got != "https://voice.example.com/call-status" {
		t.Fatalf("StatusCallback = %q", got)
	}
	if got := gotForm["StatusCallbackEvent"]; len(got) != 4 {
		t.Fatalf("StatusCallbackEvent = %v", got)
	}
}

func TestClient_PlaceCallProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":21211,"message":"invalid number"}`))
	}))
	defer srv.Close()

	c, _ := NewClient("AC123", "tok", "+15550001111")
	c.apiBase = srv.URL

	_, err := c.PlaceCall(context.Background(), PlaceCallRequest{To: "+1", CallbackURL: "https://x/twiml"})
	if err == nil {
		t.Fatal("expected error on provider 400")
	}
}

func TestClient_Validation(t *testing.T) {
	if _, err := NewClient("", "tok", "+1"); err == nil {
		t.Fatal("expected error for missing sid")
	}
	c, _ := NewClient("AC", "tok", "+1")
	if _, err := c.PlaceCall(context.Background(), PlaceCallRequest{}); err == nil {
		t.Fatal("expected error for missing destination")
	}
}
