package telephony

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseInboundCall(t *testing.T) {
	body := strings.NewReader("CallSid=CA123&From=%2B14805551234&To=%2B15550001111")
	r := httptest.NewRequest(http.MethodPost, "/incoming-call", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	form, err := ParseInboundCall(r)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if form.CallSID != "CA123" {
		t.Fatalf("CallSID = %q", form.CallSID)
	}
	if form.From != "+14805551234" || form.To != "+15550001111" {
		t.Fatalf("unexpected from/to: %q %q", form.From, form.To)
	}
}

func TestParseInboundCall_QueryFallback(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/incoming-call?CallSid=CA9&From=%2B1999", nil)

	form, err := ParseInboundCall(r)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if form.CallSID != "CA9" || form.From != "+1999" {
		t.Fatalf("unexpected form: %+v", form)
	}
}

func TestParseStatusCallback(t *testing.T) {
	body := strings.NewReader("CallSid=CA123&CallStatus=completed")
	r := httptest.NewRequest(http.MethodPost, "/call-status", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	form, err := ParseStatusCallback(r)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if form.CallSID != "CA123" || form.CallStatus != "completed" {
		t.Fatalf("unexpected form: %+v", form)
	}
}
