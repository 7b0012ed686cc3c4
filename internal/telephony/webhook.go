package telephony

import (
	"net/http"
	"strings"
)

// Twilio sends voice webhooks as application/x-www-form-urlencoded. These
// parsers capture only the fields this server cares about; routing decisions
// are not made here.

// InboundCallForm is the subset of the incoming-call webhook.
type InboundCallForm struct {
	CallSID string
	From    string
	To      string
}

func ParseInboundCall(r *http.Request) (InboundCallForm, error) {
	if err := r.ParseForm(); err != nil {
		return InboundCallForm{}, err
	}
	return InboundCallForm{
		CallSID: formValue(r, "CallSid"),
		From:    formValue(r, "From"),
		To:      formValue(r, "To"),
	}, nil
}

// StatusCallbackForm carries a call lifecycle update.
type StatusCallbackForm struct {
	CallSID    string
	CallStatus string
}

func ParseStatusCallback(r *http.Request) (StatusCallbackForm, error) {
	if err := r.ParseForm(); err != nil {
		return StatusCallbackForm{}, err
	}
	return StatusCallbackForm{
		CallSID:    formValue(r, "CallSid"),
		CallStatus: formValue(r, "CallStatus"),
	}, nil
}

func formValue(r *http.Request, key string) string {
	// GET webhooks put fields in the query string instead of the body.
	if v := r.PostFormValue(key); v != "" {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(r.FormValue(key))
}
