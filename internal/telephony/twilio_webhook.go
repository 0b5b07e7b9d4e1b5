package telephony

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TwilioInboundForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
type TwilioInboundForm struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	Direction  string
	CallStatus string
	CallerName string
}

func ParseTwilioInboundCall(r *http.Request) (TwilioInboundForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioInboundForm{}, err
	}
	return TwilioInboundForm{
		CallSid:    strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid: r.PostFormValue("AccountSid"),
		From:       strings.TrimSpace(r.PostFormValue("From")),
		To:         strings.TrimSpace(r.PostFormValue("To")),
		Direction:  r.PostFormValue("Direction"),
		CallStatus: r.PostFormValue("CallStatus"),
		CallerName: r.PostFormValue("CallerName"),
	}, nil
}

func (f TwilioInboundForm) ToInboundCallRequest(occurredAt time.Time) InboundCallRequest {
	return InboundCallRequest{
		ProviderCallID: f.CallSid,
		From:           f.From,
		To:             f.To,
		CallStatus:     f.CallStatus,
		OccurredAt:     occurredAt,
	}
}

// StreamStatusForm is the <Stream statusCallback> payload.
type StreamStatusForm struct {
	CallSid     string
	StreamSid   string
	StreamEvent string
	StreamError string

	// CallDuration is nil when Twilio did not send it or it was not an integer.
	CallDuration *int
}

func ParseStreamStatus(r *http.Request) (StreamStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return StreamStatusForm{}, err
	}
	f := StreamStatusForm{
		CallSid:     strings.TrimSpace(r.PostFormValue("CallSid")),
		StreamSid:   r.PostFormValue("StreamSid"),
		StreamEvent: r.PostFormValue("StreamEvent"),
		StreamError: strings.TrimSpace(r.PostFormValue("StreamError")),
	}
	if raw := strings.TrimSpace(r.PostFormValue("CallDuration")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			f.CallDuration = &n
		}
	}
	return f, nil
}
