package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"net/url"
	"strings"
)

// FallbackMessage is spoken before hanging up whenever a call cannot be connected.
const FallbackMessage = "Sorry, we are unable to take your call right now. Please try again later."

// fallbackTwiML is written verbatim if rendering itself fails.
const fallbackTwiML = xml.Header + `<Response><Say>` + FallbackMessage + `</Say><Hangup></Hangup></Response>`

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
	URL                  string           `xml:"url,attr"`
	StatusCallback       string           `xml:"statusCallback,attr,omitempty"`
	StatusCallbackMethod string           `xml:"statusCallbackMethod,attr,omitempty"`
	Parameters           []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// RenderTwiML maps an InboundCallResult to TwiML.
func RenderTwiML(res InboundCallResult) (string, error) {
	var r twimlResponse

	switch res.Action {
	case InboundCallActionFallback:
		r.Verbs = append(r.Verbs, twimlSay{Text: FallbackMessage}, twimlHangup{})
	case InboundCallActionConnectStream:
		if strings.TrimSpace(res.StreamURL) == "" {
			return "", errors.New("telephony: stream_url required for connect_stream action")
		}
		s := twimlStream{URL: res.StreamURL}
		if res.StatusCallbackURL != "" {
			s.StatusCallback = res.StatusCallbackURL
			s.StatusCallbackMethod = "POST"
		}
		if res.CallID != "" {
			s.Parameters = append(s.Parameters, twimlParameter{Name: "callId", Value: res.CallID})
		}
		if res.AgentID != "" {
			s.Parameters = append(s.Parameters, twimlParameter{Name: "agentId", Value: res.AgentID})
		}
		r.Verbs = append(r.Verbs, twimlConnect{Stream: s})
	default:
		return "", errors.New("telephony: unknown inbound action")
	}

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

// StreamURL builds the media-bridge websocket URL for a call from the public
// base URL (http->ws, https->wss).
func StreamURL(publicBaseURL, callSid, agentID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(publicBaseURL, "/"))
	if err != nil || u.Host == "" {
		return "", errors.New("telephony: invalid public base url")
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", errors.New("telephony: unsupported public base url scheme")
	}
	u.Path += "/media-stream"
	q := url.Values{}
	q.Set("callSid", callSid)
	q.Set("agentId", agentID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// StatusCallbackURL is the stream-status webhook for the public base URL.
func StatusCallbackURL(publicBaseURL string) string {
	return strings.TrimRight(publicBaseURL, "/") + "/webhooks/twilio/stream-status"
}
