// Package realtime provisions short-lived conversational-engine sessions for
// admitted calls.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"voice-receptionist/internal/apperr"
	"voice-receptionist/internal/tools"
)

// SessionRequest is the body of POST /realtime/sessions.
type SessionRequest struct {
	Model        string             `json:"model"`
	Voice        string             `json:"voice,omitempty"`
	Instructions string             `json:"instructions,omitempty"`
	Tools        []tools.Definition `json:"tools"`
	ToolChoice   string             `json:"tool_choice"`

	// Twilio media streams carry 8 kHz mu-law.
	InputAudioFormat  string `json:"input_audio_format"`
	OutputAudioFormat string `json:"output_audio_format"`

	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection,omitempty"`

	Metadata SessionMetadata `json:"metadata"`
}

type Transcription struct {
	Model string `json:"model"`
}

type TurnDetection struct {
	Type string `json:"type"`
}

// SessionMetadata binds a session back to its call; the tool gateway relies
// on it to scope calendar access.
type SessionMetadata struct {
	CallID   string `json:"callId"`
	CallSid  string `json:"callSid"`
	AgentID  string `json:"agentId"`
	TenantID string `json:"tenantId"`
}

// Engine creates sessions on the conversational engine.
type Engine interface {
	CreateSession(ctx context.Context, req SessionRequest) (json.RawMessage, error)
}

// OpenAIClient talks to the OpenAI realtime sessions endpoint.
type OpenAIClient struct {
	http *resty.Client
}

func NewOpenAIClient(baseURL, apiKey string, timeout time.Duration) *OpenAIClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("OpenAI-Beta", "realtime=v1")
	return &OpenAIClient{http: c}
}

// CreateSession returns the provider payload verbatim. Failures are not
// retried; non-2xx responses become upstream errors carrying status and body.
func (c *OpenAIClient) CreateSession(ctx context.Context, req SessionRequest) (json.RawMessage, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/realtime/sessions")
	if err != nil {
		return nil, apperr.Upstream("realtime session request failed", err)
	}
	if !resp.IsSuccess() {
		e := apperr.Upstream("realtime session rejected", fmt.Errorf("status %d", resp.StatusCode()))
		e.Details = map[string]any{
			"status": resp.StatusCode(),
			"body":   providerBody(resp.Body()),
		}
		return nil, e
	}
	body := resp.Body()
	if !json.Valid(body) {
		return nil, apperr.Upstream("realtime session response is not JSON", nil)
	}
	return json.RawMessage(body), nil
}

// providerBody keeps JSON error bodies structured and truncates anything else.
func providerBody(b []byte) any {
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	const maxBody = 2048
	if len(b) > maxBody {
		b = b[:maxBody]
	}
	return string(b)
}
