package telephony

import (
	"context"
	"time"
)

// Router decides what an inbound call should do at the carrier boundary.
// Implementations always return a usable result; a non-nil error carries the
// reason a fallback was chosen, for logging only.
type Router interface {
	RouteInboundCall(ctx context.Context, req InboundCallRequest) (InboundCallResult, error)
}

// InboundCallRequest represents an inbound call event received from the carrier.
type InboundCallRequest struct {
	// ProviderCallID is the carrier's unique identifier for this call (Twilio CallSid).
	ProviderCallID string `json:"provider_call_id"`

	From       string `json:"from"`
	To         string `json:"to"`
	CallStatus string `json:"call_status,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// InboundCallResult is the carrier-agnostic instruction the webhook renders.
type InboundCallResult struct {
	Action InboundCallAction `json:"action"`

	// Set when Action == connect_stream.
	CallID            string `json:"call_id,omitempty"`
	AgentID           string `json:"agent_id,omitempty"`
	StreamURL         string `json:"stream_url,omitempty"`
	StatusCallbackURL string `json:"status_callback_url,omitempty"`

	// Reason is internal only (logs/metrics); it is never spoken to the caller.
	Reason string `json:"reason,omitempty"`
}

type InboundCallAction string

const (
	InboundCallActionConnectStream InboundCallAction = "connect_stream"
	InboundCallActionFallback      InboundCallAction = "fallback"
)

// Fallback is the caller-safe result used on every failure path.
func Fallback(reason string) InboundCallResult {
	return InboundCallResult{Action: InboundCallActionFallback, Reason: reason}
}
