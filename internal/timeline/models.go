// Package timeline is the append-only, per-call event log every pipeline
// component writes to. It is the source of truth for audit and replay.
//
// Events are never updated or deleted. Within one call, events are
// observable in the order their producing operation completed; there is no
// ordering across calls.
package timeline

import (
	"errors"
	"time"
)

type Event struct {
	ID       string `json:"id" db:"id"`
	CallID   string `json:"call_id" db:"call_id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	Type     Type   `json:"type" db:"type"`

	// Payload is free-form structured detail; it is stored as JSON.
	Payload map[string]any `json:"payload,omitempty" db:"payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Type string

const (
	TypeAudioStarted       Type = "audio_started"
	TypeAgentSaid          Type = "agent_said"
	TypeToolCalled         Type = "tool_called"
	TypeToolResult         Type = "tool_result"
	TypeBookingCreated     Type = "booking_created"
	TypeBookingCancelled   Type = "booking_cancelled"
	TypeBookingRescheduled Type = "booking_rescheduled"
	TypeCallEnded          Type = "call_ended"
	TypeError              Type = "error"
)

func (t Type) Valid() bool {
	switch t {
	case TypeAudioStarted, TypeAgentSaid, TypeToolCalled, TypeToolResult,
		TypeBookingCreated, TypeBookingCancelled, TypeBookingRescheduled,
		TypeCallEnded, TypeError:
		return true
	default:
		return false
	}
}

var ErrInvalidEvent = errors.New("timeline: invalid event")
