// Package bridge receives asynchronous callbacks from the media stream bridge
// and the carrier, and folds them into the Call record and its timeline.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-receptionist/internal/apperr"
	"voice-receptionist/internal/calls"
	"voice-receptionist/internal/timeline"
	"voice-receptionist/pkg/logger"
)

// Stream lifecycle events sent by Twilio <Stream statusCallback>.
const (
	StreamStarted = "stream-started"
	StreamStopped = "stream-stopped"
	StreamError   = "stream-error"
)

// Ack is the body returned to the carrier/bridge. Providers expect a fast 2xx.
type Ack struct {
	OK      bool `json:"ok"`
	Ignored bool `json:"ignored,omitempty"`
}

// StreamEvent is an application-level event from the conversational bridge.
type StreamEvent struct {
	CallSid   string
	EventType string

	Transcript *string
	Summary    *string
	Outcome    *string

	// Error is set when the bridge reports a failure.
	Error string

	// Extra holds remaining payload keys; they are copied onto the timeline event.
	Extra map[string]any
}

// Status is a carrier stream lifecycle callback.
type Status struct {
	CallSid      string
	StreamSid    string
	Event        string
	Error        string
	CallDuration *int
}

// Terminal reports whether the callback finalizes the call.
func (s Status) Terminal() bool {
	return s.Error != "" || s.Event != StreamStarted
}

type Service struct {
	calls    calls.Repository
	recorder *timeline.Recorder
	now      func() time.Time
}

func NewService(callsRepo calls.Repository, recorder *timeline.Recorder) *Service {
	return &Service{calls: callsRepo, recorder: recorder, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ReportEvent applies transcript/summary/outcome updates and appends an
// agent_said (or error) event. Unknown calls are acknowledged and ignored.
func (s *Service) ReportEvent(ctx context.Context, ev StreamEvent) (Ack, error) {
	ev.CallSid = strings.TrimSpace(ev.CallSid)
	if ev.CallSid == "" {
		return Ack{}, apperr.Validation("callSid is required")
	}

	c, err := s.calls.GetByProviderCallID(ctx, ev.CallSid)
	if errors.Is(err, calls.ErrNotFound) {
		return Ack{OK: true, Ignored: true}, nil
	}
	if err != nil {
		return Ack{}, fmt.Errorf("bridge: load call: %w", err)
	}

	payload := map[string]any{}
	for k, v := range ev.Extra {
		payload[k] = v
	}
	if ev.EventType != "" {
		payload["eventType"] = ev.EventType
	}

	u := calls.Update{Transcript: ev.Transcript, Summary: ev.Summary}
	if ev.Outcome != nil {
		if o, ok := bridgeOutcome(c, *ev.Outcome); ok {
			u.Outcome = &o
			payload["outcome"] = string(o)
		} else {
			payload["outcomeIgnored"] = *ev.Outcome
		}
	}
	if !u.Empty() {
		updated, err := s.calls.Apply(ctx, c.ID, u)
		if err != nil {
			return Ack{}, fmt.Errorf("bridge: apply event: %w", err)
		}
		// A booking committed after the read keeps its outcome.
		if u.Outcome != nil && updated.Outcome != *u.Outcome {
			delete(payload, "outcome")
			payload["outcomeIgnored"] = *ev.Outcome
		}
	}

	typ := timeline.TypeAgentSaid
	if ev.EventType == "error" || ev.Error != "" {
		typ = timeline.TypeError
		if ev.Error != "" {
			payload["error"] = ev.Error
		}
	}
	if ev.Transcript != nil {
		payload["transcript"] = *ev.Transcript
	}
	if ev.Summary != nil {
		payload["summary"] = *ev.Summary
	}
	s.recorder.Record(ctx, timeline.Event{CallID: c.ID, TenantID: c.TenantID, Type: typ, Payload: payload})

	return Ack{OK: true}, nil
}

// bridgeOutcome accepts the non-tool outcomes the bridge may classify a call
// with. Tool outcomes are owned by the calendar tools; the repository guards
// them again at write time.
func bridgeOutcome(c calls.Call, raw string) (calls.Outcome, bool) {
	o := calls.Outcome(strings.TrimSpace(raw))
	if !o.Valid() || o.IsToolOutcome() || c.Outcome.IsToolOutcome() {
		return "", false
	}
	return o, true
}

// ReportStatus finalizes the call on a terminal stream callback: ended_at,
// duration, an error outcome when the stream failed before any outcome was
// set, and a terminal timeline event. Repeated terminal callbacks are no-ops.
func (s *Service) ReportStatus(ctx context.Context, st Status) (Ack, error) {
	st.CallSid = strings.TrimSpace(st.CallSid)
	if st.CallSid == "" {
		return Ack{}, apperr.Validation("CallSid is required")
	}

	c, err := s.calls.GetByProviderCallID(ctx, st.CallSid)
	if errors.Is(err, calls.ErrNotFound) {
		return Ack{OK: true, Ignored: true}, nil
	}
	if err != nil {
		return Ack{}, fmt.Errorf("bridge: load call: %w", err)
	}
	if !st.Terminal() {
		return Ack{OK: true}, nil
	}
	if c.Ended() {
		logger.From(ctx).Debug("duplicate terminal stream callback", "call_id", c.ID, "event", st.Event)
		return Ack{OK: true}, nil
	}

	now := s.now().UTC()
	duration := elapsedSeconds(c.StartedAt, now)
	if st.CallDuration != nil {
		duration = *st.CallDuration
	}

	// Compare-and-set so a booking that lands concurrently is not overwritten.
	if st.Error != "" && c.Outcome.Unset() {
		if _, err := s.calls.TransitionOutcome(ctx, c.ID, c.Outcome, calls.OutcomeError); err != nil {
			return Ack{}, fmt.Errorf("bridge: mark error: %w", err)
		}
	}
	final, ended, err := s.calls.End(ctx, c.ID, now, duration)
	if err != nil {
		return Ack{}, fmt.Errorf("bridge: finalize call: %w", err)
	}
	if !ended {
		logger.From(ctx).Debug("terminal stream callback lost finalize race", "call_id", c.ID, "event", st.Event)
		return Ack{OK: true}, nil
	}

	payload := map[string]any{
		"streamEvent":     st.Event,
		"durationSeconds": duration,
		"outcome":         string(final.Outcome),
	}
	if st.StreamSid != "" {
		payload["streamSid"] = st.StreamSid
	}
	typ := timeline.TypeCallEnded
	if st.Error != "" {
		typ = timeline.TypeError
		payload["error"] = st.Error
	}
	s.recorder.Record(ctx, timeline.Event{CallID: c.ID, TenantID: c.TenantID, Type: typ, Payload: payload})

	return Ack{OK: true}, nil
}

func elapsedSeconds(startedAt, now time.Time) int {
	if startedAt.IsZero() || now.Before(startedAt) {
		return 0
	}
	return int(now.Sub(startedAt).Seconds())
}
