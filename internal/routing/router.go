// Package routing turns an inbound carrier webhook into call-control
// instructions for a tenant's voice agent.
package routing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"voice-receptionist/internal/admission"
	"voice-receptionist/internal/agents"
	"voice-receptionist/internal/apperr"
	"voice-receptionist/internal/calls"
	"voice-receptionist/internal/telephony"
	"voice-receptionist/internal/timeline"
	"voice-receptionist/pkg/metrics"
)

// Fallback reasons (internal only, never spoken to the caller).
const (
	ReasonMissingFields     = "missing_fields"
	ReasonNoPublicBaseURL   = "public_base_url_missing"
	ReasonAgentNotFound     = "agent_not_found"
	ReasonAgentNotPublished = "agent_not_published"
	ReasonRateLimited       = "rate_limited"
	ReasonAdmissionError    = "admission_error"
	ReasonCallNotRecorded   = "call_not_recorded"
	ReasonStreamURLInvalid  = "stream_url_invalid"
)

// Router evaluates an inbound call.
//
// Order:
//  1. Required webhook fields
//  2. Public base URL (the stream cannot be reached without it)
//  3. Agent by dialed number, must be published
//  4. Admission gate
//  5. Call upsert keyed by CallSid, then audio_started (best effort)
//
// Every rejection yields telephony.Fallback with an apperr explaining why.
type Router struct {
	Agents   agents.Repository
	Calls    calls.Repository
	Gate     admission.Gate
	Recorder *timeline.Recorder

	PublicBaseURL string

	Now   func() time.Time
	NewID func() string
}

func NewRouter(agentsRepo agents.Repository, callsRepo calls.Repository, gate admission.Gate, recorder *timeline.Recorder, publicBaseURL string) *Router {
	return &Router{
		Agents:        agentsRepo,
		Calls:         callsRepo,
		Gate:          gate,
		Recorder:      recorder,
		PublicBaseURL: strings.TrimSpace(publicBaseURL),
		Now:           time.Now,
		NewID:         uuid.NewString,
	}
}

func (r *Router) RouteInboundCall(ctx context.Context, req telephony.InboundCallRequest) (telephony.InboundCallResult, error) {
	if req.ProviderCallID == "" || req.To == "" {
		return telephony.Fallback(ReasonMissingFields), apperr.Validation("CallSid and To are required")
	}
	if r.PublicBaseURL == "" {
		return telephony.Fallback(ReasonNoPublicBaseURL), apperr.Validation("public base url not configured")
	}

	agent, err := r.Agents.GetByPhoneNumber(ctx, req.To)
	if errors.Is(err, agents.ErrNotFound) {
		return telephony.Fallback(ReasonAgentNotFound), apperr.NotFound("no agent for dialed number")
	}
	if err != nil {
		return telephony.Fallback(ReasonAgentNotFound), apperr.Wrap(apperr.KindInternal, "agent lookup failed", err)
	}
	if !agent.Answerable() {
		return telephony.Fallback(ReasonAgentNotPublished), apperr.NotFound("agent is not published")
	}

	ok, err := r.Gate.Allow(ctx, agent.ID)
	if err != nil {
		metrics.RecordAdmission("error")
		return telephony.Fallback(ReasonAdmissionError), apperr.Wrap(apperr.KindInternal, "admission check failed", err)
	}
	if !ok {
		metrics.RecordAdmission("rejected")
		return telephony.Fallback(ReasonRateLimited), apperr.RateLimited("agent call rate exceeded")
	}
	metrics.RecordAdmission("admitted")

	streamURL, err := telephony.StreamURL(r.PublicBaseURL, req.ProviderCallID, agent.ID)
	if err != nil {
		return telephony.Fallback(ReasonStreamURLInvalid), apperr.Validation(err.Error())
	}

	now := r.now()
	startedAt := req.OccurredAt
	if startedAt.IsZero() {
		startedAt = now
	}
	call, err := r.Calls.UpsertByProviderCallID(ctx, calls.Call{
		ID:             r.NewID(),
		AgentID:        agent.ID,
		TenantID:       agent.TenantID,
		ProviderCallID: req.ProviderCallID,
		From:           req.From,
		To:             req.To,
		StartedAt:      startedAt.UTC(),
		Outcome:        calls.OutcomeOther,
		CreatedAt:      now,
	})
	if err != nil {
		return telephony.Fallback(ReasonCallNotRecorded), apperr.Wrap(apperr.KindInternal, "call upsert failed", err)
	}

	r.Recorder.Record(ctx, timeline.Event{
		CallID:   call.ID,
		TenantID: call.TenantID,
		Type:     timeline.TypeAudioStarted,
		Payload: map[string]any{
			"callSid": req.ProviderCallID,
			"agentId": agent.ID,
			"from":    req.From,
			"to":      req.To,
		},
	})

	return telephony.InboundCallResult{
		Action:            telephony.InboundCallActionConnectStream,
		CallID:            call.ID,
		AgentID:           agent.ID,
		StreamURL:         streamURL,
		StatusCallbackURL: telephony.StatusCallbackURL(r.PublicBaseURL),
		Reason:            "connected",
	}, nil
}

func (r *Router) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}
