package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"voice-receptionist/internal/agents"
	"voice-receptionist/internal/apperr"
	"voice-receptionist/internal/calls"
	"voice-receptionist/internal/tenants"
	"voice-receptionist/internal/tools"
	"voice-receptionist/pkg/logger"
)

type Defaults struct {
	Model string
	Voice string
}

type Provisioner struct {
	calls    calls.Repository
	agents   agents.Repository
	tenants  tenants.Repository
	engine   Engine
	defaults Defaults
}

func NewProvisioner(callsRepo calls.Repository, agentsRepo agents.Repository, tenantsRepo tenants.Repository, engine Engine, defaults Defaults) *Provisioner {
	return &Provisioner{calls: callsRepo, agents: agentsRepo, tenants: tenantsRepo, engine: engine, defaults: defaults}
}

// Provision resolves call and agent for callSid and requests a session with
// the agent's configuration, the tool catalog and call metadata.
func (p *Provisioner) Provision(ctx context.Context, callSid string) (json.RawMessage, error) {
	callSid = strings.TrimSpace(callSid)
	if callSid == "" {
		return nil, apperr.Validation("callSid is required")
	}

	c, err := p.calls.GetByProviderCallID(ctx, callSid)
	if errors.Is(err, calls.ErrNotFound) {
		return nil, apperr.NotFound("call not found")
	}
	if err != nil {
		return nil, fmt.Errorf("realtime: load call: %w", err)
	}

	agent, err := p.agents.Get(ctx, c.AgentID)
	if errors.Is(err, agents.ErrNotFound) {
		return nil, apperr.NotFound("agent not found")
	}
	if err != nil {
		return nil, fmt.Errorf("realtime: load agent: %w", err)
	}

	var tenant tenants.Tenant
	if p.tenants != nil {
		t, err := p.tenants.Get(ctx, c.TenantID)
		switch {
		case err == nil:
			tenant = t
		case errors.Is(err, tenants.ErrNotFound):
		default:
			logger.From(ctx).Warn("tenant lookup failed", "tenant_id", c.TenantID, "err", err)
		}
	}

	return p.engine.CreateSession(ctx, p.buildRequest(c, agent, tenant))
}

func (p *Provisioner) buildRequest(c calls.Call, agent agents.Agent, tenant tenants.Tenant) SessionRequest {
	model := agent.Model
	if model == "" {
		model = p.defaults.Model
	}
	voice := agent.Voice
	if voice == "" {
		voice = p.defaults.Voice
	}
	return SessionRequest{
		Model:                   model,
		Voice:                   voice,
		Instructions:            instructions(agent, tenant),
		Tools:                   tools.Catalog(),
		ToolChoice:              "auto",
		InputAudioFormat:        "g711_ulaw",
		OutputAudioFormat:       "g711_ulaw",
		InputAudioTranscription: &Transcription{Model: "whisper-1"},
		TurnDetection:           &TurnDetection{Type: "server_vad"},
		Metadata: SessionMetadata{
			CallID:   c.ID,
			CallSid:  c.ProviderCallID,
			AgentID:  agent.ID,
			TenantID: c.TenantID,
		},
	}
}

func instructions(agent agents.Agent, tenant tenants.Tenant) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(agent.Prompt))
	if tenant.Name != "" {
		fmt.Fprintf(&b, "\n\nYou are answering calls for %s.", tenant.Name)
	}
	if tenant.Timezone != "" {
		fmt.Fprintf(&b, "\nThe business operates in the %s time zone.", tenant.Timezone)
	}
	b.WriteString("\nPass all times to tools as RFC 3339 timestamps with an offset.")
	return strings.TrimSpace(b.String())
}
