// Package agents exposes the read-only view of voice-agent configurations.
// Agents are created and edited by tenant-management tooling outside this service.
package agents

import (
	"errors"
	"strings"
	"time"
)

// Agent is a tenant-owned voice receptionist bound to one telephony number.
type Agent struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	Name     string `json:"name" db:"name"`
	Status   Status `json:"status" db:"status"`

	// Conversational configuration handed to the realtime engine.
	Prompt string `json:"prompt" db:"prompt"`
	Model  string `json:"model" db:"model"`
	Voice  string `json:"voice" db:"voice"`

	// PhoneNumber is stored normalized (see NormalizePhone).
	PhoneNumber string `json:"phone_number" db:"phone_number"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusPaused    Status = "paused"
)

// Answerable reports whether the agent may take live calls.
func (a Agent) Answerable() bool { return a.Status == StatusPublished }

var ErrNotFound = errors.New("agents: not found")

// NormalizePhone strips formatting characters so "+1 (555) 123-0000" and
// "+15551230000" resolve to the same agent. Non-numeric identifiers such as
// "anonymous" pass through trimmed.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return s
		}
	}
	return b.String()
}
