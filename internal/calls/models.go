package calls

import (
	"errors"
	"time"
)

// Call represents one tenant-scoped phone conversation, tracked from admission to termination.
//
// Multi-tenant invariant: TenantID is required on every row.
// ProviderCallID (Twilio CallSid) is unique; all webhook paths resolve calls through it.
// Rows are never deleted by the call pipeline.
type Call struct {
	ID             string `json:"id" db:"id"`
	AgentID        string `json:"agent_id" db:"agent_id"`
	TenantID       string `json:"tenant_id" db:"tenant_id"`
	ProviderCallID string `json:"call_sid" db:"provider_call_id"`

	From string `json:"from" db:"from_number"`
	To   string `json:"to" db:"to_number"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// DurationSeconds stays nil until the call terminates.
	DurationSeconds *int `json:"duration_seconds,omitempty" db:"duration_seconds"`

	Outcome    Outcome `json:"outcome" db:"outcome"`
	Transcript *string `json:"transcript,omitempty" db:"transcript"`
	Summary    *string `json:"summary,omitempty" db:"summary"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Ended reports whether the termination path has finalized the call.
func (c Call) Ended() bool { return c.EndedAt != nil }

type Outcome string

const (
	OutcomeOther       Outcome = "other"
	OutcomeBooked      Outcome = "booked"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeRescheduled Outcome = "rescheduled"
	OutcomeError       Outcome = "error"
	OutcomeHangup      Outcome = "hangup"
	OutcomeInfoOnly    Outcome = "info_only"
	OutcomeTransfer    Outcome = "transfer"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeOther, OutcomeBooked, OutcomeCancelled, OutcomeRescheduled,
		OutcomeError, OutcomeHangup, OutcomeInfoOnly, OutcomeTransfer:
		return true
	default:
		return false
	}
}

// Unset reports whether no classification has been recorded beyond the initial placeholder.
func (o Outcome) Unset() bool { return o == "" || o == OutcomeOther }

// IsToolOutcome reports whether o can be produced by a successful calendar tool.
func (o Outcome) IsToolOutcome() bool {
	return o == OutcomeBooked || o == OutcomeCancelled || o == OutcomeRescheduled
}

// CanToolTransition enforces the one-way outcome rule for tool calls:
// only the initial "other" may move to a tool outcome, and only while the call is live.
// Later changes belong to the stream termination path.
func CanToolTransition(c Call, to Outcome) bool {
	if c.Ended() || !to.IsToolOutcome() {
		return false
	}
	return c.Outcome.Unset()
}

// Update carries the optional field changes applied by the media stream bridge.
// Nil fields are left untouched.
type Update struct {
	Transcript      *string
	Summary         *string
	Outcome         *Outcome
	EndedAt         *time.Time
	DurationSeconds *int
}

func (u Update) Empty() bool {
	return u.Transcript == nil && u.Summary == nil && u.Outcome == nil && u.EndedAt == nil && u.DurationSeconds == nil
}

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrInvalidArgument = errors.New("calls: invalid argument")
)
