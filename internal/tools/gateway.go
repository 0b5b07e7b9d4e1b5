package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-receptionist/internal/apperr"
	"voice-receptionist/internal/calls"
	"voice-receptionist/pkg/logger"
	"voice-receptionist/pkg/metrics"
)

// ToolContext binds a tool execution to the call and tenant it runs for.
type ToolContext struct {
	CallID   string
	CallSid  string
	TenantID string
}

type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type AvailabilityResult struct {
	Busy            []Interval `json:"busy"`
	DurationMinutes int        `json:"durationMinutes"`
	Timezone        string     `json:"timezone,omitempty"`
}

type BookingResult struct {
	EventID  string `json:"eventId"`
	HTMLLink string `json:"htmlLink,omitempty"`
}

type CancellationResult struct {
	EventID   string `json:"eventId"`
	Cancelled bool   `json:"cancelled"`
}

type RescheduleResult struct {
	EventID  string    `json:"eventId"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	HTMLLink string    `json:"htmlLink,omitempty"`
}

// Calendar executes the four calendar tools for a tenant.
type Calendar interface {
	CheckAvailability(ctx context.Context, tc ToolContext, a CheckAvailabilityArgs) (AvailabilityResult, error)
	BookAppointment(ctx context.Context, tc ToolContext, a BookAppointmentArgs) (BookingResult, error)
	CancelAppointment(ctx context.Context, tc ToolContext, a CancelAppointmentArgs) (CancellationResult, error)
	RescheduleAppointment(ctx context.Context, tc ToolContext, a RescheduleAppointmentArgs) (RescheduleResult, error)
}

// ToolError is the structured failure returned to the engine in place of a
// transport error, so it can recover conversationally.
type ToolError struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

type Result struct {
	Tool   Name       `json:"tool"`
	Output any        `json:"output,omitempty"`
	Error  *ToolError `json:"error,omitempty"`
}

func (r Result) OK() bool { return r.Error == nil }

type Gateway struct {
	calls    calls.Repository
	calendar Calendar
}

func NewGateway(callsRepo calls.Repository, calendar Calendar) *Gateway {
	return &Gateway{calls: callsRepo, calendar: calendar}
}

// Invoke resolves the call, validates arguments for name and dispatches to
// the calendar. The returned error covers request problems only (unknown
// call, unknown tool, bad arguments, ended call); execution failures come
// back in Result.Error.
func (g *Gateway) Invoke(ctx context.Context, callSid, name string, raw json.RawMessage) (Result, error) {
	callSid = strings.TrimSpace(callSid)
	if callSid == "" {
		return Result{}, apperr.Validation("callSid is required")
	}

	c, err := g.calls.GetByProviderCallID(ctx, callSid)
	if errors.Is(err, calls.ErrNotFound) {
		return Result{}, apperr.NotFound("call not found")
	}
	if err != nil {
		return Result{}, fmt.Errorf("tools: load call: %w", err)
	}
	if c.Ended() {
		metrics.RecordToolInvocation(toolLabel(name), "rejected")
		return Result{}, apperr.Validation("call has ended")
	}

	inv, err := Decode(name, raw)
	if err != nil {
		metrics.RecordToolInvocation(toolLabel(name), "rejected")
		return Result{}, err
	}

	tc := ToolContext{CallID: c.ID, CallSid: c.ProviderCallID, TenantID: c.TenantID}
	out, err := g.dispatch(ctx, tc, inv)
	res := Result{Tool: inv.Tool()}
	if err != nil {
		kind := apperr.KindOf(err)
		logger.From(ctx).Warn("tool invocation failed",
			"call_id", c.ID,
			"tenant_id", c.TenantID,
			"tool", string(inv.Tool()),
			"kind", kind,
			"err", err,
		)
		metrics.RecordToolInvocation(string(inv.Tool()), "error")
		res.Error = &ToolError{Kind: kind, Message: apperr.MessageOf(err)}
		return res, nil
	}
	metrics.RecordToolInvocation(string(inv.Tool()), "ok")
	res.Output = out
	return res, nil
}

func (g *Gateway) dispatch(ctx context.Context, tc ToolContext, inv Invocation) (any, error) {
	if g.calendar == nil {
		return nil, errors.New("tools: calendar not configured")
	}
	switch a := inv.(type) {
	case CheckAvailabilityArgs:
		return g.calendar.CheckAvailability(ctx, tc, a)
	case BookAppointmentArgs:
		return g.calendar.BookAppointment(ctx, tc, a)
	case CancelAppointmentArgs:
		return g.calendar.CancelAppointment(ctx, tc, a)
	case RescheduleAppointmentArgs:
		return g.calendar.RescheduleAppointment(ctx, tc, a)
	default:
		return nil, apperr.Validation("unsupported tool")
	}
}

// toolLabel bounds metric label cardinality to the catalog.
func toolLabel(name string) string {
	switch Name(name) {
	case CheckAvailability, BookAppointment, CancelAppointment, RescheduleAppointment:
		return name
	default:
		return "unknown"
	}
}
