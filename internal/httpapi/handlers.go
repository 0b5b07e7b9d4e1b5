package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"voice-receptionist/internal/apperr"
	"voice-receptionist/internal/auth"
	"voice-receptionist/internal/bridge"
	"voice-receptionist/internal/calendar"
	"voice-receptionist/internal/calls"
	"voice-receptionist/internal/rbac"
	"voice-receptionist/internal/timeline"
	"voice-receptionist/internal/tools"
	"voice-receptionist/pkg/logger"
)

type SessionProvisioner interface {
	Provision(ctx context.Context, callSid string) (json.RawMessage, error)
}

type EventReporter interface {
	ReportEvent(ctx context.Context, ev bridge.StreamEvent) (bridge.Ack, error)
}

type ToolInvoker interface {
	Invoke(ctx context.Context, callSid, name string, raw json.RawMessage) (tools.Result, error)
}

type CalendarOAuth interface {
	BuildAuthorizationURL(tenantID string) (string, error)
	ExchangeCodeForTokens(ctx context.Context, tenantID, code string) (calendar.Connection, error)
}

type CallLookup interface {
	GetByProviderCallID(ctx context.Context, providerCallID string) (calls.Call, error)
}

type EventLister interface {
	ListByCall(ctx context.Context, callID string) ([]timeline.Event, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Sessions SessionProvisioner
	Bridge   EventReporter
	Tools    ToolInvoker
	Calendar CalendarOAuth
	Calls    CallLookup
	Timeline EventLister

	// CalendarStatusURL is where the OAuth callback sends the operator back to.
	CalendarStatusURL string
}

// writeError renders err as {"error", "kind", "details"?} with the mapped status.
func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "kind", kind, "err", err)
	}
	body := gin.H{"error": apperr.MessageOf(err), "kind": kind}
	if d := apperr.DetailsOf(err); len(d) > 0 {
		body["details"] = d
	}
	c.AbortWithStatusJSON(status, body)
}

func requestContext(c *gin.Context) context.Context {
	return logger.With(c.Request.Context(), logger.FromGin(c))
}

// --- Realtime session ---

type sessionRequest struct {
	CallSid string `json:"callSid"`
}

// CreateRealtimeSession returns the engine's session payload verbatim.
func (h Handlers) CreateRealtimeSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation("invalid json"))
		return
	}
	raw, err := h.Sessions.Provision(requestContext(c), req.CallSid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

// --- Bridge events ---

// ReportStreamEvent accepts {callSid, eventType, transcript?, summary?, outcome?, error?, ...}.
// Keys beyond the known ones travel to the timeline untouched.
func (h Handlers) ReportStreamEvent(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil || body == nil {
		writeError(c, apperr.Validation("invalid json"))
		return
	}

	ev := bridge.StreamEvent{
		CallSid:    stringField(body, "callSid"),
		EventType:  stringField(body, "eventType"),
		Transcript: optionalString(body, "transcript"),
		Summary:    optionalString(body, "summary"),
		Outcome:    optionalString(body, "outcome"),
		Error:      stringField(body, "error"),
	}
	for _, k := range []string{"callSid", "eventType", "transcript", "summary", "outcome", "error"} {
		delete(body, k)
	}
	if len(body) > 0 {
		ev.Extra = body
	}

	ack, err := h.Bridge.ReportEvent(requestContext(c), ev)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func optionalString(m map[string]any, key string) *string {
	s, ok := m[key].(string)
	if !ok {
		return nil
	}
	return &s
}

// --- Tools ---

type toolRequest struct {
	CallSid string          `json:"callSid"`
	Tool    string          `json:"tool"`
	Args    json.RawMessage `json:"args"`
}

// InvokeTool returns {"result": ...} on success. A tool that ran and failed
// returns {"error", "kind", "tool"} with the status for its kind.
func (h Handlers) InvokeTool(c *gin.Context) {
	var req toolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation("invalid json"))
		return
	}
	res, err := h.Tools.Invoke(requestContext(c), req.CallSid, req.Tool, req.Args)
	if err != nil {
		writeError(c, err)
		return
	}
	if !res.OK() {
		c.JSON(apperr.HTTPStatus(res.Error.Kind), gin.H{"error": res.Error.Message, "kind": res.Error.Kind, "tool": res.Tool})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res.Output})
}

// --- Calendar OAuth ---

// StartCalendarOAuth redirects an operator to the consent screen for their tenant.
// super_admin callers name the tenant with ?tenant_id=.
func (h Handlers) StartCalendarOAuth(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID, _ := auth.TenantID(ctx)
	if role, _ := auth.Role(ctx); rbac.IsSuperAdmin(role) {
		if q := strings.TrimSpace(c.Query("tenant_id")); q != "" {
			tenantID = q
		}
	}
	target, err := h.Calendar.BuildAuthorizationURL(tenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Redirect(http.StatusFound, target)
}

// CalendarOAuthCallback completes the flow and sends the operator to the
// status page with calendar=connected or calendar=error&reason=...
func (h Handlers) CalendarOAuthCallback(c *gin.Context) {
	log := logger.FromGin(c)

	if providerErr := c.Query("error"); providerErr != "" {
		h.calendarRedirect(c, "error", providerErr)
		return
	}
	tenantID, ok := calendar.ParseAuthorizationState(c.Query("state"))
	if !ok {
		h.calendarRedirect(c, "error", "invalid_state")
		return
	}
	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		h.calendarRedirect(c, "error", "missing_code")
		return
	}

	if _, err := h.Calendar.ExchangeCodeForTokens(requestContext(c), tenantID, code); err != nil {
		log.Warn("calendar oauth exchange failed", "tenant_id", tenantID, "kind", apperr.KindOf(err), "err", err)
		h.calendarRedirect(c, "error", "exchange_failed")
		return
	}
	h.calendarRedirect(c, "connected", "")
}

func (h Handlers) calendarRedirect(c *gin.Context, status, reason string) {
	u, err := url.Parse(h.CalendarStatusURL)
	if h.CalendarStatusURL == "" || err != nil {
		body := gin.H{"calendar": status}
		if reason != "" {
			body["reason"] = reason
		}
		code := http.StatusOK
		if status != "connected" {
			code = http.StatusBadRequest
		}
		c.JSON(code, body)
		return
	}
	q := u.Query()
	q.Set("calendar", status)
	if reason != "" {
		q.Set("reason", reason)
	}
	u.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, u.String())
}

// --- Timeline ---

// ListCallEvents returns a call and its ordered timeline. Calls owned by
// another tenant are reported as not found.
func (h Handlers) ListCallEvents(c *gin.Context) {
	ctx := requestContext(c)
	call, err := h.Calls.GetByProviderCallID(ctx, c.Param("call_sid"))
	if errors.Is(err, calls.ErrNotFound) || (err == nil && !rbac.CanAccessTenant(ctx, call.TenantID)) {
		writeError(c, apperr.NotFound("call not found"))
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	events, err := h.Timeline.ListByCall(ctx, call.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call, "events": events})
}
