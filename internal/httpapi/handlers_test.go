package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"voice-receptionist/internal/apperr"
	"voice-receptionist/internal/auth"
	"voice-receptionist/internal/bridge"
	"voice-receptionist/internal/calendar"
	"voice-receptionist/internal/calls"
	"voice-receptionist/internal/rbac"
	"voice-receptionist/internal/timeline"
	"voice-receptionist/internal/tools"
)

type stubSessions struct {
	raw json.RawMessage
	err error
	got string
}

func (s *stubSessions) Provision(ctx context.Context, callSid string) (json.RawMessage, error) {
	s.got = callSid
	return s.raw, s.err
}

type stubCalendar struct {
	err error
}

func (s *stubCalendar) CheckAvailability(ctx context.Context, tc tools.ToolContext, a tools.CheckAvailabilityArgs) (tools.AvailabilityResult, error) {
	return tools.AvailabilityResult{DurationMinutes: a.DurationMinutes}, s.err
}

func (s *stubCalendar) BookAppointment(ctx context.Context, tc tools.ToolContext, a tools.BookAppointmentArgs) (tools.BookingResult, error) {
	return tools.BookingResult{EventID: "evt1"}, s.err
}

func (s *stubCalendar) CancelAppointment(ctx context.Context, tc tools.ToolContext, a tools.CancelAppointmentArgs) (tools.CancellationResult, error) {
	return tools.CancellationResult{EventID: a.EventID, Cancelled: true}, s.err
}

func (s *stubCalendar) RescheduleAppointment(ctx context.Context, tc tools.ToolContext, a tools.RescheduleAppointmentArgs) (tools.RescheduleResult, error) {
	return tools.RescheduleResult{EventID: a.EventID}, s.err
}

type stubOAuth struct {
	exchangeErr error
	tenant      string
}

func (s *stubOAuth) BuildAuthorizationURL(tenantID string) (string, error) {
	if tenantID == "" {
		return "", apperr.Validation("tenant id is required")
	}
	return "https://accounts.example.com/auth?state=" + calendar.EncodeState(tenantID, time.Now()), nil
}

func (s *stubOAuth) ExchangeCodeForTokens(ctx context.Context, tenantID, code string) (calendar.Connection, error) {
	s.tenant = tenantID
	return calendar.Connection{TenantID: tenantID}, s.exchangeErr
}

type env struct {
	router   *gin.Engine
	calls    *calls.MemoryRepo
	events   *timeline.MemoryRepo
	sessions *stubSessions
	cal      *stubCalendar
	oauth    *stubOAuth
}

func newEnv(t *testing.T, identity func(context.Context) context.Context) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	e := &env{
		calls:    calls.NewMemoryRepo(),
		events:   timeline.NewMemoryRepo(),
		sessions: &stubSessions{raw: json.RawMessage(`{"id":"sess_1","client_secret":{"value":"ek_1"}}`)},
		cal:      &stubCalendar{},
		oauth:    &stubOAuth{},
	}
	if _, err := e.calls.UpsertByProviderCallID(context.Background(), calls.Call{
		ID: "c1", AgentID: "a1", TenantID: "t1", ProviderCallID: "CA123",
		StartedAt: time.Now().UTC(), Outcome: calls.OutcomeOther,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := timeline.NewService(e.events)
	h := Handlers{
		Sessions:          e.sessions,
		Bridge:            bridge.NewService(e.calls, timeline.NewRecorder(svc, nil)),
		Tools:             tools.NewGateway(e.calls, e.cal),
		Calendar:          e.oauth,
		Calls:             e.calls,
		Timeline:          svc,
		CalendarStatusURL: "https://app.example.com/settings/calendar?tab=integrations",
	}

	r := gin.New()
	bridgeGroup := r.Group("/", RequireBridgeKey("k"))
	bridgeGroup.POST("/realtime/session", h.CreateRealtimeSession)
	bridgeGroup.POST("/bridge/events", h.ReportStreamEvent)
	bridgeGroup.POST("/tools/invoke", h.InvokeTool)
	r.GET("/calendar/oauth/callback", h.CalendarOAuthCallback)

	v1 := r.Group("/v1", func(c *gin.Context) {
		c.Request = c.Request.WithContext(identity(c.Request.Context()))
		c.Next()
	}, rbac.RequireTenant())
	v1.GET("/calendar/oauth/start", h.StartCalendarOAuth)
	v1.GET("/calls/:call_sid/events", h.ListCallEvents)

	e.router = r
	return e
}

func asTenant(tenantID, role string) func(context.Context) context.Context {
	return func(ctx context.Context) context.Context { return auth.WithIdentity(ctx, "u1", tenantID, role) }
}

func (e *env) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(bridgeKeyHeader, "k")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return m
}

func TestBridgeKeyRequired(t *testing.T) {
	e := newEnv(t, asTenant("t1", rbac.RoleOwner))
	w := e.do(http.MethodPost, "/bridge/events", `{"callSid":"CA123"}`, bridgeKeyHeader, "wrong")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCreateRealtimeSession_ReturnsPayloadVerbatim(t *testing.T) {
	e := newEnv(t, asTenant("t1", rbac.RoleOwner))
	w := e.do(http.MethodPost, "/realtime/session", `{"callSid":"CA123"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if w.Body.String() != string(e.sessions.raw) || e.sessions.got != "CA123" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestCreateRealtimeSession_UpstreamDetails(t *testing.T) {
	e := newEnv(t, asTenant("t1", rbac.RoleOwner))
	upstream := apperr.Upstream("realtime session request failed", nil)
	upstream.Details = map[string]any{"status": 401}
	e.sessions.err = upstream

	w := e.do(http.MethodPost, "/realtime/session", `{"callSid":"CA123"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	body := decode(t, w)
	if body["kind"] != string(apperr.KindUpstream) || body["details"] == nil {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestReportStreamEvent_UnknownCallIgnored(t *testing.T) {
	e := newEnv(t, asTenant("t1", rbac.RoleOwner))
	w := e.do(http.MethodPost, "/bridge/events", `{"callSid":"CA999","eventType":"transcript"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decode(t, w)
	if body["ok"] != true || body["ignored"] != true {
		t.Fatalf("unexpected ack %v", body)
	}
}

func TestReportStreamEvent_UpdatesTranscript(t *testing.T) {
	e := newEnv(t, asTenant("t1", rbac.RoleOwner))
	w := e.do(http.MethodPost, "/bridge/events", `{"callSid":"CA123","eventType":"transcript","transcript":"Hi, I'd like a cleaning.","turn":3}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	c, _ := e.calls.Get("c1")
	if c.Transcript == nil || *c.Transcript != "Hi, I'd like a cleaning." {
		t.Fatalf("transcript not stored: %+v", c)
	}
	if types := e.events.Types("c1"); len(types) != 1 || types[0] != timeline.TypeAgentSaid {
		t.Fatalf("expected agent_said, got %v", types)
	}
}

func TestInvokeTool_Success(t *testing.T) {
	e := newEnv(t, asTenant("t1", rbac.RoleOwner))
	w := e.do(http.MethodPost, "/tools/invoke", `{"callSid":"CA123","tool":"cancel_appointment","args":{"eventId":"evt7"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	result, ok := decode(t, w)["result"].(map[string]any)
	if !ok || result["eventId"] != "evt7" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestInvokeTool_Errors(t *testing.T) {
	e := newEnv(t, asTenant("t1", rbac.RoleOwner))

	w := e.do(http.MethodPost, "/tools/invoke", `{"callSid":"CA404","tool":"cancel_appointment","args":{"eventId":"e"}}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown call, got %d", w.Code)
	}

	w = e.do(http.MethodPost, "/tools/invoke", `{"callSid":"CA123","tool":"transfer_call","args":{}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown tool, got %d", w.Code)
	}

	e.cal.err = apperr.Authorization("calendar not connected")
	w = e.do(http.MethodPost, "/tools/invoke", `{"callSid":"CA123","tool":"cancel_appointment","args":{"eventId":"e"}}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for structured tool failure, got %d", w.Code)
	}
	body := decode(t, w)
	if body["error"] != "calendar not connected" || body["tool"] != "cancel_appointment" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestStartCalendarOAuth_RedirectsWithTenantState(t *testing.T) {
	e := newEnv(t, asTenant("t1", rbac.RoleOwner))
	w := e.do(http.MethodGet, "/v1/calendar/oauth/start", "")
	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", w.Code)
	}
	loc, _ := url.Parse(w.Header().Get("Location"))
	if tenant, ok := calendar.ParseAuthorizationState(loc.Query().Get("state")); !ok || tenant != "t1" {
		t.Fatalf("state should decode to t1, got %q", tenant)
	}
}

func TestCalendarOAuthCallback(t *testing.T) {
	e := newEnv(t, asTenant("t1", rbac.RoleOwner))
	state := url.QueryEscape(calendar.EncodeState("t1", time.Now()))

	w := e.do(http.MethodGet, "/calendar/oauth/callback?code=abc&state="+state, "")
	loc, _ := url.Parse(w.Header().Get("Location"))
	if w.Code != http.StatusFound || loc.Query().Get("calendar") != "connected" || loc.Query().Get("tab") != "integrations" {
		t.Fatalf("unexpected redirect %d %s", w.Code, loc)
	}
	if e.oauth.tenant != "t1" {
		t.Fatalf("exchange should run for t1, got %q", e.oauth.tenant)
	}

	w = e.do(http.MethodGet, "/calendar/oauth/callback?code=abc&state=garbage", "")
	loc, _ = url.Parse(w.Header().Get("Location"))
	if loc.Query().Get("calendar") != "error" || loc.Query().Get("reason") != "invalid_state" {
		t.Fatalf("unexpected redirect %s", loc)
	}

	e.oauth.exchangeErr = errors.New("boom")
	w = e.do(http.MethodGet, "/calendar/oauth/callback?code=abc&state="+state, "")
	loc, _ = url.Parse(w.Header().Get("Location"))
	if loc.Query().Get("reason") != "exchange_failed" {
		t.Fatalf("unexpected redirect %s", loc)
	}
}

func TestListCallEvents_TenantScoped(t *testing.T) {
	e := newEnv(t, asTenant("t1", rbac.RoleStaff))
	e.do(http.MethodPost, "/bridge/events", `{"callSid":"CA123","eventType":"transcript","transcript":"hello"}`)

	w := e.do(http.MethodGet, "/v1/calls/CA123/events", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	events, _ := decode(t, w)["events"].([]any)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %s", w.Body.String())
	}

	other := newEnv(t, asTenant("t2", rbac.RoleOwner))
	if w := other.do(http.MethodGet, "/v1/calls/CA123/events", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 across tenants, got %d", w.Code)
	}
}
