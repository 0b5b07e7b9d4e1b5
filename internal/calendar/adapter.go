// Package calendar owns per-tenant Google Calendar connections (OAuth
// authorization, code exchange, token refresh) and executes the calendar
// tools on behalf of live calls.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"voice-receptionist/internal/apperr"
	"voice-receptionist/internal/calls"
	"voice-receptionist/internal/timeline"
	"voice-receptionist/internal/tools"
	"voice-receptionist/pkg/logger"
	"voice-receptionist/pkg/metrics"
)

// refreshSkew refreshes access tokens this long before they expire.
const refreshSkew = time.Minute

// refreshTimeout bounds a shared refresh, which outlives any single caller.
const refreshTimeout = 15 * time.Second

type Adapter struct {
	store    ConnectionStore
	oauth    OAuthProvider
	newAPI   APIFactory
	calls    calls.Repository
	recorder *timeline.Recorder

	// refreshes coalesces concurrent refreshes per tenant within this process.
	refreshes singleflight.Group
	now       func() time.Time
}

func NewAdapter(store ConnectionStore, oauth OAuthProvider, newAPI APIFactory, callsRepo calls.Repository, recorder *timeline.Recorder) *Adapter {
	if newAPI == nil {
		newAPI = NewGoogleAPI
	}
	return &Adapter{
		store:    store,
		oauth:    oauth,
		newAPI:   newAPI,
		calls:    callsRepo,
		recorder: recorder,
		now:      time.Now,
	}
}

func (a *Adapter) WithClock(now func() time.Time) *Adapter {
	a.now = now
	return a
}

var _ tools.Calendar = (*Adapter)(nil)

// BuildAuthorizationURL returns the consent URL for tenantID with an opaque
// state token that the callback decodes back to the tenant.
func (a *Adapter) BuildAuthorizationURL(tenantID string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", apperr.Validation("tenant id is required")
	}
	return a.oauth.AuthCodeURL(EncodeState(tenantID, a.now())), nil
}

// ExchangeCodeForTokens completes the OAuth flow for tenantID and upserts its
// connection. It fails when no refresh token is available, neither freshly
// issued nor previously stored, because the connection could never refresh.
func (a *Adapter) ExchangeCodeForTokens(ctx context.Context, tenantID, code string) (Connection, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(code) == "" {
		return Connection{}, apperr.Validation("tenant id and code are required")
	}

	tok, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return Connection{}, apperr.Upstream("oauth code exchange failed", err)
	}
	email, err := a.oauth.AccountEmail(ctx, tok)
	if err != nil {
		return Connection{}, apperr.Upstream("could not resolve calendar account", err)
	}

	refresh := tok.RefreshToken
	if refresh == "" {
		prev, err := a.store.Get(ctx, tenantID)
		switch {
		case err == nil:
			refresh = prev.RefreshToken
		case errors.Is(err, ErrNotConnected):
		default:
			return Connection{}, fmt.Errorf("calendar: load connection: %w", err)
		}
	}
	if refresh == "" {
		return Connection{}, apperr.Upstream("provider issued no refresh token; reconnect with consent", nil)
	}

	conn := mergeRefreshedToken(Connection{TenantID: tenantID, GoogleEmail: email}, tok)
	conn.RefreshToken = refresh
	if scope, ok := tok.Extra("scope").(string); ok {
		conn.Scope = scope
	} else {
		conn.Scope = strings.Join(Scopes, " ")
	}

	saved, err := a.store.Upsert(ctx, conn)
	if err != nil {
		return Connection{}, fmt.Errorf("calendar: save connection: %w", err)
	}
	logger.From(ctx).Info("calendar connected", "tenant_id", tenantID, "google_email", email)
	return saved, nil
}

// connection loads the tenant's connection, mapping absence to the
// authorization error the tools report.
func (a *Adapter) connection(ctx context.Context, tenantID string) (Connection, error) {
	conn, err := a.store.Get(ctx, tenantID)
	if errors.Is(err, ErrNotConnected) || (err == nil && conn.RefreshToken == "") {
		return Connection{}, apperr.Authorization("calendar not connected")
	}
	if err != nil {
		return Connection{}, fmt.Errorf("calendar: load connection: %w", err)
	}
	return conn, nil
}

// token returns a usable access token, refreshing when the stored one is
// missing or about to expire. A refresh that changes the access token is
// written back; the stored refresh token survives unless a new one is issued.
//
// Refreshes for one tenant are coalesced within the process. Across
// instances two refreshes can still race and the last write wins.
func (a *Adapter) token(ctx context.Context, conn Connection) (*oauth2.Token, error) {
	if conn.AccessToken != "" && conn.TokenExpiry != nil && a.now().Add(refreshSkew).Before(*conn.TokenExpiry) {
		return conn.Token(), nil
	}

	ch := a.refreshes.DoChan(conn.TenantID, func() (any, error) {
		// Detached so one caller hanging up does not fail the others.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		tok, err := a.oauth.Refresh(rctx, conn.RefreshToken)
		if err != nil {
			metrics.RecordTokenRefresh("error")
			return nil, apperr.Upstream("calendar token refresh failed", err)
		}
		metrics.RecordTokenRefresh("ok")

		merged := mergeRefreshedToken(conn, tok)
		if merged.AccessToken != conn.AccessToken {
			upd := TokenUpdate{AccessToken: merged.AccessToken, Expiry: merged.TokenExpiry}
			if tok.RefreshToken != "" && tok.RefreshToken != conn.RefreshToken {
				upd.RefreshToken = tok.RefreshToken
			}
			if err := a.store.UpdateTokens(rctx, conn.TenantID, upd); err != nil {
				logger.From(ctx).Warn("calendar token persist failed", "tenant_id", conn.TenantID, "err", err)
			}
		}
		return merged.Token(), nil
	})

	select {
	case <-ctx.Done():
		return nil, apperr.Upstream("calendar token refresh cancelled", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth2.Token), nil
	}
}

func (a *Adapter) api(ctx context.Context, conn Connection) (API, error) {
	tok, err := a.token(ctx, conn)
	if err != nil {
		return nil, err
	}
	api, err := a.newAPI(ctx, a.oauth.Client(ctx, tok))
	if err != nil {
		return nil, apperr.Upstream("calendar client unavailable", err)
	}
	return api, nil
}

func (a *Adapter) record(ctx context.Context, tc tools.ToolContext, typ timeline.Type, payload map[string]any) {
	a.recorder.Record(ctx, timeline.Event{CallID: tc.CallID, TenantID: tc.TenantID, Type: typ, Payload: payload})
}

// effect is the call-level consequence of a successful tool.
type effect struct {
	event   timeline.Type
	outcome calls.Outcome
	payload map[string]any
}

// execute runs one tool with the audit sequence
// tool_called, [domain event], tool_result, or tool_called, error on failure.
// The connection check happens before anything is recorded.
func execute[T any](ctx context.Context, a *Adapter, tc tools.ToolContext, tool tools.Name, args any,
	op func(context.Context, API) (T, error), effectOf func(T) *effect) (T, error) {
	var zero T

	conn, err := a.connection(ctx, tc.TenantID)
	if err != nil {
		return zero, err
	}

	a.record(ctx, tc, timeline.TypeToolCalled, map[string]any{"tool": string(tool), "args": args})

	fail := func(err error) (T, error) {
		a.record(ctx, tc, timeline.TypeError, map[string]any{
			"tool":    string(tool),
			"kind":    string(apperr.KindOf(err)),
			"message": err.Error(),
		})
		return zero, err
	}

	api, err := a.api(ctx, conn)
	if err != nil {
		return fail(err)
	}
	out, err := op(ctx, api)
	if err != nil {
		if !apperr.Is(err, apperr.KindUpstream) {
			err = apperr.Upstream("calendar request failed", err)
		}
		return fail(err)
	}

	if eff := effectOf(out); eff != nil {
		if eff.outcome != "" {
			a.transition(ctx, tc, eff.outcome, eff.payload)
		}
		a.record(ctx, tc, eff.event, eff.payload)
	}
	a.record(ctx, tc, timeline.TypeToolResult, map[string]any{"tool": string(tool), "ok": true, "result": out})
	return out, nil
}

// transition moves the call from other to a tool outcome. It never undoes an
// earlier tool outcome and never touches an ended call.
func (a *Adapter) transition(ctx context.Context, tc tools.ToolContext, to calls.Outcome, payload map[string]any) {
	ok, err := a.calls.TransitionOutcome(ctx, tc.CallID, calls.OutcomeOther, to)
	if err != nil {
		logger.From(ctx).Warn("outcome transition failed", "call_id", tc.CallID, "to", string(to), "err", err)
	}
	payload["outcomeApplied"] = ok
}

func (a *Adapter) CheckAvailability(ctx context.Context, tc tools.ToolContext, args tools.CheckAvailabilityArgs) (tools.AvailabilityResult, error) {
	start, end := args.Window()
	return execute(ctx, a, tc, tools.CheckAvailability, args,
		func(ctx context.Context, api API) (tools.AvailabilityResult, error) {
			busy, err := api.FreeBusy(ctx, start, end, args.Timezone)
			if err != nil {
				return tools.AvailabilityResult{}, err
			}
			return tools.AvailabilityResult{Busy: busy, DurationMinutes: args.DurationMinutes, Timezone: args.Timezone}, nil
		},
		func(tools.AvailabilityResult) *effect { return nil },
	)
}

func (a *Adapter) BookAppointment(ctx context.Context, tc tools.ToolContext, args tools.BookAppointmentArgs) (tools.BookingResult, error) {
	start, end := args.Window()
	return execute(ctx, a, tc, tools.BookAppointment, args,
		func(ctx context.Context, api API) (tools.BookingResult, error) {
			ref, err := api.InsertEvent(ctx, NewEvent{
				Start:          start,
				End:            end,
				Title:          args.Title,
				Description:    args.Description,
				AttendeeEmails: args.AttendeeEmails,
			})
			if err != nil {
				return tools.BookingResult{}, err
			}
			return tools.BookingResult{EventID: ref.ID, HTMLLink: ref.HTMLLink}, nil
		},
		func(r tools.BookingResult) *effect {
			return &effect{
				event:   timeline.TypeBookingCreated,
				outcome: calls.OutcomeBooked,
				payload: map[string]any{"eventId": r.EventID, "htmlLink": r.HTMLLink, "start": args.StartISO, "end": args.EndISO},
			}
		},
	)
}

func (a *Adapter) CancelAppointment(ctx context.Context, tc tools.ToolContext, args tools.CancelAppointmentArgs) (tools.CancellationResult, error) {
	return execute(ctx, a, tc, tools.CancelAppointment, args,
		func(ctx context.Context, api API) (tools.CancellationResult, error) {
			if err := api.DeleteEvent(ctx, args.EventID); err != nil {
				return tools.CancellationResult{}, err
			}
			return tools.CancellationResult{EventID: args.EventID, Cancelled: true}, nil
		},
		func(r tools.CancellationResult) *effect {
			return &effect{
				event:   timeline.TypeBookingCancelled,
				outcome: calls.OutcomeCancelled,
				payload: map[string]any{"eventId": r.EventID},
			}
		},
	)
}

func (a *Adapter) RescheduleAppointment(ctx context.Context, tc tools.ToolContext, args tools.RescheduleAppointmentArgs) (tools.RescheduleResult, error) {
	start, end := args.Window()
	return execute(ctx, a, tc, tools.RescheduleAppointment, args,
		func(ctx context.Context, api API) (tools.RescheduleResult, error) {
			ref, err := api.PatchEventTime(ctx, args.EventID, start, end)
			if err != nil {
				return tools.RescheduleResult{}, err
			}
			return tools.RescheduleResult{EventID: ref.ID, Start: ref.Start, End: ref.End, HTMLLink: ref.HTMLLink}, nil
		},
		func(r tools.RescheduleResult) *effect {
			return &effect{
				event:   timeline.TypeBookingRescheduled,
				outcome: calls.OutcomeRescheduled,
				payload: map[string]any{"eventId": r.EventID, "start": args.NewStartISO, "end": args.NewEndISO},
			}
		},
	)
}
