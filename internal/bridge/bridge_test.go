package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"voice-receptionist/internal/apperr"
	"voice-receptionist/internal/calls"
	"voice-receptionist/internal/timeline"
)

type fixture struct {
	calls  *calls.MemoryRepo
	events *timeline.MemoryRepo
	svc    *Service
	now    time.Time
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	callsRepo := calls.NewMemoryRepo()
	events := timeline.NewMemoryRepo()
	start := time.Unix(1700000000, 0).UTC()
	_, err := callsRepo.UpsertByProviderCallID(context.Background(), calls.Call{
		ID: "c1", AgentID: "a1", TenantID: "t1", ProviderCallID: "CA123",
		StartedAt: start, Outcome: calls.OutcomeOther,
	})
	if err != nil {
		t.Fatalf("seed call: %v", err)
	}
	now := start.Add(95 * time.Second)
	svc := NewService(callsRepo, timeline.NewRecorder(timeline.NewService(events), nil)).
		WithClock(func() time.Time { return now })
	return fixture{calls: callsRepo, events: events, svc: svc, now: now}
}

func strPtr(s string) *string { return &s }

func TestReportEvent_UnknownCallIsIgnored(t *testing.T) {
	f := newFixture(t)
	ack, err := f.svc.ReportEvent(context.Background(), StreamEvent{CallSid: "CA404", EventType: "transcript"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !ack.OK || !ack.Ignored {
		t.Fatalf("expected ignored ack, got %+v", ack)
	}
	if len(f.events.Events()) != 0 {
		t.Fatalf("expected no events")
	}
}

func TestReportEvent_RequiresCallSid(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.ReportEvent(context.Background(), StreamEvent{}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReportEvent_UpdatesTranscriptAndAppendsAgentSaid(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ReportEvent(context.Background(), StreamEvent{
		CallSid:    "CA123",
		EventType:  "transcript",
		Transcript: strPtr("caller: hi"),
		Summary:    strPtr("greeting"),
		Outcome:    strPtr("info_only"),
	})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	c, _ := f.calls.Get("c1")
	if c.Transcript == nil || *c.Transcript != "caller: hi" || c.Outcome != calls.OutcomeInfoOnly {
		t.Fatalf("unexpected call %+v", c)
	}
	types := f.events.Types("c1")
	if len(types) != 1 || types[0] != timeline.TypeAgentSaid {
		t.Fatalf("expected agent_said, got %v", types)
	}
}

func TestReportEvent_DoesNotReplaceToolOutcome(t *testing.T) {
	f := newFixture(t)
	if ok, _ := f.calls.TransitionOutcome(context.Background(), "c1", calls.OutcomeOther, calls.OutcomeBooked); !ok {
		t.Fatalf("seed booked")
	}
	_, err := f.svc.ReportEvent(context.Background(), StreamEvent{CallSid: "CA123", Outcome: strPtr("other")})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	c, _ := f.calls.Get("c1")
	if c.Outcome != calls.OutcomeBooked {
		t.Fatalf("expected booked preserved, got %q", c.Outcome)
	}
}

func TestReportEvent_ErrorPayloadAppendsErrorEvent(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.ReportEvent(context.Background(), StreamEvent{CallSid: "CA123", EventType: "session", Error: "engine disconnected"}); err != nil {
		t.Fatalf("report: %v", err)
	}
	evs := f.events.Events()
	if len(evs) != 1 || evs[0].Type != timeline.TypeError || evs[0].Payload["error"] != "engine disconnected" {
		t.Fatalf("unexpected events %+v", evs)
	}
}

func TestReportStatus_StreamErrorSetsErrorOutcome(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ReportStatus(context.Background(), Status{CallSid: "CA123", Event: StreamError, Error: "socket closed"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	c, _ := f.calls.Get("c1")
	if c.Outcome != calls.OutcomeError {
		t.Fatalf("expected error outcome, got %q", c.Outcome)
	}
	if c.EndedAt == nil || !c.EndedAt.Equal(f.now) {
		t.Fatalf("expected ended_at set, got %v", c.EndedAt)
	}
	if c.DurationSeconds == nil || *c.DurationSeconds != 95 {
		t.Fatalf("expected elapsed duration 95, got %v", c.DurationSeconds)
	}
	types := f.events.Types("c1")
	if len(types) != 1 || types[0] != timeline.TypeError {
		t.Fatalf("expected terminal error event, got %v", types)
	}
}

func TestReportStatus_ExplicitDurationAndBookedOutcomeKept(t *testing.T) {
	f := newFixture(t)
	_, _ = f.calls.TransitionOutcome(context.Background(), "c1", calls.OutcomeOther, calls.OutcomeBooked)
	d := 42
	_, err := f.svc.ReportStatus(context.Background(), Status{CallSid: "CA123", Event: StreamError, Error: "late error", CallDuration: &d})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	c, _ := f.calls.Get("c1")
	if c.Outcome != calls.OutcomeBooked {
		t.Fatalf("expected booked kept, got %q", c.Outcome)
	}
	if *c.DurationSeconds != 42 {
		t.Fatalf("expected explicit duration, got %d", *c.DurationSeconds)
	}
}

func TestReportStatus_StartedIsNotTerminalAndDuplicatesAreNoops(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.ReportStatus(ctx, Status{CallSid: "CA123", Event: StreamStarted}); err != nil {
		t.Fatalf("started: %v", err)
	}
	if c, _ := f.calls.Get("c1"); c.Ended() {
		t.Fatalf("stream-started must not end the call")
	}

	for i := 0; i < 2; i++ {
		if _, err := f.svc.ReportStatus(ctx, Status{CallSid: "CA123", Event: StreamStopped}); err != nil {
			t.Fatalf("stopped: %v", err)
		}
	}
	types := f.events.Types("c1")
	if len(types) != 1 || types[0] != timeline.TypeCallEnded {
		t.Fatalf("expected a single call_ended, got %v", types)
	}
}

func TestReportStatus_TimelineFailureStillAcks(t *testing.T) {
	f := newFixture(t)
	f.events.FailWith = context.DeadlineExceeded
	ack, err := f.svc.ReportStatus(context.Background(), Status{CallSid: "CA123", Event: StreamStopped})
	if err != nil || !ack.OK {
		t.Fatalf("expected ok ack despite timeline failure, ack=%+v err=%v", ack, err)
	}
}

// racingCallsRepo hands out the stored row and then lets a concurrent writer
// commit before the caller gets to write.
type racingCallsRepo struct {
	*calls.MemoryRepo
	once  sync.Once
	after func(c calls.Call)
}

func (r *racingCallsRepo) GetByProviderCallID(ctx context.Context, sid string) (calls.Call, error) {
	c, err := r.MemoryRepo.GetByProviderCallID(ctx, sid)
	if err == nil {
		r.once.Do(func() { r.after(c) })
	}
	return c, err
}

func TestReportEvent_BookingCommittedAfterReadIsKept(t *testing.T) {
	f := newFixture(t)
	repo := &racingCallsRepo{MemoryRepo: f.calls, after: func(c calls.Call) {
		if ok, _ := f.calls.TransitionOutcome(context.Background(), c.ID, calls.OutcomeOther, calls.OutcomeBooked); !ok {
			t.Errorf("expected concurrent booking to land")
		}
	}}
	svc := NewService(repo, timeline.NewRecorder(timeline.NewService(f.events), nil)).
		WithClock(func() time.Time { return f.now })

	_, err := svc.ReportEvent(context.Background(), StreamEvent{CallSid: "CA123", EventType: "summary", Outcome: strPtr("info_only"), Summary: strPtr("asked about hours")})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	c, _ := f.calls.Get("c1")
	if c.Outcome != calls.OutcomeBooked {
		t.Fatalf("expected booked preserved, got %q", c.Outcome)
	}
	if c.Summary == nil || *c.Summary != "asked about hours" {
		t.Fatalf("expected summary written, got %v", c.Summary)
	}
	evs := f.events.Events()
	if len(evs) != 1 {
		t.Fatalf("expected one event, got %+v", evs)
	}
	if _, ok := evs[0].Payload["outcome"]; ok {
		t.Fatalf("expected no applied outcome in payload, got %+v", evs[0].Payload)
	}
	if evs[0].Payload["outcomeIgnored"] != "info_only" {
		t.Fatalf("expected outcomeIgnored recorded, got %+v", evs[0].Payload)
	}
}

func TestReportStatus_FinalizedAfterReadIsNoop(t *testing.T) {
	f := newFixture(t)
	earlier := f.now.Add(-5 * time.Second)
	repo := &racingCallsRepo{MemoryRepo: f.calls, after: func(c calls.Call) {
		if _, ok, _ := f.calls.End(context.Background(), c.ID, earlier, 90); !ok {
			t.Errorf("expected concurrent finalize to land")
		}
	}}
	svc := NewService(repo, timeline.NewRecorder(timeline.NewService(f.events), nil)).
		WithClock(func() time.Time { return f.now })

	ack, err := svc.ReportStatus(context.Background(), Status{CallSid: "CA123", Event: StreamStopped})
	if err != nil || !ack.OK {
		t.Fatalf("expected ok ack, ack=%+v err=%v", ack, err)
	}
	c, _ := f.calls.Get("c1")
	if !c.EndedAt.Equal(earlier) || *c.DurationSeconds != 90 {
		t.Fatalf("expected first finalize kept, got ended_at=%v duration=%v", c.EndedAt, *c.DurationSeconds)
	}
	if types := f.events.Types("c1"); len(types) != 0 {
		t.Fatalf("expected the losing callback to record nothing, got %v", types)
	}
}

func TestReportStatus_ConcurrentTerminalCallbacksFinalizeOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		st := Status{CallSid: "CA123", Event: StreamStopped}
		if i%2 == 1 {
			st = Status{CallSid: "CA123", Event: StreamError, Error: "socket closed"}
		}
		wg.Add(1)
		go func(st Status) {
			defer wg.Done()
			if _, err := f.svc.ReportStatus(ctx, st); err != nil {
				t.Errorf("status: %v", err)
			}
		}(st)
	}
	wg.Wait()

	types := f.events.Types("c1")
	if len(types) != 1 {
		t.Fatalf("expected exactly one terminal event, got %v", types)
	}
	if types[0] != timeline.TypeCallEnded && types[0] != timeline.TypeError {
		t.Fatalf("unexpected terminal event %q", types[0])
	}
}
