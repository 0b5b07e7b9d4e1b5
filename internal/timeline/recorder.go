package timeline

import (
	"context"

	"voice-receptionist/pkg/logger"
	"voice-receptionist/pkg/metrics"
)

// Result is the non-fatal outcome of a best-effort append. Callers inspect it
// if they care; the primary response never depends on it.
type Result struct {
	Event Event
	Err   error
}

func (r Result) OK() bool { return r.Err == nil }

// Observer is told about every append that failed.
type Observer interface {
	AppendFailed(ctx context.Context, e Event, err error)
}

// LogObserver logs the failure on the request-scoped logger and counts it.
type LogObserver struct{}

func (LogObserver) AppendFailed(ctx context.Context, e Event, err error) {
	metrics.RecordTimelineFailure(string(e.Type))
	logger.From(ctx).Warn("timeline append failed",
		"call_id", e.CallID,
		"tenant_id", e.TenantID,
		"type", string(e.Type),
		"err", err,
	)
}

// Recorder wraps Service for the best-effort writers in the pipeline.
type Recorder struct {
	svc *Service
	obs Observer
}

func NewRecorder(svc *Service, obs Observer) *Recorder {
	if obs == nil {
		obs = LogObserver{}
	}
	return &Recorder{svc: svc, obs: obs}
}

// Record appends e and reports failures to the observer. It never panics on a
// nil receiver so optional wiring stays simple.
func (r *Recorder) Record(ctx context.Context, e Event) Result {
	if r == nil || r.svc == nil {
		return Result{Event: e}
	}
	stored, err := r.svc.Append(ctx, e)
	if err != nil {
		r.obs.AppendFailed(ctx, e, err)
		return Result{Event: e, Err: err}
	}
	return Result{Event: stored}
}
