// Package admission decides whether an inbound call may be accepted for an
// agent, using a per-agent sliding window of recent admissions.
package admission

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultLimit  = 20
	DefaultWindow = time.Minute
)

// Gate is the admission contract the call router consumes. An error means the
// decision could not be made; callers treat it as a rejection.
type Gate interface {
	Allow(ctx context.Context, agentID string) (bool, error)
}

// SlidingWindow is a process-local Gate. State is lost on restart and is not
// shared across instances; use RedisGate for multi-instance deployments.
type SlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	hits   map[string][]time.Time
}

func NewSlidingWindow(limit int, window time.Duration, now func() time.Time) *SlidingWindow {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	return &SlidingWindow{
		limit:  limit,
		window: window,
		now:    now,
		hits:   map[string][]time.Time{},
	}
}

// Allow admits iff fewer than limit admissions for agentID fall inside the
// window ending now, and records the admission. Check and record happen under
// one lock so concurrent callers cannot overshoot the limit.
func (g *SlidingWindow) Allow(_ context.Context, agentID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cutoff := now.Add(-g.window)

	kept := g.hits[agentID][:0]
	for _, t := range g.hits[agentID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= g.limit {
		g.hits[agentID] = kept
		return false, nil
	}
	g.hits[agentID] = append(kept, now)
	return true, nil
}

// Sweep drops agents with no admissions inside the window. Long-running
// processes call it periodically so idle agents do not pin memory.
func (g *SlidingWindow) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().Add(-g.window)
	removed := 0
	for id, hits := range g.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(g.hits, id)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (g *SlidingWindow) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			g.Sweep()
		}
	}
}
