package calls

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory call repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu    sync.Mutex
	byID  map[string]*Call
	bySid map[string]string
	now   func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: map[string]*Call{}, bySid: map[string]string{}, now: time.Now}
}

func (r *MemoryRepo) UpsertByProviderCallID(ctx context.Context, c Call) (Call, error) {
	if c.ID == "" || c.ProviderCallID == "" || c.TenantID == "" || c.AgentID == "" {
		return Call{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.bySid[c.ProviderCallID]; ok {
		return cloneCall(*r.byID[id]), nil
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.now().UTC()
	}
	c.UpdatedAt = c.CreatedAt
	stored := cloneCall(c)
	r.byID[c.ID] = &stored
	r.bySid[c.ProviderCallID] = c.ID
	return cloneCall(stored), nil
}

func (r *MemoryRepo) GetByProviderCallID(ctx context.Context, providerCallID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.bySid[providerCallID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return cloneCall(*r.byID[id]), nil
}

// Get is a test helper for reading a call by internal id.
func (r *MemoryRepo) Get(id string) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return Call{}, false
	}
	return cloneCall(*c), true
}

// Count returns the number of stored calls.
func (r *MemoryRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *MemoryRepo) Apply(ctx context.Context, id string, u Update) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	if u.Transcript != nil {
		s := *u.Transcript
		c.Transcript = &s
	}
	if u.Summary != nil {
		s := *u.Summary
		c.Summary = &s
	}
	if u.Outcome != nil && !c.Outcome.IsToolOutcome() {
		c.Outcome = *u.Outcome
	}
	if u.EndedAt != nil {
		t := *u.EndedAt
		c.EndedAt = &t
	}
	if u.DurationSeconds != nil {
		d := *u.DurationSeconds
		c.DurationSeconds = &d
	}
	c.UpdatedAt = r.now().UTC()
	return cloneCall(*c), nil
}

func (r *MemoryRepo) End(ctx context.Context, id string, endedAt time.Time, durationSeconds int) (Call, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return Call{}, false, ErrNotFound
	}
	if c.EndedAt != nil {
		return Call{}, false, nil
	}
	t := endedAt
	c.EndedAt = &t
	d := durationSeconds
	c.DurationSeconds = &d
	c.UpdatedAt = r.now().UTC()
	return cloneCall(*c), true, nil
}

func (r *MemoryRepo) TransitionOutcome(ctx context.Context, id string, from, to Outcome) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return false, ErrNotFound
	}
	if c.Outcome != from || c.EndedAt != nil {
		return false, nil
	}
	c.Outcome = to
	c.UpdatedAt = r.now().UTC()
	return true, nil
}

func cloneCall(c Call) Call {
	out := c
	if c.EndedAt != nil {
		t := *c.EndedAt
		out.EndedAt = &t
	}
	if c.DurationSeconds != nil {
		d := *c.DurationSeconds
		out.DurationSeconds = &d
	}
	if c.Transcript != nil {
		s := *c.Transcript
		out.Transcript = &s
	}
	if c.Summary != nil {
		s := *c.Summary
		out.Summary = &s
	}
	return out
}
