package timeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
)

// Repository is the persistence contract for call events. It is append-only:
// no Update/Delete methods exist.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByCall(ctx context.Context, callID string) ([]Event, error)
}

// PostgresRepo stores events in call_events. The seq column (BIGSERIAL) is
// the ordering key; created_at alone can tie within a millisecond.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("timeline: encode payload: %w", err)
	}
	const q = `
INSERT INTO call_events (id, call_id, tenant_id, type, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.ExecContext(ctx, q, e.ID, e.CallID, e.TenantID, string(e.Type), payload, e.CreatedAt); err != nil {
		return fmt.Errorf("timeline: insert: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListByCall(ctx context.Context, callID string) ([]Event, error) {
	const q = `
SELECT id, call_id, tenant_id, type, payload, created_at
FROM call_events
WHERE call_id = $1
ORDER BY seq ASC`
	rows, err := r.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, fmt.Errorf("timeline: query: %w", err)
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var (
			e       Event
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.CallID, &e.TenantID, &e.Type, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("timeline: scan: %w", err)
		}
		if len(payload) > 0 && string(payload) != "null" {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("timeline: decode payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MemoryRepo is an in-memory append-only repository for tests and local runs.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event

	// FailWith, when set, makes Append return it (for best-effort path tests).
	FailWith error
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return r.FailWith
	}
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepo) ListByCall(ctx context.Context, callID string) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Event{}
	for _, e := range r.events {
		if e.CallID == callID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Events returns a copy of every stored event in append order.
func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the event types recorded for callID, in order.
func (r *MemoryRepo) Types(callID string) []Type {
	evs, _ := r.ListByCall(context.Background(), callID)
	out := make([]Type, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Type)
	}
	return out
}
