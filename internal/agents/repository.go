package agents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// Repository is the read contract the call pipeline needs from agent management.
type Repository interface {
	Get(ctx context.Context, id string) (Agent, error)
	GetByPhoneNumber(ctx context.Context, phone string) (Agent, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const agentColumns = `id, tenant_id, name, status, prompt, model, voice, phone_number, created_at, updated_at`

func (r *PostgresRepo) Get(ctx context.Context, id string) (Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`
	return scanAgent(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) GetByPhoneNumber(ctx context.Context, phone string) (Agent, error) {
	// More than one agent may historically have held a number; the newest wins.
	q := `SELECT ` + agentColumns + ` FROM agents WHERE phone_number = $1 ORDER BY updated_at DESC LIMIT 1`
	return scanAgent(r.db.QueryRowContext(ctx, q, NormalizePhone(phone)))
}

func scanAgent(row *sql.Row) (Agent, error) {
	var a Agent
	if err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.Name,
		&a.Status,
		&a.Prompt,
		&a.Model,
		&a.Voice,
		&a.PhoneNumber,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Agent{}, ErrNotFound
		}
		return Agent{}, fmt.Errorf("agents: scan: %w", err)
	}
	return a, nil
}

// MemoryRepo is an in-memory agent repository for tests and local development.
type MemoryRepo struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

func NewMemoryRepo(seed ...Agent) *MemoryRepo {
	r := &MemoryRepo{agents: map[string]Agent{}}
	for _, a := range seed {
		r.Put(a)
	}
	return r
}

func (r *MemoryRepo) Put(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.PhoneNumber = NormalizePhone(a.PhoneNumber)
	r.agents[a.ID] = a
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return Agent{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepo) GetByPhoneNumber(ctx context.Context, phone string) (Agent, error) {
	phone = NormalizePhone(phone)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.agents {
		if a.PhoneNumber == phone {
			return a, nil
		}
	}
	return Agent{}, ErrNotFound
}
