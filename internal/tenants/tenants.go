// Package tenants is the read-only client/tenant lookup used by the call pipeline.
package tenants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

type Tenant struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	// Timezone is an IANA zone name used as the default for availability checks.
	Timezone string `json:"timezone" db:"timezone"`
}

var ErrNotFound = errors.New("tenants: not found")

type Repository interface {
	Get(ctx context.Context, id string) (Tenant, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Get(ctx context.Context, id string) (Tenant, error) {
	const q = `SELECT id, name, COALESCE(timezone, '') FROM tenants WHERE id = $1`
	var t Tenant
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&t.ID, &t.Name, &t.Timezone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, fmt.Errorf("tenants: scan: %w", err)
	}
	return t, nil
}

type MemoryRepo struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
}

func NewMemoryRepo(seed ...Tenant) *MemoryRepo {
	r := &MemoryRepo{tenants: map[string]Tenant{}}
	for _, t := range seed {
		r.tenants[t.ID] = t
	}
	return r
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}
