package calendar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Connection is a tenant's authorized link to its Google calendar. One row
// per tenant.
type Connection struct {
	TenantID     string     `json:"tenant_id" db:"tenant_id"`
	GoogleEmail  string     `json:"google_email" db:"google_email"`
	RefreshToken string     `json:"-" db:"refresh_token"`
	AccessToken  string     `json:"-" db:"access_token"`
	TokenExpiry  *time.Time `json:"token_expiry,omitempty" db:"token_expiry"`
	Scope        string     `json:"scope" db:"scope"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Token returns the stored credentials as an oauth2 token.
func (c Connection) Token() *oauth2.Token {
	t := &oauth2.Token{AccessToken: c.AccessToken, RefreshToken: c.RefreshToken, TokenType: "Bearer"}
	if c.TokenExpiry != nil {
		t.Expiry = *c.TokenExpiry
	}
	return t
}

var ErrNotConnected = errors.New("calendar: tenant not connected")

// TokenUpdate is what a refresh writes back. An empty RefreshToken means
// "keep the stored one".
type TokenUpdate struct {
	AccessToken  string
	RefreshToken string
	Expiry       *time.Time
}

type ConnectionStore interface {
	Get(ctx context.Context, tenantID string) (Connection, error)
	// Upsert creates or replaces the tenant's connection. An empty refresh
	// token never overwrites a stored one.
	Upsert(ctx context.Context, c Connection) (Connection, error)
	UpdateTokens(ctx context.Context, tenantID string, u TokenUpdate) error
}

// mergeRefreshedToken folds a refresh response into the stored connection.
// The stored refresh token is kept unless the provider returned a new one.
func mergeRefreshedToken(c Connection, tok *oauth2.Token) Connection {
	out := c
	out.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		out.RefreshToken = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		out.TokenExpiry = &exp
	} else {
		out.TokenExpiry = nil
	}
	return out
}

type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db, now: time.Now} }

const connectionColumns = `tenant_id, google_email, refresh_token, access_token, token_expiry, scope, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, tenantID string) (Connection, error) {
	q := `SELECT ` + connectionColumns + ` FROM calendar_connections WHERE tenant_id = $1`
	return scanConnection(s.db.QueryRowContext(ctx, q, tenantID))
}

func (s *PostgresStore) Upsert(ctx context.Context, c Connection) (Connection, error) {
	if c.TenantID == "" {
		return Connection{}, fmt.Errorf("calendar: tenant_id required")
	}
	const q = `
INSERT INTO calendar_connections (tenant_id, google_email, refresh_token, access_token, token_expiry, scope, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
ON CONFLICT (tenant_id) DO UPDATE SET
  google_email  = EXCLUDED.google_email,
  refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), calendar_connections.refresh_token),
  access_token  = EXCLUDED.access_token,
  token_expiry  = EXCLUDED.token_expiry,
  scope         = EXCLUDED.scope,
  updated_at    = EXCLUDED.updated_at
RETURNING ` + connectionColumns
	return scanConnection(s.db.QueryRowContext(ctx, q,
		c.TenantID,
		c.GoogleEmail,
		c.RefreshToken,
		c.AccessToken,
		nullTime(c.TokenExpiry),
		c.Scope,
		s.now().UTC(),
	))
}

func (s *PostgresStore) UpdateTokens(ctx context.Context, tenantID string, u TokenUpdate) error {
	const q = `
UPDATE calendar_connections SET
  access_token  = $2,
  token_expiry  = $3,
  refresh_token = COALESCE(NULLIF($4, ''), refresh_token),
  updated_at    = $5
WHERE tenant_id = $1`
	res, err := s.db.ExecContext(ctx, q, tenantID, u.AccessToken, nullTime(u.Expiry), u.RefreshToken, s.now().UTC())
	if err != nil {
		return fmt.Errorf("calendar: update tokens: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotConnected
	}
	return nil
}

func scanConnection(row *sql.Row) (Connection, error) {
	var (
		c      Connection
		expiry sql.NullTime
	)
	if err := row.Scan(&c.TenantID, &c.GoogleEmail, &c.RefreshToken, &c.AccessToken, &expiry, &c.Scope, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Connection{}, ErrNotConnected
		}
		return Connection{}, fmt.Errorf("calendar: scan connection: %w", err)
	}
	if expiry.Valid {
		t := expiry.Time.UTC()
		c.TokenExpiry = &t
	}
	return c, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// MemoryStore is an in-memory ConnectionStore for tests and local runs.
type MemoryStore struct {
	mu    sync.Mutex
	conns map[string]Connection
	now   func() time.Time
}

func NewMemoryStore(seed ...Connection) *MemoryStore {
	s := &MemoryStore{conns: map[string]Connection{}, now: time.Now}
	for _, c := range seed {
		s.conns[c.TenantID] = c
	}
	return s
}

func (s *MemoryStore) Get(ctx context.Context, tenantID string) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[tenantID]
	if !ok {
		return Connection{}, ErrNotConnected
	}
	return c, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, c Connection) (Connection, error) {
	if c.TenantID == "" {
		return Connection{}, fmt.Errorf("calendar: tenant_id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	if prev, ok := s.conns[c.TenantID]; ok {
		c.CreatedAt = prev.CreatedAt
		if c.RefreshToken == "" {
			c.RefreshToken = prev.RefreshToken
		}
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.conns[c.TenantID] = c
	return c, nil
}

func (s *MemoryStore) UpdateTokens(ctx context.Context, tenantID string, u TokenUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[tenantID]
	if !ok {
		return ErrNotConnected
	}
	c.AccessToken = u.AccessToken
	c.TokenExpiry = u.Expiry
	if u.RefreshToken != "" {
		c.RefreshToken = u.RefreshToken
	}
	c.UpdatedAt = s.now().UTC()
	s.conns[tenantID] = c
	return nil
}
