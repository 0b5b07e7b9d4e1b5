package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository is the persistence contract for calls.
type Repository interface {
	// UpsertByProviderCallID creates the call on the first webhook for a CallSid.
	// Telephony retries return the existing row unchanged.
	UpsertByProviderCallID(ctx context.Context, c Call) (Call, error)
	GetByProviderCallID(ctx context.Context, providerCallID string) (Call, error)

	// Apply writes the non-nil fields of u. An outcome never replaces booked,
	// cancelled or rescheduled; callers compare the returned outcome to detect that.
	Apply(ctx context.Context, id string, u Update) (Call, error)

	// End stamps ended_at and duration on a live call. It returns false when
	// the call was already ended, so only one terminal callback finalizes it.
	End(ctx context.Context, id string, endedAt time.Time, durationSeconds int) (Call, bool, error)

	// TransitionOutcome is a compare-and-set on outcome that only applies to live calls.
	// It returns false when the call moved on (or ended) in the meantime.
	TransitionOutcome(ctx context.Context, id string, from, to Outcome) (bool, error)
}

// PostgresRepo assumes the calls table from migrations/0001_voice_core.sql,
// with UNIQUE (provider_call_id).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const callColumns = `id, agent_id, tenant_id, provider_call_id, from_number, to_number, started_at,
       ended_at, duration_seconds, outcome, transcript, summary, created_at, updated_at`

func (r *PostgresRepo) UpsertByProviderCallID(ctx context.Context, c Call) (Call, error) {
	if c.ID == "" || c.ProviderCallID == "" || c.TenantID == "" || c.AgentID == "" {
		return Call{}, ErrInvalidArgument
	}
	// The no-op update makes RETURNING yield the existing row on conflict.
	const q = `
INSERT INTO calls (id, agent_id, tenant_id, provider_call_id, from_number, to_number, started_at, outcome, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
ON CONFLICT (provider_call_id)
DO UPDATE SET provider_call_id = EXCLUDED.provider_call_id
RETURNING ` + callColumns
	return scanCall(r.db.QueryRowContext(ctx, q,
		c.ID,
		c.AgentID,
		c.TenantID,
		c.ProviderCallID,
		c.From,
		c.To,
		c.StartedAt,
		c.Outcome,
		c.CreatedAt,
	))
}

func (r *PostgresRepo) GetByProviderCallID(ctx context.Context, providerCallID string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE provider_call_id = $1`
	return scanCall(r.db.QueryRowContext(ctx, q, providerCallID))
}

func (r *PostgresRepo) Apply(ctx context.Context, id string, u Update) (Call, error) {
	var outcome *string
	if u.Outcome != nil {
		s := string(*u.Outcome)
		outcome = &s
	}
	const q = `
UPDATE calls SET
  transcript       = COALESCE($2, transcript),
  summary          = COALESCE($3, summary),
  outcome          = CASE
                       WHEN outcome IN ('booked', 'cancelled', 'rescheduled') THEN outcome
                       ELSE COALESCE($4, outcome)
                     END,
  ended_at         = COALESCE($5, ended_at),
  duration_seconds = COALESCE($6, duration_seconds),
  updated_at       = $7
WHERE id = $1
RETURNING ` + callColumns
	return scanCall(r.db.QueryRowContext(ctx, q,
		id,
		nullString(u.Transcript),
		nullString(u.Summary),
		nullString(outcome),
		nullTime(u.EndedAt),
		nullInt(u.DurationSeconds),
		time.Now().UTC(),
	))
}

func (r *PostgresRepo) End(ctx context.Context, id string, endedAt time.Time, durationSeconds int) (Call, bool, error) {
	const q = `
UPDATE calls SET ended_at = $2, duration_seconds = $3, updated_at = $4
WHERE id = $1 AND ended_at IS NULL
RETURNING ` + callColumns
	c, err := scanCall(r.db.QueryRowContext(ctx, q, id, endedAt, durationSeconds, time.Now().UTC()))
	if errors.Is(err, ErrNotFound) {
		return Call{}, false, nil
	}
	if err != nil {
		return Call{}, false, err
	}
	return c, true, nil
}

func (r *PostgresRepo) TransitionOutcome(ctx context.Context, id string, from, to Outcome) (bool, error) {
	const q = `
UPDATE calls SET outcome = $3, updated_at = $4
WHERE id = $1 AND outcome = $2 AND ended_at IS NULL
`
	res, err := r.db.ExecContext(ctx, q, id, from, to, time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var (
		c          Call
		endedAt    sql.NullTime
		duration   sql.NullInt64
		transcript sql.NullString
		summary    sql.NullString
	)
	if err := row.Scan(
		&c.ID,
		&c.AgentID,
		&c.TenantID,
		&c.ProviderCallID,
		&c.From,
		&c.To,
		&c.StartedAt,
		&endedAt,
		&duration,
		&c.Outcome,
		&transcript,
		&summary,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, fmt.Errorf("calls: scan: %w", err)
	}
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		c.DurationSeconds = &d
	}
	if transcript.Valid {
		s := transcript.String
		c.Transcript = &s
	}
	if summary.Valid {
		s := summary.String
		c.Summary = &s
	}
	return c, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}
