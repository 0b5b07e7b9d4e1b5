package timeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// WithClock overrides the timestamp source (tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.clock = now
	return s
}

// Append validates and stores e, filling ID and CreatedAt when empty.
func (s *Service) Append(ctx context.Context, e Event) (Event, error) {
	if s.repo == nil {
		return Event{}, errors.New("timeline: repository not configured")
	}
	if e.CallID == "" || e.TenantID == "" || !e.Type.Valid() {
		return Event{}, ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if err := s.repo.Append(ctx, e); err != nil {
		return Event{}, err
	}
	return e, nil
}

func (s *Service) ListByCall(ctx context.Context, callID string) ([]Event, error) {
	if callID == "" {
		return nil, ErrInvalidEvent
	}
	return s.repo.ListByCall(ctx, callID)
}
