package calllog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"auralis/internal/auth"
)

// Repository persists call log events. It is append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
	List(ctx context.Context, callID string, limit int) ([]Event, error)
}

type Service struct {
	repo  Repository
	clock func() time.Time
	log   *slog.Logger
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, clock: time.Now, log: log}
}

var (
	ErrInvalidEvent  = errors.New("calllog: invalid event")
	ErrNotConfigured = errors.New("calllog: repository not configured")
)

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return ErrNotConfigured
	}
	if e.CallID == "" || e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.ActorUserID == "" {
		if uid, err := auth.UserID(ctx); err == nil {
			e.ActorUserID = uid
		}
	}
	return s.repo.Append(ctx, e)
}

// Log appends an event and only logs failures. It satisfies the event
// logger the call service expects.
func (s *Service) Log(ctx context.Context, callID, eventType, message string, data map[string]string) {
	if s == nil || s.repo == nil {
		return
	}
	err := s.Append(ctx, Event{
		CallID:  callID,
		Type:    EventType(eventType),
		Message: message,
		Data:    data,
	})
	if err != nil {
		s.log.Warn("call log append failed", "call_id", callID, "type", eventType, "error", err)
	}
}

// List returns a call's events oldest first.
func (s *Service) List(ctx context.Context, callID string, limit int) ([]Event, error) {
	if s == nil || s.repo == nil {
		return []Event{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	evs, err := s.repo.List(ctx, callID, limit)
	if err != nil {
		return nil, err
	}
	if evs == nil {
		evs = []Event{}
	}
	return evs, nil
}
