package calllog

import (
	"context"
	"errors"
	"testing"
	"time"

	"auralis/internal/auth"
	"auralis/pkg/logger"
)

func TestService_AppendRequiresCallAndType(t *testing.T) {
	svc := NewService(NewMemoryRepo(), logger.Discard())

	if err := svc.Append(context.Background(), Event{Type: EventStatusUpdate}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{CallID: "c1"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestService_LogCapturesActorAndDefaults(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, logger.Discard())

	ctx := auth.WithIdentity(context.Background(), "op-7", "operator")
	svc.Log(ctx, "c1", string(EventCallEnded), "call ended", map[string]string{"endReason": "user_ended"})

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	e := evs[0]
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp assigned: %+v", e)
	}
	if e.ActorUserID != "op-7" || e.Type != EventCallEnded || e.Data["endReason"] != "user_ended" {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestService_ListOrdersByTime(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, logger.Discard())
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_ = svc.Append(context.Background(), Event{CallID: "c1", Type: EventStatusUpdate, CreatedAt: base.Add(time.Minute)})
	_ = svc.Append(context.Background(), Event{CallID: "c1", Type: EventCallInitiated, CreatedAt: base})
	_ = svc.Append(context.Background(), Event{CallID: "c2", Type: EventCallInitiated, CreatedAt: base})

	evs, err := svc.List(context.Background(), "c1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(evs) != 2 || evs[0].Type != EventCallInitiated {
		t.Fatalf("unexpected events: %+v", evs)
	}
}

func TestService_NilRepoIsQuiet(t *testing.T) {
	svc := NewService(nil, logger.Discard())
	svc.Log(context.Background(), "c1", string(EventStatusUpdate), "x", nil)
	evs, err := svc.List(context.Background(), "c1", 10)
	if err != nil || len(evs) != 0 {
		t.Fatalf("expected empty list, got %v %v", evs, err)
	}
	if err := svc.Append(context.Background(), Event{CallID: "c1", Type: EventStatusUpdate}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
