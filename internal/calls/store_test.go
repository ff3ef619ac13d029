package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"auralis/pkg/logger"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newMemoryRecords(now time.Time) (*Records, *MemoryBackend) {
	b := NewMemoryBackend()
	return NewRecords(b, logger.Discard()).WithClock(fixedClock(now)), b
}

func TestCreateOrMerge_UnionOfWrites(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r, _ := newMemoryRecords(created)

	if err := r.CreateOrMerge(ctx, CallRecord{CallID: "c1", Status: StatusInitiating}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	later := created.Add(time.Hour)
	r.WithClock(fixedClock(later))
	if err := r.CreateOrMerge(ctx, CallRecord{CallID: "c1", ElevenLabsCallID: "el_99"}); err != nil {
		t.Fatalf("second write: %v", err)
	}

	got, err := r.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusInitiating || got.ElevenLabsCallID != "el_99" {
		t.Fatalf("expected union of writes, got %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("createdAt must keep the first write, want %v got %v", created, got.CreatedAt)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Fatalf("expected updatedAt %v, got %v", later, got.UpdatedAt)
	}
}

func TestUpsertMany_KeepsExistingCreatedAt(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r, _ := newMemoryRecords(created)
	if err := r.CreateOrMerge(ctx, CallRecord{CallID: "c1", Status: StatusCalling}); err != nil {
		t.Fatalf("create: %v", err)
	}

	r.WithClock(fixedClock(created.Add(24 * time.Hour)))
	if err := r.UpsertMany(ctx, []CallRecord{{CallID: "c1", TwilioCallSid: "CA1"}, {CallID: "c2"}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, _ := r.Get(ctx, "c1")
	if !got.CreatedAt.Equal(created) || got.TwilioCallSid != "CA1" {
		t.Fatalf("expected merged record with original createdAt, got %+v", got)
	}
	fresh, _ := r.Get(ctx, "c2")
	if !fresh.CreatedAt.Equal(created.Add(24 * time.Hour)) {
		t.Fatalf("new record should get the current time, got %v", fresh.CreatedAt)
	}
}

func TestApply_JudgesStoredRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r, _ := newMemoryRecords(now)
	if err := r.CreateOrMerge(ctx, CallRecord{CallID: "c1", Status: StatusRinging}); err != nil {
		t.Fatalf("create: %v", err)
	}

	// A status read before the call completed must not be written back.
	stale, _ := r.Get(ctx, "c1")
	if _, _, err := r.Apply(ctx, "c1", func(cur CallRecord) (CallRecord, bool) {
		return Transition(cur, StatusCompleted, now)
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	rec, wrote, err := r.Apply(ctx, "c1", func(cur CallRecord) (CallRecord, bool) {
		if cur.Status != StatusCompleted {
			t.Fatalf("apply saw %q, the stale read was %q", cur.Status, stale.Status)
		}
		return Transition(cur, StatusInProgress, now)
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if wrote || rec.Status != StatusCompleted || rec.EndedAt == nil || rec.ConnectedAt != nil {
		t.Fatalf("terminal record regressed: wrote=%v %+v", wrote, rec)
	}
}

func TestApply_ConcurrentTransitionsEndTerminal(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r, _ := newMemoryRecords(now)
	if err := r.CreateOrMerge(ctx, CallRecord{CallID: "c1", Status: StatusRinging}); err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		next := StatusInProgress
		if i%5 == 0 {
			next = StatusCompleted
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = r.Apply(ctx, "c1", func(cur CallRecord) (CallRecord, bool) {
				return Transition(cur, next, now)
			})
		}()
	}
	wg.Wait()

	got, _ := r.Get(ctx, "c1")
	if got.Status != StatusCompleted || got.EndedAt == nil {
		t.Fatalf("expected completed with endedAt, got %+v", got)
	}
}

func TestApply_UnknownAndUnconfigured(t *testing.T) {
	ctx := context.Background()
	r, _ := newMemoryRecords(time.Now())
	keep := func(cur CallRecord) (CallRecord, bool) { return CallRecord{Status: StatusFailed}, true }

	if _, _, err := r.Apply(ctx, "missing", keep); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	rec, wrote, err := NewRecords(nil, logger.Discard()).Apply(ctx, "c1", keep)
	if err != nil || wrote || rec != nil {
		t.Fatalf("expected a skipped write without a backend, got %+v %v %v", rec, wrote, err)
	}
}

func TestCreateOrMerge_ConcurrentWritersKeepTheirFields(t *testing.T) {
	ctx := context.Background()
	r, _ := newMemoryRecords(time.Now())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = r.CreateOrMerge(ctx, CallRecord{CallID: "c2", ToNumber: "+14155550123", Status: StatusInitiating})
	}()
	go func() {
		defer wg.Done()
		_ = r.CreateOrMerge(ctx, CallRecord{CallID: "c2", TwilioCallSid: "CA1"})
	}()
	wg.Wait()

	got, err := r.Get(ctx, "c2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ToNumber != "+14155550123" || got.TwilioCallSid != "CA1" {
		t.Fatalf("a writer clobbered the other: %+v", got)
	}
}

func TestCreateOrMerge_RequiresCallID(t *testing.T) {
	r, _ := newMemoryRecords(time.Now())
	err := r.CreateOrMerge(context.Background(), CallRecord{Status: StatusQueued})
	if !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestUpdate_RefreshesUpdatedAtAndMergesRecording(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r, _ := newMemoryRecords(created)
	if err := r.CreateOrMerge(ctx, CallRecord{CallID: "c1", Status: StatusCalling}); err != nil {
		t.Fatalf("create: %v", err)
	}

	later := created.Add(time.Minute)
	r.WithClock(fixedClock(later))
	if err := r.Update(ctx, "c1", CallRecord{Recording: &Recording{RecordingSid: "RE1", Status: "in-progress"}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := r.Update(ctx, "c1", CallRecord{Recording: &Recording{RecordingURL: "https://rec/1", Status: "completed"}}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := r.Get(ctx, "c1")
	if !got.UpdatedAt.Equal(later) {
		t.Fatalf("expected updatedAt %v, got %v", later, got.UpdatedAt)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("update must not touch createdAt, got %v", got.CreatedAt)
	}
	if got.Status != StatusCalling {
		t.Fatalf("status must survive a recording update, got %q", got.Status)
	}
	want := Recording{RecordingSid: "RE1", RecordingURL: "https://rec/1", Status: "completed"}
	if got.Recording == nil || *got.Recording != want {
		t.Fatalf("expected merged recording %+v, got %+v", want, got.Recording)
	}
}

func TestUpdate_UnknownCall(t *testing.T) {
	r, _ := newMemoryRecords(time.Now())
	err := r.Update(context.Background(), "missing", CallRecord{Status: StatusFailed})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecords_NotConfiguredDegrades(t *testing.T) {
	ctx := context.Background()
	r := NewRecords(nil, logger.Discard())

	if err := r.Update(ctx, "c1", CallRecord{Status: StatusFailed}); err != nil {
		t.Fatalf("update must succeed silently, got %v", err)
	}
	if err := r.CreateOrMerge(ctx, CallRecord{CallID: "c1"}); err != nil {
		t.Fatalf("create must succeed silently, got %v", err)
	}
	if rec := r.FindByVendorID(ctx, VendorTwilio, "CA1"); rec != nil {
		t.Fatalf("expected nil lookup, got %+v", rec)
	}
	list, err := r.ListRecent(ctx, 10, 0)
	if err != nil || len(list) != 0 {
		t.Fatalf("expected empty list, got %v, %v", list, err)
	}
	if _, err := r.Get(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type brokenBackend struct {
	*MemoryBackend
	err error
}

func (b brokenBackend) FindByField(ctx context.Context, field, value string) (*CallRecord, error) {
	return nil, b.err
}

func (b brokenBackend) MergeRecord(ctx context.Context, rec CallRecord) error {
	return b.err
}

func TestFindByVendorID_NeverFails(t *testing.T) {
	ctx := context.Background()
	r, _ := newMemoryRecords(time.Now())
	_ = r.CreateOrMerge(ctx, CallRecord{CallID: "c1", TwilioCallSid: "CA1", ElevenLabsCallID: "conv_1"})

	if rec := r.FindByVendorID(ctx, VendorTwilio, "CA1"); rec == nil || rec.CallID != "c1" {
		t.Fatalf("expected c1 by twilio sid, got %+v", rec)
	}
	if rec := r.FindByVendorID(ctx, VendorVoiceAgent, "conv_1"); rec == nil || rec.CallID != "c1" {
		t.Fatalf("expected c1 by conversation id, got %+v", rec)
	}
	if rec := r.FindByVendorID(ctx, VendorTwilio, "conv_1"); rec != nil {
		t.Fatalf("vendor ids must not cross vendors, got %+v", rec)
	}
	if rec := r.FindByVendorID(ctx, VendorTwilio, ""); rec != nil {
		t.Fatalf("expected nil for empty id")
	}

	broken := NewRecords(brokenBackend{NewMemoryBackend(), errors.New("unavailable")}, logger.Discard())
	if rec := broken.FindByVendorID(ctx, VendorTwilio, "CA1"); rec != nil {
		t.Fatalf("expected nil on backend failure")
	}
}

func TestListRecent_OrderWindowAndLimit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	r, _ := newMemoryRecords(now)

	for i, age := range []time.Duration{1 * time.Hour, 26 * time.Hour, 10 * 24 * time.Hour, 2 * time.Hour} {
		rec := CallRecord{CallID: string(rune('a' + i)), CreatedAt: now.Add(-age)}
		if err := r.CreateOrMerge(ctx, rec); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	got, err := r.ListRecent(ctx, 0, 7)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records in window, got %d", len(got))
	}
	order := []string{"a", "d", "b"}
	for i, id := range order {
		if got[i].CallID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].CallID)
		}
	}

	got, _ = r.ListRecent(ctx, 2, 0)
	if len(got) != 2 {
		t.Fatalf("expected limit 2, got %d", len(got))
	}
}

func TestMessages_OrderedAndIdempotent(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r, _ := newMemoryRecords(base)

	msgs := []ConversationMessage{
		{ID: "m2", CallID: "c1", Type: MessageHuman, Content: "hello?", Timestamp: base.Add(2 * time.Second)},
		{ID: "m1", CallID: "c1", Type: MessageAI, Content: "Hi, this is Auralis", Timestamp: base.Add(time.Second)},
		{ID: "m2", CallID: "c1", Type: MessageHuman, Content: "hello?", Timestamp: base.Add(2 * time.Second)},
	}
	for _, m := range msgs {
		if err := r.AppendMessage(ctx, m); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := r.Messages(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(got) != 2 || got[0].ID != "m1" || got[1].ID != "m2" {
		t.Fatalf("expected [m1 m2], got %+v", got)
	}
}

func TestClampLimit(t *testing.T) {
	if ClampLimit(0, 20) != 20 || ClampLimit(-5, 20) != 20 {
		t.Fatalf("non-positive limits use the default")
	}
	if ClampLimit(5000, 20) != MaxListLimit {
		t.Fatalf("limits are capped")
	}
	if ClampLimit(7, 20) != 7 {
		t.Fatalf("in-range limits pass through")
	}
}
