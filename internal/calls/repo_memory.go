package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend keeps records in process memory. It backs tests and
// STORE_DRIVER=memory; nothing survives a restart.
type MemoryBackend struct {
	mu       sync.RWMutex
	records  map[string]CallRecord
	messages map[string]map[string]ConversationMessage
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records:  map[string]CallRecord{},
		messages: map[string]map[string]ConversationMessage{},
	}
}

func (m *MemoryBackend) MergeRecord(ctx context.Context, rec CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeLocked(rec)
	return nil
}

func (m *MemoryBackend) mergeLocked(rec CallRecord) {
	cur := m.records[rec.CallID]
	if !cur.CreatedAt.IsZero() {
		rec.CreatedAt = time.Time{}
	}
	Merge(&cur, copyRecord(rec))
	m.records[rec.CallID] = cur
}

func (m *MemoryBackend) UpdateRecord(ctx context.Context, callID string, partial CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[callID]
	if !ok {
		return ErrNotFound
	}
	partial.CallID = ""
	partial.CreatedAt = time.Time{}
	Merge(&cur, copyRecord(partial))
	m.records[callID] = cur
	return nil
}

func (m *MemoryBackend) ApplyRecord(ctx context.Context, callID string, fn ApplyFunc) (*CallRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[callID]
	if !ok {
		return nil, false, ErrNotFound
	}
	patch, write := fn(copyRecord(cur))
	if write {
		patch.CallID = ""
		patch.CreatedAt = time.Time{}
		Merge(&cur, copyRecord(patch))
		m.records[callID] = cur
	}
	out := copyRecord(cur)
	return &out, write, nil
}

func (m *MemoryBackend) GetRecord(ctx context.Context, callID string) (*CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[callID]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyRecord(rec)
	return &out, nil
}

func (m *MemoryBackend) FindByField(ctx context.Context, field, value string) (*CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.records {
		var got string
		switch field {
		case FieldTwilioCallSid:
			got = rec.TwilioCallSid
		case FieldElevenLabsCallID:
			got = rec.ElevenLabsCallID
		}
		if got != "" && got == value {
			out := copyRecord(rec)
			return &out, nil
		}
	}
	return nil, nil
}

func (m *MemoryBackend) ListRecords(ctx context.Context, limit int, since time.Time) ([]CallRecord, error) {
	m.mu.RLock()
	out := make([]CallRecord, 0, len(m.records))
	for _, rec := range m.records {
		if !since.IsZero() && rec.CreatedAt.Before(since) {
			continue
		}
		out = append(out, copyRecord(rec))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CallID > out[j].CallID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryBackend) MergeRecords(ctx context.Context, recs []CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		m.mergeLocked(rec)
	}
	return nil
}

func (m *MemoryBackend) PutMessage(ctx context.Context, msg ConversationMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.messages[msg.CallID]
	if !ok {
		byID = map[string]ConversationMessage{}
		m.messages[msg.CallID] = byID
	}
	byID[msg.ID] = msg
	return nil
}

func (m *MemoryBackend) ListMessages(ctx context.Context, callID string, limit int) ([]ConversationMessage, error) {
	m.mu.RLock()
	out := make([]ConversationMessage, 0, len(m.messages[callID]))
	for _, msg := range m.messages[callID] {
		out = append(out, msg)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryBackend) Close() error { return nil }

// copyRecord detaches pointer fields so callers cannot mutate stored state.
func copyRecord(r CallRecord) CallRecord {
	out := r
	out.StartedAt = cloneTime(r.StartedAt)
	out.RingingAt = cloneTime(r.RingingAt)
	out.ConnectedAt = cloneTime(r.ConnectedAt)
	out.EndedAt = cloneTime(r.EndedAt)
	if r.Recording != nil {
		rec := *r.Recording
		out.Recording = &rec
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
