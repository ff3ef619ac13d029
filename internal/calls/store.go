package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("calls: record not found")
	ErrInvalidRecord = errors.New("calls: invalid record")
)

const (
	DefaultListLimit    = 20
	MaxListLimit        = 200
	DefaultMessageLimit = 200
)

// ApplyFunc derives a partial update from the stored record. Returning false
// skips the write. It may be called more than once for one Apply and must
// not have side effects beyond its return values.
type ApplyFunc func(cur CallRecord) (CallRecord, bool)

// Backend is a document collection of call records keyed by callId.
// Implementations must merge writes field by field and never clear a stored
// field because a write left it empty. createdAt is kept from the first
// write that set it.
type Backend interface {
	MergeRecord(ctx context.Context, rec CallRecord) error
	// UpdateRecord merges partial into an existing record and returns
	// ErrNotFound when callID is unknown.
	UpdateRecord(ctx context.Context, callID string, partial CallRecord) error
	// ApplyRecord reads callID and merges the partial fn derives from it as
	// one atomic step. It returns the stored record after the write and
	// whether fn asked for one.
	ApplyRecord(ctx context.Context, callID string, fn ApplyFunc) (*CallRecord, bool, error)
	GetRecord(ctx context.Context, callID string) (*CallRecord, error)
	// FindByField returns (nil, nil) when nothing matches.
	FindByField(ctx context.Context, field, value string) (*CallRecord, error)
	ListRecords(ctx context.Context, limit int, since time.Time) ([]CallRecord, error)
	MergeRecords(ctx context.Context, recs []CallRecord) error

	PutMessage(ctx context.Context, msg ConversationMessage) error
	ListMessages(ctx context.Context, callID string, limit int) ([]ConversationMessage, error)

	Close() error
}

// Records is the call record store used by every component. It owns
// timestamps and the degrade policy when no backend is configured: writes log
// a warning and succeed, reads return nothing.
type Records struct {
	backend Backend
	log     *slog.Logger
	now     func() time.Time
}

func NewRecords(backend Backend, log *slog.Logger) *Records {
	if log == nil {
		log = slog.Default()
	}
	return &Records{backend: backend, log: log, now: time.Now}
}

// WithClock replaces the clock, for tests.
func (r *Records) WithClock(now func() time.Time) *Records {
	r.now = now
	return r
}

// Configured reports whether a backend is attached.
func (r *Records) Configured() bool {
	return r != nil && r.backend != nil
}

func (r *Records) Now() time.Time {
	return r.now().UTC()
}

// CreateOrMerge writes rec under rec.CallID, merging with any existing
// document. CreatedAt is filled when the caller left it empty and only lands
// when the document has none yet.
func (r *Records) CreateOrMerge(ctx context.Context, rec CallRecord) error {
	if strings.TrimSpace(rec.CallID) == "" {
		return fmt.Errorf("%w: callId is required", ErrInvalidRecord)
	}
	if !r.Configured() {
		r.log.Warn("call store not configured, skipping write", "call_id", rec.CallID)
		return nil
	}
	now := r.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if err := r.backend.MergeRecord(ctx, rec); err != nil {
		return fmt.Errorf("calls: merge %s: %w", rec.CallID, err)
	}
	return nil
}

// Update applies a partial update and refreshes updatedAt.
func (r *Records) Update(ctx context.Context, callID string, partial CallRecord) error {
	if strings.TrimSpace(callID) == "" {
		return fmt.Errorf("%w: callId is required", ErrInvalidRecord)
	}
	if !r.Configured() {
		r.log.Warn("call store not configured, skipping update", "call_id", callID)
		return nil
	}
	partial.CallID = ""
	partial.CreatedAt = time.Time{}
	partial.UpdatedAt = r.Now()
	if err := r.backend.UpdateRecord(ctx, callID, partial); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("calls: update %s: %w", callID, err)
	}
	return nil
}

// Apply runs fn against the stored record and writes its partial in the same
// atomic step, so status guards like Transition always judge the current
// state rather than an earlier read. Without a backend the write is skipped
// and the record is nil.
func (r *Records) Apply(ctx context.Context, callID string, fn ApplyFunc) (*CallRecord, bool, error) {
	if strings.TrimSpace(callID) == "" {
		return nil, false, fmt.Errorf("%w: callId is required", ErrInvalidRecord)
	}
	if !r.Configured() {
		r.log.Warn("call store not configured, skipping update", "call_id", callID)
		return nil, false, nil
	}
	now := r.Now()
	rec, wrote, err := r.backend.ApplyRecord(ctx, callID, func(cur CallRecord) (CallRecord, bool) {
		patch, ok := fn(cur)
		patch.CallID = ""
		patch.CreatedAt = time.Time{}
		patch.UpdatedAt = now
		return patch, ok
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("calls: apply %s: %w", callID, err)
	}
	return rec, wrote, nil
}

// Get returns ErrNotFound for unknown ids and when no backend is configured.
func (r *Records) Get(ctx context.Context, callID string) (*CallRecord, error) {
	if !r.Configured() {
		return nil, ErrNotFound
	}
	rec, err := r.backend.GetRecord(ctx, callID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("calls: get %s: %w", callID, err)
	}
	return rec, nil
}

// FindByVendorID looks a record up by the id a vendor assigned. It never
// fails: misses and backend errors both return nil, the latter logged.
func (r *Records) FindByVendorID(ctx context.Context, vendor Vendor, vendorID string) *CallRecord {
	vendorID = strings.TrimSpace(vendorID)
	if vendorID == "" || !vendor.Valid() || !r.Configured() {
		return nil
	}
	rec, err := r.backend.FindByField(ctx, VendorField(vendor), vendorID)
	if err != nil {
		r.log.Error("call lookup by vendor id failed", "vendor", vendor, "vendor_id", vendorID, "error", err)
		return nil
	}
	return rec
}

// ListRecent returns records created within the last sinceDays days, newest
// first. sinceDays <= 0 disables the window.
func (r *Records) ListRecent(ctx context.Context, limit, sinceDays int) ([]CallRecord, error) {
	if !r.Configured() {
		return []CallRecord{}, nil
	}
	var since time.Time
	if sinceDays > 0 {
		since = r.Now().AddDate(0, 0, -sinceDays)
	}
	recs, err := r.backend.ListRecords(ctx, ClampLimit(limit, DefaultListLimit), since)
	if err != nil {
		return nil, fmt.Errorf("calls: list: %w", err)
	}
	if recs == nil {
		recs = []CallRecord{}
	}
	return recs, nil
}

// UpsertMany merges a batch of records, for bulk imports.
func (r *Records) UpsertMany(ctx context.Context, recs []CallRecord) error {
	if len(recs) == 0 {
		return nil
	}
	if !r.Configured() {
		r.log.Warn("call store not configured, skipping batch write", "count", len(recs))
		return nil
	}
	now := r.Now()
	for i := range recs {
		if strings.TrimSpace(recs[i].CallID) == "" {
			return fmt.Errorf("%w: callId is required", ErrInvalidRecord)
		}
		if recs[i].CreatedAt.IsZero() {
			recs[i].CreatedAt = now
		}
		recs[i].UpdatedAt = now
	}
	if err := r.backend.MergeRecords(ctx, recs); err != nil {
		return fmt.Errorf("calls: batch merge: %w", err)
	}
	return nil
}

// AppendMessage stores a transcript line. Messages with the same ID
// overwrite each other.
func (r *Records) AppendMessage(ctx context.Context, msg ConversationMessage) error {
	if msg.CallID == "" || msg.ID == "" {
		return fmt.Errorf("%w: message needs callId and id", ErrInvalidRecord)
	}
	if !r.Configured() {
		r.log.Warn("call store not configured, skipping message", "call_id", msg.CallID)
		return nil
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = r.Now()
	}
	if err := r.backend.PutMessage(ctx, msg); err != nil {
		return fmt.Errorf("calls: put message %s: %w", msg.ID, err)
	}
	return nil
}

// Messages returns a call's transcript oldest first.
func (r *Records) Messages(ctx context.Context, callID string, limit int) ([]ConversationMessage, error) {
	if !r.Configured() {
		return []ConversationMessage{}, nil
	}
	msgs, err := r.backend.ListMessages(ctx, callID, ClampLimit(limit, DefaultMessageLimit))
	if err != nil {
		return nil, fmt.Errorf("calls: list messages %s: %w", callID, err)
	}
	if msgs == nil {
		msgs = []ConversationMessage{}
	}
	return msgs, nil
}

func (r *Records) Close() error {
	if !r.Configured() {
		return nil
	}
	return r.backend.Close()
}

// ClampLimit applies def to non-positive limits and caps at MaxListLimit.
func ClampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
