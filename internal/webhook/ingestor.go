// Package webhook turns vendor callbacks into call record updates.
package webhook

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"auralis/internal/calls"
	"auralis/pkg/logger"
	"auralis/pkg/utils"
)

type Kind string

const (
	KindStatus       Kind = "status"
	KindRecording    Kind = "recording"
	KindConversation Kind = "conversation"
)

// Message is a conversation event carried by a voice-agent callback.
type Message struct {
	EventType string
	Role      string
	Content   string
	Timestamp *time.Time
	Source    string
}

// Event is a vendor callback normalised for ingestion.
type Event struct {
	Vendor       calls.Vendor
	Kind         Kind
	VendorCallID string
	RawStatus    string
	OccurredAt   *time.Time

	// DurationSec, when set, is the vendor's own measurement and wins over
	// the computed one.
	DurationSec  int
	EndReason    string
	ErrorCode    string
	ErrorMessage string

	Recording *calls.Recording
	Message   *Message
}

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnmatched Outcome = "unmatched"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

// Deduper claims a delivery key. It returns false when the key was already
// claimed.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
}

// RedisDeduper claims keys with SETNX. Redis failures let the delivery
// through.
type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDeduper(rdb *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	return utils.ClaimOnce(ctx, d.rdb, key, d.ttl)
}

// Ingestor applies vendor events to call records. It never returns an error:
// every failure is logged and reported as an Outcome.
type Ingestor struct {
	records *calls.Records
	events  calls.EventLogger
	dedupe  Deduper
	log     *slog.Logger
}

func NewIngestor(records *calls.Records, events calls.EventLogger, dedupe Deduper, log *slog.Logger) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{records: records, events: events, dedupe: dedupe, log: log}
}

func (in *Ingestor) Apply(ctx context.Context, ev Event) Outcome {
	log := logger.FromOr(ctx, in.log).With("vendor", ev.Vendor, "kind", ev.Kind, "vendor_call_id", ev.VendorCallID)
	if strings.TrimSpace(ev.VendorCallID) == "" || !ev.Vendor.Valid() {
		log.Warn("webhook without vendor call id")
		return OutcomeIgnored
	}

	if in.dedupe != nil && ev.Kind != KindConversation {
		first, err := in.dedupe.Claim(ctx, dedupeKey(ev))
		if err != nil {
			log.Warn("webhook dedupe unavailable", "error", err)
		} else if !first {
			log.Info("duplicate webhook skipped", "raw_status", ev.RawStatus)
			return OutcomeDuplicate
		}
	}

	rec := in.records.FindByVendorID(ctx, ev.Vendor, ev.VendorCallID)
	if rec == nil {
		log.Warn("no call record for vendor call id")
		return OutcomeUnmatched
	}
	log = log.With("call_id", rec.CallID)

	switch ev.Kind {
	case KindStatus:
		return in.applyStatus(ctx, log, *rec, ev)
	case KindRecording:
		return in.applyRecording(ctx, log, *rec, ev)
	case KindConversation:
		return in.applyConversation(ctx, log, *rec, ev)
	default:
		log.Warn("unknown webhook kind")
		return OutcomeIgnored
	}
}

func (in *Ingestor) applyStatus(ctx context.Context, log *slog.Logger, rec calls.CallRecord, ev Event) Outcome {
	mapped, known := calls.LookupStatus(ev.Vendor, ev.RawStatus)
	if !known {
		log.Warn("unknown vendor status, using fallback", "raw_status", ev.RawStatus, "status", mapped)
	}

	// base carries the vendor's raw fields, written whether or not the
	// status moves.
	base := calls.CallRecord{ErrorCode: ev.ErrorCode, ErrorMessage: ev.ErrorMessage, Recording: ev.Recording}
	if ev.Vendor == calls.VendorTwilio {
		base.TwilioStatus = ev.RawStatus
	} else {
		base.ElevenLabsStatus = ev.RawStatus
	}

	at := in.records.Now()
	if ev.OccurredAt != nil {
		at = ev.OccurredAt.UTC()
	}
	var (
		advanced bool
		prev     calls.Status
	)
	_, _, err := in.records.Apply(ctx, rec.CallID, func(cur calls.CallRecord) (calls.CallRecord, bool) {
		patch := base
		prev = cur.Status
		var moved calls.CallRecord
		moved, advanced = calls.Transition(cur, mapped, at)
		if advanced {
			calls.Merge(&patch, moved)
			if mapped.Terminal() && cur.EndReason == "" {
				patch.EndReason = ev.EndReason
				if patch.EndReason == "" {
					patch.EndReason = calls.EndReasonFor(ev.Vendor, ev.RawStatus)
				}
			}
		}
		if ev.DurationSec > 0 {
			patch.DurationSec = ev.DurationSec
		}
		return patch, true
	})
	if err != nil {
		log.Error("webhook update failed", "error", err)
		if errors.Is(err, calls.ErrNotFound) {
			return OutcomeUnmatched
		}
		return OutcomeFailed
	}
	if !advanced {
		log.Debug("status not applied", "current", prev, "next", mapped)
	}

	data := map[string]string{
		"vendor":    string(ev.Vendor),
		"rawStatus": ev.RawStatus,
		"status":    string(mapped),
		"applied":   boolString(advanced),
	}
	if ev.ErrorCode != "" {
		data["errorCode"] = ev.ErrorCode
	}
	in.logEvent(ctx, rec.CallID, calls.EventStatusUpdate, "vendor status update", data)
	log.Info("webhook status applied", "raw_status", ev.RawStatus, "status", mapped, "advanced", advanced)
	return OutcomeApplied
}

func (in *Ingestor) applyRecording(ctx context.Context, log *slog.Logger, rec calls.CallRecord, ev Event) Outcome {
	if ev.Recording == nil {
		return OutcomeIgnored
	}
	if err := in.records.Update(ctx, rec.CallID, calls.CallRecord{Recording: ev.Recording}); err != nil {
		log.Error("recording update failed", "error", err)
		if errors.Is(err, calls.ErrNotFound) {
			return OutcomeUnmatched
		}
		return OutcomeFailed
	}
	in.logEvent(ctx, rec.CallID, calls.EventStatusUpdate, "recording update", map[string]string{
		"recordingSid":    ev.Recording.RecordingSid,
		"recordingStatus": ev.Recording.Status,
	})
	return OutcomeApplied
}

func (in *Ingestor) applyConversation(ctx context.Context, log *slog.Logger, rec calls.CallRecord, ev Event) Outcome {
	if ev.Message == nil {
		return OutcomeIgnored
	}
	m := ev.Message
	source := m.Source
	if source == "" {
		source = "elevenlabs"
	}
	data := map[string]string{"eventType": m.EventType, "message": m.Content, "source": source}
	if m.Timestamp != nil {
		data["timestamp"] = m.Timestamp.UTC().Format(time.RFC3339)
	}
	in.logEvent(ctx, rec.CallID, calls.EventConversation, "voice agent event: "+m.EventType, data)

	if strings.TrimSpace(m.Content) == "" {
		return OutcomeApplied
	}
	msg := calls.ConversationMessage{
		ID:      messageID(rec.CallID, m),
		CallID:  rec.CallID,
		Type:    messageType(m.Role),
		Content: m.Content,
	}
	if m.Timestamp != nil {
		msg.Timestamp = m.Timestamp.UTC()
	}
	if err := in.records.AppendMessage(ctx, msg); err != nil {
		log.Error("conversation message append failed", "error", err)
		return OutcomeFailed
	}
	return OutcomeApplied
}

func (in *Ingestor) logEvent(ctx context.Context, callID, eventType, message string, data map[string]string) {
	if in.events == nil {
		return
	}
	in.events.Log(ctx, callID, eventType, message, data)
}

var messageNamespace = uuid.MustParse("7f1d8a4e-3c1b-4f7e-9a53-0c2b6d1e5a90")

// messageID is stable across redeliveries of the same event.
func messageID(callID string, m *Message) string {
	ts := ""
	if m.Timestamp != nil {
		ts = m.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return uuid.NewSHA1(messageNamespace, []byte(callID+"|"+m.EventType+"|"+m.Role+"|"+ts+"|"+m.Content)).String()
}

func messageType(role string) calls.MessageType {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "agent", "ai", "assistant":
		return calls.MessageAI
	case "user", "human", "caller":
		return calls.MessageHuman
	default:
		return calls.MessageSystem
	}
}

func dedupeKey(ev Event) string {
	parts := []string{"auralis:webhook", string(ev.Vendor), string(ev.Kind), ev.VendorCallID, strings.ToLower(ev.RawStatus)}
	if ev.Recording != nil {
		parts = append(parts, ev.Recording.RecordingSid, ev.Recording.Status)
	}
	return strings.Join(parts, ":")
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
