package calls

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"auralis/internal/apperr"
	"auralis/internal/metrics"
	"auralis/pkg/logger"
)

// OutboundCall asks the voice-agent vendor to dial a number through its
// telephony bridge.
type OutboundCall struct {
	AgentID       string
	PhoneNumberID string
	ToNumber      string
}

type OutboundResult struct {
	ConversationID string
	CallSid        string
	Message        string
}

// Dialer places outbound calls. Implementations must not retry: a failed
// placement is reported once and recorded as failed.
type Dialer interface {
	PlaceOutboundCall(ctx context.Context, req OutboundCall) (OutboundResult, error)
}

// EventLogger appends entries to a call's event log. Failures are the
// logger's concern; callers never block on them.
type EventLogger interface {
	Log(ctx context.Context, callID, eventType, message string, data map[string]string)
}

// DialLimiter caps concurrent outbound placements. release must be called
// once the vendor has answered.
type DialLimiter interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// Call log event types.
const (
	EventCallInitiated = "call_initiated"
	EventStatusUpdate  = "status_update"
	EventConversation  = "conversation_event"
	EventCallEnded     = "call_ended"
	EventCallFailed    = "call_failed"
)

type OutboundSettings struct {
	AgentID       string
	PhoneNumberID string
	FromNumber    string
	// Missing lists unset environment variables that block placement.
	Missing []string
}

type ServiceDeps struct {
	Records  *Records
	Dialer   Dialer
	History  CallHistory
	Events   EventLogger
	Limiter  DialLimiter
	Outbound OutboundSettings
	// HistoryMissing lists unset variables that block Sync.
	HistoryMissing []string
	Log            *slog.Logger
}

type Service struct {
	records        *Records
	dialer         Dialer
	history        CallHistory
	events         EventLogger
	limiter        DialLimiter
	outbound       OutboundSettings
	historyMissing []string
	log            *slog.Logger
	newID          func() string
}

func NewService(d ServiceDeps) *Service {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	records := d.Records
	if records == nil {
		records = NewRecords(nil, log)
	}
	return &Service{
		records:        records,
		dialer:         d.Dialer,
		history:        d.History,
		events:         d.Events,
		limiter:        d.Limiter,
		outbound:       d.Outbound,
		historyMissing: d.HistoryMissing,
		log:            log,
		newID:          func() string { return "call_" + uuid.NewString() },
	}
}

func (s *Service) Records() *Records { return s.records }

var phoneValidate = validator.New()

// NormalizePhone strips formatting characters and checks the result is an
// E.164 number.
func NormalizePhone(raw string) (string, error) {
	n := strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	if n == "" {
		return "", apperr.Validation("phone number is required", "phoneNumber must be a non-empty E.164 number")
	}
	if strings.HasPrefix(n, "00") {
		n = "+" + n[2:]
	}
	if err := phoneValidate.Var(n, "e164"); err != nil {
		return "", apperr.Validation("invalid phone number", "phoneNumber must be in E.164 format, e.g. +14155550123")
	}
	return n, nil
}

// Initiate creates the call record and asks the voice-agent vendor to dial.
// The record exists before the vendor is contacted, so webhooks racing the
// response always find it.
func (s *Service) Initiate(ctx context.Context, phoneNumber string) (*CallRecord, error) {
	if missing := s.missingOutbound(); len(missing) > 0 {
		metrics.CallsInitiated.WithLabelValues("config_error").Inc()
		return nil, apperr.MissingConfig("voice agent configuration missing", missing...)
	}
	to, err := NormalizePhone(phoneNumber)
	if err != nil {
		metrics.CallsInitiated.WithLabelValues("invalid").Inc()
		return nil, err
	}

	if s.limiter != nil {
		release, err := s.limiter.Acquire(ctx)
		if err != nil {
			metrics.CallsInitiated.WithLabelValues("rate_limited").Inc()
			return nil, err
		}
		defer release()
	}

	now := s.records.Now()
	rec := CallRecord{
		CallID:     s.newID(),
		AgentID:    s.outbound.AgentID,
		ToNumber:   to,
		FromNumber: s.outbound.FromNumber,
		Status:     StatusInitiating,
		StartedAt:  TimePtr(now),
		CreatedAt:  now,
	}
	if err := s.records.CreateOrMerge(ctx, rec); err != nil {
		metrics.CallsInitiated.WithLabelValues("storage_error").Inc()
		return nil, apperr.Storage("failed to create call record", err)
	}

	res, err := s.dialer.PlaceOutboundCall(ctx, OutboundCall{
		AgentID:       s.outbound.AgentID,
		PhoneNumberID: s.outbound.PhoneNumberID,
		ToNumber:      to,
	})
	if err != nil {
		metrics.CallsInitiated.WithLabelValues("vendor_error").Inc()
		verr := apperr.FromVendor("elevenlabs", err)
		code := verr.Code
		if code == "" {
			code = "VENDOR_ERROR"
		}
		failedAt := s.records.Now()
		s.bestEffortApply(ctx, rec.CallID, func(cur CallRecord) (CallRecord, bool) {
			patch := CallRecord{ErrorCode: code, ErrorMessage: verr.Message}
			if moved, ok := Transition(cur, StatusFailed, failedAt); ok {
				Merge(&patch, moved)
				patch.EndReason = EndReasonVendorError
			}
			return patch, true
		})
		s.logEvent(ctx, rec.CallID, EventCallFailed, "outbound call placement failed", map[string]string{
			"error": verr.Message,
			"code":  code,
		})
		return nil, verr
	}

	accepted := CallRecord{
		ElevenLabsCallID: res.ConversationID,
		TwilioCallSid:    res.CallSid,
		ElevenLabsStatus: "initiated",
	}
	acceptedAt := s.records.Now()
	stored := s.bestEffortApply(ctx, rec.CallID, func(cur CallRecord) (CallRecord, bool) {
		patch := accepted
		if moved, ok := Transition(cur, StatusCalling, acceptedAt); ok {
			Merge(&patch, moved)
		}
		return patch, true
	})
	metrics.CallsInitiated.WithLabelValues("accepted").Inc()
	metrics.StatusTransitions.WithLabelValues("initiate", string(StatusCalling)).Inc()
	s.logEvent(ctx, rec.CallID, EventCallInitiated, "outbound call placed", map[string]string{
		"toNumber":         to,
		"elevenlabsCallId": res.ConversationID,
		"twilioCallSid":    res.CallSid,
	})

	if stored != nil {
		return stored, nil
	}
	accepted.Status = StatusCalling
	Merge(&rec, accepted)
	return &rec, nil
}

func (s *Service) missingOutbound() []string {
	if len(s.outbound.Missing) > 0 {
		return s.outbound.Missing
	}
	if s.dialer == nil {
		return []string{"ELEVENLABS_API_KEY"}
	}
	return nil
}

// bestEffortApply writes an enrichment that must not fail the request. It
// returns the stored record, or nil when the write did not happen.
func (s *Service) bestEffortApply(ctx context.Context, callID string, fn ApplyFunc) *CallRecord {
	rec, _, err := s.records.Apply(ctx, callID, fn)
	if err != nil {
		s.logger(ctx).Error("call record update failed", "call_id", callID, "error", err)
		return nil
	}
	return rec
}

// logger prefers the request-scoped logger carried by ctx.
func (s *Service) logger(ctx context.Context) *slog.Logger {
	return logger.FromOr(ctx, s.log)
}

func (s *Service) logEvent(ctx context.Context, callID, eventType, message string, data map[string]string) {
	if s.events == nil {
		return
	}
	s.events.Log(ctx, callID, eventType, message, data)
}

func (s *Service) Get(ctx context.Context, callID string) (*CallRecord, error) {
	return s.records.Get(ctx, callID)
}

func (s *Service) List(ctx context.Context, limit, sinceDays int) ([]CallRecord, error) {
	recs, err := s.records.ListRecent(ctx, limit, sinceDays)
	if err != nil {
		return nil, apperr.Storage("failed to list calls", err)
	}
	return recs, nil
}

func (s *Service) Messages(ctx context.Context, callID string, limit int) ([]ConversationMessage, error) {
	msgs, err := s.records.Messages(ctx, callID, limit)
	if err != nil {
		return nil, apperr.Storage("failed to list messages", err)
	}
	return msgs, nil
}

// End ends a call on the user's behalf.
func (s *Service) End(ctx context.Context, callID string) (*CallRecord, error) {
	return s.MarkEnded(ctx, callID, StatusCompleted, EndReasonUser)
}

// MarkEnded writes a terminal status with reason. Records that are already
// terminal are returned unchanged.
func (s *Service) MarkEnded(ctx context.Context, callID string, status Status, reason string) (*CallRecord, error) {
	if !status.Terminal() {
		return nil, apperr.Validation("status must be terminal", string(status))
	}
	now := s.records.Now()
	rec, ended, err := s.records.Apply(ctx, callID, func(cur CallRecord) (CallRecord, bool) {
		patch, ok := Transition(cur, status, now)
		if !ok {
			return CallRecord{}, false
		}
		patch.EndReason = reason
		return patch, true
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, apperr.Storage("failed to end call", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	if !ended {
		return rec, nil
	}

	metrics.StatusTransitions.WithLabelValues("end", string(status)).Inc()
	s.logger(ctx).Info("call ended", "call_id", callID, "status", status, "end_reason", reason)
	s.logEvent(ctx, callID, EventCallEnded, "call ended", map[string]string{
		"status":    string(status),
		"endReason": reason,
	})
	return rec, nil
}

// Now exposes the store clock so collaborators stamp times consistently.
func (s *Service) Now() time.Time {
	return s.records.Now()
}
