package calls

import (
	"context"
	"time"

	"auralis/internal/apperr"
	"auralis/internal/metrics"
)

// TelephonyCall is one call as reported by the telephony vendor's history.
type TelephonyCall struct {
	Sid         string
	From        string
	To          string
	Status      string
	Direction   string
	DurationSec int
	StartTime   *time.Time
	EndTime     *time.Time
	DateCreated *time.Time
}

type SyncFilter struct {
	Limit     int
	DaysBack  int
	Status    string
	Direction string
}

// CallHistory lists calls known to the telephony vendor.
type CallHistory interface {
	RecentCalls(ctx context.Context, f SyncFilter) ([]TelephonyCall, error)
}

type SyncResult struct {
	Fetched int `json:"fetched"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// SyncedCallID is the document key used for calls first seen through sync.
func SyncedCallID(sid string) string {
	return "twilio-" + sid
}

// Sync imports telephony call history. Calls already linked to a record by
// twilioCallSid are merged into that record and never moved backwards in the
// lifecycle; unknown calls get a new record keyed by SyncedCallID.
func (s *Service) Sync(ctx context.Context, f SyncFilter) (SyncResult, error) {
	var res SyncResult
	if len(s.historyMissing) > 0 {
		return res, apperr.MissingConfig("telephony configuration missing", s.historyMissing...)
	}
	if s.history == nil {
		return res, apperr.MissingConfig("telephony configuration missing", "TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN")
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
	if f.DaysBack <= 0 {
		f.DaysBack = 7
	}

	log := s.logger(ctx)
	vendorCalls, err := s.history.RecentCalls(ctx, f)
	if err != nil {
		return res, apperr.FromVendor("twilio", err)
	}
	res.Fetched = len(vendorCalls)

	var fresh []CallRecord
	for _, vc := range vendorCalls {
		if vc.Sid == "" {
			res.Skipped++
			continue
		}
		mapped := MapStatus(VendorTwilio, vc.Status)

		existing := s.records.FindByVendorID(ctx, VendorTwilio, vc.Sid)
		if existing == nil {
			rec := CallRecord{
				CallID:        SyncedCallID(vc.Sid),
				TwilioCallSid: vc.Sid,
				ToNumber:      vc.To,
				FromNumber:    vc.From,
				Direction:     vc.Direction,
				Status:        mapped,
				TwilioStatus:  vc.Status,
				StartedAt:     vc.StartTime,
				EndedAt:       vc.EndTime,
				DurationSec:   vc.DurationSec,
				EndReason:     EndReasonFor(VendorTwilio, vc.Status),
			}
			if vc.DateCreated != nil {
				rec.CreatedAt = vc.DateCreated.UTC()
			}
			fresh = append(fresh, rec)
			continue
		}

		now := s.records.Now()
		var advanced bool
		_, _, err := s.records.Apply(ctx, existing.CallID, func(cur CallRecord) (CallRecord, bool) {
			var patch CallRecord
			patch, advanced = syncPatch(cur, vc, mapped, now)
			return patch, true
		})
		if err != nil {
			log.Error("sync update failed", "call_id", existing.CallID, "twilio_call_sid", vc.Sid, "error", err)
			res.Skipped++
			continue
		}
		if advanced {
			metrics.StatusTransitions.WithLabelValues("sync", string(mapped)).Inc()
		}
		res.Updated++
	}

	if err := s.records.UpsertMany(ctx, fresh); err != nil {
		return res, apperr.Storage("failed to store synced calls", err)
	}
	res.Created = len(fresh)

	log.Info("telephony sync complete",
		"fetched", res.Fetched,
		"created", res.Created,
		"updated", res.Updated,
		"skipped", res.Skipped,
	)
	return res, nil
}

// syncPatch merges a history entry into cur. Vendor fields are always
// refreshed; the status only moves forward.
func syncPatch(cur CallRecord, vc TelephonyCall, mapped Status, now time.Time) (CallRecord, bool) {
	patch := CallRecord{TwilioStatus: vc.Status, Direction: vc.Direction, DurationSec: vc.DurationSec}
	moved, ok := Transition(cur, mapped, now)
	if ok {
		Merge(&patch, moved)
		mergeTime(&patch.EndedAt, vc.EndTime)
		if vc.DurationSec > 0 {
			patch.DurationSec = vc.DurationSec
		}
		if mapped.Terminal() && cur.EndReason == "" {
			patch.EndReason = EndReasonFor(VendorTwilio, vc.Status)
		}
	}
	if cur.StartedAt == nil {
		patch.StartedAt = vc.StartTime
	}
	return patch, ok
}
