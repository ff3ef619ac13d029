package calls

import "time"

// Merge copies every non-zero field of patch onto dst. The nested recording
// is merged field by field. Merge never clears a field.
func Merge(dst *CallRecord, patch CallRecord) {
	mergeStr(&dst.CallID, patch.CallID)
	mergeStr(&dst.TwilioCallSid, patch.TwilioCallSid)
	mergeStr(&dst.ElevenLabsCallID, patch.ElevenLabsCallID)
	mergeStr(&dst.AgentID, patch.AgentID)
	mergeStr(&dst.ToNumber, patch.ToNumber)
	mergeStr(&dst.FromNumber, patch.FromNumber)
	mergeStr(&dst.Direction, patch.Direction)
	if patch.Status != "" {
		dst.Status = patch.Status
	}
	mergeStr(&dst.TwilioStatus, patch.TwilioStatus)
	mergeStr(&dst.ElevenLabsStatus, patch.ElevenLabsStatus)
	mergeTime(&dst.StartedAt, patch.StartedAt)
	mergeTime(&dst.RingingAt, patch.RingingAt)
	mergeTime(&dst.ConnectedAt, patch.ConnectedAt)
	mergeTime(&dst.EndedAt, patch.EndedAt)
	if patch.DurationSec > 0 {
		dst.DurationSec = patch.DurationSec
	}
	mergeStr(&dst.EndReason, patch.EndReason)
	mergeStr(&dst.ErrorCode, patch.ErrorCode)
	mergeStr(&dst.ErrorMessage, patch.ErrorMessage)
	if !patch.Recording.isZero() {
		if dst.Recording == nil {
			dst.Recording = &Recording{}
		}
		mergeStr(&dst.Recording.RecordingSid, patch.Recording.RecordingSid)
		mergeStr(&dst.Recording.RecordingURL, patch.Recording.RecordingURL)
		mergeStr(&dst.Recording.Status, patch.Recording.Status)
		if patch.Recording.DurationSec > 0 {
			dst.Recording.DurationSec = patch.Recording.DurationSec
		}
	}
	if !patch.CreatedAt.IsZero() {
		dst.CreatedAt = patch.CreatedAt
	}
	if !patch.UpdatedAt.IsZero() {
		dst.UpdatedAt = patch.UpdatedAt
	}
}

// Fields returns the non-zero fields of r keyed by document field name.
// Times are normalised to UTC; the recording is a nested map.
func (r CallRecord) Fields() map[string]any {
	f := make(map[string]any)
	putStr(f, "callId", r.CallID)
	putStr(f, FieldTwilioCallSid, r.TwilioCallSid)
	putStr(f, FieldElevenLabsCallID, r.ElevenLabsCallID)
	putStr(f, "agentId", r.AgentID)
	putStr(f, "toNumber", r.ToNumber)
	putStr(f, "fromNumber", r.FromNumber)
	putStr(f, "direction", r.Direction)
	putStr(f, "status", string(r.Status))
	putStr(f, "twilioStatus", r.TwilioStatus)
	putStr(f, "elevenlabsStatus", r.ElevenLabsStatus)
	putTime(f, "startedAt", r.StartedAt)
	putTime(f, "ringingAt", r.RingingAt)
	putTime(f, "connectedAt", r.ConnectedAt)
	putTime(f, "endedAt", r.EndedAt)
	if r.DurationSec > 0 {
		f["durationSec"] = r.DurationSec
	}
	putStr(f, "endReason", r.EndReason)
	putStr(f, "errorCode", r.ErrorCode)
	putStr(f, "errorMessage", r.ErrorMessage)
	if !r.Recording.isZero() {
		rec := make(map[string]any)
		putStr(rec, "recordingSid", r.Recording.RecordingSid)
		putStr(rec, "recordingUrl", r.Recording.RecordingURL)
		putStr(rec, "status", r.Recording.Status)
		if r.Recording.DurationSec > 0 {
			rec["durationSec"] = r.Recording.DurationSec
		}
		f["recording"] = rec
	}
	if !r.CreatedAt.IsZero() {
		f[FieldCreatedAt] = r.CreatedAt.UTC()
	}
	if !r.UpdatedAt.IsZero() {
		f["updatedAt"] = r.UpdatedAt.UTC()
	}
	return f
}

func mergeStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeTime(dst **time.Time, v *time.Time) {
	if v != nil && !v.IsZero() {
		t := *v
		*dst = &t
	}
}

func putStr(m map[string]any, k, v string) {
	if v != "" {
		m[k] = v
	}
}

func putTime(m map[string]any, k string, t *time.Time) {
	if t != nil && !t.IsZero() {
		m[k] = t.UTC()
	}
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
