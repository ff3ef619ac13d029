package calls

import "time"

// End reasons written by this service. Vendor-supplied reasons are stored
// as received.
const (
	EndReasonUser        = "user_ended"
	EndReasonTimeout     = "timeout"
	EndReasonVendorError = "vendor_error"
)

// Transition builds the partial update that moves cur to next at time at,
// filling the lifecycle timestamps the move implies. It returns false, and
// an empty partial, when the move would go backwards or leave a terminal
// state.
func Transition(cur CallRecord, next Status, at time.Time) (CallRecord, bool) {
	if cur.Status == next {
		return CallRecord{}, false
	}
	if !cur.Status.Advances(next) {
		return CallRecord{}, false
	}

	at = at.UTC()
	patch := CallRecord{Status: next}
	switch {
	case next == StatusRinging:
		if cur.RingingAt == nil {
			patch.RingingAt = TimePtr(at)
		}
	case next == StatusInProgress:
		if cur.ConnectedAt == nil {
			patch.ConnectedAt = TimePtr(at)
		}
	case next.Terminal():
		if cur.EndedAt == nil {
			patch.EndedAt = TimePtr(at)
		}
		if cur.DurationSec == 0 && cur.StartedAt != nil {
			if d := int(at.Sub(*cur.StartedAt).Seconds()); d > 0 {
				patch.DurationSec = d
			}
		}
	}
	return patch, true
}
