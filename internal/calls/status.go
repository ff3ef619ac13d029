package calls

import "strings"

// Status is the unified call lifecycle state shared by every vendor.
type Status string

const (
	StatusInitiating Status = "initiating"
	StatusQueued     Status = "queued"
	StatusCalling    Status = "calling"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no-answer"
)

// FallbackStatus is returned for vendor strings that no table knows.
const FallbackStatus = StatusQueued

// AllStatuses lists the unified enum in lifecycle order.
var AllStatuses = []Status{
	StatusInitiating,
	StatusQueued,
	StatusCalling,
	StatusRinging,
	StatusInProgress,
	StatusCompleted,
	StatusFailed,
	StatusNoAnswer,
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNoAnswer:
		return true
	default:
		return false
	}
}

func (s Status) Valid() bool {
	return s.rank() >= 0
}

// Active reports whether the call is placed but not finished.
func (s Status) Active() bool {
	switch s {
	case StatusCalling, StatusRinging, StatusInProgress:
		return true
	default:
		return false
	}
}

func (s Status) rank() int {
	switch s {
	case StatusInitiating:
		return 0
	case StatusQueued:
		return 1
	case StatusCalling:
		return 2
	case StatusRinging:
		return 3
	case StatusInProgress:
		return 4
	case StatusCompleted, StatusFailed, StatusNoAnswer:
		return 5
	default:
		return -1
	}
}

// Advances reports whether moving from s to next goes forward in the
// lifecycle. Terminal states never advance, and an empty current status
// accepts anything.
func (s Status) Advances(next Status) bool {
	if !next.Valid() {
		return false
	}
	if s == "" {
		return true
	}
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

var twilioStatuses = map[string]Status{
	"queued":      StatusQueued,
	"initiated":   StatusQueued,
	"ringing":     StatusRinging,
	"in-progress": StatusInProgress,
	"answered":    StatusInProgress,
	"completed":   StatusCompleted,
	"busy":        StatusFailed,
	"failed":      StatusFailed,
	"no-answer":   StatusNoAnswer,
	"canceled":    StatusFailed,
}

var voiceAgentStatuses = map[string]Status{
	"initiated":   StatusInitiating,
	"queued":      StatusQueued,
	"ringing":     StatusRinging,
	"in-progress": StatusInProgress,
	"processing":  StatusInProgress,
	"done":        StatusCompleted,
	"completed":   StatusCompleted,
	"failed":      StatusFailed,
	"no-answer":   StatusNoAnswer,
	"busy":        StatusFailed,
	"cancelled":   StatusFailed,
	"canceled":    StatusFailed,
}

// Statuses that collapse into failed but keep their meaning as an end reason.
var collapsedEndReasons = map[string]string{
	"busy":      "busy",
	"canceled":  "canceled",
	"cancelled": "canceled",
}

// MapStatus translates a vendor status string into the unified enum.
// Unknown vendors or strings map to FallbackStatus.
func MapStatus(vendor Vendor, raw string) Status {
	s, _ := LookupStatus(vendor, raw)
	return s
}

// LookupStatus is MapStatus that also reports whether raw was recognised.
func LookupStatus(vendor Vendor, raw string) (Status, bool) {
	table := statusTable(vendor)
	if table == nil {
		return FallbackStatus, false
	}
	if s, ok := table[normalizeStatus(raw)]; ok {
		return s, true
	}
	return FallbackStatus, false
}

// EndReasonFor returns the end reason implied by a vendor status that maps to
// failed without being a system failure, such as busy or canceled.
func EndReasonFor(vendor Vendor, raw string) string {
	if statusTable(vendor) == nil {
		return ""
	}
	return collapsedEndReasons[normalizeStatus(raw)]
}

func statusTable(vendor Vendor) map[string]Status {
	switch vendor {
	case VendorTwilio:
		return twilioStatuses
	case VendorVoiceAgent:
		return voiceAgentStatuses
	default:
		return nil
	}
}

func normalizeStatus(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.NewReplacer("_", "-", " ", "-").Replace(s)
}
