package telephony

import (
	"strconv"
	"strings"
	"time"

	"auralis/internal/calls"
)

// Recording is a telephony recording as listed by the vendor.
type Recording struct {
	Sid         string     `json:"sid"`
	CallSid     string     `json:"callSid"`
	Status      string     `json:"status"`
	DurationSec int        `json:"durationSec"`
	URL         string     `json:"url"`
	DateCreated *time.Time `json:"dateCreated,omitempty"`
}

// twilioTimeLayout is the RFC 2822 form Twilio uses for timestamps in REST
// payloads and status callbacks.
const twilioTimeLayout = time.RFC1123Z

func parseTwilioTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{twilioTimeLayout, time.RFC1123, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return calls.TimePtr(t)
		}
	}
	return nil
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
