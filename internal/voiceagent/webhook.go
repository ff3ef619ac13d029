package voiceagent

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Webhook is an ElevenLabs call-status or conversation-event callback.
// The vendor is inconsistent about key names, so several aliases are
// accepted for the same value.
type Webhook struct {
	CallID       string
	Status       string
	DurationSec  int
	EndReason    string
	ErrorCode    string
	ErrorMessage string

	EventType string
	Message   string
	Role      string
	Timestamp *time.Time
	Source    string
}

type webhookBody struct {
	CallID         string     `json:"callId"`
	CallIDSnake    string     `json:"call_id"`
	ConversationID string     `json:"conversation_id"`
	Status         string     `json:"status"`
	CallStatus     string     `json:"call_status"`
	Duration       flexString `json:"duration"`
	EndReason      string     `json:"end_reason"`
	ErrorCode      flexString `json:"error_code"`
	ErrorMessage   string     `json:"error_message"`
	EventType      string     `json:"event_type"`
	Message        string     `json:"message"`
	Role           string     `json:"role"`
	Timestamp      flexString `json:"timestamp"`
	Source         string     `json:"source"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

var ErrEmptyWebhook = errors.New("voiceagent: empty webhook body")

func ParseWebhook(body []byte) (Webhook, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Webhook{}, ErrEmptyWebhook
	}
	var b webhookBody
	if err := json.Unmarshal(body, &b); err != nil {
		return Webhook{}, err
	}
	w := Webhook{
		CallID:       firstNonEmpty(b.CallID, b.CallIDSnake, b.ConversationID),
		Status:       firstNonEmpty(b.Status, b.CallStatus),
		EndReason:    b.EndReason,
		ErrorCode:    string(b.ErrorCode),
		ErrorMessage: b.ErrorMessage,
		EventType:    b.EventType,
		Message:      b.Message,
		Role:         b.Role,
		Timestamp:    parseTimestamp(string(b.Timestamp)),
		Source:       b.Source,
	}
	if d, err := strconv.ParseFloat(string(b.Duration), 64); err == nil && d > 0 {
		w.DurationSec = int(d)
	}
	return w, nil
}

func parseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t = t.UTC()
		return &t
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil && n > 0 {
		sec := int64(n)
		// Millisecond epochs.
		if sec > 1e12 {
			t := time.UnixMilli(sec).UTC()
			return &t
		}
		t := time.Unix(sec, 0).UTC()
		return &t
	}
	return nil
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

var (
	ErrMissingSignature = errors.New("voiceagent: missing signature")
	ErrBadSignature     = errors.New("voiceagent: signature mismatch")
	ErrStaleSignature   = errors.New("voiceagent: signature timestamp outside tolerance")
)

// SignatureTolerance bounds the age of a signed webhook.
const SignatureTolerance = 30 * time.Minute

// VerifySignature checks an ElevenLabs-Signature header of the form
// "t=<unix>,v0=<hex hmac-sha256 of "<unix>.<body>">".
func VerifySignature(secret, header string, body []byte, now time.Time) error {
	if header == "" {
		return ErrMissingSignature
	}
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v0":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return ErrMissingSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	age := now.Sub(time.Unix(unix, 0))
	if age > SignatureTolerance || age < -SignatureTolerance {
		return ErrStaleSignature
	}

	want, err := hex.DecodeString(sig)
	if err != nil {
		return ErrBadSignature
	}
	if !hmac.Equal(want, Sign(secret, ts, body)) {
		return ErrBadSignature
	}
	return nil
}

// Sign computes the raw HMAC for a timestamp and body.
func Sign(secret, ts string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}
