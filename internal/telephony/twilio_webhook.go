package telephony

import (
	"net/http"
	"strings"
	"time"

	"github.com/twilio/twilio-go/client"
)

// StatusCallback captures the Twilio call status and recording status
// callback fields we act on. Twilio posts application/x-www-form-urlencoded.
type StatusCallback struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	Direction  string
	CallStatus string
	Timestamp  *time.Time
	// CallDuration is only sent with the completed callback.
	CallDuration int

	RecordingSid      string
	RecordingURL      string
	RecordingStatus   string
	RecordingDuration int

	ErrorCode    string
	ErrorMessage string

	// Params is the raw form, kept for signature validation.
	Params map[string]string
}

func ParseStatusCallback(r *http.Request) (StatusCallback, error) {
	if err := r.ParseForm(); err != nil {
		return StatusCallback{}, err
	}
	params := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		params[k] = r.PostForm.Get(k)
	}
	f := StatusCallback{
		CallSid:           strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:        r.PostFormValue("AccountSid"),
		From:              strings.TrimSpace(r.PostFormValue("From")),
		To:                strings.TrimSpace(r.PostFormValue("To")),
		Direction:         r.PostFormValue("Direction"),
		CallStatus:        r.PostFormValue("CallStatus"),
		Timestamp:         parseTwilioTime(r.PostFormValue("Timestamp")),
		CallDuration:      atoi(r.PostFormValue("CallDuration")),
		RecordingSid:      r.PostFormValue("RecordingSid"),
		RecordingURL:      r.PostFormValue("RecordingUrl"),
		RecordingStatus:   r.PostFormValue("RecordingStatus"),
		RecordingDuration: atoi(r.PostFormValue("RecordingDuration")),
		ErrorCode:         r.PostFormValue("ErrorCode"),
		ErrorMessage:      r.PostFormValue("ErrorMessage"),
		Params:            params,
	}
	return f, nil
}

// SignatureValidator checks the X-Twilio-Signature header.
type SignatureValidator struct {
	validator client.RequestValidator
	baseURL   string
}

// NewSignatureValidator validates against baseURL plus the request URI,
// which must match the URL configured in Twilio.
func NewSignatureValidator(authToken, baseURL string) *SignatureValidator {
	return &SignatureValidator{
		validator: client.NewRequestValidator(authToken),
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

func (v *SignatureValidator) Valid(r *http.Request, params map[string]string) bool {
	sig := r.Header.Get("X-Twilio-Signature")
	if sig == "" {
		return false
	}
	return v.validator.Validate(v.URL(r), params, sig)
}

func (v *SignatureValidator) URL(r *http.Request) string {
	base := v.baseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
			scheme = p
		}
		base = scheme + "://" + r.Host
	}
	return base + r.URL.RequestURI()
}
