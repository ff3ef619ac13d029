package voiceagent

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
)

const vendorName = "elevenlabs"

// ErrNotConfigured is returned by a nil client.
var ErrNotConfigured = errors.New("voiceagent: client not configured")

// APIError is a failed ElevenLabs request. Status is 0 for transport
// failures that never produced a response.
type APIError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("elevenlabs: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("elevenlabs: %d %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error         { return e.Err }
func (e *APIError) VendorName() string    { return vendorName }
func (e *APIError) HTTPStatus() int       { return e.Status }
func (e *APIError) VendorCode() string    { return e.Code }
func (e *APIError) VendorMessage() string { return e.Message }

// transient reports whether a retry could succeed.
func (e *APIError) transient() bool {
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// errorBody covers both {"detail": "..."} and
// {"detail": {"status": "...", "message": "..."}}.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

type errorDetail struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func parseAPIError(status int, body []byte) *APIError {
	out := &APIError{Status: status, Message: http.StatusText(status)}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || len(eb.Detail) == 0 {
		return out
	}
	var s string
	if err := json.Unmarshal(eb.Detail, &s); err == nil && s != "" {
		out.Message = s
		return out
	}
	var d errorDetail
	if err := json.Unmarshal(eb.Detail, &d); err == nil {
		if d.Message != "" {
			out.Message = d.Message
		}
		out.Code = d.Status
	}
	return out
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &APIError{Status: http.StatusServiceUnavailable, Code: "circuit_open", Message: "voice agent vendor temporarily unavailable", Err: err}
	}
	return &APIError{Message: "request failed", Err: err}
}
