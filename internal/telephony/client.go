package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"auralis/internal/calls"
	"auralis/internal/config"
	"auralis/internal/metrics"
)

const vendorName = "twilio"

// Client reads call and recording history from Twilio.
type Client struct {
	api *twilio.RestClient
	now func() time.Time
}

// NewClient returns nil when credentials are missing; callers report the
// missing variables from config.TwilioConfig.MissingForAPI.
func NewClient(cfg config.TwilioConfig) *Client {
	if len(cfg.MissingForAPI()) > 0 {
		return nil
	}
	rc := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{api: rc, now: time.Now}
}

// RecentCalls lists calls started in the last f.DaysBack days. The Twilio
// SDK has no context support, so ctx is only checked before the request.
func (c *Client) RecentCalls(ctx context.Context, f calls.SyncFilter) ([]calls.TelephonyCall, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := &twilioApi.ListCallParams{}
	params.SetLimit(f.Limit)
	params.SetPageSize(min(f.Limit, 100))
	if f.DaysBack > 0 {
		params.SetStartTimeAfter(c.now().AddDate(0, 0, -f.DaysBack))
	}
	if f.Status != "" {
		params.SetStatus(f.Status)
	}

	start := time.Now()
	resp, err := c.api.Api.ListCall(params)
	metrics.VendorRequestDuration.WithLabelValues(vendorName, "list_calls").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, wrapError(err)
	}

	out := make([]calls.TelephonyCall, 0, len(resp))
	for _, rc := range resp {
		tc := toTelephonyCall(rc)
		if f.Direction != "" && tc.Direction != f.Direction {
			continue
		}
		out = append(out, tc)
	}
	return out, nil
}

func (c *Client) FetchCall(ctx context.Context, sid string) (calls.TelephonyCall, error) {
	if err := ctx.Err(); err != nil {
		return calls.TelephonyCall{}, err
	}
	start := time.Now()
	resp, err := c.api.Api.FetchCall(sid, &twilioApi.FetchCallParams{})
	metrics.VendorRequestDuration.WithLabelValues(vendorName, "fetch_call").Observe(time.Since(start).Seconds())
	if err != nil {
		return calls.TelephonyCall{}, wrapError(err)
	}
	return toTelephonyCall(*resp), nil
}

func (c *Client) ListRecordings(ctx context.Context, callSid string, limit int) ([]Recording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	params := &twilioApi.ListRecordingParams{}
	params.SetLimit(limit)
	if callSid != "" {
		params.SetCallSid(callSid)
	}

	start := time.Now()
	resp, err := c.api.Api.ListRecording(params)
	metrics.VendorRequestDuration.WithLabelValues(vendorName, "list_recordings").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, wrapError(err)
	}

	out := make([]Recording, 0, len(resp))
	for _, r := range resp {
		rec := Recording{
			Sid:         deref(r.Sid),
			CallSid:     deref(r.CallSid),
			Status:      deref(r.Status),
			DurationSec: atoi(deref(r.Duration)),
			DateCreated: parseTwilioTime(deref(r.DateCreated)),
		}
		if uri := deref(r.Uri); uri != "" {
			rec.URL = recordingMediaURL(uri)
		}
		out = append(out, rec)
	}
	return out, nil
}

// recordingMediaURL turns a recording resource URI into its public media URL.
func recordingMediaURL(uri string) string {
	const suffix = ".json"
	if len(uri) > len(suffix) && uri[len(uri)-len(suffix):] == suffix {
		uri = uri[:len(uri)-len(suffix)]
	}
	return "https://api.twilio.com" + uri
}

func toTelephonyCall(rc twilioApi.ApiV2010Call) calls.TelephonyCall {
	return calls.TelephonyCall{
		Sid:         deref(rc.Sid),
		From:        deref(rc.From),
		To:          deref(rc.To),
		Status:      deref(rc.Status),
		Direction:   deref(rc.Direction),
		DurationSec: atoi(deref(rc.Duration)),
		StartTime:   parseTwilioTime(deref(rc.StartTime)),
		EndTime:     parseTwilioTime(deref(rc.EndTime)),
		DateCreated: parseTwilioTime(deref(rc.DateCreated)),
	}
}

// APIError is a Twilio REST failure with its HTTP status.
type APIError struct {
	Status  int
	Code    int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio: %d %s (code %d)", e.Status, e.Message, e.Code)
}

func (e *APIError) Unwrap() error      { return e.Err }
func (e *APIError) VendorName() string { return vendorName }
func (e *APIError) HTTPStatus() int    { return e.Status }
func (e *APIError) VendorMessage() string {
	return e.Message
}

func (e *APIError) VendorCode() string {
	if e.Code == 0 {
		return ""
	}
	return fmt.Sprintf("%d", e.Code)
}

func wrapError(err error) error {
	var rest *client.TwilioRestError
	if errors.As(err, &rest) {
		return &APIError{Status: rest.Status, Code: rest.Code, Message: rest.Message, Err: err}
	}
	return &APIError{Status: http.StatusBadGateway, Message: "twilio request failed", Err: err}
}
