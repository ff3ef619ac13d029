// Package apiclient talks to a running auralis API over HTTP.
package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"

	"auralis/internal/apperr"
	"auralis/internal/calls"
	"auralis/internal/reporting"
)

// Error is a non-2xx API response.
type Error struct {
	Status int
	Body   apperr.Body
}

func (e *Error) Error() string {
	msg := e.Body.Error
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Body.Details != "" {
		msg += " (" + e.Body.Details + ")"
	}
	return fmt.Sprintf("api %d: %s", e.Status, msg)
}

type InitiateResult struct {
	Success          bool         `json:"success"`
	CallID           string       `json:"callId"`
	ElevenLabsCallID string       `json:"elevenlabsCallId"`
	TwilioCallSid    string       `json:"twilioCallSid"`
	Status           calls.Status `json:"status"`
	Message          string       `json:"message"`
}

// Client satisfies poller.Source, so the CLI can watch a call with the
// same state machine the server uses.
type Client struct {
	r *resty.Client
}

func New(baseURL, accessToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	r := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)
	if accessToken != "" {
		r.SetAuthToken(accessToken)
	}
	return &Client{r: r}
}

func (c *Client) Initiate(ctx context.Context, phoneNumber string) (InitiateResult, error) {
	var out InitiateResult
	err := c.call(ctx, http.MethodPost, "/calls", map[string]string{"phoneNumber": phoneNumber}, &out)
	return out, err
}

// Get returns calls.ErrNotFound for a 404 so pollers treat it as a
// vanished record.
func (c *Client) Get(ctx context.Context, callID string) (*calls.CallRecord, error) {
	var out calls.CallRecord
	if err := c.call(ctx, http.MethodGet, "/calls/"+url.PathEscape(callID), nil, &out); err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", calls.ErrNotFound, callID)
		}
		return nil, err
	}
	return &out, nil
}

// MarkEnded ends the call through the API. Only the two reasons the API
// accepts are meaningful; status is implied by the reason server side.
func (c *Client) MarkEnded(ctx context.Context, callID string, status calls.Status, reason string) (*calls.CallRecord, error) {
	var out struct {
		Call *calls.CallRecord `json:"call"`
	}
	body := map[string]string{"reason": reason}
	if err := c.call(ctx, http.MethodPost, "/calls/"+url.PathEscape(callID)+"/end", body, &out); err != nil {
		return nil, err
	}
	return out.Call, nil
}

func (c *Client) List(ctx context.Context, limit, days int) ([]calls.CallRecord, error) {
	var out struct {
		Calls []calls.CallRecord `json:"calls"`
	}
	req := c.r.R().SetContext(ctx).SetResult(&out).SetError(&apperr.Body{})
	if limit > 0 {
		req.SetQueryParam("limit", fmt.Sprint(limit))
	}
	if days > 0 {
		req.SetQueryParam("days", fmt.Sprint(days))
	}
	resp, err := req.Get("/calls")
	if err := responseError(resp, err); err != nil {
		return nil, err
	}
	return out.Calls, nil
}

func (c *Client) Stats(ctx context.Context, days int) (reporting.CallStats, error) {
	var out reporting.CallStats
	req := c.r.R().SetContext(ctx).SetResult(&out).SetError(&apperr.Body{})
	if days > 0 {
		req.SetQueryParam("days", fmt.Sprint(days))
	}
	resp, err := req.Get("/calls/stats")
	return out, responseError(resp, err)
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	req := c.r.R().SetContext(ctx).SetError(&apperr.Body{})
	if out != nil {
		req.SetResult(out)
	}
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	return responseError(resp, err)
}

func responseError(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("api request: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	out := &Error{Status: resp.StatusCode()}
	if b, ok := resp.Error().(*apperr.Body); ok && b != nil {
		out.Body = *b
	}
	return out
}
