package voiceagent

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auralis/internal/apperr"
	"auralis/internal/calls"
	"auralis/internal/config"
	"auralis/pkg/logger"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(config.ElevenLabsConfig{APIKey: "key", BaseURL: srv.URL}, Options{
		RetryAttempts:   3,
		RetryDelay:      time.Millisecond,
		RetryMaxDelay:   5 * time.Millisecond,
		BreakerFailures: 50,
	}, logger.Discard())
	require.NotNil(t, c)
	return c
}

func TestNewClient_NilWithoutKey(t *testing.T) {
	assert.Nil(t, NewClient(config.ElevenLabsConfig{}, Options{}, nil))

	var c *Client
	_, err := c.ListAgents(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestPlaceOutboundCall_SendsBodyAndHeader(t *testing.T) {
	var got OutboundCallRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/convai/twilio/outbound-call", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("xi-api-key"))
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &got))
		_, _ = w.Write([]byte(`{"success":true,"message":"ok","conversation_id":"conv_1","callSid":"CA1"}`))
	})

	res, err := c.PlaceOutboundCall(context.Background(), calls.OutboundCall{AgentID: "ag", PhoneNumberID: "pn", ToNumber: "+14155550123"})
	require.NoError(t, err)
	assert.Equal(t, "conv_1", res.ConversationID)
	assert.Equal(t, "CA1", res.CallSid)
	assert.Equal(t, OutboundCallRequest{AgentID: "ag", AgentPhoneNumberID: "pn", ToNumber: "+14155550123"}, got)
}

func TestPlaceOutboundCall_NotRetriedAndStatusKept(t *testing.T) {
	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"detail":{"status":"busy","message":"try later"}}`))
	})

	_, err := c.PlaceOutboundCall(context.Background(), calls.OutboundCall{ToNumber: "+1"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	ae := apperr.FromVendor("elevenlabs", err)
	assert.Equal(t, http.StatusServiceUnavailable, ae.Status)
	assert.Equal(t, "try later", ae.Message)
	assert.Equal(t, "busy", ae.Code)
}

func TestPlaceOutboundCall_UnsuccessfulBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"number not verified"}`))
	})

	_, err := c.PlaceOutboundCall(context.Background(), calls.OutboundCall{ToNumber: "+1"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "number not verified", apiErr.Message)
}

func TestListAgents_RetriesTransientAndCaches(t *testing.T) {
	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"agents":[{"agent_id":"a1","name":"Support"}],"has_more":false}`))
	})

	out, err := c.ListAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Agents, 1)
	assert.Equal(t, "a1", out.Agents[0].AgentID)

	_, err = c.ListAgents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestGetConversation_DoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Conversation not found"}`))
	})

	_, err := c.GetConversation(context.Background(), "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "Conversation not found", apiErr.Message)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestListConversations_Query(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ag", r.URL.Query().Get("agent_id"))
		assert.Equal(t, "5", r.URL.Query().Get("page_size"))
		_, _ = w.Write([]byte(`{"conversations":[{"conversation_id":"c1","status":"done"}],"has_more":true}`))
	})

	out, err := c.ListConversations(context.Background(), "ag", 5)
	require.NoError(t, err)
	assert.True(t, out.HasMore)
	assert.Equal(t, "done", out.Conversations[0].Status)
}
