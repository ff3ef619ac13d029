package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auralis/internal/apperr"
	"auralis/internal/auth"
	"auralis/internal/calllog"
	"auralis/internal/calls"
	"auralis/internal/config"
	"auralis/internal/poller"
	"auralis/internal/reporting"
	"auralis/internal/webhook"
	"auralis/pkg/logger"
)

type stubDialer struct {
	res calls.OutboundResult
	err error
}

func (d *stubDialer) PlaceOutboundCall(ctx context.Context, req calls.OutboundCall) (calls.OutboundResult, error) {
	return d.res, d.err
}

type env struct {
	router  *gin.Engine
	records *calls.Records
	svc     *calls.Service
	auth    *auth.Manager
}

type envOpts struct {
	withAuth  bool
	rate      string
	dialer    calls.Dialer
	noBackend bool
}

func newEnv(t *testing.T, o envOpts) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var backend calls.Backend
	if !o.noBackend {
		backend = calls.NewMemoryBackend()
	}
	records := calls.NewRecords(backend, logger.Discard())
	logs := calllog.NewService(calllog.NewMemoryRepo(), logger.Discard())
	dialer := o.dialer
	if dialer == nil {
		dialer = &stubDialer{res: calls.OutboundResult{ConversationID: "conv_1", CallSid: "CA1"}}
	}
	svc := calls.NewService(calls.ServiceDeps{
		Records:  records,
		Dialer:   dialer,
		Events:   logs,
		Outbound: calls.OutboundSettings{AgentID: "agent", PhoneNumberID: "pn", FromNumber: "+15005550006"},
		Log:      logger.Discard(),
	})

	var am *auth.Manager
	if o.withAuth {
		var err error
		am, err = auth.NewManager(config.AuthConfig{JWTSecret: "test-secret", AccessTokenTTL: time.Hour, RefreshTokenTTL: 24 * time.Hour})
		require.NoError(t, err)
	}

	r, err := NewRouter(RouterDeps{
		Handlers: Handlers{
			Calls:   svc,
			Logs:    logs,
			Reports: reporting.NewService(records),
			Auth:    am,
			Poll:    poller.Config{Interval: 5 * time.Millisecond, MaxDuration: time.Minute},
		},
		Webhooks:  webhook.Handler{Ingestor: webhook.NewIngestor(records, logs, nil, logger.Discard())},
		CallsRate: o.rate,
		Log:       logger.Discard(),
	})
	require.NoError(t, err)
	return &env{router: r, records: records, svc: svc, auth: am}
}

func (e *env) do(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestInitiateCall_Success(t *testing.T) {
	e := newEnv(t, envOpts{})

	w := e.do(http.MethodPost, "/calls", `{"phoneNumber":"+1 (415) 555-0123"}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out initiateResponse
	decode(t, w, &out)
	assert.True(t, out.Success)
	assert.Equal(t, "conv_1", out.ElevenLabsCallID)
	assert.Equal(t, "CA1", out.TwilioCallSid)
	assert.Equal(t, calls.StatusCalling, out.Status)

	rec, err := e.records.Get(context.Background(), out.CallID)
	require.NoError(t, err)
	assert.Equal(t, "+14155550123", rec.ToNumber)
}

func TestInitiateCall_ValidationEnvelope(t *testing.T) {
	e := newEnv(t, envOpts{})

	w := e.do(http.MethodPost, "/calls", `{"phoneNumber":"not a number"}`, "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body apperr.Body
	decode(t, w, &body)
	assert.Equal(t, apperr.KindValidation, body.Kind)
	assert.NotEmpty(t, body.Error)
}

type vendorErr struct{}

func (vendorErr) Error() string         { return "unprocessable" }
func (vendorErr) VendorName() string    { return "elevenlabs" }
func (vendorErr) HTTPStatus() int       { return http.StatusUnprocessableEntity }
func (vendorErr) VendorCode() string    { return "invalid_to_number" }
func (vendorErr) VendorMessage() string { return "number cannot be dialed" }

func TestInitiateCall_VendorStatusPassesThrough(t *testing.T) {
	e := newEnv(t, envOpts{dialer: &stubDialer{err: vendorErr{}}})

	w := e.do(http.MethodPost, "/calls", `{"phoneNumber":"+14155550123"}`, "")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body apperr.Body
	decode(t, w, &body)
	assert.Equal(t, "number cannot be dialed", body.Error)
	assert.Equal(t, "invalid_to_number", body.Code)
	assert.Equal(t, "elevenlabs", body.Vendor)

	recs, err := e.records.ListRecent(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, calls.StatusFailed, recs[0].Status)
	assert.Equal(t, calls.EndReasonVendorError, recs[0].EndReason)
}

func TestGetCall_NotFound(t *testing.T) {
	e := newEnv(t, envOpts{})

	w := e.do(http.MethodGet, "/calls/nope", "", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	var body apperr.Body
	decode(t, w, &body)
	assert.Equal(t, apperr.KindNotFound, body.Kind)
}

func TestEndCall_ThenLogsAndStats(t *testing.T) {
	e := newEnv(t, envOpts{})
	w := e.do(http.MethodPost, "/calls", `{"phoneNumber":"+14155550123"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	var started initiateResponse
	decode(t, w, &started)

	w = e.do(http.MethodPost, "/calls/"+started.CallID+"/end", "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	rec, err := e.records.Get(context.Background(), started.CallID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusCompleted, rec.Status)
	assert.Equal(t, calls.EndReasonUser, rec.EndReason)

	w = e.do(http.MethodGet, "/calls/"+started.CallID+"/logs", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var logs struct {
		Logs []calllog.Event `json:"logs"`
	}
	decode(t, w, &logs)
	require.Len(t, logs.Logs, 2)
	assert.Equal(t, calllog.EventCallInitiated, logs.Logs[0].Type)
	assert.Equal(t, calllog.EventCallEnded, logs.Logs[1].Type)

	w = e.do(http.MethodGet, "/calls/stats?days=7", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats reporting.CallStats
	decode(t, w, &stats)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Completed)
}

func TestListCalls_StoreNotConfigured(t *testing.T) {
	e := newEnv(t, envOpts{noBackend: true})

	w := e.do(http.MethodGet, "/calls", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"calls":[],"count":0}`, w.Body.String())
}

func TestSync_MissingTelephonyConfig(t *testing.T) {
	e := newEnv(t, envOpts{})

	w := e.do(http.MethodPost, "/calls/sync", "", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "TWILIO_ACCOUNT_SID")
}

func TestVendorProxies_MissingConfig(t *testing.T) {
	e := newEnv(t, envOpts{})

	w := e.do(http.MethodGet, "/agents", "", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "ELEVENLABS_API_KEY")

	w = e.do(http.MethodGet, "/telephony/calls", "", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "TWILIO_AUTH_TOKEN")
}

func TestAuth_RolesEnforced(t *testing.T) {
	e := newEnv(t, envOpts{withAuth: true})
	now := time.Now()
	viewer, err := e.auth.IssuePair(now, "u1", "viewer")
	require.NoError(t, err)
	operator, err := e.auth.IssuePair(now, "u2", "operator")
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/calls", "", "").Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/calls", "", viewer.AccessToken).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, "/calls", `{"phoneNumber":"+14155550123"}`, viewer.AccessToken).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodPost, "/calls", `{"phoneNumber":"+14155550123"}`, operator.AccessToken).Code)

	// webhooks and health stay public
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/healthz", "", "").Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodPost, "/webhooks/voice-agent", `{}`, "").Code)

	w := e.do(http.MethodPost, "/auth/refresh", `{"refreshToken":"`+operator.RefreshToken+`"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	var pair auth.TokenPair
	decode(t, w, &pair)
	assert.NotEmpty(t, pair.AccessToken)
}

func TestInitiateCall_RateLimited(t *testing.T) {
	e := newEnv(t, envOpts{rate: "1-M"})

	assert.Equal(t, http.StatusOK, e.do(http.MethodPost, "/calls", `{"phoneNumber":"+14155550123"}`, "").Code)
	w := e.do(http.MethodPost, "/calls", `{"phoneNumber":"+14155550123"}`, "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	var body apperr.Body
	decode(t, w, &body)
	assert.Equal(t, apperr.KindRateLimited, body.Kind)
}

func TestNewRouter_BadRate(t *testing.T) {
	_, err := NewRouter(RouterDeps{CallsRate: "lots"})
	assert.Error(t, err)
}

func TestWebhookDrivesWatch(t *testing.T) {
	e := newEnv(t, envOpts{})
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	rec, err := e.svc.Initiate(context.Background(), "+14155550123")
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/calls/" + rec.CallID + "/watch"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var first watchMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "status", first.Type)
	assert.Equal(t, calls.StatusCalling, first.Call.Status)

	resp, err := http.Post(srv.URL+"/webhooks/telephony?type=status", "application/x-www-form-urlencoded",
		strings.NewReader("CallSid=CA1&CallStatus=completed&CallDuration=12"))
	require.NoError(t, err)
	resp.Body.Close()

	var last watchMessage
	for {
		var m watchMessage
		require.NoError(t, conn.ReadJSON(&m))
		if m.Type == "ended" {
			last = m
			break
		}
	}
	assert.Equal(t, poller.CauseTerminal, last.Cause)
	assert.Equal(t, calls.StatusCompleted, last.Call.Status)
	assert.Equal(t, 12, last.Call.DurationSec)
}

func TestWatch_ManualEnd(t *testing.T) {
	e := newEnv(t, envOpts{})
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	rec, err := e.svc.Initiate(context.Background(), "+14155550123")
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/calls/" + rec.CallID + "/watch"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	require.NoError(t, conn.WriteJSON(watchCommand{Action: "end"}))
	for {
		var m watchMessage
		require.NoError(t, conn.ReadJSON(&m))
		if m.Type == "ended" {
			assert.Equal(t, poller.CauseManual, m.Cause)
			break
		}
	}

	got, err := e.records.Get(context.Background(), rec.CallID)
	require.NoError(t, err)
	assert.Equal(t, calls.EndReasonUser, got.EndReason)
}
