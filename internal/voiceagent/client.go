package voiceagent

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker/v2"

	"auralis/internal/calls"
	"auralis/internal/config"
	"auralis/internal/metrics"
)

// Options tune the client's resilience. Zero values take defaults.
type Options struct {
	Timeout         time.Duration
	RetryAttempts   uint
	RetryDelay      time.Duration
	RetryMaxDelay   time.Duration
	BreakerFailures uint32
	BreakerInterval time.Duration
	AgentCacheTTL   time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 200 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 2 * time.Second
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerInterval <= 0 {
		o.BreakerInterval = time.Minute
	}
	if o.AgentCacheTTL <= 0 {
		o.AgentCacheTTL = 5 * time.Minute
	}
	return o
}

// Client talks to the ElevenLabs conversational AI API. Reads are retried
// with backoff; the outbound call is attempted once. All requests share one
// circuit breaker.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	agents  *cache.Cache
	opts    Options
	log     *slog.Logger
}

// NewClient returns nil when ELEVENLABS_API_KEY is unset.
func NewClient(cfg config.ElevenLabsConfig, opts Options, log *slog.Logger) *Client {
	if cfg.APIKey == "" {
		return nil
	}
	if log == nil {
		log = slog.Default()
	}
	opts = opts.withDefaults()
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.elevenlabs.io"
	}

	hc := resty.New().
		SetBaseURL(base).
		SetTimeout(opts.Timeout).
		SetHeader("xi-api-key", cfg.APIKey).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	c := &Client{
		http:   hc,
		agents: cache.New(opts.AgentCacheTTL, 2*opts.AgentCacheTTL),
		opts:   opts,
		log:    log,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:     "ElevenLabs",
		Interval: opts.BreakerInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit state changed", "service", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.transient()
			}
			return err == nil
		},
	})
	return c
}

// PlaceOutboundCall asks ElevenLabs to dial through its Twilio integration.
func (c *Client) PlaceOutboundCall(ctx context.Context, req calls.OutboundCall) (calls.OutboundResult, error) {
	if c == nil {
		return calls.OutboundResult{}, ErrNotConfigured
	}
	body := OutboundCallRequest{
		AgentID:            req.AgentID,
		AgentPhoneNumberID: req.PhoneNumberID,
		ToNumber:           req.ToNumber,
	}
	var out OutboundCallResponse
	if err := c.do(ctx, "outbound_call", http.MethodPost, "/v1/convai/twilio/outbound-call", body, &out, false); err != nil {
		return calls.OutboundResult{}, err
	}
	if !out.Success {
		msg := out.Message
		if msg == "" {
			msg = "outbound call rejected"
		}
		return calls.OutboundResult{}, &APIError{Status: http.StatusBadGateway, Code: "outbound_rejected", Message: msg}
	}
	return calls.OutboundResult{
		ConversationID: out.ConversationID,
		CallSid:        out.CallSid,
		Message:        out.Message,
	}, nil
}

const agentsCacheKey = "agents"

func (c *Client) ListAgents(ctx context.Context) (AgentList, error) {
	if c == nil {
		return AgentList{}, ErrNotConfigured
	}
	if v, ok := c.agents.Get(agentsCacheKey); ok {
		return v.(AgentList), nil
	}
	var out AgentList
	if err := c.do(ctx, "list_agents", http.MethodGet, "/v1/convai/agents?page_size=100", nil, &out, true); err != nil {
		return AgentList{}, err
	}
	if out.Agents == nil {
		out.Agents = []Agent{}
	}
	c.agents.SetDefault(agentsCacheKey, out)
	return out, nil
}

// GetAgent returns the vendor's agent document as-is.
func (c *Client) GetAgent(ctx context.Context, agentID string) (json.RawMessage, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	key := "agent:" + agentID
	if v, ok := c.agents.Get(key); ok {
		return v.(json.RawMessage), nil
	}
	var out json.RawMessage
	if err := c.do(ctx, "get_agent", http.MethodGet, "/v1/convai/agents/"+url.PathEscape(agentID), nil, &out, true); err != nil {
		return nil, err
	}
	c.agents.SetDefault(key, out)
	return out, nil
}

func (c *Client) ListConversations(ctx context.Context, agentID string, pageSize int) (ConversationList, error) {
	if c == nil {
		return ConversationList{}, ErrNotConfigured
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	q := url.Values{}
	q.Set("page_size", strconv.Itoa(pageSize))
	if agentID != "" {
		q.Set("agent_id", agentID)
	}
	var out ConversationList
	if err := c.do(ctx, "list_conversations", http.MethodGet, "/v1/convai/conversations?"+q.Encode(), nil, &out, true); err != nil {
		return ConversationList{}, err
	}
	if out.Conversations == nil {
		out.Conversations = []ConversationSummary{}
	}
	return out, nil
}

func (c *Client) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	if c == nil {
		return Conversation{}, ErrNotConfigured
	}
	var out Conversation
	if err := c.do(ctx, "get_conversation", http.MethodGet, "/v1/convai/conversations/"+url.PathEscape(conversationID), nil, &out, true); err != nil {
		return Conversation{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any, retryable bool) error {
	start := time.Now()
	defer func() {
		metrics.VendorRequestDuration.WithLabelValues(vendorName, op).Observe(time.Since(start).Seconds())
	}()

	raw, err := c.breaker.Execute(func() ([]byte, error) {
		if !retryable {
			return c.send(ctx, method, path, body)
		}
		var b []byte
		err := retry.Do(
			func() error {
				var err error
				b, err = c.send(ctx, method, path, body)
				return err
			},
			retry.Context(ctx),
			retry.Attempts(c.opts.RetryAttempts),
			retry.DelayType(retry.BackOffDelay),
			retry.Delay(c.opts.RetryDelay),
			retry.MaxDelay(c.opts.RetryMaxDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				var apiErr *APIError
				return errors.As(err, &apiErr) && apiErr.transient()
			}),
			retry.OnRetry(func(n uint, err error) {
				c.log.Warn("elevenlabs request retry", "operation", op, "attempt", n+1, "error", err)
			}),
		)
		return b, err
	})
	if err != nil {
		return classify(err)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{Status: http.StatusBadGateway, Message: "invalid response body", Err: err}
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) ([]byte, error) {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, &APIError{Message: "request failed", Err: err}
	}
	if resp.IsError() {
		return nil, parseAPIError(resp.StatusCode(), resp.Body())
	}
	return resp.Body(), nil
}
