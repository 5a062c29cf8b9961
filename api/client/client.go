package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BaSui01/agentgraph/agent/hitl"
	"github.com/BaSui01/agentgraph/api"
	"github.com/BaSui01/agentgraph/execution"
	"github.com/BaSui01/agentgraph/execution/stream"
	"github.com/BaSui01/agentgraph/internal/tlsutil"
	"github.com/BaSui01/agentgraph/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config configures the execution service client.
type Config struct {
	// BaseURL is the execution service root, e.g. "https://exec.example.com".
	BaseURL string
	// Timeout bounds each request. Defaults to 30s.
	Timeout time.Duration
	// RateLimit is the outbound requests per second; zero disables limiting.
	RateLimit float64
	// Burst is the limiter burst. Defaults to 1 when RateLimit is set.
	Burst int
	// UserAgent is sent on every request.
	UserAgent string
}

// Client calls the execution control and intervention response APIs.
// It implements stream.Hydrator and hitl.Responder.
type Client struct {
	base    *url.URL
	http    *http.Client
	tokens  stream.TokenProvider
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time
	agent   string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the hardened default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a client. tokens is resolved before every request.
func New(cfg Config, tokens stream.TokenProvider, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, types.Errorf(types.ErrInvalidRequest, "invalid execution service url %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		base:   base,
		http:   tlsutil.SecureHTTPClient(timeout),
		tokens: tokens,
		logger: zap.NewNop(),
		now:    time.Now,
		agent:  cfg.UserAgent,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "execution_client"))
	return c, nil
}

// Start starts an execution and returns its id.
func (c *Client) Start(ctx context.Context, req api.StartExecutionRequest) (*api.StartExecutionResponse, error) {
	if req.TemplateID == "" && req.Template == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "template_id or template is required")
	}
	var out api.StartExecutionResponse
	if err := c.do(ctx, http.MethodPost, c.endpoint("api", "v1", "executions"), req, &out); err != nil {
		return nil, err
	}
	if out.ExecutionID == "" {
		return nil, types.NewError(types.ErrUpstreamError, "start response carried no execution_id")
	}
	return &out, nil
}

// Cancel asks the service to cancel an execution.
func (c *Client) Cancel(ctx context.Context, executionID string) error {
	return c.do(ctx, http.MethodPost, c.endpoint("api", "v1", "executions", executionID, "cancel"), nil, nil)
}

// Status fetches the server snapshot of an execution.
func (c *Client) Status(ctx context.Context, executionID string) (*execution.State, error) {
	s := execution.NewState(executionID)
	if err := c.do(ctx, http.MethodGet, c.endpoint("api", "v1", "executions", executionID), nil, s); err != nil {
		return nil, err
	}
	if s.ExecutionID == "" {
		s.ExecutionID = executionID
	}
	return s, nil
}

// Respond posts a human response to a pending intervention.
func (c *Client) Respond(ctx context.Context, executionID string, resp hitl.Response) error {
	if !resp.Action.Valid() {
		return types.Errorf(types.ErrInvalidRequest, "unknown intervention action %q", resp.Action)
	}
	u := c.endpoint("api", "v1", "executions", executionID, "interventions", resp.InterventionID, "respond")
	return c.do(ctx, http.MethodPost, u, resp, nil)
}

func (c *Client) endpoint(parts ...string) string {
	return c.base.JoinPath(parts...).String()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return types.NewError(types.ErrRateLimited, "outbound rate limit").WithCause(err)
		}
	}

	token, err := stream.ResolveToken(ctx, c.tokens, c.now())
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.agent != "" {
		req.Header.Set("User-Agent", c.agent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return types.NewError(types.ErrTimeout, "request timed out").WithCause(err).WithRetryable(true)
		}
		return types.NewError(types.ErrUpstreamError, "request failed").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return types.NewError(types.ErrUpstreamError, "failed to read response").WithCause(err)
	}

	c.logger.Debug("execution service call",
		zap.String("method", method),
		zap.String("url", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode >= http.StatusBadRequest {
		return mapHTTPError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(unwrap(data), out); err != nil {
		return types.NewError(types.ErrUpstreamError, "invalid response body").WithCause(err)
	}
	return nil
}

// unwrap returns the data of an enveloped body, or the body itself.
func unwrap(data []byte) []byte {
	var env api.Envelope
	if err := json.Unmarshal(data, &env); err == nil && len(env.Data) > 0 {
		return env.Data
	}
	return data
}

// mapHTTPError converts an error response into a *types.Error. A code in the
// body wins over the status mapping.
func mapHTTPError(status int, body []byte) *types.Error {
	msg := strings.TrimSpace(string(body))
	var env api.Envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		msg = env.Error.Message
		if env.Error.Code != "" {
			return types.NewError(types.ErrorCode(env.Error.Code), msg).
				WithHTTPStatus(status).
				WithRetryable(env.Error.Retryable)
		}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.NewError(types.ErrAuthentication, msg).WithHTTPStatus(status)
	case http.StatusNotFound:
		return types.NewError(types.ErrNotFound, msg).WithHTTPStatus(status)
	case http.StatusConflict:
		return types.NewError(types.ErrExecutionTerminal, msg).WithHTTPStatus(status)
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithHTTPStatus(status).WithRetryable(true)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return types.NewError(types.ErrInvalidRequest, msg).WithHTTPStatus(status)
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return types.NewError(types.ErrTimeout, msg).WithHTTPStatus(status).WithRetryable(true)
	default:
		return types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(status).WithRetryable(status >= 500)
	}
}
