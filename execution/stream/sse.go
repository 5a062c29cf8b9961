package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/BaSui01/agentgraph/types"
	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"
	"gopkg.in/cenkalti/backoff.v1"
)

// SSESource reads execution events from a text/event-stream endpoint.
// The client's own retry loop is disabled; reconnect policy belongs to the
// Consumer.
type SSESource struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewSSESource creates an SSE source. A nil client uses a client without
// timeout, which long-lived streams need.
func NewSSESource(baseURL string, client *http.Client, logger *zap.Logger) *SSESource {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSESource{baseURL: baseURL, client: client, logger: logger.With(zap.String("component", "sse_source"))}
}

func (s *SSESource) Open(ctx context.Context, executionID, token string) (Conn, error) {
	streamURL, err := StreamURL(s.baseURL, executionID)
	if err != nil {
		return nil, err
	}

	client := sse.NewClient(streamURL)
	client.Connection = s.client
	client.ReconnectStrategy = &backoff.StopBackOff{}
	client.Headers["Authorization"] = "Bearer " + token
	client.ResponseValidator = validateResponse

	subCtx, cancel := context.WithCancel(ctx)
	c := &sseConn{
		events: make(chan []byte),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		err := client.SubscribeRawWithContext(subCtx, func(msg *sse.Event) {
			if len(msg.Data) == 0 {
				return
			}
			data := append([]byte(nil), msg.Data...)
			select {
			case c.events <- data:
			case <-subCtx.Done():
			}
		})
		c.finish(err)
	}()

	s.logger.Debug("sse stream opened", zap.String("execution_id", executionID))
	return c, nil
}

func validateResponse(_ *sse.Client, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return types.Errorf(types.ErrAuthentication, "stream rejected credentials: %s", resp.Status)
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return types.Errorf(types.ErrNotFound, "execution stream not found")
	default:
		resp.Body.Close()
		return types.Errorf(types.ErrTransport, "could not connect to stream: %s", resp.Status).WithRetryable(true)
	}
}

type sseConn struct {
	events chan []byte
	done   chan struct{}
	cancel context.CancelFunc

	once sync.Once
	err  error
}

func (c *sseConn) finish(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *sseConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.events:
		return data, nil
	case <-c.done:
		if c.err == nil {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("sse stream: %w", c.err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *sseConn) Close() error {
	c.cancel()
	return nil
}
