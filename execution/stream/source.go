package stream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Source opens the server-to-client event stream of one execution.
type Source interface {
	Open(ctx context.Context, executionID, token string) (Conn, error)
}

// Conn is one open event stream.
type Conn interface {
	// Recv blocks until the next raw event. It returns io.EOF when the
	// server ended the stream cleanly.
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// Transport names a Source implementation.
type Transport string

const (
	TransportSSE       Transport = "sse"
	TransportWebSocket Transport = "websocket"
)

// StreamURL joins the base URL with the execution stream path.
func StreamURL(baseURL, executionID string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid stream base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid stream base url %q", baseURL)
	}
	return u.JoinPath("api", "v1", "executions", executionID, "stream").String(), nil
}
