package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/BaSui01/agentgraph/types"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// WebSocketSource reads execution events from a WebSocket endpoint. Each
// text message is one event envelope.
type WebSocketSource struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewWebSocketSource creates a WebSocket source. baseURL may use http(s) or
// ws(s); http schemes are rewritten.
func NewWebSocketSource(baseURL string, client *http.Client, logger *zap.Logger) *WebSocketSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketSource{baseURL: baseURL, client: client, logger: logger.With(zap.String("component", "ws_source"))}
}

func (s *WebSocketSource) Open(ctx context.Context, executionID, token string) (Conn, error) {
	streamURL, err := StreamURL(s.baseURL, executionID)
	if err != nil {
		return nil, err
	}
	streamURL = toWebSocketScheme(streamURL)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.Dial(ctx, streamURL, &websocket.DialOptions{
		HTTPClient: s.client,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, types.Errorf(types.ErrAuthentication, "stream rejected credentials: %s", resp.Status).WithCause(err)
		}
		return nil, types.NewError(types.ErrTransport, "websocket dial failed").WithCause(err).WithRetryable(true)
	}

	s.logger.Debug("websocket stream opened", zap.String("execution_id", executionID))
	return &wsConn{conn: conn}, nil
}

func toWebSocketScheme(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

type wsConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (w *wsConn) Recv(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return nil, io.EOF
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("websocket read: %w", err)
	}
	return data, nil
}

func (w *wsConn) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.conn.Close(websocket.StatusNormalClosure, "closing")
}
