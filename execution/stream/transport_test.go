package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/agentgraph/execution"
	"github.com/BaSui01/agentgraph/types"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, p execution.Payload) []byte {
	t.Helper()
	raw, err := execution.EncodeEvent(execution.NewEvent(p, time.Now()))
	require.NoError(t, err)
	return raw
}

func scriptedEvents(t *testing.T) [][]byte {
	return [][]byte{
		encode(t, execution.ConnectionEstablished{ConnectionID: "srv-1"}),
		encode(t, execution.AgentStarted{AgentID: "a"}),
		[]byte(`{"type":"mystery"}`),
		encode(t, execution.AgentResult{AgentID: "a", Status: execution.AgentCompleted, Cost: 0.1, Tokens: 7}),
		encode(t, execution.ExecutionCompleted{Totals: execution.Totals{TotalTokens: ptrTo(7)}}),
	}
}

func ptrTo[T any](v T) *T { return &v }

func TestStreamURL(t *testing.T) {
	u, err := StreamURL("http://localhost:8080/", "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/api/v1/executions/exec-1/stream", u)

	_, err = StreamURL("localhost", "exec-1")
	assert.Error(t, err)

	assert.Equal(t, "wss://h/x", toWebSocketScheme("https://h/x"))
	assert.Equal(t, "ws://h/x", toWebSocketScheme("http://h/x"))
}

func TestSSESource_EndToEnd(t *testing.T) {
	events := scriptedEvents(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/executions/exec-1/stream", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
			flusher.Flush()
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	tracker := execution.NewTracker("exec-1")
	c := NewConsumer(tracker, NewSSESource(srv.URL, nil, nil), StaticToken("secret"))
	require.NoError(t, c.Start(context.Background()))
	waitDone(t, c)

	s := tracker.Snapshot()
	assert.Equal(t, execution.WorkflowCompleted, s.Status)
	assert.Equal(t, "srv-1", s.ConnectionID)
	assert.Equal(t, 7, s.TotalTokens)
	assert.Equal(t, execution.AgentCompleted, s.Agents["a"].Status)
}

func TestSSESource_RejectedCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewConsumer(execution.NewTracker("exec-1"), NewSSESource(srv.URL, nil, nil), StaticToken("stale"),
		WithAutoReconnect(true, time.Millisecond))
	require.NoError(t, c.Start(context.Background()))
	waitDone(t, c)

	assert.True(t, types.IsErrorCode(c.Err(), types.ErrAuthentication), "got %v", c.Err())
	assert.Equal(t, 0, c.Reconnects())
}

func TestWebSocketSource_EndToEnd(t *testing.T) {
	events := scriptedEvents(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for _, e := range events {
			if err := conn.Write(r.Context(), websocket.MessageText, e); err != nil {
				return
			}
		}
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	}))
	defer srv.Close()

	tracker := execution.NewTracker("exec-1")
	c := NewConsumer(tracker, NewWebSocketSource(srv.URL, nil, nil), StaticToken("secret"))
	require.NoError(t, c.Start(context.Background()))
	waitDone(t, c)

	s := tracker.Snapshot()
	assert.Equal(t, execution.WorkflowCompleted, s.Status)
	assert.Equal(t, 7, s.TotalTokens)
}

func TestWebSocketSource_RejectedCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	src := NewWebSocketSource(strings.Replace(srv.URL, "http", "ws", 1), nil, nil)
	_, err := src.Open(context.Background(), "exec-1", "stale")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrAuthentication), "got %v", err)
}
