package fixtures

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/BaSui01/agentgraph/execution"
)

// Encode 编码事件，失败时终止测试
func Encode(t testing.TB, p execution.Payload) []byte {
	t.Helper()
	raw, err := execution.EncodeEvent(execution.NewEvent(p, time.Now()))
	if err != nil {
		t.Fatalf("encode %s: %v", p.EventType(), err)
	}
	return raw
}

// CompletedRun 单个 Agent 成功完成的完整事件序列
func CompletedRun(t testing.TB, agentID string, cost float64, tokens int) [][]byte {
	t.Helper()
	total := tokens
	return [][]byte{
		Encode(t, execution.ConnectionEstablished{ConnectionID: "conn-1"}),
		Encode(t, execution.AgentStarted{AgentID: agentID}),
		Encode(t, execution.AgentResult{AgentID: agentID, Status: execution.AgentCompleted, Cost: cost, Tokens: tokens}),
		Encode(t, execution.ExecutionCompleted{Totals: execution.Totals{TotalCost: &cost, TotalTokens: &total}}),
	}
}

// SSEHandler 以 text/event-stream 推送 frames，token 非空时校验 Bearer 令牌
func SSEHandler(token string, frames [][]byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			if flusher != nil {
				flusher.Flush()
			}
		}
		<-r.Context().Done()
	})
}
