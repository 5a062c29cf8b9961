package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BaSui01/agentgraph/api"
	"github.com/BaSui01/agentgraph/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Common 函数测试
// =============================================================================

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusAccepted, map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `{"message":"hello"}`, w.Body.String())
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp api.Envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.JSONEq(t, `{"key":"value"}`, string(resp.Data))
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            *types.Error
		expectedStatus int
	}{
		{"invalid request", types.NewError(types.ErrInvalidRequest, "template is required"), http.StatusBadRequest},
		{"not found", types.NewError(types.ErrNotFound, "execution not found"), http.StatusNotFound},
		{"terminal", types.NewError(types.ErrExecutionTerminal, "execution completed"), http.StatusConflict},
		{"rate limited", types.NewError(types.ErrRateLimited, "too many requests"), http.StatusTooManyRequests},
		{"explicit status", types.NewError(types.ErrInternalError, "boom").WithHTTPStatus(http.StatusServiceUnavailable), http.StatusServiceUnavailable},
		{"unknown code", types.NewError("UNKNOWN_CODE", "?"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var resp api.Envelope
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.False(t, resp.Success)
			assert.Empty(t, resp.Data)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.err.Code), resp.Error.Code)
			assert.Equal(t, tt.err.Message, resp.Error.Message)
		})
	}
}

func TestDecodeJSONBody(t *testing.T) {
	logger := zap.NewNop()

	type TestStruct struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid JSON", body: `{"name":"test","value":123}`},
		{name: "invalid JSON", body: `{"name":"test",}`, wantErr: true},
		{name: "unknown field", body: `{"name":"test","unknown":"field"}`, wantErr: true},
		{name: "empty", body: `  `, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(tt.body))

			var result TestStruct
			err := DecodeJSONBody(w, r, &result, logger)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, http.StatusBadRequest, w.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "test", result.Name)
			assert.Equal(t, 123, result.Value)
		})
	}
}

func TestDecodeJSONBody_MaxBodySize(t *testing.T) {
	oversized := `{"name":"` + strings.Repeat("x", 2<<20) + `"}`

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(oversized))

	var result struct {
		Name string `json:"name"`
	}
	err := DecodeJSONBody(w, r, &result, zap.NewNop())

	assert.Error(t, err, "body exceeding 1 MB should be rejected")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		want        bool
	}{
		{"valid application/json", "application/json", true},
		{"valid with charset", "application/json; charset=utf-8", true},
		{"valid with uppercase charset", "application/json; charset=UTF-8", true},
		{"valid with extra whitespace", "application/json;  charset=utf-8", true},
		{"invalid text/plain", "text/plain", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", nil)
			r.Header.Set("Content-Type", tt.contentType)

			assert.Equal(t, tt.want, ValidateContentType(w, r, zap.NewNop()))
			if !tt.want {
				assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
			}
		})
	}

	t.Run("yaml allowed explicitly", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/test", nil)
		r.Header.Set("Content-Type", "application/yaml")
		assert.True(t, ValidateContentType(w, r, nil, "application/json", "application/yaml"))
	})
}

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := NewResponseWriter(w)

	// 初始状态
	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.False(t, rw.Written)

	// 写入状态码
	rw.WriteHeader(http.StatusCreated)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)
	assert.True(t, rw.Written)

	// 再次写入应该被忽略
	rw.WriteHeader(http.StatusBadRequest)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)

	n, err := rw.Write([]byte("test"))
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
}
