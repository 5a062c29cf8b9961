package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/agentgraph/api"
	"github.com/BaSui01/agentgraph/types"
	"go.uber.org/zap"
)

// MaxBodySize 请求体大小上限
const MaxBodySize = 1 << 20

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	// 响应头已写出，编码失败时无法再改写状态码
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "failed to encode response").WithCause(err), nil)
		return
	}
	WriteJSON(w, http.StatusOK, api.Envelope{
		Success:   true,
		Data:      raw,
		Timestamp: time.Now(),
	})
}

// WriteError 写入错误响应（从 types.Error）
func WriteError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	status := err.HTTPStatus
	if status == 0 {
		status = types.HTTPStatusFor(err.Code)
	}

	if logger != nil {
		logger.Warn("API error",
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.Error(err.Cause),
		)
	}

	WriteJSON(w, status, api.Envelope{
		Success: false,
		Error: &api.ErrorBody{
			Code:      string(err.Code),
			Message:   err.Message,
			Retryable: err.Retryable,
		},
		Timestamp: time.Now(),
	})
}

// WriteErrorMessage 写入简单错误消息
func WriteErrorMessage(w http.ResponseWriter, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, types.NewError(code, message).WithHTTPStatus(status), logger)
}

// =============================================================================
// 🛡️ 请求读取辅助函数
// =============================================================================

// ReadBody 读取请求体，超过 MaxBodySize 时返回 413
func ReadBody(w http.ResponseWriter, r *http.Request, logger *zap.Logger) ([]byte, bool) {
	if r.Body == nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "request body is empty"), logger)
		return nil, false
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteErrorMessage(w, http.StatusRequestEntityTooLarge, types.ErrInvalidRequest, "request body too large", logger)
			return nil, false
		}
		WriteError(w, types.NewError(types.ErrInvalidRequest, "failed to read request body").WithCause(err), logger)
		return nil, false
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "request body is empty"), logger)
		return nil, false
	}
	return data, true
}

// DecodeJSONBody 严格解码 JSON 请求体（拒绝未知字段）
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	data, ok := ReadBody(w, r, logger)
	if !ok {
		return types.NewError(types.ErrInvalidRequest, "invalid request body")
	}

	decoder := json.NewDecoder(strings.NewReader(string(data)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		apiErr := types.NewError(types.ErrInvalidRequest, "invalid JSON body").
			WithCause(err).
			WithHTTPStatus(http.StatusBadRequest)
		WriteError(w, apiErr, logger)
		return apiErr
	}
	return nil
}

// MediaType 返回请求的媒体类型（小写，不含参数）
func MediaType(r *http.Request) string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}

// ValidateContentType 验证 Content-Type 属于 allowed 之一，默认仅允许 JSON
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger, allowed ...string) bool {
	if len(allowed) == 0 {
		allowed = []string{"application/json"}
	}
	mt := MediaType(r)
	for _, a := range allowed {
		if mt == a {
			return true
		}
	}
	WriteErrorMessage(w, http.StatusUnsupportedMediaType, types.ErrInvalidRequest,
		"Content-Type must be one of "+strings.Join(allowed, ", "), logger)
	return false
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 重写 WriteHeader 以捕获状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write 重写 Write 以标记已写入
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
