package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey   contextKey = "request_id"
	subjectKey     contextKey = "subject"
	executionIDKey contextKey = "execution_id"
)

// WithRequestID 设置请求 ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 获取请求 ID
func RequestID(ctx context.Context) (string, bool) {
	return lookup(ctx, requestIDKey)
}

// WithSubject 设置已认证调用方（JWT sub）
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// Subject 获取已认证调用方
func Subject(ctx context.Context) (string, bool) {
	return lookup(ctx, subjectKey)
}

// WithExecutionID 设置当前处理的执行 ID
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey, id)
}

// ExecutionID 获取执行 ID
func ExecutionID(ctx context.Context) (string, bool) {
	return lookup(ctx, executionIDKey)
}

func lookup(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
