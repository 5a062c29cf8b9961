package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/agentgraph/api/handlers"
	"github.com/BaSui01/agentgraph/internal/ctxkeys"
	"github.com/BaSui01/agentgraph/internal/metrics"
	"github.com/BaSui01/agentgraph/types"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Middleware 类型定义
type Middleware func(http.Handler) http.Handler

// Chain 将多个中间件串联，第一个中间件在最外层
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Recovery panic 恢复中间件
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					requestID, _ := ctxkeys.RequestID(r.Context())
					logger.Error("panic recovered",
						zap.Any("error", err),
						zap.String("path", r.URL.Path),
						zap.String("request_id", requestID),
					)
					writeJSONError(w, http.StatusInternalServerError, types.ErrInternalError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger 请求日志中间件
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.StatusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if id, ok := ctxkeys.RequestID(r.Context()); ok {
				fields = append(fields, zap.String("request_id", id))
			}
			if sub, ok := ctxkeys.Subject(r.Context()); ok {
				fields = append(fields, zap.String("subject", sub))
			}
			logger.Info("request", fields...)
		})
	}
}

// =============================================================================
// MetricsMiddleware: records HTTP request metrics via metrics.Collector
// =============================================================================

// metricsResponseWriter wraps http.ResponseWriter to capture status code and
// response body size for metrics recording.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	wroteHeader  bool
	bytesWritten int64
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

// MetricsMiddleware records HTTP request duration, status, and sizes via the
// provided metrics.Collector. Path labels are normalized to keep Prometheus
// label cardinality bounded.
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			mrw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(mrw, r)

			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}
			collector.RecordHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				mrw.statusCode,
				time.Since(start),
				requestSize,
				mrw.bytesWritten,
			)
		})
	}
}

// pathSegmentPattern matches path segments that look like dynamic identifiers:
// UUIDs, hex strings (8+ chars), or numeric IDs.
var pathSegmentPattern = regexp.MustCompile(
	`^[0-9a-fA-F]{8,}(-[0-9a-fA-F]{4,}){0,4}$|^[0-9]+$`,
)

// normalizePath replaces dynamic path segments with ":id". For example:
//
//	/api/v1/executions/3f2a9c1e-...  -> /api/v1/executions/:id
//	/api/v1/workflows/validate       -> /api/v1/workflows/validate (unchanged)
func normalizePath(path string) string {
	switch path {
	case "/health", "/healthz", "/ready", "/readyz", "/version", "/metrics",
		"/api/v1/workflows/validate", "/api/v1/workflows/analyze",
		"/api/v1/graphs/validate":
		return path
	}

	segments := strings.Split(path, "/")
	normalized := false
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if pathSegmentPattern.MatchString(seg) {
			segments[i] = ":id"
			normalized = true
		}
	}
	if !normalized {
		return path
	}
	return strings.Join(segments, "/")
}

// =============================================================================
// OTelTracing: OpenTelemetry HTTP tracing middleware
// =============================================================================

// OTelTracing creates a server span for each request. Incoming trace context
// is extracted from the request headers.
func OTelTracing() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			tracer := otel.Tracer("agentgraph/http")
			ctx, span := tracer.Start(ctx, r.Method+" "+normalizePath(r.URL.Path),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLFull(r.URL.String()),
				),
			)
			defer span.End()

			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.response.status_code", rw.StatusCode))
		})
	}
}

// RateLimiter 基于 IP 的请求限流中间件，ctx 结束时停止清理 goroutine
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	type visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)
	// 后台清理过期 visitor
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				for ip, v := range visitors {
					if time.Since(v.lastSeen) > 3*time.Minute {
						delete(visitors, ip)
					}
				}
				mu.Unlock()
			}
		}
	}()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			mu.Lock()
			v, exists := visitors[ip]
			if !exists {
				v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
				visitors[ip] = v
			}
			v.lastSeen = time.Now()
			mu.Unlock()
			if !v.limiter.Allow() {
				logger.Debug("rate limit exceeded", zap.String("ip", ip))
				writeJSONError(w, http.StatusTooManyRequests, types.ErrRateLimited, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID adds a unique request ID via the X-Request-ID header and injects it
// into the request context. A client supplied ID is preserved.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = generateRequestID()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(ctxkeys.WithRequestID(r.Context(), id)))
		})
	}
}

// SecurityHeaders adds common security response headers to every request.
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Content-Security-Policy", "default-src 'self'")
			next.ServeHTTP(w, r)
		})
	}
}

// generateRequestID produces a random hex string suitable for request tracing.
func generateRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "req-" + hex.EncodeToString(b)
}

// =============================================================================
// JWTAuth: JWT Bearer token authentication middleware
// =============================================================================

// JWTAuth validates HS256 bearer tokens and stores the sub claim in the request
// context. skipPaths are exempt from authentication (e.g. health endpoints).
func JWTAuth(secret string, skipPaths []string, logger *zap.Logger) Middleware {
	skipSet := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skipSet[p] = struct{}{}
	}
	key := []byte(secret)
	keyFunc := func(*jwt.Token) (any, error) { return key, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := skipSet[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeJSONError(w, http.StatusUnauthorized, types.ErrAuthentication, "missing or malformed Authorization header")
				return
			}

			claims := &jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(strings.TrimPrefix(authHeader, "Bearer "), claims, keyFunc,
				jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				logger.Debug("JWT validation failed", zap.Error(err))
				writeJSONError(w, http.StatusUnauthorized, types.ErrAuthentication, "invalid or expired token")
				return
			}

			ctx := r.Context()
			if claims.Subject != "" {
				ctx = ctxkeys.WithSubject(ctx, claims.Subject)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeJSONError writes the standard error envelope.
func writeJSONError(w http.ResponseWriter, status int, code types.ErrorCode, message string) {
	handlers.WriteErrorMessage(w, status, code, message, nil)
}
