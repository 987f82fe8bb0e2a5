package log

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	// RequestIDHeader is the HTTP header carrying the request id.
	RequestIDHeader = "X-Request-ID"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Flush implements http.Flusher.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker so WebSocket upgrades pass through.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("log: underlying ResponseWriter does not implement http.Hijacker")
	}
	return h.Hijack()
}

// HTTPMiddleware returns an HTTP middleware that logs requests and adds
// a request id to the context. Wrapped around the observability bridge's
// /events, /healthz and /metrics endpoints.
func HTTPMiddleware(log Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			ctx := ContextWithRequestID(r.Context(), requestID)

			reqLog := log.WithContext(ctx)
			ctx = ContextWithLogger(ctx, reqLog)

			w.Header().Set(RequestIDHeader, requestID)

			rw := newResponseWriter(w)

			reqLog.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Str("user_agent", r.UserAgent()).
				Msg("request started")

			next.ServeHTTP(rw, r.WithContext(ctx))

			duration := time.Since(start)
			logEvent := reqLog.Info()

			if rw.statusCode >= 500 {
				logEvent = reqLog.Error()
			} else if rw.statusCode >= 400 {
				logEvent = reqLog.Warn()
			}

			logEvent.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.statusCode).
				Int64("bytes", rw.written).
				Dur("duration", duration).
				Msg("request completed")
		})
	}
}

// GRPCUnaryServerInterceptor returns a gRPC unary server interceptor that
// logs requests and adds a request id to the context. Chained onto the
// grpchealth server, the only gRPC surface this daemon exposes.
func GRPCUnaryServerInterceptor(log Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		requestID := extractMetadataValue(ctx, "x-request-id")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx = ContextWithRequestID(ctx, requestID)

		reqLog := log.WithContext(ctx)
		ctx = ContextWithLogger(ctx, reqLog)

		reqLog.Debug().
			Str("method", info.FullMethod).
			Msg("gRPC request started")

		resp, err := handler(ctx, req)

		duration := time.Since(start)
		statusCode := status.Code(err)

		logEvent := reqLog.Info()
		if err != nil {
			logEvent = reqLog.Error().Err(err)
		}

		logEvent.
			Str("method", info.FullMethod).
			Str("status", statusCode.String()).
			Dur("duration", duration).
			Msg("gRPC request completed")

		return resp, err
	}
}

// extractMetadataValue extracts a value from gRPC metadata.
func extractMetadataValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
