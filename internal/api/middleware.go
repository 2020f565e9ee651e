package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIDHeader = "X-Request-ID"
	apiKeyHeader    = "X-API-Key"
)

// RequestID returns the ID assigned to the request carried by ctx, or "".
func RequestID(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}

// requestIDMiddleware keeps a caller-supplied X-Request-ID or mints a UUID,
// echoes it on the response, and stores it where chi's GetReqID finds it.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessLog writes one line per request. It also recovers panics so a broken
// handler answers 500 and still shows up in the log.
func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				fields := []zap.Field{
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("request_id", RequestID(r.Context())),
					zap.Duration("duration", time.Since(start)),
				}
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("handler panicked", append(fields, zap.Any("panic", rec))...)
					if ww.Status() == 0 {
						writeError(ww, http.StatusInternalServerError, "internal server error")
					}
					return
				}
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				logger.Info("request completed", append(fields,
					zap.Int("status", status),
					zap.Int("bytes", ww.BytesWritten()),
				)...)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

// apiKeyMiddleware rejects requests whose X-API-Key header (or api_key query
// parameter) does not match expected.
func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	want := []byte(expected)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(apiKeyHeader)
			if got == "" {
				got = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
