package httpapi

import (
	"log"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/openaudit/chronolog/internal/changeinfo"
)

// responseWriter captures HTTP status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware assigns each request an id, echoes it in the
// X-Request-Id response header and logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		rw.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		log.Printf("[HTTP] %s %s %d %s from %s id=%s", r.Method, r.URL.Path, rw.statusCode, duration, r.RemoteAddr, requestID)
	})
}

// ActorMiddleware installs the request's actor identity and network origin
// into the context, where the change-info provider picks them up for any
// snapshot written during the request.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if actor := r.Header.Get("X-Actor-Id"); actor != "" {
			ctx = changeinfo.WithActor(ctx, actor)
		}
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			ctx = changeinfo.WithOrigin(ctx, host)
		} else if r.RemoteAddr != "" {
			ctx = changeinfo.WithOrigin(ctx, r.RemoteAddr)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
