package middleware

import (
	"net/http"
	"time"

	"notify-gateway/internal/common/logging"
)

// statusWriter wraps http.ResponseWriter to capture the status code
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.statusCode = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(data []byte) (int, error) {
	return sw.ResponseWriter.Write(data)
}

// Logging logs every HTTP request with method, path, status, and duration.
// Severity tracks the response class: 5xx logs at error, 4xx at warn.
func Logging(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &statusWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK, // default to 200
			}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)

			fields := []logging.Field{
				{Key: "method", Value: r.Method},
				{Key: "path", Value: r.URL.Path},
				{Key: "status", Value: wrapped.statusCode},
				{Key: "duration_ms", Value: duration.Milliseconds()},
				{Key: "remote_addr", Value: r.RemoteAddr},
			}

			if r.URL.RawQuery != "" {
				fields = append(fields, logging.Field{Key: "query", Value: r.URL.RawQuery})
			}

			if id := r.Header.Get("X-Correlation-ID"); id != "" {
				fields = append(fields, logging.Field{Key: "correlation_id", Value: id})
			}

			if ua := r.Header.Get("User-Agent"); ua != "" {
				fields = append(fields, logging.Field{Key: "user_agent", Value: ua})
			}

			if wrapped.statusCode >= 500 {
				logger.Error("HTTP request completed", nil, fields...)
			} else if wrapped.statusCode >= 400 {
				logger.Warn("HTTP request completed", fields...)
			} else {
				logger.Info("HTTP request completed", fields...)
			}
		})
	}
}
