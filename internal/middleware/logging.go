package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"supportdraft/internal/logging"
)

// LoggingMiddleware logs HTTP requests with structured logging and stores a
// request-scoped logger in the request context
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		rw.Header().Set("X-Request-ID", requestID)

		logger := logging.RequestLogger(r.Context(), requestID, r.Method, r.URL.Path)
		next.ServeHTTP(rw, r.WithContext(logging.ContextWithLogger(r.Context(), logger)))

		logger.Info("HTTP Request",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("user_agent", r.UserAgent()),
			slog.Int("status_code", rw.statusCode),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
