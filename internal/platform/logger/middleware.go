package logger

import (
	"log/slog"
	"net/http"
	"time"
)

// statusWriter captures the status code and bytes written for request logs.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.written += n
	return n, err
}

// RequestLogger returns chi-compatible middleware logging one line per
// request. Segment fetches are the hot path of a live player, so successful
// responses log at debug and only error statuses surface at info.
func RequestLogger(log *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.Int("bytes", sw.written),
			}
			if sw.status >= 400 {
				log.Info("request", attrs...)
			} else {
				log.Debug("request", attrs...)
			}
		})
	}
}
