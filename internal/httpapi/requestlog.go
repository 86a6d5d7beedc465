package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// loggedWriter captures the status and byte count of a response.
type loggedWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *loggedWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggedWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

// withRequestLog logs one line per request. Client errors log at warn,
// server errors at error.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggedWriter{ResponseWriter: w}
		next.ServeHTTP(lw, r)

		lvl := slog.LevelInfo
		switch {
		case lw.status >= 500:
			lvl = slog.LevelError
		case lw.status >= 400:
			lvl = slog.LevelWarn
		}
		s.Logger.Log(r.Context(), lvl, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.status,
			"bytes", lw.bytes,
			"remote_ip", clientIP(r),
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func retryAfterSeconds(d time.Duration) string {
	if d <= 0 {
		return "0"
	}
	return strconv.Itoa(int(d.Seconds()))
}
