package httpapi

import (
	"net/http"
	"runtime/debug"
)

// withRecover turns handler panics into logged 500 responses so one bad
// request cannot take the process down.
func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			s.Logger.Error("handler panic",
				"panic", v,
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(debug.Stack()))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
		}()
		next.ServeHTTP(w, r)
	})
}
