// Package httpapi exposes the HTTP API and handlers.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"consentdesk/internal/account"
	"consentdesk/internal/auth"
	"consentdesk/internal/cerr"
	"consentdesk/internal/consent"
	"consentdesk/internal/db"
)

type Server struct {
	DB        *db.DB
	Tokens    *auth.TokenIssuer
	Hasher    *auth.Hasher
	Pipeline  *account.Pipeline
	Library   *consent.Library
	Authority *consent.Authority
	Gate      *consent.Gate
	Logger    *slog.Logger

	BindAddr     string
	Port         int
	CertPath     string
	KeyPath      string
	MaxBodyBytes int64

	loginLimiter *fixedWindowLimiter
}

// Handler builds the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/signup/provider", s.handleSignupProvider)
	mux.HandleFunc("/api/signup/seeker", s.handleSignupSeeker)
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/me", s.withRole("", s.handleMe))

	mux.HandleFunc("/api/items", s.withRole(db.RoleProvider, s.handleItems))
	mux.HandleFunc("/api/items/", s.handleItemByID)
	mux.HandleFunc("/api/providers/", s.withRole(db.RoleSeeker, s.handleDiscovery))

	mux.HandleFunc("/api/consents", s.handleConsents)
	mux.HandleFunc("/api/consents/mine", s.withRole(db.RoleSeeker, s.handleMyConsents))
	mux.HandleFunc("/api/consents/", s.handleConsentByID)

	mux.HandleFunc("/api/admin/backlog/providers", s.withRole(db.RoleAdmin, s.handleProviderBacklog))
	mux.HandleFunc("/api/admin/backlog/providers/", s.withRole(db.RoleAdmin, s.handleProviderBacklogDecide))
	mux.HandleFunc("/api/admin/backlog/seekers", s.withRole(db.RoleAdmin, s.handleSeekerBacklog))
	mux.HandleFunc("/api/admin/backlog/seekers/", s.withRole(db.RoleAdmin, s.handleSeekerBacklogDecide))
	mux.HandleFunc("/api/admin/principals", s.withRole(db.RoleAdmin, s.handlePrincipals))
	mux.HandleFunc("/api/admin/principals/", s.withRole(db.RoleAdmin, s.handlePrincipalActive))

	var h http.Handler = mux
	h = s.withBodyLimit(h)
	h = withSecurityHeaders(h)
	h = s.withRequestLog(h)
	h = s.withRecover(h)
	return h
}

func (s *Server) ListenAndServe() error {
	if s.DB == nil || s.Tokens == nil {
		return errors.New("db and token issuer are required")
	}
	if s.loginLimiter == nil {
		s.loginLimiter = newFixedWindowLimiter(10, time.Minute)
	}

	addr := s.BindAddr + ":" + strconv.Itoa(s.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if s.CertPath != "" && s.KeyPath != "" {
		return httpServer.ListenAndServeTLS(s.CertPath, s.KeyPath)
	}
	return httpServer.ListenAndServe()
}

// principal is the authenticated caller: the credential plus the profile
// id for its role.
type principal struct {
	CredentialID int64
	ProfileID    int64
	Role         db.Role
	Username     string
}

type ctxKey string

const ctxPrincipal ctxKey = "principal"

func principalFrom(r *http.Request) principal {
	p, _ := r.Context().Value(ctxPrincipal).(principal)
	return p
}

// withRole authenticates the bearer token and resolves the profile behind
// it. An empty role admits any authenticated principal. Inactive profiles
// are refused even with a valid token.
func (s *Server) withRole(role db.Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
			return
		}
		claims, err := s.Tokens.Verify(raw)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
			return
		}
		if role != "" && claims.Role != string(role) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "wrong role"})
			return
		}

		cred, ok, err := s.DB.GetCredentialByID(r.Context(), claims.SubjectID)
		if err != nil {
			s.serverError(w, err)
			return
		}
		if !ok || string(cred.Role) != claims.Role {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
			return
		}

		p := principal{CredentialID: cred.ID, Role: cred.Role, Username: cred.Username}
		switch cred.Role {
		case db.RoleProvider:
			prof, ok, err := s.DB.GetProviderByCredentialID(r.Context(), cred.ID)
			if err != nil {
				s.serverError(w, err)
				return
			}
			if !ok || !prof.IsActive {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "account is inactive"})
				return
			}
			p.ProfileID = prof.ID
		case db.RoleSeeker:
			prof, ok, err := s.DB.GetSeekerByCredentialID(r.Context(), cred.ID)
			if err != nil {
				s.serverError(w, err)
				return
			}
			if !ok || !prof.IsActive {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "account is inactive"})
				return
			}
			p.ProfileID = prof.ID
		case db.RoleAdmin:
			prof, ok, err := s.DB.GetAdminByCredentialID(r.Context(), cred.ID)
			if err != nil {
				s.serverError(w, err)
				return
			}
			if !ok || !prof.IsActive {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "account is inactive"})
				return
			}
			p.ProfileID = prof.ID
		default:
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "wrong role"})
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), ctxPrincipal, p)))
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(h, prefix))
	return tok, tok != ""
}

// writeErr maps a domain error onto a transport status. Unknown errors
// are logged and answered with a generic 500.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	kind := cerr.KindOf(err)
	var status int
	msg := err.Error()
	switch kind {
	case cerr.KindValidation:
		status = http.StatusBadRequest
	case cerr.KindNotFound:
		status = http.StatusNotFound
	case cerr.KindConflict:
		status = http.StatusConflict
	case cerr.KindForbidden, cerr.KindNotApproved, cerr.KindExpired, cerr.KindExhausted:
		status = http.StatusForbidden
	case cerr.KindCrypto, cerr.KindInconsistent:
		s.Logger.Error("request failed", "kind", kind.String(), "error", err)
		status = http.StatusInternalServerError
		msg = "server error"
	default:
		s.serverError(w, err)
		return
	}
	writeJSON(w, status, map[string]string{"error": msg, "kind": kind.String()})
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.Logger.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

func (s *Server) withBodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-content-type-options", "nosniff")
		w.Header().Set("x-frame-options", "DENY")
		w.Header().Set("referrer-policy", "no-referrer")
		if r.TLS != nil {
			w.Header().Set("strict-transport-security", "max-age=31536000")
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the remote IP without a port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
