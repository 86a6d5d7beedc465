package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"consentdesk/internal/db"
)

type consentView struct {
	ID             int64  `json:"id"`
	DataItemID     int64  `json:"data_item_id"`
	SeekerID       int64  `json:"seeker_id"`
	ProviderID     int64  `json:"provider_id"`
	Status         string `json:"status"`
	RequestedAt    int64  `json:"requested_at"`
	ApprovedAt     *int64 `json:"approved_at"`
	ExpiresAt      *int64 `json:"expires_at"`
	AccessCount    int64  `json:"access_count"`
	MaxAccessCount *int64 `json:"max_access_count"`
	WrappedKey     []byte `json:"wrapped_key,omitempty"`
}

func viewConsent(c db.Consent, includeKey bool) consentView {
	v := consentView{
		ID:             c.ID,
		DataItemID:     c.DataItemID,
		SeekerID:       c.SeekerID,
		ProviderID:     c.ProviderID,
		Status:         string(c.Status),
		RequestedAt:    c.RequestedAt,
		ApprovedAt:     c.ApprovedAt,
		ExpiresAt:      c.ExpiresAt,
		AccessCount:    c.AccessCount,
		MaxAccessCount: c.MaxAccessCount,
	}
	if includeKey {
		v.WrappedKey = c.WrappedKeyForSeeker
	}
	return v
}

// handleConsents serves POST /api/consents (seeker requests a grant) and
// GET /api/consents?status= (provider lists their consents).
func (s *Server) handleConsents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.withRole(db.RoleSeeker, s.handleRequestConsent)(w, r)
	case http.MethodGet:
		s.withRole(db.RoleProvider, s.handleProviderConsents)(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleRequestConsent(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	var req struct {
		DataItemID     int64  `json:"data_item_id"`
		ExpiresAt      *int64 `json:"expires_at"`
		MaxAccessCount *int64 `json:"max_access_count"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DataItemID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "data_item_id is required"})
		return
	}
	c, created, err := s.Authority.Request(r.Context(), p.ProfileID, req.DataItemID, req.ExpiresAt, req.MaxAccessCount)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, viewConsent(*c, true))
}

func (s *Server) handleProviderConsents(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	status := r.URL.Query().Get("status")
	if status == "" {
		status = string(db.ConsentPending)
	}
	list, err := s.Authority.ListForProvider(r.Context(), p.ProfileID, db.ConsentStatus(status))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	out := make([]consentView, 0, len(list))
	for _, c := range list {
		out = append(out, viewConsent(c, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"consents": out})
}

func (s *Server) handleMyConsents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	p := principalFrom(r)
	list, err := s.Authority.ListForSeeker(r.Context(), p.ProfileID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	out := make([]consentView, 0, len(list))
	for _, c := range list {
		out = append(out, viewConsent(c, true))
	}
	writeJSON(w, http.StatusOK, map[string]any{"consents": out})
}

// handleConsentByID serves /api/consents/{id}/approve, .../reject and
// .../history.
func (s *Server) handleConsentByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/consents/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	consentID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || consentID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid consent id"})
		return
	}

	switch parts[1] {
	case "approve":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.withRole(db.RoleProvider, func(w http.ResponseWriter, r *http.Request) {
			p := principalFrom(r)
			c, err := s.Authority.Approve(r.Context(), p.ProfileID, consentID)
			if err != nil {
				s.writeErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, viewConsent(*c, false))
		})(w, r)
	case "reject":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.withRole(db.RoleProvider, func(w http.ResponseWriter, r *http.Request) {
			p := principalFrom(r)
			var req struct {
				Reason string `json:"reason"`
			}
			if !decodeJSON(w, r, &req) {
				return
			}
			c, err := s.Authority.Reject(r.Context(), p.ProfileID, consentID, req.Reason)
			if err != nil {
				s.writeErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, viewConsent(*c, false))
		})(w, r)
	case "history":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.withRole("", func(w http.ResponseWriter, r *http.Request) {
			p := principalFrom(r)
			trail, err := s.Authority.History(r.Context(), consentID, p.ProfileID, p.Role)
			if err != nil {
				s.writeErr(w, err)
				return
			}
			type entry struct {
				ID        string `json:"id"`
				Action    string `json:"action"`
				ActorID   *int64 `json:"actor_id"`
				ActorRole string `json:"actor_role"`
				Details   string `json:"details,omitempty"`
				CreatedAt int64  `json:"created_at"`
			}
			out := make([]entry, 0, len(trail))
			for _, e := range trail {
				out = append(out, entry{
					ID:        e.ID,
					Action:    e.Action,
					ActorID:   e.ActorID,
					ActorRole: e.ActorRole,
					Details:   e.Details,
					CreatedAt: e.CreatedAt,
				})
			}
			writeJSON(w, http.StatusOK, map[string]any{"history": out})
		})(w, r)
	default:
		http.NotFound(w, r)
	}
}
