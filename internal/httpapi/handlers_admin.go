package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"consentdesk/internal/db"
)

func (s *Server) handleProviderBacklog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	entries, err := s.DB.ListProviderBacklogByStatus(r.Context(), db.BacklogPending)
	if err != nil {
		s.serverError(w, err)
		return
	}
	type entry struct {
		ID        int64  `json:"id"`
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
		CreatedAt int64  `json:"created_at"`
	}
	out := make([]entry, 0, len(entries))
	for _, b := range entries {
		out = append(out, entry{
			ID:        b.ID,
			Username:  b.Username,
			FirstName: b.FirstName,
			LastName:  b.LastName,
			Email:     b.Email,
			CreatedAt: b.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"backlog": out})
}

func (s *Server) handleSeekerBacklog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	entries, err := s.DB.ListSeekerBacklogByStatus(r.Context(), db.BacklogPending)
	if err != nil {
		s.serverError(w, err)
		return
	}
	type entry struct {
		ID        int64  `json:"id"`
		Username  string `json:"username"`
		Name      string `json:"name"`
		OrgType   string `json:"org_type"`
		Email     string `json:"email"`
		CreatedAt int64  `json:"created_at"`
	}
	out := make([]entry, 0, len(entries))
	for _, b := range entries {
		out = append(out, entry{
			ID:        b.ID,
			Username:  b.Username,
			Name:      b.Name,
			OrgType:   b.OrgType,
			Email:     b.Email,
			CreatedAt: b.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"backlog": out})
}

func backlogDecideID(r *http.Request, prefix string) (int64, bool) {
	path := strings.TrimPrefix(r.URL.Path, prefix)
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "decide" {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *Server) handleProviderBacklogDecide(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	id, ok := backlogDecideID(r, "/api/admin/backlog/providers/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	var req struct {
		Approve bool `json:"approve"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.Pipeline.DecideProvider(r.Context(), id, req.Approve); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}

func (s *Server) handleSeekerBacklogDecide(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	id, ok := backlogDecideID(r, "/api/admin/backlog/seekers/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	var req struct {
		Approve bool `json:"approve"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.Pipeline.DecideSeeker(r.Context(), id, req.Approve); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}

// handlePrincipals lists provider or seeker profiles filtered by the
// active flag.
func (s *Server) handlePrincipals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	role := r.URL.Query().Get("role")
	active := r.URL.Query().Get("active") != "false"

	switch db.Role(role) {
	case db.RoleProvider:
		list, err := s.DB.ListProvidersByActive(r.Context(), active)
		if err != nil {
			s.serverError(w, err)
			return
		}
		type entry struct {
			ID        int64  `json:"id"`
			FirstName string `json:"first_name"`
			LastName  string `json:"last_name"`
			Email     string `json:"email"`
			IsActive  bool   `json:"is_active"`
		}
		out := make([]entry, 0, len(list))
		for _, p := range list {
			out = append(out, entry{ID: p.ID, FirstName: p.FirstName, LastName: p.LastName, Email: p.Email, IsActive: p.IsActive})
		}
		writeJSON(w, http.StatusOK, map[string]any{"principals": out})
	case db.RoleSeeker:
		list, err := s.DB.ListSeekersByActive(r.Context(), active)
		if err != nil {
			s.serverError(w, err)
			return
		}
		type entry struct {
			ID       int64  `json:"id"`
			Name     string `json:"name"`
			OrgType  string `json:"org_type"`
			Email    string `json:"email"`
			IsActive bool   `json:"is_active"`
		}
		out := make([]entry, 0, len(list))
		for _, sk := range list {
			out = append(out, entry{ID: sk.ID, Name: sk.Name, OrgType: sk.OrgType, Email: sk.Email, IsActive: sk.IsActive})
		}
		writeJSON(w, http.StatusOK, map[string]any{"principals": out})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "role must be provider or seeker"})
	}
}

// handlePrincipalActive serves POST /api/admin/principals/{role}/{id}/active.
func (s *Server) handlePrincipalActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/admin/principals/")
	parts := strings.Split(path, "/")
	if len(parts) != 3 || parts[2] != "active" {
		http.NotFound(w, r)
		return
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid profile id"})
		return
	}
	var req struct {
		Active bool `json:"active"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.Pipeline.SetActiveStatus(r.Context(), db.Role(parts[0]), id, req.Active); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}
