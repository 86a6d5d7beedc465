package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"consentdesk/internal/db"
)

type itemView struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	IsActive  bool   `json:"is_active"`
	CreatedAt int64  `json:"created_at"`
}

func viewItem(it db.DataItem) itemView {
	return itemView{
		ID:        it.ID,
		Name:      it.Name,
		Type:      string(it.Type),
		IsActive:  it.IsActive,
		CreatedAt: it.CreatedAt,
	}
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	switch r.Method {
	case http.MethodGet:
		items, err := s.Library.List(r.Context(), p.ProfileID)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		out := make([]itemView, 0, len(items))
		for _, it := range items {
			out = append(out, viewItem(it))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": out})
	case http.MethodPost:
		var req struct {
			Name    string `json:"name"`
			Type    string `json:"type"`
			Payload []byte `json:"payload"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		it, err := s.Library.Publish(r.Context(), p.ProfileID, req.Name, db.ItemType(req.Type), req.Payload)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, viewItem(*it))
	default:
		methodNotAllowed(w)
	}
}

// handleItemByID serves /api/items/{id} and /api/items/{id}/access. The
// two sub-routes belong to different roles, so role checks happen here
// rather than at registration.
func (s *Server) handleItemByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/items/")
	parts := strings.Split(path, "/")
	if len(parts) < 1 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	itemID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || itemID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid item id"})
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		s.withRole(db.RoleProvider, func(w http.ResponseWriter, r *http.Request) {
			p := principalFrom(r)
			if err := s.Library.Deactivate(r.Context(), p.ProfileID, itemID); err != nil {
				s.writeErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
		})(w, r)
		return
	}

	if len(parts) == 2 && parts[1] == "access" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.withRole(db.RoleSeeker, func(w http.ResponseWriter, r *http.Request) {
			p := principalFrom(r)
			grant, err := s.Gate.Authorize(r.Context(), p.ProfileID, itemID)
			if err != nil {
				s.writeErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"consent_id":   grant.ConsentID,
				"item_type":    string(grant.ItemType),
				"name":         grant.Name,
				"ciphertext":   grant.Ciphertext,
				"wrapped_key":  grant.WrappedKey,
				"access_count": grant.AccessCount,
			})
		})(w, r)
		return
	}

	http.NotFound(w, r)
}

// handleDiscovery serves /api/providers/{username}/items for seekers.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/providers/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "items" {
		http.NotFound(w, r)
		return
	}
	items, err := s.Library.Discover(r.Context(), parts[0])
	if err != nil {
		s.writeErr(w, err)
		return
	}
	out := make([]itemView, 0, len(items))
	for _, it := range items {
		out = append(out, viewItem(it))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}
