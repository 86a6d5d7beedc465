package httpapi

import (
	"net/http"

	"consentdesk/internal/account"
	"consentdesk/internal/db"
)

func (s *Server) handleSignupProvider(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowLogin(w, r) {
		return
	}
	var req struct {
		Username   string `json:"username"`
		Password   string `json:"password"`
		FirstName  string `json:"first_name"`
		MiddleName string `json:"middle_name"`
		LastName   string `json:"last_name"`
		Email      string `json:"email"`
		MobileNo   string `json:"mobile_no"`
		PublicKey  string `json:"public_key"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := s.Pipeline.SubmitProvider(r.Context(), account.ProviderSignup{
		Username:   req.Username,
		Password:   req.Password,
		FirstName:  req.FirstName,
		MiddleName: req.MiddleName,
		LastName:   req.LastName,
		Email:      req.Email,
		MobileNo:   req.MobileNo,
		PublicKey:  req.PublicKey,
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"backlog_id": id, "status": "pending"})
}

func (s *Server) handleSignupSeeker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowLogin(w, r) {
		return
	}
	var req struct {
		Username       string `json:"username"`
		Password       string `json:"password"`
		Name           string `json:"name"`
		OrgType        string `json:"org_type"`
		RegistrationNo string `json:"registration_no"`
		Email          string `json:"email"`
		ContactNo      string `json:"contact_no"`
		Address        string `json:"address"`
		PublicKey      string `json:"public_key"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := s.Pipeline.SubmitSeeker(r.Context(), account.SeekerSignup{
		Username:       req.Username,
		Password:       req.Password,
		Name:           req.Name,
		OrgType:        req.OrgType,
		RegistrationNo: req.RegistrationNo,
		Email:          req.Email,
		ContactNo:      req.ContactNo,
		Address:        req.Address,
		PublicKey:      req.PublicKey,
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"backlog_id": id, "status": "pending"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowLogin(w, r) {
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing credentials"})
		return
	}

	ctx := r.Context()
	cred, ok, err := s.DB.GetCredentialByUsername(ctx, req.Username)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	okPw, err := s.Hasher.Verify(req.Password, cred.PasswordHash)
	if err != nil || !okPw {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	// A valid password is not enough; the profile behind it must exist
	// and be active.
	active, err := s.profileActive(r, cred)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if !active {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "account is inactive"})
		return
	}

	tok, err := s.Tokens.Issue(cred.ID, string(cred.Role))
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok, "role": string(cred.Role)})
}

func (s *Server) profileActive(r *http.Request, cred *db.Credential) (bool, error) {
	switch cred.Role {
	case db.RoleProvider:
		p, ok, err := s.DB.GetProviderByCredentialID(r.Context(), cred.ID)
		return ok && err == nil && p.IsActive, err
	case db.RoleSeeker:
		sk, ok, err := s.DB.GetSeekerByCredentialID(r.Context(), cred.ID)
		return ok && err == nil && sk.IsActive, err
	case db.RoleAdmin:
		a, ok, err := s.DB.GetAdminByCredentialID(r.Context(), cred.ID)
		return ok && err == nil && a.IsActive, err
	}
	return false, nil
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	p := principalFrom(r)
	out := map[string]any{
		"username":   p.Username,
		"role":       string(p.Role),
		"profile_id": p.ProfileID,
	}
	switch p.Role {
	case db.RoleProvider:
		prof, ok, err := s.DB.GetProviderByID(r.Context(), p.ProfileID)
		if err != nil {
			s.serverError(w, err)
			return
		}
		if !ok {
			// The profile vanished after the token check.
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
			return
		}
		out["first_name"] = prof.FirstName
		out["last_name"] = prof.LastName
		out["email"] = prof.Email
	case db.RoleSeeker:
		prof, ok, err := s.DB.GetSeekerByID(r.Context(), p.ProfileID)
		if err != nil {
			s.serverError(w, err)
			return
		}
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
			return
		}
		out["name"] = prof.Name
		out["org_type"] = prof.OrgType
		out["email"] = prof.Email
	}
	writeJSON(w, http.StatusOK, out)
}

// allowLogin rate-limits credential-bearing endpoints per client IP.
func (s *Server) allowLogin(w http.ResponseWriter, r *http.Request) bool {
	if s.loginLimiter == nil {
		return true
	}
	ok, retry := s.loginLimiter.Allow(clientIP(r))
	if !ok {
		w.Header().Set("retry-after", retryAfterSeconds(retry))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many attempts"})
		return false
	}
	return true
}
