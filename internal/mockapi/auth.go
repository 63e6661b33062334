package mockapi

import (
	"net/http"
)

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form")
		return
	}
	username, password := r.PostForm.Get("username"), r.PostForm.Get("password")

	s.mu.Lock()
	a, ok := s.accounts[username]
	var u User
	if ok {
		u = a.User
		ok = a.password == password
	}
	s.mu.Unlock()
	if !ok {
		respondJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid username or password."})
		return
	}

	s.Stats.Logins.Add(1)
	access, refresh, err := s.issuePair(u.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	respondJSON(w, http.StatusOK, struct {
		User
		UserID int64 `json:"user_id"`
		tokenPair
	}{u, u.ID, tokenPair{access, refresh}})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		User struct {
			Username string `json:"username"`
			Email    string `json:"email"`
			Password string `json:"password"`
		} `json:"user"`
	}
	if err := decodeBody(r, &body); err != nil || body.User.Username == "" || body.User.Password == "" {
		respondJSON(w, http.StatusBadRequest, map[string]any{"errors": "username and password are required"})
		return
	}

	s.mu.Lock()
	if _, exists := s.accounts[body.User.Username]; exists {
		s.mu.Unlock()
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "A user with that username already exists."})
		return
	}
	a := s.addUserLocked(body.User.Username, body.User.Password, body.User.Email)
	id := a.ID
	s.mu.Unlock()

	access, refresh, err := s.issuePair(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "User registered", "access": access, "refresh": refresh})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Refresh string `json:"refresh"`
	}
	if err := decodeBody(r, &body); err != nil || body.Refresh == "" {
		respondError(w, http.StatusUnauthorized, "No refresh token provided.")
		return
	}
	c, err := s.parse(body.Refresh, "refresh")
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Token is invalid or expired")
		return
	}
	s.Stats.Refreshes.Add(1)

	access, err := s.issue(c.UserID, "access", s.opts.AccessTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	out := tokenPair{Access: access}
	if s.opts.RotateRefresh {
		if out.Refresh, err = s.issue(c.UserID, "refresh", s.opts.RefreshTTL); err != nil {
			respondError(w, http.StatusInternalServerError, "token issue failed")
			return
		}
		s.mu.Lock()
		s.blacklist[c.ID] = true
		s.mu.Unlock()
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Refresh string `json:"refresh"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	c, err := s.parse(body.Refresh, "refresh")
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Token is invalid or expired")
		return
	}
	s.mu.Lock()
	s.blacklist[c.ID] = true
	s.mu.Unlock()
	s.Stats.Blacklisted.Add(1)
	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleUserDetails(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	a := s.accountByID(userIDFrom(r.Context()))
	var u User
	if a != nil {
		u = a.User
	}
	s.mu.Unlock()
	if a == nil {
		respondError(w, http.StatusNotFound, "User not found.")
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (s *Server) handleAddressDetails(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"country": "US", "input_postalcode": "94110"})
}

func (s *Server) handleSwitchRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role string `json:"role"`
	}
	_ = decodeBody(r, &body)

	s.mu.Lock()
	a := s.accountByID(userIDFrom(r.Context()))
	if a == nil {
		s.mu.Unlock()
		respondError(w, http.StatusNotFound, "User not found.")
		return
	}
	switch {
	case body.Role == "chef" && !a.IsChef:
		s.mu.Unlock()
		respondJSON(w, http.StatusForbidden, map[string]string{"error": "You are not approved as a chef."})
		return
	case body.Role != "":
		a.CurrentRole = body.Role
	case a.CurrentRole == "chef":
		a.CurrentRole = "customer"
	case a.IsChef:
		a.CurrentRole = "chef"
	}
	u := a.User
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, map[string]any{"user": u})
}

// SetChef marks a user as an approved chef.
func (s *Server) SetChef(username string, chef bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[username]; ok {
		a.IsChef = chef
	}
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accountByID(userIDFrom(r.Context()))
	if a == nil {
		respondError(w, http.StatusNotFound, "User not found.")
		return
	}
	if v, ok := body["email"].(string); ok {
		a.Email = v
	}
	if v, ok := body["timezone"].(string); ok {
		a.Timezone = v
	}
	if v, ok := body["preferred_language"].(string); ok {
		a.PreferredLanguage = v
	}
	respondJSON(w, http.StatusOK, a.User)
}
