package httpapi

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
)

// The authorize/callback/status/refresh/logout surface wraps oauth.TokenSource
// (spec.md §9/§6). The device-code/PKCE user experience itself is out of
// scope; these handlers expose only the narrow collaborator surface the
// spec names, generating state/verifier values on the server side rather
// than implementing any browser-facing login flow.

func (s *Server) handleOAuthAuthorize(w http.ResponseWriter, r *http.Request) {
	if s.oauthTS == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "oauth not configured"})
		return
	}
	state := randomURLSafe(16)
	verifier := randomURLSafe(32)
	challenge := pkceChallengeS256(verifier)

	writeJSON(w, http.StatusOK, map[string]string{
		"authorize_url": s.oauthTS.AuthorizeURL(state, challenge),
		"state":         state,
		"code_verifier": verifier,
	})
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.oauthTS == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "oauth not configured"})
		return
	}
	code := r.URL.Query().Get("code")
	verifier := r.URL.Query().Get("code_verifier")
	if code == "" || verifier == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "code and code_verifier are required"})
		return
	}
	if err := s.oauthTS.Exchange(r.Context(), code, verifier); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.oauthTS.Status())
}

func (s *Server) handleOAuthStatus(w http.ResponseWriter, r *http.Request) {
	if s.oauthTS == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, s.oauthTS.Status())
}

func (s *Server) handleOAuthRefresh(w http.ResponseWriter, r *http.Request) {
	if s.oauthTS == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "oauth not configured"})
		return
	}
	if _, err := s.oauthTS.Token(r.Context()); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.oauthTS.Status())
}

func (s *Server) handleOAuthLogout(w http.ResponseWriter, r *http.Request) {
	if s.oauthTS == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not configured"})
		return
	}
	if err := s.oauthTS.Logout(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func randomURLSafe(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// pkceChallengeS256 derives the PKCE code_challenge from a code_verifier,
// matching the code_challenge_method=S256 AuthorizeURL sends.
func pkceChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
