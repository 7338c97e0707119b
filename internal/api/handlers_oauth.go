package api

import (
	"net/http"
	"strings"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"

	"github.com/google/uuid"
)

const sessionCookie = "wzs_session"

func (s *HTTPServer) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && strings.TrimSpace(c.Value) != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/oauth/",
		MaxAge:   models.OAuthStateTTL,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// handleAuthorize starts the consent flow for ?services=crm,books (all services by default).
func (s *HTTPServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.OAuth == nil {
		writeError(w, http.StatusNotFound, "oauth is not enabled")
		return
	}

	services := splitCSV(r.URL.Query().Get("services"))
	for _, svc := range services {
		if !models.IsValidService(svc) {
			writeError(w, http.StatusBadRequest, "unknown service "+svc)
			return
		}
	}

	session := s.sessionID(w, r)
	target, err := s.deps.OAuth.AuthorizationURL(r.Context(), session, services)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *HTTPServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.OAuth == nil {
		writeError(w, http.StatusNotFound, "oauth is not enabled")
		return
	}

	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		writeError(w, http.StatusBadRequest, "authorization denied: "+reason)
		return
	}
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing session, start again at /oauth/authorize")
		return
	}

	tokens, err := s.deps.OAuth.ExchangeCode(r.Context(), c.Value, q.Get("code"), q.Get("state"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	connected := make([]string, 0, len(tokens))
	for _, t := range tokens {
		connected = append(connected, t.Service)
	}
	writeJSON(w, http.StatusOK, map[string]any{"connected": connected})
}

func (s *HTTPServer) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.OAuth == nil {
		writeError(w, http.StatusNotFound, "oauth is not enabled")
		return
	}

	svc := strings.TrimSpace(r.URL.Query().Get("service"))
	if !models.IsValidService(svc) {
		writeError(w, http.StatusBadRequest, "service is required")
		return
	}
	if err := s.deps.OAuth.Revoke(r.Context(), svc); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"service": svc, "revoked": true})
}

func (s *HTTPServer) handleOAuthStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.OAuth == nil {
		writeError(w, http.StatusNotFound, "oauth is not enabled")
		return
	}

	status, err := s.deps.OAuth.Status(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": status})
}
