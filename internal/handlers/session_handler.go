package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sentra-auth/sentra/internal/auth"
	"github.com/sentra-auth/sentra/internal/models"
	pkghttp "github.com/sentra-auth/sentra/pkg/http"
)

// SessionHandler handles session management endpoints
type SessionHandler struct {
	service  SessionServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(service SessionServiceInterface, ipConfig *pkghttp.IPConfig) *SessionHandler {
	return &SessionHandler{service: service, ipConfig: ipConfig}
}

// SessionResponse is one active session as seen by its owner. Token
// material is never included.
type SessionResponse struct {
	ID             string `json:"id"`
	IPAddress      string `json:"ip_address"`
	UserAgent      string `json:"user_agent"`
	RememberMe     bool   `json:"remember_me"`
	Current        bool   `json:"current"`
	CreatedAt      string `json:"created_at"`
	LastActivityAt string `json:"last_activity_at"`
	ExpiresAt      string `json:"expires_at"`
}

func toSessionResponse(s *models.Session, currentID string) SessionResponse {
	return SessionResponse{
		ID:             s.ID,
		IPAddress:      s.IPAddress,
		UserAgent:      s.UserAgent,
		RememberMe:     s.RememberMe,
		Current:        s.ID == currentID,
		CreatedAt:      s.CreatedAt.UTC().Format(time.RFC3339),
		LastActivityAt: s.LastActivityAt.UTC().Format(time.RFC3339),
		ExpiresAt:      s.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

// List returns the caller's active sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	account := auth.GetAccountFromContext(r)
	session := auth.GetSessionFromContext(r)
	if account == nil || session == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	sessions, err := h.service.List(r.Context(), account.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, toSessionResponse(s, session.ID))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"sessions": resp})
}

// Revoke ends one of the caller's sessions by ID
func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	account := auth.GetAccountFromContext(r)
	if account == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "Session ID is required")
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	if err := h.service.Revoke(r.Context(), account.ID, sessionID, ip); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RevokeAll ends every session of the caller except the current one
func (h *SessionHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	account := auth.GetAccountFromContext(r)
	session := auth.GetSessionFromContext(r)
	if account == nil || session == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	revoked, err := h.service.RevokeAll(r.Context(), account.ID, session.ID, models.SessionEndRevokedAll, ip)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"revoked": revoked})
}
