package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sentra-auth/sentra/internal/auth"
	"github.com/sentra-auth/sentra/internal/models"
	pkghttp "github.com/sentra-auth/sentra/pkg/http"
)

// AdminServiceInterface defines the administrative operations surface
type AdminServiceInterface interface {
	UnlockAccount(ctx context.Context, accountID string, admin *models.Account, ip string) error
	SecurityEvents(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error)
	Threats(ctx context.Context, includeMitigated bool, limit, offset int) ([]*models.ThreatRecord, error)
	MitigateThreat(ctx context.Context, threatID, action string, admin *models.Account, ip string) (*models.ThreatRecord, error)
}

// AdminHandler handles admin endpoints
type AdminHandler struct {
	service  AdminServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(service AdminServiceInterface, ipConfig *pkghttp.IPConfig) *AdminHandler {
	return &AdminHandler{service: service, ipConfig: ipConfig}
}

// SecurityEventResponse is one audit trail row
type SecurityEventResponse struct {
	ID        string             `json:"id"`
	EventType string             `json:"event_type"`
	AccountID *string            `json:"account_id,omitempty"`
	IPAddress string             `json:"ip_address"`
	UserAgent string             `json:"user_agent,omitempty"`
	Detail    models.EventDetail `json:"detail,omitempty"`
	Severity  string             `json:"severity"`
	RiskScore *int               `json:"risk_score,omitempty"`
	CreatedAt string             `json:"created_at"`
}

// ThreatResponse is one threat record
type ThreatResponse struct {
	ID               string  `json:"id"`
	IPAddress        string  `json:"ip_address"`
	ThreatType       string  `json:"threat_type"`
	ThreatLevel      string  `json:"threat_level"`
	FirstSeen        string  `json:"first_seen"`
	LastSeen         string  `json:"last_seen"`
	Frequency        int     `json:"frequency"`
	Mitigated        bool    `json:"mitigated"`
	MitigationAction *string `json:"mitigation_action,omitempty"`
}

// MitigateThreatRequest represents the request body for threat mitigation
type MitigateThreatRequest struct {
	Action string `json:"action" validate:"required,oneof=ip_block none"`
}

func toEventResponse(e *models.SecurityEvent) SecurityEventResponse {
	return SecurityEventResponse{
		ID:        e.ID,
		EventType: e.EventType,
		AccountID: e.AccountID,
		IPAddress: e.IPAddress,
		UserAgent: e.UserAgent,
		Detail:    e.Detail,
		Severity:  e.Severity,
		RiskScore: e.RiskScore,
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toThreatResponse(t *models.ThreatRecord) ThreatResponse {
	return ThreatResponse{
		ID:               t.ID,
		IPAddress:        t.IPAddress,
		ThreatType:       t.ThreatType,
		ThreatLevel:      t.ThreatLevel,
		FirstSeen:        t.FirstSeen.UTC().Format(time.RFC3339),
		LastSeen:         t.LastSeen.UTC().Format(time.RFC3339),
		Frequency:        t.Frequency,
		Mitigated:        t.Mitigated,
		MitigationAction: t.MitigationAction,
	}
}

// UnlockAccount clears an account's lockout state
func (h *AdminHandler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	admin := auth.GetAccountFromContext(r)
	if admin == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		pkghttp.WriteBadRequest(w, "Account ID is required")
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	if err := h.service.UnlockAccount(r.Context(), accountID, admin, ip); err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Account unlocked"})
}

// SecurityEvents queries the audit trail
func (h *AdminHandler) SecurityEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := models.EventFilter{
		EventType: q.Get("event_type"),
		AccountID: q.Get("account_id"),
		Severity:  q.Get("severity"),
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			pkghttp.WriteBadRequest(w, "Invalid 'since' timestamp, expected RFC 3339")
			return
		}
		filter.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			pkghttp.WriteBadRequest(w, "Invalid 'until' timestamp, expected RFC 3339")
			return
		}
		filter.Until = &t
	}
	if v := q.Get("min_risk_score"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			pkghttp.WriteBadRequest(w, "Invalid 'min_risk_score', expected 0-100")
			return
		}
		filter.MinRiskScore = &n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			pkghttp.WriteBadRequest(w, "Invalid 'limit'")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			pkghttp.WriteBadRequest(w, "Invalid 'offset'")
			return
		}
		filter.Offset = n
	}

	events, err := h.service.SecurityEvents(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := make([]SecurityEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, toEventResponse(e))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"events": resp})
}

// Threats lists threat records
func (h *AdminHandler) Threats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	includeMitigated := q.Get("include_mitigated") == "true"

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			pkghttp.WriteBadRequest(w, "Invalid 'limit'")
			return
		}
		limit = n
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			pkghttp.WriteBadRequest(w, "Invalid 'offset'")
			return
		}
		offset = n
	}

	threats, err := h.service.Threats(r.Context(), includeMitigated, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := make([]ThreatResponse, 0, len(threats))
	for _, t := range threats {
		resp = append(resp, toThreatResponse(t))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"threats": resp})
}

// MitigateThreat marks a threat handled, optionally blocking its IP
func (h *AdminHandler) MitigateThreat(w http.ResponseWriter, r *http.Request) {
	admin := auth.GetAccountFromContext(r)
	if admin == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	threatID := chi.URLParam(r, "id")
	if threatID == "" {
		pkghttp.WriteBadRequest(w, "Threat ID is required")
		return
	}

	var req MitigateThreatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	threat, err := h.service.MitigateThreat(r.Context(), threatID, req.Action, admin, ip)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(toThreatResponse(threat))
}
