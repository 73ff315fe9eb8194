package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sentra-auth/sentra/internal/auth"
	"github.com/sentra-auth/sentra/internal/models"
	pkghttp "github.com/sentra-auth/sentra/pkg/http"
)

// TwoFactorServiceInterface defines the 2FA enrollment surface
type TwoFactorServiceInterface interface {
	BeginSetup(ctx context.Context, account *models.Account, password string) (*auth.SetupMaterial, []string, error)
	ConfirmSetup(ctx context.Context, account *models.Account, code, ip, userAgent string) error
	RegenerateBackupCodes(ctx context.Context, account *models.Account, code, ip, userAgent string) ([]string, error)
	Disable(ctx context.Context, account *models.Account, password, code string, currentSession *models.Session) error
}

// TwoFactorHandler handles two-factor enrollment endpoints
type TwoFactorHandler struct {
	service  TwoFactorServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewTwoFactorHandler creates a new TwoFactorHandler
func NewTwoFactorHandler(service TwoFactorServiceInterface, ipConfig *pkghttp.IPConfig) *TwoFactorHandler {
	return &TwoFactorHandler{service: service, ipConfig: ipConfig}
}

// BeginSetupRequest represents the request body for starting enrollment
type BeginSetupRequest struct {
	Password string `json:"password" validate:"required"`
}

// SetupResponse carries the provisioning material for the authenticator
// app plus the one-time backup codes; none of it is recoverable later.
type SetupResponse struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	QRCode          string   `json:"qr_code"`
	BackupCodes     []string `json:"backup_codes"`
}

// ConfirmSetupRequest represents the request body for confirming enrollment
type ConfirmSetupRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// BackupCodesResponse is returned exactly once per generation; the
// plaintext codes are not recoverable afterwards.
type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
	Message     string   `json:"message"`
}

// RegenerateRequest represents the request body for backup code rotation
type RegenerateRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// DisableRequest represents the request body for turning 2FA off
type DisableRequest struct {
	Password string `json:"password" validate:"required"`
	Code     string `json:"code" validate:"required,min=6,max=16"`
}

// BeginSetup starts 2FA enrollment for the authenticated account
func (h *TwoFactorHandler) BeginSetup(w http.ResponseWriter, r *http.Request) {
	account := auth.GetAccountFromContext(r)
	if account == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req BeginSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	material, codes, err := h.service.BeginSetup(r.Context(), account, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(SetupResponse{
		Secret:          material.Secret,
		ProvisioningURI: material.ProvisioningURI,
		QRCode:          material.QRCodeDataURL,
		BackupCodes:     codes,
	})
}

// ConfirmSetup verifies the first code and arms 2FA
func (h *TwoFactorHandler) ConfirmSetup(w http.ResponseWriter, r *http.Request) {
	account := auth.GetAccountFromContext(r)
	if account == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ConfirmSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	if err := h.service.ConfirmSetup(r.Context(), account, req.Code, ip, r.Header.Get("User-Agent")); err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Two-factor authentication enabled"})
}

// RegenerateBackupCodes replaces the backup code set
func (h *TwoFactorHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	account := auth.GetAccountFromContext(r)
	if account == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req RegenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	codes, err := h.service.RegenerateBackupCodes(r.Context(), account, req.Code, ip, r.Header.Get("User-Agent"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(BackupCodesResponse{
		BackupCodes: codes,
		Message:     "Backup codes regenerated. Previous codes no longer work.",
	})
}

// Disable turns 2FA off for the authenticated account
func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	account := auth.GetAccountFromContext(r)
	session := auth.GetSessionFromContext(r)
	if account == nil || session == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req DisableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.Disable(r.Context(), account, req.Password, req.Code, session); err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Two-factor authentication disabled"})
}
