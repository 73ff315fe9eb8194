package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sentra-auth/sentra/internal/auth"
	"github.com/sentra-auth/sentra/internal/models"
	"github.com/sentra-auth/sentra/internal/services"
	pkghttp "github.com/sentra-auth/sentra/pkg/http"
)

// AuthServiceInterface defines the authentication orchestration surface
type AuthServiceInterface interface {
	Login(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error)
	AdminLogin(ctx context.Context, req services.LoginRequest, minLevel models.AdminLevel) (*services.LoginResult, error)
	ChangePassword(ctx context.Context, account *models.Account, currentSession *models.Session, currentPassword, newPassword string) error
	ForgotPassword(ctx context.Context, email, ip, userAgent string) error
	ResetPassword(ctx context.Context, token, newPassword, ip, userAgent string) error
}

// SessionServiceInterface is the slice of session operations the auth
// handler needs directly.
type SessionServiceInterface interface {
	Logout(ctx context.Context, session *models.Session) error
	List(ctx context.Context, accountID string) ([]*models.Session, error)
	Revoke(ctx context.Context, accountID, sessionID, ip string) error
	RevokeAll(ctx context.Context, accountID, exceptID, reason, ip string) (int64, error)
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	service  AuthServiceInterface
	sessions SessionServiceInterface
	ipConfig *pkghttp.IPConfig
	cookies  auth.CookieConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, sessions SessionServiceInterface, ipConfig *pkghttp.IPConfig, cookies auth.CookieConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		sessions: sessions,
		ipConfig: ipConfig,
		cookies:  cookies,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email         string `json:"email" validate:"required,email"`
	Password      string `json:"password" validate:"required"`
	TwoFactorCode string `json:"two_factor_code,omitempty" validate:"omitempty,min=6,max=16"`
	RememberMe    bool   `json:"remember_me,omitempty"`
}

// ChangePasswordRequest represents the request body for a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// ForgotPasswordRequest represents the request body for a reset request
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest represents the request body for redeeming a reset
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// Response DTOs

// AccountResponse is the account summary returned after login
type AccountResponse struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	Name             string `json:"name"`
	AdminLevel       string `json:"admin_level"`
	TwoFactorEnabled bool   `json:"two_factor_enabled"`
	LastLoginAt      string `json:"last_login_at,omitempty"`
}

// LoginResponse is the success body for login endpoints
type LoginResponse struct {
	SessionToken string              `json:"session_token"`
	ExpiresAt    string              `json:"expires_at"`
	Account      *AccountResponse    `json:"account"`
	Risk         services.Assessment `json:"risk"`
}

func toAccountResponse(account *models.Account) *AccountResponse {
	resp := &AccountResponse{
		ID:               account.ID,
		Email:            account.Email,
		Name:             account.Name,
		AdminLevel:       account.AdminLevel.String(),
		TwoFactorEnabled: account.TwoFactorEnabled,
	}
	if account.LastLoginAt != nil {
		resp.LastLoginAt = account.LastLoginAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *AuthHandler) writeLoginResult(w http.ResponseWriter, result *services.LoginResult) {
	auth.SetSessionCookie(w, result.SessionToken, result.Session.ExpiresAt, h.cookies)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(LoginResponse{
		SessionToken: result.SessionToken,
		ExpiresAt:    result.Session.ExpiresAt.UTC().Format(time.RFC3339),
		Account:      toAccountResponse(result.Account),
		Risk:         result.Risk,
	})
}

func (h *AuthHandler) loginRequest(r *http.Request, req LoginRequest) services.LoginRequest {
	return services.LoginRequest{
		Email:         strings.ToLower(strings.TrimSpace(req.Email)),
		Password:      req.Password,
		TwoFactorCode: strings.TrimSpace(req.TwoFactorCode),
		RememberMe:    req.RememberMe,
		IPAddress:     pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:     r.Header.Get("User-Agent"),
	}
}

// Login handles user login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Login(r.Context(), h.loginRequest(r, req))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.writeLoginResult(w, result)
}

// AdminLogin handles login to the admin surface. The privilege check
// happens after full authentication so the 403 never leaks whether the
// credentials were right.
func (h *AuthHandler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.AdminLogin(r.Context(), h.loginRequest(r, req), models.LevelAdmin)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.writeLoginResult(w, result)
}

// Logout ends the current session
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.sessions.Logout(r.Context(), session); err != nil {
		writeServiceError(w, err)
		return
	}

	auth.ClearSessionCookie(w, h.cookies)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Logged out"})
}

// ChangePassword rotates the authenticated account's password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	account := auth.GetAccountFromContext(r)
	session := auth.GetSessionFromContext(r)
	if account == nil || session == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ChangePassword(r.Context(), account, session, req.CurrentPassword, req.NewPassword); err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Password changed. Other sessions have been signed out."})
}

// ForgotPassword accepts a reset request. The response is identical
// whether or not the email resolves to an account.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	_ = h.service.ForgotPassword(r.Context(), req.Email, ip, r.Header.Get("User-Agent"))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"message": "If that email is registered, a reset link is on its way.",
	})
}

// ResetPassword redeems a reset token
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword, ip, r.Header.Get("User-Agent")); err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"message": "Password has been reset. Please sign in."})
}
