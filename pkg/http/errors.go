package http

import (
	"encoding/json"
	"net/http"
	"time"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteErrorWithDetails(w, statusCode, errorCode, message, "")
}

// WriteErrorWithDetails writes a JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, errorCode, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	}

	_ = json.NewEncoder(w).Encode(resp)
}
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}

// LockedResponse is the body for 423 responses. Lockouts are the one
// failure that deliberately reveals state: the unlock time.
type LockedResponse struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	UnlockAt string `json:"unlock_at"`
}

// WriteLocked writes a 423 Locked response carrying the unlock time
func WriteLocked(w http.ResponseWriter, unlockAt time.Time) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusLocked)

	resp := LockedResponse{
		Error:    "account_locked",
		Message:  "Account is temporarily locked due to repeated failed login attempts",
		UnlockAt: unlockAt.UTC().Format(time.RFC3339),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// WriteTwoFactorRequired signals that the password was accepted but a
// two-factor code must accompany the request
func WriteTwoFactorRequired(w http.ResponseWriter) {
	WriteError(w, http.StatusUnauthorized, "two_factor_required", "A two-factor authentication code is required")
}
