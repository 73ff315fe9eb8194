package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sentra-auth/sentra/internal/models"
	pkghttp "github.com/sentra-auth/sentra/pkg/http"
)

// writeServiceError maps service-layer errors onto the wire. Credential
// and second-factor failures collapse into one generic 401 so responses
// never reveal which stage rejected the attempt; the locked state is
// the deliberate exception and carries its unlock time.
func writeServiceError(w http.ResponseWriter, err error) {
	if locked, ok := models.AsAccountLocked(err); ok {
		pkghttp.WriteLocked(w, locked.UnlockAt)
		return
	}
	if policy, ok := models.AsPasswordPolicy(err); ok {
		pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "password_policy",
			"Password does not meet the policy", strings.Join(policy.Violations, "; "))
		return
	}

	var expired *models.SessionExpiredError
	if errors.As(err, &expired) {
		pkghttp.WriteUnauthorized(w, "Session has expired")
		return
	}

	switch {
	case errors.Is(err, models.ErrTwoFactorRequired):
		pkghttp.WriteTwoFactorRequired(w)
	case errors.Is(err, models.ErrUnauthorized),
		errors.Is(err, models.ErrInvalidTwoFactor),
		errors.Is(err, models.ErrAccountDisabled),
		errors.Is(err, models.ErrAccountSuspended):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Insufficient privileges")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Resource not found")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Conflicting state")
	case errors.Is(err, models.ErrBadRequest),
		errors.Is(err, models.ErrTwoFactorNotEnabled),
		errors.Is(err, models.ErrResetTokenInvalid):
		pkghttp.WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrRateLimitExceeded):
		pkghttp.WriteTooManyRequests(w, "Too many requests. Please try again later.")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
