package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrAccountDisabled  = errors.New("account is disabled")
	ErrAccountSuspended = errors.New("account is suspended")

	// Two-factor errors
	ErrTwoFactorRequired   = errors.New("two-factor code required")
	ErrInvalidTwoFactor    = errors.New("invalid two-factor code")
	ErrTwoFactorNotEnabled = errors.New("two-factor authentication is not enabled")

	// Password reset errors
	ErrResetTokenInvalid = errors.New("password reset token is invalid or expired")

	// Rate limiting (surfaced by the outer throttling layer; recorded here)
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// AccountLockedError indicates an account is temporarily locked.
// Unlike credential failures, lockout responses deliberately carry the
// unlock time: the lock transition already implies the account exists.
type AccountLockedError struct {
	UnlockAt time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account is locked until %s", e.UnlockAt.UTC().Format(time.RFC3339))
}

// SessionExpiredError indicates a session is past its absolute expiry
// or has already been ended.
type SessionExpiredError struct {
	SessionID string
}

func (e *SessionExpiredError) Error() string {
	return "session has expired"
}

// PasswordPolicyError carries the individual rule violations so the
// handler can return them as field errors instead of one opaque 400.
type PasswordPolicyError struct {
	Violations []string
}

func (e *PasswordPolicyError) Error() string {
	return "password does not meet policy: " + strings.Join(e.Violations, "; ")
}

// AsPasswordPolicy reports whether err is a PasswordPolicyError.
func AsPasswordPolicy(err error) (*PasswordPolicyError, bool) {
	var policy *PasswordPolicyError
	if errors.As(err, &policy) {
		return policy, true
	}
	return nil, false
}

// AsAccountLocked reports whether err is an AccountLockedError and
// returns it for access to the unlock time.
func AsAccountLocked(err error) (*AccountLockedError, bool) {
	var locked *AccountLockedError
	if errors.As(err, &locked) {
		return locked, true
	}
	return nil, false
}

// IsSessionExpired reports whether err is a SessionExpiredError.
func IsSessionExpired(err error) bool {
	var expired *SessionExpiredError
	return errors.As(err, &expired)
}
