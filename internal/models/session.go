package models

import "time"

// Session end reasons (closed set; free text never goes in ended_reason)
const (
	SessionEndLogout          = "logout"
	SessionEndRevoked         = "revoked"
	SessionEndRevokedAll      = "revoked_all"
	SessionEndExpired         = "expired"
	SessionEndEvicted         = "evicted_session_limit"
	SessionEndPasswordChanged = "password_changed"
)

// Session represents one authenticated client context. The plaintext
// session token is returned to the client exactly once at creation;
// only its SHA-256 is stored.
type Session struct {
	ID                string
	AccountID         string
	TokenHash         string
	DeviceFingerprint string
	IPAddress         string
	UserAgent         string
	RememberMe        bool
	CreatedAt         time.Time
	LastActivityAt    time.Time
	ExpiresAt         time.Time
	Active            bool
	EndedAt           *time.Time
	EndedReason       *string
}

// Expired reports whether the session is past its absolute expiry.
// ExpiresAt is fixed at creation; renewal never moves it.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Usable reports whether the session can authenticate a request.
func (s *Session) Usable(now time.Time) bool {
	return s.Active && !s.Expired(now)
}
