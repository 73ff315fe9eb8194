package models

import "time"

// PasswordReset is a single-use reset token. Only the SHA-256 of the
// token is stored; the plaintext goes out in the reset email once.
type PasswordReset struct {
	ID        string
	AccountID string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// Usable reports whether the token can still redeem a reset.
func (p *PasswordReset) Usable(now time.Time) bool {
	return p.UsedAt == nil && now.Before(p.ExpiresAt)
}
