package models

import (
	"fmt"
	"time"
)

// AdminLevel is the ordered privilege level of an account. Comparisons
// are numeric; never compare the string forms.
type AdminLevel int

const (
	LevelViewer AdminLevel = iota
	LevelModerator
	LevelAdmin
	LevelSuperAdmin
)

var adminLevelNames = map[AdminLevel]string{
	LevelViewer:     "viewer",
	LevelModerator:  "moderator",
	LevelAdmin:      "admin",
	LevelSuperAdmin: "super_admin",
}

func (l AdminLevel) String() string {
	if name, ok := adminLevelNames[l]; ok {
		return name
	}
	return "viewer"
}

// Meets reports whether l grants at least the given level.
func (l AdminLevel) Meets(min AdminLevel) bool {
	return l >= min
}

// ParseAdminLevel converts a stored level name to its ordered value.
func ParseAdminLevel(s string) (AdminLevel, error) {
	for level, name := range adminLevelNames {
		if name == s {
			return level, nil
		}
	}
	return LevelViewer, fmt.Errorf("unknown admin level %q", s)
}

// Account status values
const (
	AccountStatusActive    = "active"
	AccountStatusSuspended = "suspended"
	AccountStatusDisabled  = "disabled"
)

// Account is an identity plus its embedded security state. The lockout
// fields are owned by the authentication state machine; "locked" is
// always computed from LockedUntil at read time, never cached.
type Account struct {
	ID                     string
	Email                  string
	Name                   string
	PasswordHash           string
	AdminLevel             AdminLevel
	Status                 string
	FailedAttempts         int
	LockedUntil            *time.Time
	TwoFactorEnabled       bool
	TwoFactorSecret        []byte // AES-256-GCM encrypted, present only when set up
	TwoFactorNonce         []byte // GCM nonce (12 bytes)
	PasswordChangedAt      *time.Time
	RequiresPasswordChange bool
	LastLoginAt            *time.Time
	LoginCount             int
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Locked reports whether the account is locked at the given instant.
// A lock whose LockedUntil has elapsed counts as unlocked (lazy expiry);
// the caller is expected to persist the reset on next touch.
func (a *Account) Locked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}
