package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Security event types (closed enum). Adding a type here is the only
// way a new event kind enters the audit trail.
const (
	EventLoginSuccess           = "login_success"
	EventLoginFailed            = "login_failed"
	EventAccountLocked          = "account_locked"
	EventAccountUnlocked        = "account_unlocked"
	EventLogout                 = "logout"
	EventSessionCreated         = "session_created"
	EventSessionEvicted         = "session_evicted"
	EventSessionExpired         = "session_expired"
	EventSessionRevoked         = "session_revoked"
	EventTwoFactorEnabled       = "two_factor_enabled"
	EventTwoFactorDisabled      = "two_factor_disabled"
	EventTwoFactorFailed        = "two_factor_failed"
	EventBackupCodeConsumed     = "backup_code_consumed"
	EventPasswordChanged        = "password_changed"
	EventPasswordResetRequested = "password_reset_requested"
	EventPasswordResetCompleted = "password_reset_completed"
	EventSuspiciousLogin        = "suspicious_login"
	EventThreatMitigated        = "threat_mitigated"
	EventRateLimited            = "rate_limited"
)

// Severities
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// EventDetail holds structured context for a security event, stored as JSONB.
type EventDetail map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (d *EventDetail) Scan(value interface{}) error {
	if value == nil {
		*d = make(EventDetail)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*d = EventDetail(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (d EventDetail) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// SecurityEvent is one append-only row of the audit trail. Rows are
// never mutated or deleted in normal operation; only the retention job
// purges rows past the configured horizon.
type SecurityEvent struct {
	ID        string
	EventType string
	AccountID *string // nil for anonymous/unauthenticated events
	IPAddress string
	UserAgent string
	Detail    EventDetail
	Severity  string
	RiskScore *int
	CreatedAt time.Time
}

// EventFilter selects security events for reporting.
type EventFilter struct {
	EventType    string
	AccountID    string
	Severity     string
	Since        *time.Time
	Until        *time.Time
	MinRiskScore *int
	Limit        int
	Offset       int
}
