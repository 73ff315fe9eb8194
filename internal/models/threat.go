package models

import "time"

// Threat types
const (
	ThreatBruteForce      = "brute_force"
	ThreatBlacklistedIP   = "blacklisted_ip"
	ThreatCredentialScan  = "credential_scan"
	ThreatSuspiciousLogin = "suspicious_login"
)

// Threat levels
const (
	ThreatLevelLow      = "low"
	ThreatLevelMedium   = "medium"
	ThreatLevelHigh     = "high"
	ThreatLevelCritical = "critical"
)

// Mitigation actions
const (
	MitigationIPBlock = "ip_block"
	MitigationNone    = "none"
)

// ThreatRecord aggregates repeated malicious patterns from one source
// IP. Created on first detection, updated (frequency++, last_seen=now)
// on repeat, closed by an explicit mitigation action, never deleted.
type ThreatRecord struct {
	ID               string
	IPAddress        string
	ThreatType       string
	ThreatLevel      string
	FirstSeen        time.Time
	LastSeen         time.Time
	Frequency        int
	Mitigated        bool
	MitigationAction *string
}
