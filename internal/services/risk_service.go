package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/sentra-auth/sentra/internal/config"
	"github.com/sentra-auth/sentra/internal/models"
)

// Risk levels, ordered.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// ReputationLookup answers whether an IP is currently blacklisted.
type ReputationLookup interface {
	Blacklisted(ctx context.Context, ip string) bool
}

// DeviceHistory answers whether a device fingerprint was seen for the
// account recently.
type DeviceHistory interface {
	HasRecentFingerprint(ctx context.Context, accountID, fingerprint string, since time.Time) (bool, error)
}

// LoginCounter counts recent login events for velocity checks.
type LoginCounter interface {
	CountLoginEvents(ctx context.Context, accountID string, since time.Time) (int, error)
}

// ThreatChecker answers whether an IP has an open threat record.
type ThreatChecker interface {
	HasOpenThreat(ctx context.Context, ip string) (bool, error)
}

// Assessment is the result of scoring one login attempt. Indicators
// lists which signals fired, for the audit trail.
type Assessment struct {
	Score      int      `json:"score"`
	Level      string   `json:"level"`
	Indicators []string `json:"indicators"`
}

// RiskService scores login attempts from additive weighted indicators.
// Signal sources that fail degrade to "signal absent" rather than
// blocking the login; a risk engine outage must not take down
// authentication.
type RiskService struct {
	devices    DeviceHistory
	logins     LoginCounter
	reputation ReputationLookup
	threats    ThreatChecker
	cfg        config.RiskConfig
	logger     *slog.Logger
}

func NewRiskService(devices DeviceHistory, logins LoginCounter, reputation ReputationLookup, threats ThreatChecker, cfg config.RiskConfig, logger *slog.Logger) *RiskService {
	return &RiskService{
		devices:    devices,
		logins:     logins,
		reputation: reputation,
		threats:    threats,
		cfg:        cfg,
		logger:     logger,
	}
}

// Score evaluates one successful credential check. Call it after the
// password verifies and before the session is minted, so the session
// creation can carry the assessment.
func (s *RiskService) Score(ctx context.Context, accountID, ip, userAgent, fingerprint string) Assessment {
	score := 0
	indicators := make([]string, 0, 4)

	known, err := s.devices.HasRecentFingerprint(ctx, accountID, fingerprint, time.Now().UTC().Add(-s.cfg.DeviceLookback))
	if err != nil {
		s.logger.Warn("device history lookup failed, skipping new-device signal",
			slog.String("account_id", accountID),
			slog.Any("error", err))
	} else if !known {
		score += s.cfg.NewDeviceWeight
		indicators = append(indicators, "new_device")
	}

	if len(userAgent) < 20 {
		score += s.cfg.ShortUserAgentWeight
		indicators = append(indicators, "short_user_agent")
	}

	count, err := s.logins.CountLoginEvents(ctx, accountID, time.Now().UTC().Add(-s.cfg.VelocityWindow))
	if err != nil {
		s.logger.Warn("login velocity lookup failed, skipping velocity signal",
			slog.String("account_id", accountID),
			slog.Any("error", err))
	} else if count >= s.cfg.VelocityThreshold {
		score += s.cfg.VelocityWeight
		indicators = append(indicators, "login_velocity")
	}

	if s.badReputation(ctx, ip) {
		score += s.cfg.BlacklistWeight
		indicators = append(indicators, "blacklisted_ip")
	}

	if score > 100 {
		score = 100
	}

	return Assessment{
		Score:      score,
		Level:      s.level(score),
		Indicators: indicators,
	}
}

// badReputation checks the Redis blacklist first, then falls back to
// open threat records. Lookup failures degrade to clean.
func (s *RiskService) badReputation(ctx context.Context, ip string) bool {
	if s.reputation.Blacklisted(ctx, ip) {
		return true
	}

	open, err := s.threats.HasOpenThreat(ctx, ip)
	if err != nil {
		s.logger.Warn("threat record lookup failed, skipping reputation signal",
			slog.String("ip", ip),
			slog.Any("error", err))
		return false
	}
	return open
}

func (s *RiskService) level(score int) string {
	switch {
	case score > s.cfg.HighThreshold:
		return RiskHigh
	case score >= s.cfg.MediumThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Detail renders the assessment for an audit event.
func (a Assessment) Detail() models.EventDetail {
	return models.EventDetail{
		"risk_score": a.Score,
		"risk_level": a.Level,
		"indicators": a.Indicators,
	}
}
