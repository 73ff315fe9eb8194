package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/sentra-auth/sentra/internal/models"
)

// ThreatStore is the threat-record surface the admin service needs.
type ThreatStore interface {
	ThreatRecorder
	GetByID(ctx context.Context, id string) (*models.ThreatRecord, error)
	Mitigate(ctx context.Context, id, action string) (*models.ThreatRecord, error)
	List(ctx context.Context, includeMitigated bool, limit, offset int) ([]*models.ThreatRecord, error)
}

// BlacklistWriter pushes mitigations into the IP reputation store.
type BlacklistWriter interface {
	Blacklist(ctx context.Context, ip string, ttl time.Duration) error
	Unblacklist(ctx context.Context, ip string) error
}

// Blocks from threat mitigation age out on their own rather than
// accumulating forever.
const mitigationBlockTTL = 7 * 24 * time.Hour

// AdminService backs the operator endpoints: manual unlock, audit
// reporting, and threat review/mitigation.
type AdminService struct {
	lockout   *LockoutService
	audit     *AuditService
	threats   ThreatStore
	blacklist BlacklistWriter
	logger    *slog.Logger
}

func NewAdminService(lockout *LockoutService, audit *AuditService, threats ThreatStore, blacklist BlacklistWriter, logger *slog.Logger) *AdminService {
	return &AdminService{
		lockout:   lockout,
		audit:     audit,
		threats:   threats,
		blacklist: blacklist,
		logger:    logger,
	}
}

// UnlockAccount clears an active lockout ahead of schedule.
func (s *AdminService) UnlockAccount(ctx context.Context, accountID string, admin *models.Account, ip string) error {
	return s.lockout.AdminUnlock(ctx, accountID, admin.ID, ip)
}

// SecurityEvents pages through the audit trail.
func (s *AdminService) SecurityEvents(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	return s.audit.Query(ctx, filter)
}

// Threats lists threat records for review.
func (s *AdminService) Threats(ctx context.Context, includeMitigated bool, limit, offset int) ([]*models.ThreatRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.threats.List(ctx, includeMitigated, limit, offset)
}

// MitigateThreat closes a threat record. An ip_block action also
// pushes the address onto the Redis blacklist, which feeds straight
// back into risk scoring.
func (s *AdminService) MitigateThreat(ctx context.Context, threatID, action string, admin *models.Account, ip string) (*models.ThreatRecord, error) {
	switch action {
	case models.MitigationIPBlock, models.MitigationNone:
	default:
		return nil, models.ErrBadRequest
	}

	threat, err := s.threats.GetByID(ctx, threatID)
	if err != nil {
		return nil, err
	}
	if threat.Mitigated {
		return nil, models.ErrConflict
	}

	if action == models.MitigationIPBlock {
		if err := s.blacklist.Blacklist(ctx, threat.IPAddress, mitigationBlockTTL); err != nil {
			s.logger.Error("failed to blacklist IP",
				slog.String("ip", threat.IPAddress),
				slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
	}

	mitigated, err := s.threats.Mitigate(ctx, threatID, action)
	if err != nil {
		return nil, err
	}

	s.audit.RecordAuth(models.EventThreatMitigated, &admin.ID, ip, "", models.SeverityInfo, models.EventDetail{
		"threat_id":   threat.ID,
		"threat_ip":   threat.IPAddress,
		"action":      action,
		"threat_type": threat.ThreatType,
	})

	return mitigated, nil
}
