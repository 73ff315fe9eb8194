package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sentra-auth/sentra/internal/models"
	pkgauth "github.com/sentra-auth/sentra/pkg/auth"
)

// SessionStore is the session persistence surface used by the services.
type SessionStore interface {
	CreateWithEviction(ctx context.Context, session *models.Session, maxStandard int) (*models.Session, string, error)
	GetByID(ctx context.Context, id string) (*models.Session, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	ListActive(ctx context.Context, accountID string) ([]*models.Session, error)
	TouchActivity(ctx context.Context, id string) error
	End(ctx context.Context, id, reason string) error
	EndAll(ctx context.Context, accountID, exceptID, reason string) (int64, error)
	HasRecentFingerprint(ctx context.Context, accountID, fingerprint string, since time.Time) (bool, error)
}

// SessionPolicy carries the session tuning knobs.
type SessionPolicy struct {
	TTL             time.Duration
	RememberMeTTL   time.Duration
	MaxStandard     int
	FingerprintSalt string
}

// SessionService manages session lifecycle: minting, renewal on use,
// revocation, and the concurrent-session cap. Expiry is absolute from
// creation; activity renewal never extends it.
type SessionService struct {
	sessions SessionStore
	accounts AccountStore
	audit    *AuditService
	policy   SessionPolicy
	logger   *slog.Logger
}

func NewSessionService(sessions SessionStore, accounts AccountStore, audit *AuditService, policy SessionPolicy, logger *slog.Logger) *SessionService {
	return &SessionService{
		sessions: sessions,
		accounts: accounts,
		audit:    audit,
		policy:   policy,
		logger:   logger,
	}
}

// Create mints a session for an authenticated account. The plaintext
// token is returned exactly once; only its hash is stored. When the
// account is at the standard-session cap, the oldest standard session
// is evicted in the same transaction.
func (s *SessionService) Create(ctx context.Context, account *models.Account, ip, userAgent string, rememberMe bool) (*models.Session, string, error) {
	plaintext, hash, err := pkgauth.GenerateSessionToken()
	if err != nil {
		s.logger.Error("failed to generate session token", slog.Any("error", err))
		return nil, "", models.ErrInternalServer
	}

	ttl := s.policy.TTL
	if rememberMe {
		ttl = s.policy.RememberMeTTL
	}

	now := time.Now().UTC()
	session := &models.Session{
		ID:                uuid.New().String(),
		AccountID:         account.ID,
		TokenHash:         hash,
		DeviceFingerprint: pkgauth.DeviceFingerprint(ip, userAgent, s.policy.FingerprintSalt),
		IPAddress:         ip,
		UserAgent:         userAgent,
		RememberMe:        rememberMe,
		CreatedAt:         now,
		LastActivityAt:    now,
		ExpiresAt:         now.Add(ttl),
		Active:            true,
	}

	created, evictedID, err := s.sessions.CreateWithEviction(ctx, session, s.policy.MaxStandard)
	if err != nil {
		s.logger.Error("failed to create session",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return nil, "", models.ErrInternalServer
	}

	s.audit.RecordAuth(models.EventSessionCreated, &account.ID, ip, userAgent, models.SeverityInfo, models.EventDetail{
		"session_id":  created.ID,
		"remember_me": rememberMe,
	})

	if evictedID != "" {
		s.audit.RecordAuth(models.EventSessionEvicted, &account.ID, ip, userAgent, models.SeverityInfo, models.EventDetail{
			"session_id":  evictedID,
			"replaced_by": created.ID,
		})
	}

	return created, plaintext, nil
}

// Authenticate resolves a bearer token to its session and account.
// Expired sessions are marked on first access here rather than waiting
// for the background sweep; a valid lookup renews last activity.
func (s *SessionService) Authenticate(ctx context.Context, token string) (*models.Session, *models.Account, error) {
	session, err := s.sessions.GetByTokenHash(ctx, pkgauth.HashSessionToken(token))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, models.ErrUnauthorized
		}
		s.logger.Error("session lookup failed", slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	now := time.Now().UTC()

	// Revoked and expired sessions answer alike so a caller cannot tell
	// which terminal state ended it.
	if !session.Active {
		return nil, nil, &models.SessionExpiredError{SessionID: session.ID}
	}

	if session.Expired(now) {
		if err := s.sessions.End(ctx, session.ID, models.SessionEndExpired); err != nil {
			s.logger.Error("failed to mark session expired",
				slog.String("session_id", session.ID),
				slog.Any("error", err))
		}
		s.audit.RecordAuth(models.EventSessionExpired, &session.AccountID, session.IPAddress, session.UserAgent, models.SeverityInfo, models.EventDetail{
			"session_id": session.ID,
		})
		return nil, nil, &models.SessionExpiredError{SessionID: session.ID}
	}

	account, err := s.accounts.GetByID(ctx, session.AccountID)
	if err != nil {
		s.logger.Error("failed to load session account",
			slog.String("session_id", session.ID),
			slog.Any("error", err))
		return nil, nil, models.ErrUnauthorized
	}

	if account.Status != models.AccountStatusActive {
		return nil, nil, models.ErrUnauthorized
	}

	if err := s.sessions.TouchActivity(ctx, session.ID); err != nil {
		// Renewal is best effort; the request still authenticates.
		s.logger.Warn("failed to touch session activity",
			slog.String("session_id", session.ID),
			slog.Any("error", err))
	}
	session.LastActivityAt = now

	return session, account, nil
}

// List returns the account's active sessions, oldest first.
func (s *SessionService) List(ctx context.Context, accountID string) ([]*models.Session, error) {
	return s.sessions.ListActive(ctx, accountID)
}

// Revoke ends one session. The caller must own it.
func (s *SessionService) Revoke(ctx context.Context, accountID, sessionID, ip string) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.AccountID != accountID {
		return models.ErrForbidden
	}

	if err := s.sessions.End(ctx, sessionID, models.SessionEndRevoked); err != nil {
		return err
	}

	s.audit.RecordAuth(models.EventSessionRevoked, &accountID, ip, "", models.SeverityInfo, models.EventDetail{
		"session_id": sessionID,
	})

	return nil
}

// RevokeAll ends every active session for the account except the one
// given (pass "" to end them all). Returns how many were ended.
func (s *SessionService) RevokeAll(ctx context.Context, accountID, exceptID, reason, ip string) (int64, error) {
	ended, err := s.sessions.EndAll(ctx, accountID, exceptID, reason)
	if err != nil {
		s.logger.Error("failed to revoke sessions",
			slog.String("account_id", accountID),
			slog.Any("error", err))
		return 0, models.ErrInternalServer
	}

	if ended > 0 {
		s.audit.RecordAuth(models.EventSessionRevoked, &accountID, ip, "", models.SeverityInfo, models.EventDetail{
			"revoked_count": ended,
			"reason":        reason,
		})
	}

	return ended, nil
}

// Logout ends the current session.
func (s *SessionService) Logout(ctx context.Context, session *models.Session) error {
	if err := s.sessions.End(ctx, session.ID, models.SessionEndLogout); err != nil {
		s.logger.Error("failed to end session on logout",
			slog.String("session_id", session.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.RecordAuth(models.EventLogout, &session.AccountID, session.IPAddress, session.UserAgent, models.SeverityInfo, models.EventDetail{
		"session_id": session.ID,
	})

	return nil
}

// KnownDevice reports whether the fingerprint was seen for the account
// within the lookback window. Used by risk scoring.
func (s *SessionService) KnownDevice(ctx context.Context, accountID, fingerprint string, lookback time.Duration) (bool, error) {
	return s.sessions.HasRecentFingerprint(ctx, accountID, fingerprint, time.Now().UTC().Add(-lookback))
}
