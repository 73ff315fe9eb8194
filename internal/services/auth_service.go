package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sentra-auth/sentra/internal/models"
	pkgauth "github.com/sentra-auth/sentra/pkg/auth"
)

// PasswordResetStore is the reset-token persistence surface.
type PasswordResetStore interface {
	Create(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) (*models.PasswordReset, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordReset, error)
	Consume(ctx context.Context, id string) error
}

// ThreatRecorder records detected malicious patterns per source IP.
type ThreatRecorder interface {
	Record(ctx context.Context, ip, threatType, level string) (*models.ThreatRecord, error)
}

// FailureTracker counts credential failures per source IP in Redis.
type FailureTracker interface {
	RecordFailure(ctx context.Context, ip string, window time.Duration) (int64, error)
}

// An IP that burns through this many bad credentials inside the window
// gets a brute_force threat record, across any number of accounts.
const (
	bruteForceThreshold = 20
	bruteForceWindow    = 15 * time.Minute
)

// AuthPolicy carries credential and reset policy knobs.
type AuthPolicy struct {
	MinPasswordLength int
	MaxPasswordLength int
	PasswordHistory   int
	ResetTokenTTL     time.Duration
	FingerprintSalt   string
}

// AuthService orchestrates the login pipeline: credential check,
// lockout state machine, two-factor challenge, risk scoring, session
// minting, audit. It is the only place the pieces compose; each stage
// stays independently testable.
type AuthService struct {
	accounts  AccountStore
	lockout   *LockoutService
	sessions  *SessionService
	twoFactor *TwoFactorService
	risk      *RiskService
	audit     *AuditService
	email     EmailService
	resets    PasswordResetStore
	threats   ThreatRecorder
	failures  FailureTracker
	policy    AuthPolicy
	logger    *slog.Logger

	// Compared against when the email does not resolve, so unknown
	// and known accounts cost the same bcrypt work.
	timingHash string
}

func NewAuthService(
	accounts AccountStore,
	lockout *LockoutService,
	sessions *SessionService,
	twoFactor *TwoFactorService,
	risk *RiskService,
	audit *AuditService,
	email EmailService,
	resets PasswordResetStore,
	threats ThreatRecorder,
	failures FailureTracker,
	policy AuthPolicy,
	logger *slog.Logger,
) (*AuthService, error) {
	timingHash, err := pkgauth.HashPassword("timing-equalizer-placeholder")
	if err != nil {
		return nil, err
	}

	return &AuthService{
		accounts:   accounts,
		lockout:    lockout,
		sessions:   sessions,
		twoFactor:  twoFactor,
		risk:       risk,
		audit:      audit,
		email:      email,
		resets:     resets,
		threats:    threats,
		failures:   failures,
		policy:     policy,
		logger:     logger,
		timingHash: timingHash,
	}, nil
}

// LoginRequest is the normalized input to a login attempt.
type LoginRequest struct {
	Email         string
	Password      string
	TwoFactorCode string
	RememberMe    bool
	IPAddress     string
	UserAgent     string
}

// LoginResult is what a successful login hands back to the handler.
type LoginResult struct {
	Account      *models.Account
	Session      *models.Session
	SessionToken string
	Risk         Assessment
}

// Login runs the full authentication pipeline. Credential failures,
// unknown emails, and bad second factors all come back as
// ErrUnauthorized (or ErrInvalidTwoFactor once the password has
// verified); lock state comes back as AccountLockedError.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, models.ErrUnauthorized
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Burn the same bcrypt cost as a real comparison so the
			// response time does not reveal whether the email exists.
			_ = pkgauth.ComparePassword(s.timingHash, req.Password)
			s.audit.RecordAuth(models.EventLoginFailed, nil, req.IPAddress, req.UserAgent, models.SeverityInfo, models.EventDetail{
				"reason": "unknown_email",
			})
			s.trackFailedIP(ctx, req.IPAddress)
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to look up account", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	switch account.Status {
	case models.AccountStatusDisabled:
		return nil, models.ErrAccountDisabled
	case models.AccountStatusSuspended:
		return nil, models.ErrAccountSuspended
	}

	if err := s.lockout.Check(ctx, account); err != nil {
		return nil, err
	}

	if err := pkgauth.ComparePassword(account.PasswordHash, req.Password); err != nil {
		s.trackFailedIP(ctx, req.IPAddress)
		return nil, s.lockout.RecordFailure(ctx, account, req.IPAddress, req.UserAgent)
	}

	if account.TwoFactorEnabled {
		if req.TwoFactorCode == "" {
			return nil, models.ErrTwoFactorRequired
		}
		if err := s.twoFactor.VerifyLogin(ctx, account, req.TwoFactorCode, req.IPAddress, req.UserAgent); err != nil {
			return nil, err
		}
	}

	return s.completeLogin(ctx, account, req)
}

// completeLogin runs the post-credential stages shared by Login and
// AdminLogin: success bookkeeping, risk scoring, session, audit.
func (s *AuthService) completeLogin(ctx context.Context, account *models.Account, req LoginRequest) (*LoginResult, error) {
	if err := s.lockout.RecordSuccess(ctx, account); err != nil {
		return nil, err
	}

	fingerprint := pkgauth.DeviceFingerprint(req.IPAddress, req.UserAgent, s.policy.FingerprintSalt)
	assessment := s.risk.Score(ctx, account.ID, req.IPAddress, req.UserAgent, fingerprint)

	session, token, err := s.sessions.Create(ctx, account, req.IPAddress, req.UserAgent, req.RememberMe)
	if err != nil {
		return nil, err
	}

	detail := assessment.Detail()
	detail["session_id"] = session.ID
	s.audit.Record(&models.SecurityEvent{
		EventType: models.EventLoginSuccess,
		AccountID: &account.ID,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Severity:  models.SeverityInfo,
		RiskScore: &assessment.Score,
		Detail:    detail,
	})

	if assessment.Level == RiskHigh {
		s.flagSuspiciousLogin(account, req, assessment, session.ID)
	}

	return &LoginResult{
		Account:      account,
		Session:      session,
		SessionToken: token,
		Risk:         assessment,
	}, nil
}

// trackFailedIP bumps the per-IP failure counter and opens a
// brute_force threat record when the counter crosses the threshold.
// The counter lives in Redis; if Redis is down the failure still
// counts against the account, just not against the IP.
func (s *AuthService) trackFailedIP(ctx context.Context, ip string) {
	if ip == "" {
		return
	}

	count, err := s.failures.RecordFailure(ctx, ip, bruteForceWindow)
	if err != nil {
		return
	}

	if count == bruteForceThreshold {
		if _, err := s.threats.Record(ctx, ip, models.ThreatBruteForce, models.ThreatLevelHigh); err != nil {
			s.logger.Warn("failed to record brute force threat",
				slog.String("ip", ip),
				slog.Any("error", err))
		}
	}
}

// flagSuspiciousLogin records the event and threat and notifies the
// owner. All of it is decoupled from the login response.
func (s *AuthService) flagSuspiciousLogin(account *models.Account, req LoginRequest, assessment Assessment, sessionID string) {
	detail := assessment.Detail()
	detail["session_id"] = sessionID
	s.audit.Record(&models.SecurityEvent{
		EventType: models.EventSuspiciousLogin,
		AccountID: &account.ID,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Severity:  models.SeverityCritical,
		RiskScore: &assessment.Score,
		Detail:    detail,
	})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if _, err := s.threats.Record(ctx, req.IPAddress, models.ThreatSuspiciousLogin, models.ThreatLevelHigh); err != nil {
			s.logger.Warn("failed to record threat",
				slog.String("ip", req.IPAddress),
				slog.Any("error", err))
		}

		if err := s.email.SendSuspiciousLoginNotice(ctx, account.Email, req.IPAddress, req.UserAgent, time.Now().UTC()); err != nil {
			s.logger.Warn("failed to send suspicious login notice", slog.Any("error", err))
		}
	}()
}

// AdminLogin is Login plus a privilege floor. Accounts below moderator
// get ErrForbidden after their credentials verify, and the attempt is
// audited at warning severity.
func (s *AuthService) AdminLogin(ctx context.Context, req LoginRequest, minLevel models.AdminLevel) (*LoginResult, error) {
	result, err := s.Login(ctx, req)
	if err != nil {
		return nil, err
	}

	if !result.Account.AdminLevel.Meets(minLevel) {
		// Credentials were valid; tear the session back down.
		if endErr := s.sessions.Logout(ctx, result.Session); endErr != nil {
			s.logger.Error("failed to end session after privilege rejection",
				slog.String("session_id", result.Session.ID),
				slog.Any("error", endErr))
		}
		s.audit.RecordAuth(models.EventLoginFailed, &result.Account.ID, req.IPAddress, req.UserAgent, models.SeverityWarning, models.EventDetail{
			"reason":         "insufficient_privilege",
			"admin_level":    result.Account.AdminLevel.String(),
			"required_level": minLevel.String(),
		})
		return nil, models.ErrForbidden
	}

	return result, nil
}

// ChangePassword validates the new password against policy and
// history, swaps the hash, and revokes every other session.
func (s *AuthService) ChangePassword(ctx context.Context, account *models.Account, currentSession *models.Session, currentPassword, newPassword string) error {
	if err := pkgauth.ComparePassword(account.PasswordHash, currentPassword); err != nil {
		return models.ErrUnauthorized
	}

	history, err := s.accounts.GetPasswordHistory(ctx, account.ID, s.policy.PasswordHistory)
	if err != nil {
		s.logger.Error("failed to load password history",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}
	history = append([]string{account.PasswordHash}, history...)

	check := pkgauth.ValidatePassword(newPassword, &pkgauth.PolicyContext{
		AccountName: account.Name,
		Email:       account.Email,
		History:     history,
		MinLength:   s.policy.MinPasswordLength,
		MaxLength:   s.policy.MaxPasswordLength,
	})
	if !check.Valid {
		return &models.PasswordPolicyError{Violations: check.Errors}
	}

	newHash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.accounts.UpdatePassword(ctx, account.ID, newHash, s.policy.PasswordHistory); err != nil {
		s.logger.Error("failed to update password",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	if _, err := s.sessions.RevokeAll(ctx, account.ID, currentSession.ID, models.SessionEndPasswordChanged, currentSession.IPAddress); err != nil {
		s.logger.Warn("failed to revoke other sessions after password change",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
	}

	s.audit.RecordAuth(models.EventPasswordChanged, &account.ID, currentSession.IPAddress, currentSession.UserAgent, models.SeverityInfo, nil)

	return nil
}

// ForgotPassword issues a reset token when the email resolves. It
// reports success either way; the response must not reveal whether an
// account exists.
func (s *AuthService) ForgotPassword(ctx context.Context, email, ip, userAgent string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to look up account for reset", slog.Any("error", err))
		}
		return nil
	}

	plaintext, hash, err := pkgauth.GenerateResetToken()
	if err != nil {
		s.logger.Error("failed to generate reset token", slog.Any("error", err))
		return nil
	}

	expiresAt := time.Now().UTC().Add(s.policy.ResetTokenTTL)
	if _, err := s.resets.Create(ctx, account.ID, hash, expiresAt); err != nil {
		s.logger.Error("failed to store reset token",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return nil
	}

	s.audit.RecordAuth(models.EventPasswordResetRequested, &account.ID, ip, userAgent, models.SeverityInfo, nil)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.email.SendPasswordResetEmail(ctx, account.Email, plaintext, expiresAt); err != nil {
			s.logger.Warn("failed to send password reset email", slog.Any("error", err))
		}
	}()

	return nil
}

// ResetPassword redeems a reset token. The token burns on use; every
// session is revoked since the reset exists because the credentials
// may be compromised.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword, ip, userAgent string) error {
	reset, err := s.resets.GetByTokenHash(ctx, pkgauth.HashSessionToken(token))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrResetTokenInvalid
		}
		s.logger.Error("failed to look up reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if !reset.Usable(time.Now().UTC()) {
		return models.ErrResetTokenInvalid
	}

	account, err := s.accounts.GetByID(ctx, reset.AccountID)
	if err != nil {
		s.logger.Error("failed to load account for reset",
			slog.String("account_id", reset.AccountID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	history, err := s.accounts.GetPasswordHistory(ctx, account.ID, s.policy.PasswordHistory)
	if err != nil {
		s.logger.Error("failed to load password history",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}
	history = append([]string{account.PasswordHash}, history...)

	check := pkgauth.ValidatePassword(newPassword, &pkgauth.PolicyContext{
		AccountName: account.Name,
		Email:       account.Email,
		History:     history,
		MinLength:   s.policy.MinPasswordLength,
		MaxLength:   s.policy.MaxPasswordLength,
	})
	if !check.Valid {
		return &models.PasswordPolicyError{Violations: check.Errors}
	}

	// Consume before the password write so a raced duplicate request
	// fails here instead of double-writing.
	if err := s.resets.Consume(ctx, reset.ID); err != nil {
		if errors.Is(err, models.ErrResetTokenInvalid) {
			return models.ErrResetTokenInvalid
		}
		s.logger.Error("failed to consume reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	newHash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.accounts.UpdatePassword(ctx, account.ID, newHash, s.policy.PasswordHistory); err != nil {
		s.logger.Error("failed to update password",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.accounts.ClearLockout(ctx, account.ID); err != nil {
		s.logger.Warn("failed to clear lockout after reset",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
	}

	if _, err := s.sessions.RevokeAll(ctx, account.ID, "", models.SessionEndPasswordChanged, ip); err != nil {
		s.logger.Warn("failed to revoke sessions after reset",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
	}

	s.audit.RecordAuth(models.EventPasswordResetCompleted, &account.ID, ip, userAgent, models.SeverityInfo, nil)

	return nil
}
