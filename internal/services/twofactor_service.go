package services

import (
	"context"
	"log/slog"

	"github.com/sentra-auth/sentra/internal/auth"
	"github.com/sentra-auth/sentra/internal/models"
	pkgauth "github.com/sentra-auth/sentra/pkg/auth"
)

const backupCodeCount = 8

// TwoFactorService manages TOTP enrollment and verification. The TOTP
// secret is stored AES-256-GCM encrypted and only decrypted inside
// VerifyCode; backup codes are stored as SHA-256 hashes and burn on
// first use.
type TwoFactorService struct {
	accounts AccountStore
	totp     *auth.TOTPManager
	sessions *SessionService
	audit    *AuditService
	logger   *slog.Logger
}

func NewTwoFactorService(accounts AccountStore, totp *auth.TOTPManager, sessions *SessionService, audit *AuditService, logger *slog.Logger) *TwoFactorService {
	return &TwoFactorService{
		accounts: accounts,
		totp:     totp,
		sessions: sessions,
		audit:    audit,
		logger:   logger,
	}
}

// BeginSetup generates a fresh secret plus backup codes and stores
// both in pending state. The caller re-confirms the password first;
// enrollment is not armed until ConfirmSetup proves the authenticator
// produces valid codes. The plaintext backup codes are shown exactly
// once here; only hashes persist, and none of them are accepted until
// two-factor is armed.
func (s *TwoFactorService) BeginSetup(ctx context.Context, account *models.Account, password string) (*auth.SetupMaterial, []string, error) {
	if account.TwoFactorEnabled {
		return nil, nil, models.ErrConflict
	}

	if err := pkgauth.ComparePassword(account.PasswordHash, password); err != nil {
		return nil, nil, models.ErrUnauthorized
	}

	material, encrypted, nonce, err := s.totp.GenerateSecret(account.Email)
	if err != nil {
		s.logger.Error("failed to generate totp secret",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	codes, err := s.totp.GenerateBackupCodes(backupCodeCount)
	if err != nil {
		s.logger.Error("failed to generate backup codes",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	if err := s.accounts.SetTwoFactorSecret(ctx, account.ID, encrypted, nonce); err != nil {
		s.logger.Error("failed to store pending totp secret",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = s.totp.HashBackupCode(c)
	}

	// Restarting setup replaces any previous pending set.
	if err := s.accounts.ReplaceBackupCodes(ctx, account.ID, hashes); err != nil {
		s.logger.Error("failed to store backup codes",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	return material, codes, nil
}

// ConfirmSetup verifies one code against the pending secret and arms
// two-factor.
func (s *TwoFactorService) ConfirmSetup(ctx context.Context, account *models.Account, code, ip, userAgent string) error {
	if account.TwoFactorEnabled {
		return models.ErrConflict
	}
	if len(account.TwoFactorSecret) == 0 {
		return models.ErrBadRequest
	}

	ok, err := s.totp.VerifyCode(account.TwoFactorSecret, account.TwoFactorNonce, code)
	if err != nil {
		s.logger.Error("totp verification error",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !ok {
		return models.ErrInvalidTwoFactor
	}

	if err := s.accounts.EnableTwoFactor(ctx, account.ID); err != nil {
		s.logger.Error("failed to enable two-factor",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.RecordAuth(models.EventTwoFactorEnabled, &account.ID, ip, userAgent, models.SeverityInfo, nil)

	return nil
}

// VerifyLogin checks a second-factor proof during login. A 6-digit
// value is treated as a TOTP code, anything else as a backup code.
// Backup codes are consumed atomically so a replayed code fails.
func (s *TwoFactorService) VerifyLogin(ctx context.Context, account *models.Account, code, ip, userAgent string) error {
	if !account.TwoFactorEnabled {
		return models.ErrTwoFactorNotEnabled
	}

	if isTOTPCode(code) {
		ok, err := s.totp.VerifyCode(account.TwoFactorSecret, account.TwoFactorNonce, code)
		if err != nil {
			s.logger.Error("totp verification error",
				slog.String("account_id", account.ID),
				slog.Any("error", err))
			return models.ErrInternalServer
		}
		if ok {
			return nil
		}
		s.audit.RecordAuth(models.EventTwoFactorFailed, &account.ID, ip, userAgent, models.SeverityWarning, nil)
		return models.ErrInvalidTwoFactor
	}

	consumed, err := s.accounts.ConsumeBackupCode(ctx, account.ID, s.totp.HashBackupCode(code))
	if err != nil {
		s.logger.Error("backup code consumption error",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !consumed {
		s.audit.RecordAuth(models.EventTwoFactorFailed, &account.ID, ip, userAgent, models.SeverityWarning, nil)
		return models.ErrInvalidTwoFactor
	}

	remaining, err := s.accounts.CountBackupCodes(ctx, account.ID)
	if err != nil {
		remaining = -1
	}
	detail := models.EventDetail{}
	if remaining >= 0 {
		detail["remaining_codes"] = remaining
	}
	s.audit.RecordAuth(models.EventBackupCodeConsumed, &account.ID, ip, userAgent, models.SeverityWarning, detail)

	return nil
}

// RegenerateBackupCodes replaces all remaining codes with a fresh set.
// Requires a current TOTP code so a stolen session cannot rotate them.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, account *models.Account, code, ip, userAgent string) ([]string, error) {
	if !account.TwoFactorEnabled {
		return nil, models.ErrTwoFactorNotEnabled
	}

	ok, err := s.totp.VerifyCode(account.TwoFactorSecret, account.TwoFactorNonce, code)
	if err != nil {
		return nil, models.ErrInternalServer
	}
	if !ok {
		return nil, models.ErrInvalidTwoFactor
	}

	codes, err := s.totp.GenerateBackupCodes(backupCodeCount)
	if err != nil {
		s.logger.Error("failed to generate backup codes",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = s.totp.HashBackupCode(c)
	}

	if err := s.accounts.ReplaceBackupCodes(ctx, account.ID, hashes); err != nil {
		s.logger.Error("failed to replace backup codes",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return codes, nil
}

// Disable turns two-factor off after re-proving both factors. The
// secret and all backup codes are destroyed, and every other session
// is revoked so a hijacked session cannot quietly weaken the account.
func (s *TwoFactorService) Disable(ctx context.Context, account *models.Account, password, code string, currentSession *models.Session) error {
	if !account.TwoFactorEnabled {
		return models.ErrTwoFactorNotEnabled
	}

	if err := pkgauth.ComparePassword(account.PasswordHash, password); err != nil {
		return models.ErrUnauthorized
	}

	if err := s.VerifyLogin(ctx, account, code, currentSession.IPAddress, currentSession.UserAgent); err != nil {
		return err
	}

	if err := s.accounts.DisableTwoFactor(ctx, account.ID); err != nil {
		s.logger.Error("failed to disable two-factor",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	if _, err := s.sessions.RevokeAll(ctx, account.ID, currentSession.ID, models.SessionEndRevokedAll, currentSession.IPAddress); err != nil {
		s.logger.Warn("failed to revoke other sessions after two-factor disable",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
	}

	s.audit.RecordAuth(models.EventTwoFactorDisabled, &account.ID, currentSession.IPAddress, currentSession.UserAgent, models.SeverityWarning, nil)

	return nil
}

func isTOTPCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
