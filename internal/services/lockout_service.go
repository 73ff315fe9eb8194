package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sentra-auth/sentra/internal/models"
)

// AccountStore is the account persistence surface used by the
// authentication services.
type AccountStore interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	IncrementFailedAttempts(ctx context.Context, id string, threshold int, lockUntil time.Time) (int, *time.Time, error)
	ResetIfLockExpired(ctx context.Context, id string) (bool, error)
	RecordSuccessfulAuth(ctx context.Context, id string) error
	ClearLockout(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, newHash string, keepHistory int) error
	GetPasswordHistory(ctx context.Context, id string, limit int) ([]string, error)
	SetTwoFactorSecret(ctx context.Context, id string, encryptedSecret, nonce []byte) error
	EnableTwoFactor(ctx context.Context, id string) error
	DisableTwoFactor(ctx context.Context, id string) error
	ReplaceBackupCodes(ctx context.Context, id string, codeHashes []string) error
	ConsumeBackupCode(ctx context.Context, id, codeHash string) (bool, error)
	CountBackupCodes(ctx context.Context, id string) (int, error)
}

// LockoutService owns the account lockout state machine. Lock state is
// derived from locked_until at read time; expiry needs no background
// job. All transitions happen in single conditional statements in the
// store, so concurrent failures cannot double-lock or skip the
// threshold.
type LockoutService struct {
	accounts  AccountStore
	audit     *AuditService
	email     EmailService
	threshold int
	duration  time.Duration
	logger    *slog.Logger
}

func NewLockoutService(accounts AccountStore, audit *AuditService, email EmailService, threshold int, duration time.Duration, logger *slog.Logger) *LockoutService {
	return &LockoutService{
		accounts:  accounts,
		audit:     audit,
		email:     email,
		threshold: threshold,
		duration:  duration,
		logger:    logger,
	}
}

// Check returns an AccountLockedError while the lock is active. When
// the lock has lapsed it resets the counter so the account starts the
// next window clean.
func (s *LockoutService) Check(ctx context.Context, account *models.Account) error {
	now := time.Now().UTC()

	if account.Locked(now) {
		return &models.AccountLockedError{UnlockAt: *account.LockedUntil}
	}

	// Expired lock: clear the stale counter before counting new failures.
	if account.LockedUntil != nil {
		if _, err := s.accounts.ResetIfLockExpired(ctx, account.ID); err != nil {
			s.logger.Error("failed to reset expired lockout",
				slog.String("account_id", account.ID),
				slog.Any("error", err))
			return models.ErrInternalServer
		}
		account.FailedAttempts = 0
		account.LockedUntil = nil
	}

	return nil
}

// RecordFailure counts a failed attempt and locks the account when the
// count reaches the threshold. Exactly one caller observes the
// transition, so the account_locked event is emitted once no matter
// how many requests race.
func (s *LockoutService) RecordFailure(ctx context.Context, account *models.Account, ip, userAgent string) error {
	lockUntil := time.Now().UTC().Add(s.duration)

	attempts, lockedUntil, err := s.accounts.IncrementFailedAttempts(ctx, account.ID, s.threshold, lockUntil)
	if err != nil {
		// The conditional update skips rows whose lock is in force. A
		// miss here means a concurrent request won the lock race;
		// re-read and report the lock instead of a failure count.
		if errors.Is(err, models.ErrNotFound) {
			current, getErr := s.accounts.GetByID(ctx, account.ID)
			if getErr == nil && current.Locked(time.Now().UTC()) {
				return &models.AccountLockedError{UnlockAt: *current.LockedUntil}
			}
			return models.ErrUnauthorized
		}
		s.logger.Error("failed to record login failure",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.RecordAuth(models.EventLoginFailed, &account.ID, ip, userAgent, models.SeverityInfo, models.EventDetail{
		"failed_attempts": attempts,
	})

	if lockedUntil != nil && attempts == s.threshold {
		s.audit.RecordAuth(models.EventAccountLocked, &account.ID, ip, userAgent, models.SeverityWarning, models.EventDetail{
			"failed_attempts": attempts,
			"locked_until":    lockedUntil.Format(time.RFC3339),
		})

		// Fire-and-forget: notification failure never changes the
		// lockout outcome.
		go func(email string, unlockAt time.Time) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.email.SendLockoutNotice(ctx, email, unlockAt); err != nil {
				s.logger.Warn("failed to send lockout notice", slog.Any("error", err))
			}
		}(account.Email, *lockedUntil)

		return &models.AccountLockedError{UnlockAt: *lockedUntil}
	}

	return models.ErrUnauthorized
}

// RecordSuccess resets the failure counter and stamps login metadata.
func (s *LockoutService) RecordSuccess(ctx context.Context, account *models.Account) error {
	if err := s.accounts.RecordSuccessfulAuth(ctx, account.ID); err != nil {
		s.logger.Error("failed to record successful auth",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

// AdminUnlock clears an active lock ahead of its expiry and records
// who did it.
func (s *LockoutService) AdminUnlock(ctx context.Context, accountID, adminID, ip string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}

	if err := s.accounts.ClearLockout(ctx, account.ID); err != nil {
		s.logger.Error("failed to clear lockout",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.RecordAuth(models.EventAccountUnlocked, &account.ID, ip, "", models.SeverityInfo, models.EventDetail{
		"unlocked_by": adminID,
	})

	return nil
}
