package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sentra-auth/sentra/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockAccountStore implements AccountStore for testing
type MockAccountStore struct {
	GetByIDFunc                 func(ctx context.Context, id string) (*models.Account, error)
	GetByEmailFunc              func(ctx context.Context, email string) (*models.Account, error)
	IncrementFailedAttemptsFunc func(ctx context.Context, id string, threshold int, lockUntil time.Time) (int, *time.Time, error)
	ResetIfLockExpiredFunc      func(ctx context.Context, id string) (bool, error)
	RecordSuccessfulAuthFunc    func(ctx context.Context, id string) error
	ClearLockoutFunc            func(ctx context.Context, id string) error
	UpdatePasswordFunc          func(ctx context.Context, id, newHash string, keepHistory int) error
	GetPasswordHistoryFunc      func(ctx context.Context, id string, limit int) ([]string, error)
	SetTwoFactorSecretFunc      func(ctx context.Context, id string, encryptedSecret, nonce []byte) error
	EnableTwoFactorFunc         func(ctx context.Context, id string) error
	DisableTwoFactorFunc        func(ctx context.Context, id string) error
	ReplaceBackupCodesFunc      func(ctx context.Context, id string, codeHashes []string) error
	ConsumeBackupCodeFunc       func(ctx context.Context, id, codeHash string) (bool, error)
	CountBackupCodesFunc        func(ctx context.Context, id string) (int, error)
}

func (m *MockAccountStore) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountStore) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountStore) IncrementFailedAttempts(ctx context.Context, id string, threshold int, lockUntil time.Time) (int, *time.Time, error) {
	if m.IncrementFailedAttemptsFunc != nil {
		return m.IncrementFailedAttemptsFunc(ctx, id, threshold, lockUntil)
	}
	return 1, nil, nil
}

func (m *MockAccountStore) ResetIfLockExpired(ctx context.Context, id string) (bool, error) {
	if m.ResetIfLockExpiredFunc != nil {
		return m.ResetIfLockExpiredFunc(ctx, id)
	}
	return false, nil
}

func (m *MockAccountStore) RecordSuccessfulAuth(ctx context.Context, id string) error {
	if m.RecordSuccessfulAuthFunc != nil {
		return m.RecordSuccessfulAuthFunc(ctx, id)
	}
	return nil
}

func (m *MockAccountStore) ClearLockout(ctx context.Context, id string) error {
	if m.ClearLockoutFunc != nil {
		return m.ClearLockoutFunc(ctx, id)
	}
	return nil
}

func (m *MockAccountStore) UpdatePassword(ctx context.Context, id, newHash string, keepHistory int) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, newHash, keepHistory)
	}
	return nil
}

func (m *MockAccountStore) GetPasswordHistory(ctx context.Context, id string, limit int) ([]string, error) {
	if m.GetPasswordHistoryFunc != nil {
		return m.GetPasswordHistoryFunc(ctx, id, limit)
	}
	return nil, nil
}

func (m *MockAccountStore) SetTwoFactorSecret(ctx context.Context, id string, encryptedSecret, nonce []byte) error {
	if m.SetTwoFactorSecretFunc != nil {
		return m.SetTwoFactorSecretFunc(ctx, id, encryptedSecret, nonce)
	}
	return nil
}

func (m *MockAccountStore) EnableTwoFactor(ctx context.Context, id string) error {
	if m.EnableTwoFactorFunc != nil {
		return m.EnableTwoFactorFunc(ctx, id)
	}
	return nil
}

func (m *MockAccountStore) DisableTwoFactor(ctx context.Context, id string) error {
	if m.DisableTwoFactorFunc != nil {
		return m.DisableTwoFactorFunc(ctx, id)
	}
	return nil
}

func (m *MockAccountStore) ReplaceBackupCodes(ctx context.Context, id string, codeHashes []string) error {
	if m.ReplaceBackupCodesFunc != nil {
		return m.ReplaceBackupCodesFunc(ctx, id, codeHashes)
	}
	return nil
}

func (m *MockAccountStore) ConsumeBackupCode(ctx context.Context, id, codeHash string) (bool, error) {
	if m.ConsumeBackupCodeFunc != nil {
		return m.ConsumeBackupCodeFunc(ctx, id, codeHash)
	}
	return false, nil
}

func (m *MockAccountStore) CountBackupCodes(ctx context.Context, id string) (int, error) {
	if m.CountBackupCodesFunc != nil {
		return m.CountBackupCodesFunc(ctx, id)
	}
	return 0, nil
}

// MockSessionStore implements SessionStore for testing
type MockSessionStore struct {
	CreateWithEvictionFunc   func(ctx context.Context, session *models.Session, maxStandard int) (*models.Session, string, error)
	GetByIDFunc              func(ctx context.Context, id string) (*models.Session, error)
	GetByTokenHashFunc       func(ctx context.Context, tokenHash string) (*models.Session, error)
	ListActiveFunc           func(ctx context.Context, accountID string) ([]*models.Session, error)
	TouchActivityFunc        func(ctx context.Context, id string) error
	EndFunc                  func(ctx context.Context, id, reason string) error
	EndAllFunc               func(ctx context.Context, accountID, exceptID, reason string) (int64, error)
	HasRecentFingerprintFunc func(ctx context.Context, accountID, fingerprint string, since time.Time) (bool, error)
}

func (m *MockSessionStore) CreateWithEviction(ctx context.Context, session *models.Session, maxStandard int) (*models.Session, string, error) {
	if m.CreateWithEvictionFunc != nil {
		return m.CreateWithEvictionFunc(ctx, session, maxStandard)
	}
	return session, "", nil
}

func (m *MockSessionStore) GetByID(ctx context.Context, id string) (*models.Session, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionStore) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	if m.GetByTokenHashFunc != nil {
		return m.GetByTokenHashFunc(ctx, tokenHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionStore) ListActive(ctx context.Context, accountID string) ([]*models.Session, error) {
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx, accountID)
	}
	return []*models.Session{}, nil
}

func (m *MockSessionStore) TouchActivity(ctx context.Context, id string) error {
	if m.TouchActivityFunc != nil {
		return m.TouchActivityFunc(ctx, id)
	}
	return nil
}

func (m *MockSessionStore) End(ctx context.Context, id, reason string) error {
	if m.EndFunc != nil {
		return m.EndFunc(ctx, id, reason)
	}
	return nil
}

func (m *MockSessionStore) EndAll(ctx context.Context, accountID, exceptID, reason string) (int64, error) {
	if m.EndAllFunc != nil {
		return m.EndAllFunc(ctx, accountID, exceptID, reason)
	}
	return 0, nil
}

func (m *MockSessionStore) HasRecentFingerprint(ctx context.Context, accountID, fingerprint string, since time.Time) (bool, error) {
	if m.HasRecentFingerprintFunc != nil {
		return m.HasRecentFingerprintFunc(ctx, accountID, fingerprint, since)
	}
	return false, nil
}

// MemoryEventStore is an in-memory EventStore that records appends for
// assertion. Safe for the audit service's writer goroutine.
type MemoryEventStore struct {
	mu     sync.Mutex
	events []*models.SecurityEvent

	AppendFunc func(ctx context.Context, event *models.SecurityEvent) error
	QueryFunc  func(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error)
}

func (m *MemoryEventStore) Append(ctx context.Context, event *models.SecurityEvent) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, event)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryEventStore) Query(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, filter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.SecurityEvent, len(m.events))
	copy(out, m.events)
	return out, nil
}

// Events returns a snapshot of everything appended so far.
func (m *MemoryEventStore) Events() []*models.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.SecurityEvent, len(m.events))
	copy(out, m.events)
	return out
}

// EventsOfType filters the snapshot by event type.
func (m *MemoryEventStore) EventsOfType(eventType string) []*models.SecurityEvent {
	var out []*models.SecurityEvent
	for _, e := range m.Events() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// newTestAudit builds an audit service over a fresh in-memory store.
// Callers must Close it (or call drain) before asserting on events.
func newTestAudit() (*AuditService, *MemoryEventStore) {
	store := &MemoryEventStore{}
	return NewAuditService(store, testLogger()), store
}

// MockPasswordResetStore implements PasswordResetStore for testing
type MockPasswordResetStore struct {
	CreateFunc         func(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) (*models.PasswordReset, error)
	GetByTokenHashFunc func(ctx context.Context, tokenHash string) (*models.PasswordReset, error)
	ConsumeFunc        func(ctx context.Context, id string) error
}

func (m *MockPasswordResetStore) Create(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) (*models.PasswordReset, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, accountID, tokenHash, expiresAt)
	}
	return &models.PasswordReset{ID: "reset_123", AccountID: accountID, TokenHash: tokenHash, ExpiresAt: expiresAt}, nil
}

func (m *MockPasswordResetStore) GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordReset, error) {
	if m.GetByTokenHashFunc != nil {
		return m.GetByTokenHashFunc(ctx, tokenHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockPasswordResetStore) Consume(ctx context.Context, id string) error {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, id)
	}
	return nil
}

// MockThreatStore implements ThreatStore for testing
type MockThreatStore struct {
	RecordFunc        func(ctx context.Context, ip, threatType, level string) (*models.ThreatRecord, error)
	GetByIDFunc       func(ctx context.Context, id string) (*models.ThreatRecord, error)
	HasOpenThreatFunc func(ctx context.Context, ip string) (bool, error)
	MitigateFunc      func(ctx context.Context, id, action string) (*models.ThreatRecord, error)
	ListFunc          func(ctx context.Context, includeMitigated bool, limit, offset int) ([]*models.ThreatRecord, error)
}

func (m *MockThreatStore) Record(ctx context.Context, ip, threatType, level string) (*models.ThreatRecord, error) {
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, ip, threatType, level)
	}
	return &models.ThreatRecord{ID: "threat_123", IPAddress: ip, ThreatType: threatType, ThreatLevel: level, Frequency: 1}, nil
}

func (m *MockThreatStore) GetByID(ctx context.Context, id string) (*models.ThreatRecord, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockThreatStore) HasOpenThreat(ctx context.Context, ip string) (bool, error) {
	if m.HasOpenThreatFunc != nil {
		return m.HasOpenThreatFunc(ctx, ip)
	}
	return false, nil
}

func (m *MockThreatStore) Mitigate(ctx context.Context, id, action string) (*models.ThreatRecord, error) {
	if m.MitigateFunc != nil {
		return m.MitigateFunc(ctx, id, action)
	}
	return nil, models.ErrNotFound
}

func (m *MockThreatStore) List(ctx context.Context, includeMitigated bool, limit, offset int) ([]*models.ThreatRecord, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, includeMitigated, limit, offset)
	}
	return []*models.ThreatRecord{}, nil
}

// MockEmailService implements EmailService for testing
type MockEmailService struct {
	SendLockoutNoticeFunc         func(ctx context.Context, email string, unlockAt time.Time) error
	SendSuspiciousLoginNoticeFunc func(ctx context.Context, email, ip, userAgent string, at time.Time) error
	SendPasswordResetEmailFunc    func(ctx context.Context, email, token string, expiresAt time.Time) error
}

func (m *MockEmailService) SendLockoutNotice(ctx context.Context, email string, unlockAt time.Time) error {
	if m.SendLockoutNoticeFunc != nil {
		return m.SendLockoutNoticeFunc(ctx, email, unlockAt)
	}
	return nil
}

func (m *MockEmailService) SendSuspiciousLoginNotice(ctx context.Context, email, ip, userAgent string, at time.Time) error {
	if m.SendSuspiciousLoginNoticeFunc != nil {
		return m.SendSuspiciousLoginNoticeFunc(ctx, email, ip, userAgent, at)
	}
	return nil
}

func (m *MockEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	if m.SendPasswordResetEmailFunc != nil {
		return m.SendPasswordResetEmailFunc(ctx, email, token, expiresAt)
	}
	return nil
}

// MockReputation implements ReputationLookup and BlacklistWriter for testing
type MockReputation struct {
	BlacklistedFunc   func(ctx context.Context, ip string) bool
	BlacklistFunc     func(ctx context.Context, ip string, ttl time.Duration) error
	UnblacklistFunc   func(ctx context.Context, ip string) error
	RecordFailureFunc func(ctx context.Context, ip string, window time.Duration) (int64, error)
}

func (m *MockReputation) RecordFailure(ctx context.Context, ip string, window time.Duration) (int64, error) {
	if m.RecordFailureFunc != nil {
		return m.RecordFailureFunc(ctx, ip, window)
	}
	return 1, nil
}

func (m *MockReputation) Blacklisted(ctx context.Context, ip string) bool {
	if m.BlacklistedFunc != nil {
		return m.BlacklistedFunc(ctx, ip)
	}
	return false
}

func (m *MockReputation) Blacklist(ctx context.Context, ip string, ttl time.Duration) error {
	if m.BlacklistFunc != nil {
		return m.BlacklistFunc(ctx, ip, ttl)
	}
	return nil
}

func (m *MockReputation) Unblacklist(ctx context.Context, ip string) error {
	if m.UnblacklistFunc != nil {
		return m.UnblacklistFunc(ctx, ip)
	}
	return nil
}

// MockLoginCounter implements LoginCounter for testing
type MockLoginCounter struct {
	CountLoginEventsFunc func(ctx context.Context, accountID string, since time.Time) (int, error)
}

func (m *MockLoginCounter) CountLoginEvents(ctx context.Context, accountID string, since time.Time) (int, error) {
	if m.CountLoginEventsFunc != nil {
		return m.CountLoginEventsFunc(ctx, accountID, since)
	}
	return 0, nil
}
