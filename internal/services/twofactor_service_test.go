package services

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/sentra-auth/sentra/internal/auth"
	"github.com/sentra-auth/sentra/internal/models"
	pkgauth "github.com/sentra-auth/sentra/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTOTPManager(t *testing.T) *auth.TOTPManager {
	t.Helper()
	tm, err := auth.NewTOTPManager(bytes.Repeat([]byte{0xA5}, 32), "sentra-test")
	require.NoError(t, err)
	return tm
}

// enrolledAccount returns an account with two-factor armed plus a
// function producing currently valid codes for it.
func enrolledAccount(t *testing.T, tm *auth.TOTPManager, passwordHash string) (*models.Account, func() string) {
	t.Helper()

	material, encrypted, nonce, err := tm.GenerateSecret("owner@example.com")
	require.NoError(t, err)

	account := &models.Account{
		ID:               "acct1",
		Email:            "owner@example.com",
		PasswordHash:     passwordHash,
		Status:           models.AccountStatusActive,
		TwoFactorEnabled: true,
		TwoFactorSecret:  encrypted,
		TwoFactorNonce:   nonce,
	}

	code := func() string {
		c, err := totp.GenerateCode(material.Secret, time.Now())
		require.NoError(t, err)
		return c
	}

	return account, code
}

func newTwoFactorFixture(t *testing.T, accounts *MockAccountStore) (*TwoFactorService, *auth.TOTPManager, *MemoryEventStore, *AuditService) {
	tm := testTOTPManager(t)
	audit, store := newTestAudit()
	sessions := NewSessionService(&MockSessionStore{}, accounts, audit, testSessionPolicy(), testLogger())
	svc := NewTwoFactorService(accounts, tm, sessions, audit, testLogger())
	return svc, tm, store, audit
}

func TestTwoFactorService_BeginSetup_RequiresPassword(t *testing.T) {
	hash, err := pkgauth.HashPassword("Correct-Horse-Battery-1!")
	require.NoError(t, err)

	var storedHashes []string
	accounts := &MockAccountStore{
		ReplaceBackupCodesFunc: func(ctx context.Context, id string, codeHashes []string) error {
			storedHashes = codeHashes
			return nil
		},
	}

	svc, tm, _, audit := newTwoFactorFixture(t, accounts)
	defer audit.Close()

	account := &models.Account{ID: "acct1", Email: "owner@example.com", PasswordHash: hash}

	_, _, err = svc.BeginSetup(context.Background(), account, "wrong-password")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Nil(t, storedHashes)

	material, codes, err := svc.BeginSetup(context.Background(), account, "Correct-Horse-Battery-1!")
	require.NoError(t, err)
	assert.NotEmpty(t, material.Secret)
	assert.NotEmpty(t, material.ProvisioningURI)
	assert.Contains(t, material.QRCodeDataURL, "data:image/png;base64,")
	require.Len(t, codes, backupCodeCount)
	require.Len(t, storedHashes, backupCodeCount)
	for i, c := range codes {
		assert.Equal(t, tm.HashBackupCode(c), storedHashes[i])
	}
}

func TestTwoFactorService_BeginSetup_AlreadyEnabled(t *testing.T) {
	svc, _, _, audit := newTwoFactorFixture(t, &MockAccountStore{})
	defer audit.Close()

	_, _, err := svc.BeginSetup(context.Background(), &models.Account{ID: "acct1", TwoFactorEnabled: true}, "pw")

	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestTwoFactorService_ConfirmSetup_Arms(t *testing.T) {
	enabled := false
	accounts := &MockAccountStore{
		EnableTwoFactorFunc: func(ctx context.Context, id string) error {
			enabled = true
			return nil
		},
	}

	svc, tm, store, audit := newTwoFactorFixture(t, accounts)

	material, encrypted, nonce, err := tm.GenerateSecret("owner@example.com")
	require.NoError(t, err)

	account := &models.Account{
		ID: "acct1", Email: "owner@example.com",
		TwoFactorSecret: encrypted, TwoFactorNonce: nonce,
	}

	code, err := totp.GenerateCode(material.Secret, time.Now())
	require.NoError(t, err)

	err = svc.ConfirmSetup(context.Background(), account, code, "1.2.3.4", "test-agent")
	audit.Close()

	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Len(t, store.EventsOfType(models.EventTwoFactorEnabled), 1)
}

func TestTwoFactorService_ConfirmSetup_BadCode(t *testing.T) {
	svc, tm, _, audit := newTwoFactorFixture(t, &MockAccountStore{})
	defer audit.Close()

	_, encrypted, nonce, err := tm.GenerateSecret("owner@example.com")
	require.NoError(t, err)

	account := &models.Account{ID: "acct1", TwoFactorSecret: encrypted, TwoFactorNonce: nonce}

	err = svc.ConfirmSetup(context.Background(), account, "000000", "1.2.3.4", "test-agent")
	assert.ErrorIs(t, err, models.ErrInvalidTwoFactor)
}

func TestTwoFactorService_ConfirmSetup_NoPendingSecret(t *testing.T) {
	svc, _, _, audit := newTwoFactorFixture(t, &MockAccountStore{})
	defer audit.Close()

	err := svc.ConfirmSetup(context.Background(), &models.Account{ID: "acct1"}, "123456", "1.2.3.4", "test-agent")

	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestTwoFactorService_VerifyLogin_TOTP(t *testing.T) {
	svc, tm, store, audit := newTwoFactorFixture(t, &MockAccountStore{})

	account, code := enrolledAccount(t, tm, "")

	err := svc.VerifyLogin(context.Background(), account, code(), "1.2.3.4", "test-agent")
	require.NoError(t, err)

	err = svc.VerifyLogin(context.Background(), account, "000000", "1.2.3.4", "test-agent")
	audit.Close()
	assert.ErrorIs(t, err, models.ErrInvalidTwoFactor)
	assert.Len(t, store.EventsOfType(models.EventTwoFactorFailed), 1)
}

func TestTwoFactorService_VerifyLogin_NotEnabled(t *testing.T) {
	svc, _, _, audit := newTwoFactorFixture(t, &MockAccountStore{})
	defer audit.Close()

	err := svc.VerifyLogin(context.Background(), &models.Account{ID: "acct1"}, "123456", "1.2.3.4", "test-agent")

	assert.ErrorIs(t, err, models.ErrTwoFactorNotEnabled)
}

func TestTwoFactorService_VerifyLogin_BackupCodeBurnsOnce(t *testing.T) {
	remaining := map[string]bool{}
	accounts := &MockAccountStore{
		ConsumeBackupCodeFunc: func(ctx context.Context, id, codeHash string) (bool, error) {
			if remaining[codeHash] {
				delete(remaining, codeHash)
				return true, nil
			}
			return false, nil
		},
		CountBackupCodesFunc: func(ctx context.Context, id string) (int, error) {
			return len(remaining), nil
		},
	}

	svc, tm, store, audit := newTwoFactorFixture(t, accounts)
	account, _ := enrolledAccount(t, tm, "")

	backupCode := "WXYZ2345"
	remaining[tm.HashBackupCode(backupCode)] = true

	err := svc.VerifyLogin(context.Background(), account, backupCode, "1.2.3.4", "test-agent")
	require.NoError(t, err)

	// Replaying the same code fails.
	err = svc.VerifyLogin(context.Background(), account, backupCode, "1.2.3.4", "test-agent")
	audit.Close()
	assert.ErrorIs(t, err, models.ErrInvalidTwoFactor)

	consumed := store.EventsOfType(models.EventBackupCodeConsumed)
	require.Len(t, consumed, 1)
	assert.Equal(t, models.SeverityWarning, consumed[0].Severity)
	assert.Equal(t, 0, consumed[0].Detail["remaining_codes"])
}

func TestTwoFactorService_Disable_RequiresBothFactors(t *testing.T) {
	hash, err := pkgauth.HashPassword("Correct-Horse-Battery-1!")
	require.NoError(t, err)

	disabled := false
	accounts := &MockAccountStore{
		DisableTwoFactorFunc: func(ctx context.Context, id string) error {
			disabled = true
			return nil
		},
	}

	svc, tm, store, audit := newTwoFactorFixture(t, accounts)
	account, code := enrolledAccount(t, tm, hash)
	session := &models.Session{ID: "sess1", AccountID: account.ID, IPAddress: "1.2.3.4", UserAgent: "test-agent"}

	err = svc.Disable(context.Background(), account, "wrong-password", code(), session)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.False(t, disabled)

	err = svc.Disable(context.Background(), account, "Correct-Horse-Battery-1!", code(), session)
	audit.Close()
	require.NoError(t, err)
	assert.True(t, disabled)
	assert.Len(t, store.EventsOfType(models.EventTwoFactorDisabled), 1)
}

func TestTwoFactorService_RegenerateBackupCodes(t *testing.T) {
	var storedHashes []string
	accounts := &MockAccountStore{
		ReplaceBackupCodesFunc: func(ctx context.Context, id string, codeHashes []string) error {
			storedHashes = codeHashes
			return nil
		},
	}

	svc, tm, _, audit := newTwoFactorFixture(t, accounts)
	defer audit.Close()
	account, code := enrolledAccount(t, tm, "")

	codes, err := svc.RegenerateBackupCodes(context.Background(), account, code(), "1.2.3.4", "test-agent")

	require.NoError(t, err)
	assert.Len(t, codes, backupCodeCount)
	assert.Len(t, storedHashes, backupCodeCount)

	_, err = svc.RegenerateBackupCodes(context.Background(), account, "000000", "1.2.3.4", "test-agent")
	assert.ErrorIs(t, err, models.ErrInvalidTwoFactor)
}
