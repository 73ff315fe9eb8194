package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_PASSWORD", "testpassword")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Auth.LockoutThreshold)
	assert.Equal(t, 30*time.Minute, cfg.Auth.LockoutDuration)
	assert.Equal(t, 12*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.RememberMeTTL)
	assert.Equal(t, 5, cfg.Auth.MaxConcurrentSessions)
	assert.Equal(t, 5, cfg.Auth.PasswordHistory)
	assert.Equal(t, 1*time.Hour, cfg.Auth.ResetTokenTTL)
	assert.Len(t, cfg.Auth.TOTPEncryptionKey, 32)

	assert.Equal(t, 25, cfg.Risk.NewDeviceWeight)
	assert.Equal(t, 60, cfg.Risk.BlacklistWeight)
	assert.Equal(t, 25, cfg.Risk.MediumThreshold)
	assert.Equal(t, 60, cfg.Risk.HighThreshold)
}

func TestLoad_RequiresDBPassword(t *testing.T) {
	t.Setenv("DB_PASSWORD", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PASSWORD")
}

func TestLoad_RejectsBadTOTPKey(t *testing.T) {
	t.Setenv("DB_PASSWORD", "testpassword")
	t.Setenv("TOTP_ENCRYPTION_KEY", "nothex")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("TOTP_ENCRYPTION_KEY", "abcd") // too short
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("TOTP_ENCRYPTION_KEY", strings.Repeat("ab", 32))
	cfg, err := Load()
	require.NoError(t, err)
	assert.Len(t, cfg.Auth.TOTPEncryptionKey, 32)
}

func TestLoad_TOTPKeyRequiredInProduction(t *testing.T) {
	t.Setenv("DB_PASSWORD", "testpassword")
	t.Setenv("ENV", "production")
	t.Setenv("TOTP_ENCRYPTION_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOTP_ENCRYPTION_KEY")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_PASSWORD", "testpassword")
	t.Setenv("LOCKOUT_THRESHOLD", "3")
	t.Setenv("LOCKOUT_DURATION", "15m")
	t.Setenv("MAX_CONCURRENT_SESSIONS", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Auth.LockoutThreshold)
	assert.Equal(t, 15*time.Minute, cfg.Auth.LockoutDuration)
	assert.Equal(t, 2, cfg.Auth.MaxConcurrentSessions)
}

func TestLoad_EmailRequiresFromAddress(t *testing.T) {
	t.Setenv("DB_PASSWORD", "testpassword")
	t.Setenv("EMAIL_ENABLED", "true")
	t.Setenv("EMAIL_FROM_ADDRESS", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMAIL_FROM_ADDRESS")
}

func TestDSN(t *testing.T) {
	cfg := &DatabaseConfig{
		Host: "localhost", Port: 5432, User: "postgres",
		Password: "secret", Name: "sentra", SSLMode: "disable",
	}

	dsn := cfg.DSN()
	assert.Contains(t, dsn, "host=localhost")
	assert.Contains(t, dsn, "dbname=sentra")
}
