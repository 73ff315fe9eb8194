package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Auth     AuthConfig
	Risk     RiskConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
}

type AuthConfig struct {
	// Lockout policy: attempt-indexed, not time-window-indexed
	LockoutThreshold int
	LockoutDuration  time.Duration

	// Session policy
	SessionTTL            time.Duration
	RememberMeTTL         time.Duration
	MaxConcurrentSessions int

	// Credential policy
	MinPasswordLength int
	MaxPasswordLength int
	PasswordHistory   int

	// TOTP secret storage key, 32 bytes hex-encoded (AES-256)
	TOTPEncryptionKey []byte
	TOTPIssuer        string

	// Salt mixed into device fingerprints
	FingerprintSalt string

	CleanupInterval time.Duration
	EventRetention  time.Duration

	ResetTokenTTL time.Duration
}

type RiskConfig struct {
	NewDeviceWeight      int
	ShortUserAgentWeight int
	VelocityWeight       int
	BlacklistWeight      int

	DeviceLookback    time.Duration
	VelocityWindow    time.Duration
	VelocityThreshold int

	MediumThreshold int
	HighThreshold   int
}

type EmailConfig struct {
	Enabled      bool
	AWSRegion    string
	FromAddress  string
	ResetURLBase string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	totpKey, err := loadTOTPKey(env)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "sentra"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: splitAndTrim(getEnv("TRUSTED_PROXIES", "")),
		},
		Auth: AuthConfig{
			LockoutThreshold:      getEnvAsInt("LOCKOUT_THRESHOLD", 5),
			LockoutDuration:       getEnvAsDuration("LOCKOUT_DURATION", 30*time.Minute),
			SessionTTL:            getEnvAsDuration("SESSION_TTL", 12*time.Hour),
			RememberMeTTL:         getEnvAsDuration("REMEMBER_ME_TTL", 30*24*time.Hour),
			MaxConcurrentSessions: getEnvAsInt("MAX_CONCURRENT_SESSIONS", 5),
			MinPasswordLength:     getEnvAsInt("MIN_PASSWORD_LENGTH", 12),
			MaxPasswordLength:     getEnvAsInt("MAX_PASSWORD_LENGTH", 128),
			PasswordHistory:       getEnvAsInt("PASSWORD_HISTORY", 5),
			TOTPEncryptionKey:     totpKey,
			TOTPIssuer:            getEnv("TOTP_ISSUER", "sentra"),
			FingerprintSalt:       getEnv("FINGERPRINT_SALT", ""),
			CleanupInterval:       getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			EventRetention:        getEnvAsDuration("EVENT_RETENTION", 90*24*time.Hour),
			ResetTokenTTL:         getEnvAsDuration("RESET_TOKEN_TTL", 1*time.Hour),
		},
		Risk: RiskConfig{
			NewDeviceWeight:      getEnvAsInt("RISK_NEW_DEVICE_WEIGHT", 25),
			ShortUserAgentWeight: getEnvAsInt("RISK_SHORT_UA_WEIGHT", 15),
			VelocityWeight:       getEnvAsInt("RISK_VELOCITY_WEIGHT", 20),
			BlacklistWeight:      getEnvAsInt("RISK_BLACKLIST_WEIGHT", 60),
			DeviceLookback:       getEnvAsDuration("RISK_DEVICE_LOOKBACK", 30*24*time.Hour),
			VelocityWindow:       getEnvAsDuration("RISK_VELOCITY_WINDOW", 1*time.Hour),
			VelocityThreshold:    getEnvAsInt("RISK_VELOCITY_THRESHOLD", 10),
			MediumThreshold:      getEnvAsInt("RISK_MEDIUM_THRESHOLD", 25),
			HighThreshold:        getEnvAsInt("RISK_HIGH_THRESHOLD", 60),
		},
		Email: EmailConfig{
			Enabled:      getEnvAsBool("EMAIL_ENABLED", false),
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
			FromAddress:  getEnv("EMAIL_FROM_ADDRESS", ""),
			ResetURLBase: getEnv("RESET_URL_BASE", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if cfg.Auth.LockoutThreshold < 1 {
		return nil, fmt.Errorf("LOCKOUT_THRESHOLD must be at least 1")
	}
	if cfg.Auth.MaxConcurrentSessions < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_SESSIONS must be at least 1")
	}

	if cfg.Email.Enabled && cfg.Email.FromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when EMAIL_ENABLED is set")
	}

	return cfg, nil
}

// loadTOTPKey reads the hex-encoded AES-256 key used to encrypt TOTP
// secrets at rest. Development gets a fixed key so the service starts
// without setup; production must provide its own.
func loadTOTPKey(env string) ([]byte, error) {
	raw := getEnv("TOTP_ENCRYPTION_KEY", "")
	if raw == "" {
		if env == "production" {
			return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY is required in production")
		}
		raw = strings.Repeat("0f", 32)
	}

	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be hex-encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}

	return key, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{} // Default to no origins in production
		}
		return splitAndTrim(originsStr)
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
