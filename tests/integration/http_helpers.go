package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sentra-auth/sentra/internal/auth"
	"github.com/sentra-auth/sentra/internal/config"
	"github.com/sentra-auth/sentra/internal/database"
	"github.com/sentra-auth/sentra/internal/handlers"
	middlewareCustom "github.com/sentra-auth/sentra/internal/middleware"
	"github.com/sentra-auth/sentra/internal/routes"
	"github.com/sentra-auth/sentra/internal/services"
	pkghttp "github.com/sentra-auth/sentra/pkg/http"
)

// SentEmail represents a captured email message
type SentEmail struct {
	To   string
	Kind string
	Body string
}

// CapturingEmailService records outbound notifications for assertions
type CapturingEmailService struct {
	mu   sync.Mutex
	Sent []SentEmail
}

func (m *CapturingEmailService) SendLockoutNotice(ctx context.Context, email string, unlockAt time.Time) error {
	m.record(email, "lockout", unlockAt.Format(time.RFC3339))
	return nil
}

func (m *CapturingEmailService) SendSuspiciousLoginNotice(ctx context.Context, email, ip, userAgent string, at time.Time) error {
	m.record(email, "suspicious_login", ip)
	return nil
}

func (m *CapturingEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.record(email, "password_reset", "Reset token: "+token)
	return nil
}

func (m *CapturingEmailService) record(to, kind, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentEmail{To: to, Kind: kind, Body: body})
}

// LastEmail returns the most recent captured email, or nil
func (m *CapturingEmailService) LastEmail() *SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return nil
	}
	return &m.Sent[len(m.Sent)-1]
}

// stubReputation stands in for Redis in integration tests. Lookups
// come back clean and writes are remembered in memory.
type stubReputation struct {
	mu      sync.Mutex
	blocked map[string]bool
}

func newStubReputation() *stubReputation {
	return &stubReputation{blocked: make(map[string]bool)}
}

func (s *stubReputation) Blacklisted(ctx context.Context, ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked[ip]
}

func (s *stubReputation) Blacklist(ctx context.Context, ip string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[ip] = true
	return nil
}

func (s *stubReputation) Unblacklist(ctx context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocked, ip)
	return nil
}

func (s *stubReputation) RecordFailure(ctx context.Context, ip string, window time.Duration) (int64, error) {
	return 0, nil
}

// TestServer wraps httptest.Server with the full service graph over a
// real database and captured email.
type TestServer struct {
	Server       *httptest.Server
	DB           *database.DB
	EmailService *CapturingEmailService
	Reputation   *stubReputation
	Audit        *services.AuditService
	Config       *config.Config

	logger *slog.Logger
}

// NewTestServer initializes a complete HTTP server with real database + captured email
func NewTestServer(db *database.DB) (*TestServer, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := &config.Config{
		Auth: config.AuthConfig{
			LockoutThreshold:      5,
			LockoutDuration:       30 * time.Minute,
			SessionTTL:            12 * time.Hour,
			RememberMeTTL:         30 * 24 * time.Hour,
			MaxConcurrentSessions: 5,
			MinPasswordLength:     12,
			MaxPasswordLength:     128,
			PasswordHistory:       5,
			TOTPEncryptionKey:     bytesRepeat(0x0f, 32),
			TOTPIssuer:            "sentra-test",
			FingerprintSalt:       "integration-salt",
			ResetTokenTTL:         time.Hour,
		},
		Risk: config.RiskConfig{
			NewDeviceWeight:      25,
			ShortUserAgentWeight: 15,
			VelocityWeight:       20,
			BlacklistWeight:      60,
			DeviceLookback:       30 * 24 * time.Hour,
			VelocityWindow:       time.Hour,
			VelocityThreshold:    10,
			MediumThreshold:      25,
			HighThreshold:        60,
		},
		Server: config.ServerConfig{
			Port:           "0",
			Env:            "test",
			AllowedOrigins: []string{},
			TrustedProxies: []string{},
		},
	}

	accountRepo, sessionRepo, eventRepo, threatRepo, resetRepo := InitializeRepositories(db)

	emailService := &CapturingEmailService{}
	reputation := newStubReputation()

	totpManager, err := auth.NewTOTPManager(cfg.Auth.TOTPEncryptionKey, cfg.Auth.TOTPIssuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create TOTP manager: %w", err)
	}

	auditService := services.NewAuditService(eventRepo, logger)
	lockoutService := services.NewLockoutService(accountRepo, auditService, emailService, cfg.Auth.LockoutThreshold, cfg.Auth.LockoutDuration, logger)
	sessionService := services.NewSessionService(sessionRepo, accountRepo, auditService, services.SessionPolicy{
		TTL:             cfg.Auth.SessionTTL,
		RememberMeTTL:   cfg.Auth.RememberMeTTL,
		MaxStandard:     cfg.Auth.MaxConcurrentSessions,
		FingerprintSalt: cfg.Auth.FingerprintSalt,
	}, logger)
	twoFactorService := services.NewTwoFactorService(accountRepo, totpManager, sessionService, auditService, logger)
	riskService := services.NewRiskService(sessionRepo, eventRepo, reputation, threatRepo, cfg.Risk, logger)

	authService, err := services.NewAuthService(
		accountRepo, lockoutService, sessionService, twoFactorService, riskService,
		auditService, emailService, resetRepo, threatRepo, reputation,
		services.AuthPolicy{
			MinPasswordLength: cfg.Auth.MinPasswordLength,
			MaxPasswordLength: cfg.Auth.MaxPasswordLength,
			PasswordHistory:   cfg.Auth.PasswordHistory,
			ResetTokenTTL:     cfg.Auth.ResetTokenTTL,
			FingerprintSalt:   cfg.Auth.FingerprintSalt,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}

	adminService := services.NewAdminService(lockoutService, auditService, threatRepo, reputation, logger)

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	cookieConfig := auth.CookieConfig{SameSite: "lax"}

	authHandler := handlers.NewAuthHandler(authService, sessionService, ipConfig, cookieConfig)
	twoFactorHandler := handlers.NewTwoFactorHandler(twoFactorService, ipConfig)
	sessionHandler := handlers.NewSessionHandler(sessionService, ipConfig)
	adminHandler := handlers.NewAdminHandler(adminService, ipConfig)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, authHandler, twoFactorHandler, sessionHandler, adminHandler, sessionService)

	server := httptest.NewServer(r)

	return &TestServer{
		Server:       server,
		DB:           db,
		EmailService: emailService,
		Reputation:   reputation,
		Audit:        auditService,
		Config:       cfg,
		logger:       logger,
	}, nil
}

// Close shuts down the test server and drains the audit pipeline
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
	if ts.Audit != nil {
		ts.Audit.Close()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithSession makes an authenticated HTTP request with a session token
func (ts *TestServer) RequestWithSession(method, path, sessionToken string, body interface{}) (*http.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + sessionToken,
	}
	return ts.Request(method, path, body, headers)
}

// Login authenticates as the given account and returns the session token
func (ts *TestServer) Login(email, password string) (string, error) {
	resp, err := ts.Request("POST", "/auth/login", map[string]interface{}{
		"email":    email,
		"password": password,
	}, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login failed with status %d", resp.StatusCode)
	}

	var loginResp struct {
		SessionToken string `json:"session_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", fmt.Errorf("failed to parse login response: %w", err)
	}

	return loginResp.SessionToken, nil
}

// ParseJSONResponse parses a JSON response body into the target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// GetErrorMessage extracts the error message from an error response
func GetErrorMessage(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	var errResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return "", err
	}
	if msg, ok := errResp["message"].(string); ok {
		return msg, nil
	}
	return "", nil
}

func bytesRepeat(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
