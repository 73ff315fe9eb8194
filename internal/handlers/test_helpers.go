package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sentra-auth/sentra/internal/auth"
	"github.com/sentra-auth/sentra/internal/models"
	"github.com/sentra-auth/sentra/internal/services"
	pkghttp "github.com/sentra-auth/sentra/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// TestAccount returns an account fixture for handler tests
func TestAccount(level models.AdminLevel) *models.Account {
	now := time.Now().UTC()
	return &models.Account{
		ID:         "acct-1",
		Email:      "user@example.com",
		Name:       "Test User",
		AdminLevel: level,
		Status:     models.AccountStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// TestSession returns a session fixture tied to the given account
func TestSession(accountID string) *models.Session {
	now := time.Now().UTC()
	return &models.Session{
		ID:             "sess-1",
		AccountID:      accountID,
		IPAddress:      "192.0.2.1",
		UserAgent:      "test-agent",
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(12 * time.Hour),
		Active:         true,
	}
}

// WithSessionContext attaches an authenticated account and session to
// the request, the way the session middleware would.
func WithSessionContext(req *http.Request, account *models.Account, session *models.Session) *http.Request {
	return req.WithContext(auth.WithAccount(req.Context(), account, session))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc          func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error)
	AdminLoginFunc     func(ctx context.Context, req services.LoginRequest, minLevel models.AdminLevel) (*services.LoginResult, error)
	ChangePasswordFunc func(ctx context.Context, account *models.Account, currentSession *models.Session, currentPassword, newPassword string) error
	ForgotPasswordFunc func(ctx context.Context, email, ip, userAgent string) error
	ResetPasswordFunc  func(ctx context.Context, token, newPassword, ip, userAgent string) error
}

func (m *MockAuthService) Login(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, req)
}

func (m *MockAuthService) AdminLogin(ctx context.Context, req services.LoginRequest, minLevel models.AdminLevel) (*services.LoginResult, error) {
	if m.AdminLoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.AdminLoginFunc(ctx, req, minLevel)
}

func (m *MockAuthService) ChangePassword(ctx context.Context, account *models.Account, currentSession *models.Session, currentPassword, newPassword string) error {
	if m.ChangePasswordFunc == nil {
		return nil
	}
	return m.ChangePasswordFunc(ctx, account, currentSession, currentPassword, newPassword)
}

func (m *MockAuthService) ForgotPassword(ctx context.Context, email, ip, userAgent string) error {
	if m.ForgotPasswordFunc == nil {
		return nil
	}
	return m.ForgotPasswordFunc(ctx, email, ip, userAgent)
}

func (m *MockAuthService) ResetPassword(ctx context.Context, token, newPassword, ip, userAgent string) error {
	if m.ResetPasswordFunc == nil {
		return nil
	}
	return m.ResetPasswordFunc(ctx, token, newPassword, ip, userAgent)
}

// MockSessionService implements SessionServiceInterface for testing
type MockSessionService struct {
	LogoutFunc    func(ctx context.Context, session *models.Session) error
	ListFunc      func(ctx context.Context, accountID string) ([]*models.Session, error)
	RevokeFunc    func(ctx context.Context, accountID, sessionID, ip string) error
	RevokeAllFunc func(ctx context.Context, accountID, exceptID, reason, ip string) (int64, error)
}

func (m *MockSessionService) Logout(ctx context.Context, session *models.Session) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, session)
}

func (m *MockSessionService) List(ctx context.Context, accountID string) ([]*models.Session, error) {
	if m.ListFunc == nil {
		return nil, nil
	}
	return m.ListFunc(ctx, accountID)
}

func (m *MockSessionService) Revoke(ctx context.Context, accountID, sessionID, ip string) error {
	if m.RevokeFunc == nil {
		return nil
	}
	return m.RevokeFunc(ctx, accountID, sessionID, ip)
}

func (m *MockSessionService) RevokeAll(ctx context.Context, accountID, exceptID, reason, ip string) (int64, error) {
	if m.RevokeAllFunc == nil {
		return 0, nil
	}
	return m.RevokeAllFunc(ctx, accountID, exceptID, reason, ip)
}

// MockTwoFactorService implements TwoFactorServiceInterface for testing
type MockTwoFactorService struct {
	BeginSetupFunc            func(ctx context.Context, account *models.Account, password string) (*auth.SetupMaterial, []string, error)
	ConfirmSetupFunc          func(ctx context.Context, account *models.Account, code, ip, userAgent string) error
	RegenerateBackupCodesFunc func(ctx context.Context, account *models.Account, code, ip, userAgent string) ([]string, error)
	DisableFunc               func(ctx context.Context, account *models.Account, password, code string, currentSession *models.Session) error
}

func (m *MockTwoFactorService) BeginSetup(ctx context.Context, account *models.Account, password string) (*auth.SetupMaterial, []string, error) {
	if m.BeginSetupFunc == nil {
		return nil, nil, models.ErrUnauthorized
	}
	return m.BeginSetupFunc(ctx, account, password)
}

func (m *MockTwoFactorService) ConfirmSetup(ctx context.Context, account *models.Account, code, ip, userAgent string) error {
	if m.ConfirmSetupFunc == nil {
		return models.ErrInvalidTwoFactor
	}
	return m.ConfirmSetupFunc(ctx, account, code, ip, userAgent)
}

func (m *MockTwoFactorService) RegenerateBackupCodes(ctx context.Context, account *models.Account, code, ip, userAgent string) ([]string, error) {
	if m.RegenerateBackupCodesFunc == nil {
		return nil, models.ErrInvalidTwoFactor
	}
	return m.RegenerateBackupCodesFunc(ctx, account, code, ip, userAgent)
}

func (m *MockTwoFactorService) Disable(ctx context.Context, account *models.Account, password, code string, currentSession *models.Session) error {
	if m.DisableFunc == nil {
		return nil
	}
	return m.DisableFunc(ctx, account, password, code, currentSession)
}

// MockAdminService implements AdminServiceInterface for testing
type MockAdminService struct {
	UnlockAccountFunc  func(ctx context.Context, accountID string, admin *models.Account, ip string) error
	SecurityEventsFunc func(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error)
	ThreatsFunc        func(ctx context.Context, includeMitigated bool, limit, offset int) ([]*models.ThreatRecord, error)
	MitigateThreatFunc func(ctx context.Context, threatID, action string, admin *models.Account, ip string) (*models.ThreatRecord, error)
}

func (m *MockAdminService) UnlockAccount(ctx context.Context, accountID string, admin *models.Account, ip string) error {
	if m.UnlockAccountFunc == nil {
		return nil
	}
	return m.UnlockAccountFunc(ctx, accountID, admin, ip)
}

func (m *MockAdminService) SecurityEvents(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	if m.SecurityEventsFunc == nil {
		return nil, nil
	}
	return m.SecurityEventsFunc(ctx, filter)
}

func (m *MockAdminService) Threats(ctx context.Context, includeMitigated bool, limit, offset int) ([]*models.ThreatRecord, error) {
	if m.ThreatsFunc == nil {
		return nil, nil
	}
	return m.ThreatsFunc(ctx, includeMitigated, limit, offset)
}

func (m *MockAdminService) MitigateThreat(ctx context.Context, threatID, action string, admin *models.Account, ip string) (*models.ThreatRecord, error) {
	if m.MitigateThreatFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.MitigateThreatFunc(ctx, threatID, action, admin, ip)
}
