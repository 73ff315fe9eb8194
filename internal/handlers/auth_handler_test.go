package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sentra-auth/sentra/internal/auth"
	"github.com/sentra-auth/sentra/internal/handlers"
	"github.com/sentra-auth/sentra/internal/models"
	"github.com/sentra-auth/sentra/internal/services"
	pkghttp "github.com/sentra-auth/sentra/pkg/http"
)

func newAuthHandler(authSvc *handlers.MockAuthService, sessions *handlers.MockSessionService) *handlers.AuthHandler {
	if authSvc == nil {
		authSvc = &handlers.MockAuthService{}
	}
	if sessions == nil {
		sessions = &handlers.MockSessionService{}
	}
	return handlers.NewAuthHandler(authSvc, sessions, &pkghttp.IPConfig{}, auth.CookieConfig{})
}

func loginResult(account *models.Account) *services.LoginResult {
	session := handlers.TestSession(account.ID)
	return &services.LoginResult{
		Account:      account,
		Session:      session,
		SessionToken: "plaintext-session-token",
		Risk:         services.Assessment{Score: 10, Level: "low"},
	}
}

func TestLogin_Success(t *testing.T) {
	account := handlers.TestAccount(models.LevelViewer)
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
			assert.Equal(t, "user@example.com", req.Email)
			return loginResult(account), nil
		},
	}

	handler := newAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    "User@Example.com",
		Password: "correct-password",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	var resp handlers.LoginResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "plaintext-session-token", resp.SessionToken)
	assert.Equal(t, account.Email, resp.Account.Email)
	assert.Equal(t, "low", resp.Risk.Level)

	// The session token also lands in a cookie for browser clients.
	cookies := w.Result().Cookies()
	var found bool
	for _, c := range cookies {
		if c.Name == auth.SessionCookieName {
			found = true
			assert.Equal(t, "plaintext-session-token", c.Value)
			assert.True(t, c.HttpOnly)
		}
	}
	assert.True(t, found, "session cookie should be set")
}

func TestLogin_AuthenticationFailed(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
			return nil, models.ErrUnauthorized
		},
	}

	handler := newAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "wrongpassword",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestLogin_AccountStateErrors_CollapseToGeneric(t *testing.T) {
	// Disabled and suspended accounts fail identically to wrong
	// passwords so responses never confirm an account exists.
	accountErrors := []error{
		models.ErrAccountDisabled,
		models.ErrAccountSuspended,
		models.ErrInvalidTwoFactor,
	}

	for _, accountErr := range accountErrors {
		mockAuth := &handlers.MockAuthService{
			LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
				return nil, accountErr
			},
		}

		handler := newAuthHandler(mockAuth, nil)
		req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
			Email:    "user@example.com",
			Password: "password1234",
		})

		w := httptest.NewRecorder()
		handler.Login(w, req)

		handlers.AssertErrorResponse(t, w, 401, "unauthorized")

		var resp pkghttp.ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.Equal(t, "Authentication failed", resp.Message)
	}
}

func TestLogin_Locked(t *testing.T) {
	unlockAt := time.Now().UTC().Add(30 * time.Minute)
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
			return nil, &models.AccountLockedError{UnlockAt: unlockAt}
		},
	}

	handler := newAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "password1234",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	var resp struct {
		Error    string `json:"error"`
		UnlockAt string `json:"unlock_at"`
	}
	handlers.AssertJSONResponse(t, w, http.StatusLocked, &resp)
	assert.Equal(t, "account_locked", resp.Error)
	assert.Equal(t, unlockAt.Format(time.RFC3339), resp.UnlockAt)
}

func TestLogin_TwoFactorRequired(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
			return nil, models.ErrTwoFactorRequired
		},
	}

	handler := newAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "password1234",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, 401, "two_factor_required")
}

func TestLogin_InvalidEmail(t *testing.T) {
	handler := newAuthHandler(nil, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    "not-an-email",
		Password: "password1234",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestLogin_MalformedBody(t *testing.T) {
	handler := newAuthHandler(nil, nil)
	req := httptest.NewRequest("POST", "/auth/login", nil)

	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestAdminLogin_PassesMinimumLevel(t *testing.T) {
	admin := handlers.TestAccount(models.LevelAdmin)
	var gotLevel models.AdminLevel
	mockAuth := &handlers.MockAuthService{
		AdminLoginFunc: func(ctx context.Context, req services.LoginRequest, minLevel models.AdminLevel) (*services.LoginResult, error) {
			gotLevel = minLevel
			return loginResult(admin), nil
		},
	}

	handler := newAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/admin/login", handlers.LoginRequest{
		Email:    "admin@example.com",
		Password: "password1234",
	})

	w := httptest.NewRecorder()
	handler.AdminLogin(w, req)

	var resp handlers.LoginResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, models.LevelAdmin, gotLevel)
}

func TestAdminLogin_InsufficientPrivileges(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		AdminLoginFunc: func(ctx context.Context, req services.LoginRequest, minLevel models.AdminLevel) (*services.LoginResult, error) {
			return nil, models.ErrForbidden
		},
	}

	handler := newAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/admin/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "password1234",
	})

	w := httptest.NewRecorder()
	handler.AdminLogin(w, req)

	handlers.AssertErrorResponse(t, w, 403, "forbidden")
}

func TestLogout_Success(t *testing.T) {
	account := handlers.TestAccount(models.LevelViewer)
	session := handlers.TestSession(account.ID)

	var loggedOut bool
	mockSessions := &handlers.MockSessionService{
		LogoutFunc: func(ctx context.Context, s *models.Session) error {
			loggedOut = true
			assert.Equal(t, session.ID, s.ID)
			return nil
		},
	}

	handler := newAuthHandler(nil, mockSessions)
	req := handlers.NewTestRequest(t, "POST", "/auth/logout", nil)
	req = handlers.WithSessionContext(req, account, session)

	w := httptest.NewRecorder()
	handler.Logout(w, req)

	handlers.AssertJSONResponse(t, w, 200, nil)
	assert.True(t, loggedOut)

	// The cookie is cleared on the way out.
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			assert.Empty(t, c.Value)
			assert.Negative(t, c.MaxAge)
		}
	}
}

func TestLogout_Unauthenticated(t *testing.T) {
	handler := newAuthHandler(nil, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/logout", nil)

	w := httptest.NewRecorder()
	handler.Logout(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestChangePassword_Success(t *testing.T) {
	account := handlers.TestAccount(models.LevelViewer)
	session := handlers.TestSession(account.ID)

	mockAuth := &handlers.MockAuthService{
		ChangePasswordFunc: func(ctx context.Context, a *models.Account, s *models.Session, currentPassword, newPassword string) error {
			assert.Equal(t, "old-password-123", currentPassword)
			assert.Equal(t, "new-password-456", newPassword)
			return nil
		},
	}

	handler := newAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/change-password", handlers.ChangePasswordRequest{
		CurrentPassword: "old-password-123",
		NewPassword:     "new-password-456",
	})
	req = handlers.WithSessionContext(req, account, session)

	w := httptest.NewRecorder()
	handler.ChangePassword(w, req)

	handlers.AssertJSONResponse(t, w, 200, nil)
}

func TestChangePassword_PolicyViolation(t *testing.T) {
	account := handlers.TestAccount(models.LevelViewer)
	session := handlers.TestSession(account.ID)

	mockAuth := &handlers.MockAuthService{
		ChangePasswordFunc: func(ctx context.Context, a *models.Account, s *models.Session, currentPassword, newPassword string) error {
			return &models.PasswordPolicyError{Violations: []string{"too short"}}
		},
	}

	handler := newAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/change-password", handlers.ChangePasswordRequest{
		CurrentPassword: "old-password-123",
		NewPassword:     "short",
	})
	req = handlers.WithSessionContext(req, account, session)

	w := httptest.NewRecorder()
	handler.ChangePassword(w, req)

	handlers.AssertErrorResponse(t, w, 400, "password_policy")
}

func TestForgotPassword_AlwaysSaysOK(t *testing.T) {
	// The response shape and status are identical whether or not the
	// email maps to an account.
	for _, serviceErr := range []error{nil, models.ErrInternalServer} {
		mockAuth := &handlers.MockAuthService{
			ForgotPasswordFunc: func(ctx context.Context, email, ip, userAgent string) error {
				return serviceErr
			},
		}

		handler := newAuthHandler(mockAuth, nil)
		req := handlers.NewTestRequest(t, "POST", "/auth/forgot-password", handlers.ForgotPasswordRequest{
			Email: "maybe-registered@example.com",
		})

		w := httptest.NewRecorder()
		handler.ForgotPassword(w, req)

		var resp map[string]string
		handlers.AssertJSONResponse(t, w, 200, &resp)
		assert.NotEmpty(t, resp["message"])
	}
}

func TestResetPassword_InvalidToken(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		ResetPasswordFunc: func(ctx context.Context, token, newPassword, ip, userAgent string) error {
			return models.ErrResetTokenInvalid
		},
	}

	handler := newAuthHandler(mockAuth, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/reset-password", handlers.ResetPasswordRequest{
		Token:       "burned-or-bogus",
		NewPassword: "new-password-456",
	})

	w := httptest.NewRecorder()
	handler.ResetPassword(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}
