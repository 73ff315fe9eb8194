package handlers_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sentra-auth/sentra/internal/auth"
	"github.com/sentra-auth/sentra/internal/handlers"
	"github.com/sentra-auth/sentra/internal/models"
	pkghttp "github.com/sentra-auth/sentra/pkg/http"
)

func newTwoFactorHandler(svc *handlers.MockTwoFactorService) *handlers.TwoFactorHandler {
	if svc == nil {
		svc = &handlers.MockTwoFactorService{}
	}
	return handlers.NewTwoFactorHandler(svc, &pkghttp.IPConfig{})
}

func TestBeginSetup_Success(t *testing.T) {
	account := handlers.TestAccount(models.LevelViewer)
	mock := &handlers.MockTwoFactorService{
		BeginSetupFunc: func(ctx context.Context, a *models.Account, password string) (*auth.SetupMaterial, []string, error) {
			assert.Equal(t, "correct-password", password)
			return &auth.SetupMaterial{
				Secret:          "JBSWY3DPEHPK3PXP",
				ProvisioningURI: "otpauth://totp/sentra:user@example.com?secret=JBSWY3DPEHPK3PXP",
				QRCodeDataURL:   "data:image/png;base64,abc",
			}, []string{"aaaa-bbbb", "cccc-dddd"}, nil
		},
	}

	handler := newTwoFactorHandler(mock)
	req := handlers.NewTestRequest(t, "POST", "/auth/setup-2fa", handlers.BeginSetupRequest{
		Password: "correct-password",
	})
	req = handlers.WithSessionContext(req, account, handlers.TestSession(account.ID))

	w := httptest.NewRecorder()
	handler.BeginSetup(w, req)

	var resp handlers.SetupResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", resp.Secret)
	assert.Contains(t, resp.ProvisioningURI, "otpauth://")
	assert.NotEmpty(t, resp.QRCode)
	assert.Equal(t, []string{"aaaa-bbbb", "cccc-dddd"}, resp.BackupCodes)
}

func TestBeginSetup_WrongPassword(t *testing.T) {
	account := handlers.TestAccount(models.LevelViewer)
	mock := &handlers.MockTwoFactorService{
		BeginSetupFunc: func(ctx context.Context, a *models.Account, password string) (*auth.SetupMaterial, []string, error) {
			return nil, nil, models.ErrUnauthorized
		},
	}

	handler := newTwoFactorHandler(mock)
	req := handlers.NewTestRequest(t, "POST", "/auth/setup-2fa", handlers.BeginSetupRequest{
		Password: "wrong-password",
	})
	req = handlers.WithSessionContext(req, account, handlers.TestSession(account.ID))

	w := httptest.NewRecorder()
	handler.BeginSetup(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestBeginSetup_Unauthenticated(t *testing.T) {
	handler := newTwoFactorHandler(nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/setup-2fa", handlers.BeginSetupRequest{
		Password: "whatever-password",
	})

	w := httptest.NewRecorder()
	handler.BeginSetup(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestConfirmSetup_Success(t *testing.T) {
	account := handlers.TestAccount(models.LevelViewer)
	mock := &handlers.MockTwoFactorService{
		ConfirmSetupFunc: func(ctx context.Context, a *models.Account, code, ip, userAgent string) error {
			assert.Equal(t, "123456", code)
			return nil
		},
	}

	handler := newTwoFactorHandler(mock)
	req := handlers.NewTestRequest(t, "POST", "/auth/verify-2fa", handlers.ConfirmSetupRequest{
		Code: "123456",
	})
	req = handlers.WithSessionContext(req, account, handlers.TestSession(account.ID))

	w := httptest.NewRecorder()
	handler.ConfirmSetup(w, req)

	var resp map[string]string
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.NotEmpty(t, resp["message"])
}

func TestConfirmSetup_RejectsNonNumericCode(t *testing.T) {
	account := handlers.TestAccount(models.LevelViewer)
	handler := newTwoFactorHandler(nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/verify-2fa", handlers.ConfirmSetupRequest{
		Code: "abc123",
	})
	req = handlers.WithSessionContext(req, account, handlers.TestSession(account.ID))

	w := httptest.NewRecorder()
	handler.ConfirmSetup(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestConfirmSetup_BadCode(t *testing.T) {
	account := handlers.TestAccount(models.LevelViewer)
	mock := &handlers.MockTwoFactorService{
		ConfirmSetupFunc: func(ctx context.Context, a *models.Account, code, ip, userAgent string) error {
			return models.ErrInvalidTwoFactor
		},
	}

	handler := newTwoFactorHandler(mock)
	req := handlers.NewTestRequest(t, "POST", "/auth/verify-2fa", handlers.ConfirmSetupRequest{
		Code: "000000",
	})
	req = handlers.WithSessionContext(req, account, handlers.TestSession(account.ID))

	w := httptest.NewRecorder()
	handler.ConfirmSetup(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestRegenerateBackupCodes_Success(t *testing.T) {
	account := handlers.TestAccount(models.LevelViewer)
	mock := &handlers.MockTwoFactorService{
		RegenerateBackupCodesFunc: func(ctx context.Context, a *models.Account, code, ip, userAgent string) ([]string, error) {
			return []string{"eeee-ffff"}, nil
		},
	}

	handler := newTwoFactorHandler(mock)
	req := handlers.NewTestRequest(t, "POST", "/auth/regenerate-backup-codes", handlers.RegenerateRequest{
		Code: "654321",
	})
	req = handlers.WithSessionContext(req, account, handlers.TestSession(account.ID))

	w := httptest.NewRecorder()
	handler.RegenerateBackupCodes(w, req)

	var resp handlers.BackupCodesResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, []string{"eeee-ffff"}, resp.BackupCodes)
}

func TestDisable_AcceptsBackupCode(t *testing.T) {
	account := handlers.TestAccount(models.LevelViewer)
	session := handlers.TestSession(account.ID)
	mock := &handlers.MockTwoFactorService{
		DisableFunc: func(ctx context.Context, a *models.Account, password, code string, s *models.Session) error {
			assert.Equal(t, "aaaa-bbbb-cccc", code)
			return nil
		},
	}

	handler := newTwoFactorHandler(mock)
	req := handlers.NewTestRequest(t, "POST", "/auth/disable-2fa", handlers.DisableRequest{
		Password: "correct-password",
		Code:     "aaaa-bbbb-cccc",
	})
	req = handlers.WithSessionContext(req, account, session)

	w := httptest.NewRecorder()
	handler.Disable(w, req)

	handlers.AssertJSONResponse(t, w, 200, nil)
}

func TestDisable_NotEnabled(t *testing.T) {
	account := handlers.TestAccount(models.LevelViewer)
	session := handlers.TestSession(account.ID)
	mock := &handlers.MockTwoFactorService{
		DisableFunc: func(ctx context.Context, a *models.Account, password, code string, s *models.Session) error {
			return models.ErrTwoFactorNotEnabled
		},
	}

	handler := newTwoFactorHandler(mock)
	req := handlers.NewTestRequest(t, "POST", "/auth/disable-2fa", handlers.DisableRequest{
		Password: "correct-password",
		Code:     "123456",
	})
	req = handlers.WithSessionContext(req, account, session)

	w := httptest.NewRecorder()
	handler.Disable(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}
