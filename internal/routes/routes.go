package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/sentra-auth/sentra/internal/auth"
	"github.com/sentra-auth/sentra/internal/handlers"
	"github.com/sentra-auth/sentra/internal/middleware"
	"github.com/sentra-auth/sentra/internal/models"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	twoFactorHandler *handlers.TwoFactorHandler,
	sessionHandler *handlers.SessionHandler,
	adminHandler *handlers.AdminHandler,
	authenticator auth.SessionAuthenticator,
) {
	loginLimit := middleware.RateLimitByIP(middleware.DefaultLoginRateLimit())
	resetLimit := middleware.RateLimitByIP(middleware.DefaultResetRateLimit())

	// Public routes, rate limited per IP
	router.With(loginLimit).Post("/auth/login", authHandler.Login)
	router.With(loginLimit).Post("/auth/admin/login", authHandler.AdminLogin)
	router.With(resetLimit).Post("/auth/forgot-password", authHandler.ForgotPassword)
	router.With(resetLimit).Post("/auth/reset-password", authHandler.ResetPassword)

	// Authenticated routes
	router.Group(func(r chi.Router) {
		r.Use(auth.SessionMiddleware(authenticator))

		r.Post("/auth/logout", authHandler.Logout)
		r.Post("/auth/change-password", authHandler.ChangePassword)

		r.Post("/auth/setup-2fa", twoFactorHandler.BeginSetup)
		r.Post("/auth/verify-2fa", twoFactorHandler.ConfirmSetup)
		r.Post("/auth/regenerate-backup-codes", twoFactorHandler.RegenerateBackupCodes)
		r.Post("/auth/disable-2fa", twoFactorHandler.Disable)

		r.Get("/auth/sessions", sessionHandler.List)
		r.Delete("/auth/sessions", sessionHandler.RevokeAll)
		r.Delete("/auth/sessions/{id}", sessionHandler.Revoke)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireLevel(models.LevelAdmin))

			r.Post("/admin/accounts/{id}/unlock", adminHandler.UnlockAccount)
			r.Get("/admin/security-events", adminHandler.SecurityEvents)
			r.Get("/admin/threats", adminHandler.Threats)
			r.Post("/admin/threats/{id}/mitigate", adminHandler.MitigateThreat)
		})
	})
}
