package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sentra-auth/sentra/internal/auth"
	"github.com/sentra-auth/sentra/internal/background"
	"github.com/sentra-auth/sentra/internal/config"
	"github.com/sentra-auth/sentra/internal/database"
	"github.com/sentra-auth/sentra/internal/handlers"
	middlewareCustom "github.com/sentra-auth/sentra/internal/middleware"
	"github.com/sentra-auth/sentra/internal/models"
	"github.com/sentra-auth/sentra/internal/repositories"
	"github.com/sentra-auth/sentra/internal/reputation"
	"github.com/sentra-auth/sentra/internal/routes"
	"github.com/sentra-auth/sentra/internal/services"
	pkgauth "github.com/sentra-auth/sentra/pkg/auth"
	pkghttp "github.com/sentra-auth/sentra/pkg/http"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// IP reputation store (Redis). A dead Redis degrades the risk
	// engine and skips blacklist writes; it never blocks login.
	repStore := reputation.NewStore(&cfg.Redis, logger)
	defer repStore.Close()
	{
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := repStore.Ping(pingCtx); err != nil {
			logger.Warn("reputation store unreachable, risk signals degraded", slog.Any("error", err))
		}
		cancel()
	}

	// Repositories
	accountRepo := repositories.NewAccountRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)
	threatRepo := repositories.NewThreatRepository(db)
	resetRepo := repositories.NewPasswordResetRepository(db)

	// Email delivery
	var emailService services.EmailService
	if cfg.Email.Enabled {
		emailService, err = services.NewAWSSESEmailService(cfg.Email.AWSRegion, cfg.Email.FromAddress, cfg.Email.ResetURLBase, logger)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		emailService = services.NewNoopEmailService(logger)
	}

	// TOTP secret encryption
	totpManager, err := auth.NewTOTPManager(cfg.Auth.TOTPEncryptionKey, cfg.Auth.TOTPIssuer)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}

	// Services
	auditService := services.NewAuditService(eventRepo, logger)
	defer auditService.Close()

	lockoutService := services.NewLockoutService(accountRepo, auditService, emailService, cfg.Auth.LockoutThreshold, cfg.Auth.LockoutDuration, logger)

	sessionService := services.NewSessionService(sessionRepo, accountRepo, auditService, services.SessionPolicy{
		TTL:             cfg.Auth.SessionTTL,
		RememberMeTTL:   cfg.Auth.RememberMeTTL,
		MaxStandard:     cfg.Auth.MaxConcurrentSessions,
		FingerprintSalt: cfg.Auth.FingerprintSalt,
	}, logger)

	twoFactorService := services.NewTwoFactorService(accountRepo, totpManager, sessionService, auditService, logger)

	riskService := services.NewRiskService(sessionRepo, eventRepo, repStore, threatRepo, cfg.Risk, logger)

	authService, err := services.NewAuthService(
		accountRepo,
		lockoutService,
		sessionService,
		twoFactorService,
		riskService,
		auditService,
		emailService,
		resetRepo,
		threatRepo,
		repStore,
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
		logger.Error("failed to initialize auth service", slog.Any("error", err))
		os.Exit(1)
	}

	adminService := services.NewAdminService(lockoutService, auditService, threatRepo, repStore, logger)

	// Handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	cookieConfig := auth.CookieConfig{
		Secure:   cfg.Server.Env == "production",
		SameSite: "strict",
	}

	authHandler := handlers.NewAuthHandler(authService, sessionService, ipConfig, cookieConfig)
	twoFactorHandler := handlers.NewTwoFactorHandler(twoFactorService, ipConfig)
	sessionHandler := handlers.NewSessionHandler(sessionService, ipConfig)
	adminHandler := handlers.NewAdminHandler(adminService, ipConfig)

	// Bootstrap first admin account if configured
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminAccount(bootCtx, accountRepo, logger); err != nil {
		logger.Error("failed to ensure admin account", slog.Any("error", err))
	}
	bootCancel()

	// Router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.NewCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, twoFactorHandler, sessionHandler, adminHandler, sessionService)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(
		sessionRepo,
		resetRepo,
		eventRepo,
		logger,
		cfg.Auth.CleanupInterval,
		cfg.Auth.EventRetention,
		24*time.Hour,
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	// Drain buffered audit events before exit
	auditService.Close()

	logger.Info("server stopped gracefully")
}

// ensureAdminAccount creates the first admin account if ADMIN_EMAIL and
// ADMIN_PASSWORD are set
func ensureAdminAccount(ctx context.Context, accountRepo *repositories.AccountRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin account creation")
		return nil
	}

	_, err := accountRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin account already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &models.Account{
		Email:        adminEmail,
		PasswordHash: hashedPassword,
		Name:         "Admin",
		AdminLevel:   models.LevelAdmin,
		Status:       models.AccountStatusActive,
	}

	if _, err := accountRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	}

	logger.Info("admin account created")
	return nil
}
