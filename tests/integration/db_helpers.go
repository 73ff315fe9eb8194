package integration

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sentra-auth/sentra/internal/database"
	"github.com/sentra-auth/sentra/internal/models"
	"github.com/sentra-auth/sentra/internal/repositories"
	pkgauth "github.com/sentra-auth/sentra/pkg/auth"
)

// TestDB manages a PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations, returns TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("sentra"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*1000),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	dbWrapper := database.NewWithPool(pool, slog.New(slog.NewTextHandler(os.Stderr, nil)))

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         dbWrapper,
	}, nil
}

// runMigrations executes all goose migrations
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir, err := filepath.Abs("../../migrations")
	if err != nil {
		return fmt.Errorf("failed to get migrations path: %w", err)
	}

	// Suppress goose logs
	goose.SetLogger(log.New(io.Discard, "", 0))

	// Goose needs a stdlib DB connection
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := goose.UpContext(ctx, sqlDB, migrationsDir); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"backup_codes",
		"password_history",
		"password_resets",
		"security_events",
		"threat_records",
		"sessions",
		"accounts",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// InitializeRepositories creates all repository instances from the database wrapper
func InitializeRepositories(db *database.DB) (
	*repositories.AccountRepository,
	*repositories.SessionRepository,
	*repositories.SecurityEventRepository,
	*repositories.ThreatRepository,
	*repositories.PasswordResetRepository,
) {
	return repositories.NewAccountRepository(db),
		repositories.NewSessionRepository(db),
		repositories.NewSecurityEventRepository(db),
		repositories.NewThreatRepository(db),
		repositories.NewPasswordResetRepository(db)
}

// SeedAccount inserts a test account with a hashed password
func SeedAccount(ctx context.Context, db *database.DB, email, password string, level models.AdminLevel) (*models.Account, error) {
	hashedPassword, err := pkgauth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	repo := repositories.NewAccountRepository(db)
	now := time.Now().UTC()
	return repo.Create(ctx, &models.Account{
		Email:             email,
		Name:              "Test Account",
		PasswordHash:      hashedPassword,
		AdminLevel:        level,
		Status:            models.AccountStatusActive,
		PasswordChangedAt: &now,
	})
}

// SeedLockedAccount inserts an account already under an active lockout
func SeedLockedAccount(ctx context.Context, db *database.DB, email, password string, unlockAt time.Time) (*models.Account, error) {
	account, err := SeedAccount(ctx, db, email, password, models.LevelViewer)
	if err != nil {
		return nil, err
	}

	_, err = db.Pool.Exec(ctx, `
		UPDATE accounts SET failed_attempts = 5, locked_until = $2 WHERE id = $1
	`, account.ID, unlockAt)
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}

	account.FailedAttempts = 5
	account.LockedUntil = &unlockAt
	return account, nil
}

// SeedPasswordReset inserts an unused reset token row and returns the plaintext token
func SeedPasswordReset(ctx context.Context, db *database.DB, accountID string, expiresAt time.Time) (string, error) {
	token, tokenHash, err := pkgauth.GenerateResetToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}

	repo := repositories.NewPasswordResetRepository(db)
	if _, err := repo.Create(ctx, accountID, tokenHash, expiresAt); err != nil {
		return "", fmt.Errorf("failed to insert reset token: %w", err)
	}

	return token, nil
}
