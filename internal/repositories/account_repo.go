package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sentra-auth/sentra/internal/database"
	"github.com/sentra-auth/sentra/internal/models"
)

type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{pool: db.Pool}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const accountColumns = `id, email, name, password_hash, admin_level, status,
	failed_attempts, locked_until, two_factor_enabled, two_factor_secret, two_factor_nonce,
	password_changed_at, requires_password_change, last_login_at, login_count, created_at, updated_at`

// scanAccountRow handles nullable fields and populates an Account model
func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var account models.Account
	var levelName string
	var lockedUntil, passwordChangedAt, lastLoginAt *time.Time

	err := scanner.Scan(
		&account.ID, &account.Email, &account.Name, &account.PasswordHash,
		&levelName, &account.Status,
		&account.FailedAttempts, &lockedUntil,
		&account.TwoFactorEnabled, &account.TwoFactorSecret, &account.TwoFactorNonce,
		&passwordChangedAt, &account.RequiresPasswordChange,
		&lastLoginAt, &account.LoginCount,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	level, err := models.ParseAdminLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", account.ID, err)
	}
	account.AdminLevel = level
	account.LockedUntil = lockedUntil
	account.PasswordChangedAt = passwordChangedAt
	account.LastLoginAt = lastLoginAt

	return &account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccountRow(r.pool.QueryRow(ctx, query, id))
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccountRow(r.pool.QueryRow(ctx, query, email))
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	account.ID = uuid.New().String()

	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	if account.Status == "" {
		account.Status = models.AccountStatusActive
	}

	query := `
		INSERT INTO accounts (id, email, name, password_hash, admin_level, status,
			password_changed_at, requires_password_change, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + accountColumns

	return scanAccountRow(r.pool.QueryRow(ctx, query,
		account.ID, account.Email, account.Name, account.PasswordHash,
		account.AdminLevel.String(), account.Status,
		account.PasswordChangedAt, account.RequiresPasswordChange,
		account.CreatedAt, account.UpdatedAt,
	))
}

// IncrementFailedAttempts applies one failed-attempt transition under
// row-level atomicity: the increment, the threshold comparison, and the
// lockout assignment happen in a single conditional statement, so two
// concurrent failures cannot both observe the pre-threshold count. The
// WHERE clause skips accounts whose lock is still in force.
// Returns (attempts, lockedUntil) after the increment, or ErrNotFound
// when the row was locked or missing.
func (r *AccountRepository) IncrementFailedAttempts(ctx context.Context, id string, threshold int, lockUntil time.Time) (int, *time.Time, error) {
	query := `
		UPDATE accounts
		SET failed_attempts = failed_attempts + 1,
		    locked_until = CASE WHEN failed_attempts + 1 >= $2 THEN $3 ELSE locked_until END,
		    updated_at = now()
		WHERE id = $1 AND (locked_until IS NULL OR locked_until <= now())
		RETURNING failed_attempts, locked_until
	`

	var attempts int
	var lockedUntil *time.Time
	err := r.pool.QueryRow(ctx, query, id, threshold, lockUntil).Scan(&attempts, &lockedUntil)
	if err != nil {
		return 0, nil, database.MapPostgresError(err)
	}

	return attempts, lockedUntil, nil
}

// ResetIfLockExpired performs the lazy unlock: when the stored lock has
// elapsed, the counter and lock are cleared in one statement. Returns
// true when a reset happened.
func (r *AccountRepository) ResetIfLockExpired(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE accounts
		SET failed_attempts = 0, locked_until = NULL, updated_at = now()
		WHERE id = $1 AND locked_until IS NOT NULL AND locked_until <= now()
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() > 0, nil
}

// RecordSuccessfulAuth resets the failure counter, clears any lock, and
// bumps the login bookkeeping in one statement.
func (r *AccountRepository) RecordSuccessfulAuth(ctx context.Context, id string) error {
	query := `
		UPDATE accounts
		SET failed_attempts = 0, locked_until = NULL,
		    last_login_at = now(), login_count = login_count + 1,
		    updated_at = now()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ClearLockout is the explicit admin unlock, independent of elapsed time.
func (r *AccountRepository) ClearLockout(ctx context.Context, id string) error {
	query := `
		UPDATE accounts
		SET failed_attempts = 0, locked_until = NULL, updated_at = now()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdatePassword swaps the password hash, stamps the change time, and
// archives the previous hash into the history table in one transaction.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id, newHash string, keepHistory int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return database.MapPostgresError(err)
	}
	defer tx.Rollback(ctx)

	var oldHash string
	err = tx.QueryRow(ctx, `SELECT password_hash FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&oldHash)
	if err != nil {
		return database.MapPostgresError(err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE accounts
		SET password_hash = $2, password_changed_at = now(),
		    requires_password_change = false, updated_at = now()
		WHERE id = $1
	`, id, newHash)
	if err != nil {
		return database.MapPostgresError(err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO password_history (id, account_id, password_hash, created_at)
		VALUES ($1, $2, $3, now())
	`, uuid.New().String(), id, oldHash)
	if err != nil {
		return database.MapPostgresError(err)
	}

	// Trim history beyond the last K entries
	_, err = tx.Exec(ctx, `
		DELETE FROM password_history
		WHERE account_id = $1 AND id NOT IN (
			SELECT id FROM password_history
			WHERE account_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		)
	`, id, keepHistory)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return tx.Commit(ctx)
}

// GetPasswordHistory returns the account's most recent password hashes,
// newest first, including the current one.
func (r *AccountRepository) GetPasswordHistory(ctx context.Context, id string, limit int) ([]string, error) {
	query := `
		SELECT password_hash FROM password_history
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query password history: %w", err)
	}
	defer rows.Close()

	hashes := make([]string, 0, limit)
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("failed to scan password history: %w", err)
		}
		hashes = append(hashes, hash)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating password history: %w", err)
	}

	return hashes, nil
}

// SetTwoFactorSecret stores the encrypted pending secret without
// enabling 2FA; verification flips the flag.
func (r *AccountRepository) SetTwoFactorSecret(ctx context.Context, id string, encryptedSecret, nonce []byte) error {
	query := `
		UPDATE accounts
		SET two_factor_secret = $2, two_factor_nonce = $3, two_factor_enabled = false, updated_at = now()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, encryptedSecret, nonce)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// EnableTwoFactor marks a pending secret as confirmed.
func (r *AccountRepository) EnableTwoFactor(ctx context.Context, id string) error {
	query := `
		UPDATE accounts
		SET two_factor_enabled = true, updated_at = now()
		WHERE id = $1 AND two_factor_secret IS NOT NULL
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DisableTwoFactor clears the secret and every remaining backup code in
// one transaction: no partial disable state survives a crash.
func (r *AccountRepository) DisableTwoFactor(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return database.MapPostgresError(err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE accounts
		SET two_factor_enabled = false, two_factor_secret = NULL, two_factor_nonce = NULL, updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	_, err = tx.Exec(ctx, `DELETE FROM backup_codes WHERE account_id = $1`, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return tx.Commit(ctx)
}

// ReplaceBackupCodes swaps the account's backup code set atomically.
func (r *AccountRepository) ReplaceBackupCodes(ctx context.Context, id string, codeHashes []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return database.MapPostgresError(err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `DELETE FROM backup_codes WHERE account_id = $1`, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	for _, hash := range codeHashes {
		_, err = tx.Exec(ctx, `
			INSERT INTO backup_codes (id, account_id, code_hash, created_at)
			VALUES ($1, $2, $3, now())
		`, uuid.New().String(), id, hash)
		if err != nil {
			return database.MapPostgresError(err)
		}
	}

	return tx.Commit(ctx)
}

// ConsumeBackupCode deletes the matching unused code and reports
// whether one was consumed. The delete and the match decision are the
// same statement, so a replayed code can never be accepted twice.
func (r *AccountRepository) ConsumeBackupCode(ctx context.Context, id, codeHash string) (bool, error) {
	query := `DELETE FROM backup_codes WHERE account_id = $1 AND code_hash = $2`

	result, err := r.pool.Exec(ctx, query, id, codeHash)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() > 0, nil
}

// CountBackupCodes returns the number of unused backup codes remaining.
func (r *AccountRepository) CountBackupCodes(ctx context.Context, id string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM backup_codes WHERE account_id = $1`, id).Scan(&count)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}
