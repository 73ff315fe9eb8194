package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sentra-auth/sentra/internal/database"
	"github.com/sentra-auth/sentra/internal/models"
)

// PasswordResetRepository stores single-use reset tokens by hash.
type PasswordResetRepository struct {
	db *database.DB
}

func NewPasswordResetRepository(db *database.DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

const passwordResetColumns = `id, account_id, token_hash, created_at, expires_at, used_at`

func scanPasswordResetRow(scanner rowScanner) (*models.PasswordReset, error) {
	var p models.PasswordReset

	err := scanner.Scan(
		&p.ID, &p.AccountID, &p.TokenHash,
		&p.CreatedAt, &p.ExpiresAt, &p.UsedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &p, nil
}

// Create stores a new reset token hash. Any prior unused tokens for
// the account are invalidated so only the latest email works.
func (r *PasswordResetRepository) Create(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) (*models.PasswordReset, error) {
	var created *models.PasswordReset

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE password_resets
			SET used_at = now()
			WHERE account_id = $1 AND used_at IS NULL`, accountID)
		if err != nil {
			return database.MapPostgresError(err)
		}

		query := `
			INSERT INTO password_resets (id, account_id, token_hash, created_at, expires_at)
			VALUES ($1, $2, $3, now(), $4)
			RETURNING ` + passwordResetColumns

		created, err = scanPasswordResetRow(tx.QueryRow(ctx, query, uuid.New().String(), accountID, tokenHash, expiresAt))
		return err
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (r *PasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordReset, error) {
	query := `SELECT ` + passwordResetColumns + ` FROM password_resets WHERE token_hash = $1`
	return scanPasswordResetRow(r.db.Pool.QueryRow(ctx, query, tokenHash))
}

// Consume marks the token used. It succeeds at most once per token;
// a second call reports ErrResetTokenInvalid.
func (r *PasswordResetRepository) Consume(ctx context.Context, id string) error {
	query := `
		UPDATE password_resets
		SET used_at = now()
		WHERE id = $1 AND used_at IS NULL AND expires_at > now()`

	tag, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrResetTokenInvalid
	}
	return nil
}

// DeleteExpired removes tokens past their expiry plus used tokens
// older than the retention window. Called by the cleanup manager.
func (r *PasswordResetRepository) DeleteExpired(ctx context.Context, usedRetention time.Duration) (int64, error) {
	query := `
		DELETE FROM password_resets
		WHERE expires_at <= now()
		   OR (used_at IS NOT NULL AND used_at <= now() - $1::interval)`

	tag, err := r.db.Pool.Exec(ctx, query, usedRetention)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
