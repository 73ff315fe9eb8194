package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sentra-auth/sentra/internal/database"
	"github.com/sentra-auth/sentra/internal/models"
)

// SessionRepository handles session persistence. All state changes that
// race against the concurrent-session cap run inside one transaction
// with the account's active rows locked.
type SessionRepository struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, account_id, token_hash, device_fingerprint, ip_address, user_agent,
	remember_me, created_at, last_activity_at, expires_at, active, ended_at, ended_reason`

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var s models.Session

	err := scanner.Scan(
		&s.ID, &s.AccountID, &s.TokenHash, &s.DeviceFingerprint, &s.IPAddress, &s.UserAgent,
		&s.RememberMe, &s.CreatedAt, &s.LastActivityAt, &s.ExpiresAt,
		&s.Active, &s.EndedAt, &s.EndedReason,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &s, nil
}

func scanSessionRows(rows pgx.Rows) ([]*models.Session, error) {
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		session, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// CreateWithEviction inserts the session and, when the account is at
// the cap of active standard sessions, ends the chronologically oldest
// one first. Both steps happen in one transaction over locked rows so
// two concurrent creations cannot both pass the cap check. Remember-me
// sessions skip the eviction trigger but still count in reporting.
// Returns the created session and the evicted session id, if any.
func (r *SessionRepository) CreateWithEviction(ctx context.Context, session *models.Session, maxStandard int) (*models.Session, string, error) {
	session.ID = uuid.New().String()

	var created *models.Session
	var evictedID string

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if !session.RememberMe {
			rows, err := tx.Query(ctx, `
				SELECT id FROM sessions
				WHERE account_id = $1 AND active = true AND remember_me = false AND expires_at > now()
				ORDER BY created_at ASC
				FOR UPDATE
			`, session.AccountID)
			if err != nil {
				return err
			}

			activeIDs := make([]string, 0, maxStandard+1)
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return err
				}
				activeIDs = append(activeIDs, id)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}

			if len(activeIDs) >= maxStandard {
				// Oldest-first eviction, deterministic by created_at
				evictedID = activeIDs[0]
				_, err := tx.Exec(ctx, `
					UPDATE sessions
					SET active = false, ended_at = now(), ended_reason = $2
					WHERE id = $1
				`, evictedID, models.SessionEndEvicted)
				if err != nil {
					return err
				}
			}
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO sessions (id, account_id, token_hash, device_fingerprint, ip_address, user_agent,
				remember_me, created_at, last_activity_at, expires_at, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, true)
			RETURNING `+sessionColumns,
			session.ID, session.AccountID, session.TokenHash, session.DeviceFingerprint,
			session.IPAddress, session.UserAgent, session.RememberMe,
			session.CreatedAt, session.LastActivityAt, session.ExpiresAt,
		)

		var err error
		created, err = scanSessionRow(row)
		return err
	})
	if err != nil {
		return nil, "", database.MapPostgresError(err)
	}

	return created, evictedID, nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSessionRow(r.db.Pool.QueryRow(ctx, query, id))
}

func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE token_hash = $1`
	return scanSessionRow(r.db.Pool.QueryRow(ctx, query, tokenHash))
}

// ListActive returns all active sessions for an account, newest first.
// Remember-me sessions are included: exempt from the cap, counted in
// reporting.
func (r *SessionRepository) ListActive(ctx context.Context, accountID string) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE account_id = $1 AND active = true AND expires_at > now()
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}

	return scanSessionRows(rows)
}

// TouchActivity updates last_activity_at only. The absolute expiry is
// fixed at creation and never moves.
func (r *SessionRepository) TouchActivity(ctx context.Context, id string) error {
	query := `
		UPDATE sessions SET last_activity_at = now()
		WHERE id = $1 AND active = true AND expires_at > now()
	`

	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// End marks a session inactive with the given reason. Ending an
// already-ended session is a no-op, which keeps expiry marking and
// revocation idempotent.
func (r *SessionRepository) End(ctx context.Context, id, reason string) error {
	query := `
		UPDATE sessions
		SET active = false, ended_at = now(), ended_reason = $2
		WHERE id = $1 AND active = true
	`

	_, err := r.db.Pool.Exec(ctx, query, id, reason)
	return database.MapPostgresError(err)
}

// EndAll ends every active session for an account, optionally sparing
// one (the caller's own). Returns the number of sessions ended.
func (r *SessionRepository) EndAll(ctx context.Context, accountID, exceptID, reason string) (int64, error) {
	// An empty exceptID means spare nothing; it must be bound as NULL
	// because an empty string is not a valid uuid.
	var except *string
	if exceptID != "" {
		except = &exceptID
	}

	query := `
		UPDATE sessions
		SET active = false, ended_at = now(), ended_reason = $3
		WHERE account_id = $1 AND active = true
		  AND ($2::uuid IS NULL OR id <> $2)
	`

	result, err := r.db.Pool.Exec(ctx, query, accountID, except, reason)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// HasRecentFingerprint reports whether the device fingerprint was seen
// for this account within the lookback window, on any session.
func (r *SessionRepository) HasRecentFingerprint(ctx context.Context, accountID, fingerprint string, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM sessions
			WHERE account_id = $1 AND device_fingerprint = $2 AND created_at >= $3
		)
	`

	var seen bool
	err := r.db.Pool.QueryRow(ctx, query, accountID, fingerprint, since).Scan(&seen)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return seen, nil
}

// SweepExpired marks sessions past their expiry as ended. Idempotent;
// safe to run concurrently with live traffic since it only touches rows
// already past their terminal condition.
func (r *SessionRepository) SweepExpired(ctx context.Context) (int64, error) {
	query := `
		UPDATE sessions
		SET active = false, ended_at = now(), ended_reason = $1
		WHERE active = true AND expires_at <= now()
	`

	result, err := r.db.Pool.Exec(ctx, query, models.SessionEndExpired)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
