package repositories

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sentra-auth/sentra/internal/database"
	"github.com/sentra-auth/sentra/internal/models"
)

// SecurityEventRepository is the append-only store behind the audit
// trail. There is no update and no per-row delete; PurgeOlderThan is
// the only destructive operation and belongs to the retention job.
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

const eventColumns = `id, event_type, account_id, ip_address, user_agent, detail, severity, risk_score, created_at`

func scanEventRow(scanner rowScanner) (*models.SecurityEvent, error) {
	var e models.SecurityEvent

	err := scanner.Scan(
		&e.ID, &e.EventType, &e.AccountID, &e.IPAddress, &e.UserAgent,
		&e.Detail, &e.Severity, &e.RiskScore, &e.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &e, nil
}

func scanEventRows(rows pgx.Rows) ([]*models.SecurityEvent, error) {
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)
	for rows.Next() {
		event, err := scanEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security events: %w", err)
	}

	return events, nil
}

// Append inserts one event row. Append is the entire write surface.
func (r *SecurityEventRepository) Append(ctx context.Context, event *models.SecurityEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO security_events (id, event_type, account_id, ip_address, user_agent, detail, severity, risk_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.pool.Exec(ctx, query,
		event.ID, event.EventType, event.AccountID, event.IPAddress, event.UserAgent,
		event.Detail, event.Severity, event.RiskScore, event.CreatedAt,
	)
	return database.MapPostgresError(err)
}

// Query returns events matching the filter, newest first.
func (r *SecurityEventRepository) Query(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	conditions := make([]string, 0, 6)
	args := make([]interface{}, 0, 8)

	addArg := func(cond string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	if filter.EventType != "" {
		addArg("event_type = ?", filter.EventType)
	}
	if filter.AccountID != "" {
		addArg("account_id = ?", filter.AccountID)
	}
	if filter.Severity != "" {
		addArg("severity = ?", filter.Severity)
	}
	if filter.Since != nil {
		addArg("created_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		addArg("created_at < ?", *filter.Until)
	}
	if filter.MinRiskScore != nil {
		addArg("risk_score >= ?", *filter.MinRiskScore)
	}

	query := `SELECT ` + eventColumns + ` FROM security_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args))
	args = append(args, filter.Offset)
	query += " OFFSET $" + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}

	return scanEventRows(rows)
}

// CountLoginEvents counts login attempts (success or failure) for an
// account since the given time. Used by the risk engine's velocity
// indicator.
func (r *SecurityEventRepository) CountLoginEvents(ctx context.Context, accountID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM security_events
		WHERE account_id = $1 AND event_type IN ($2, $3) AND created_at >= $4
	`

	var count int
	err := r.pool.QueryRow(ctx, query, accountID, models.EventLoginSuccess, models.EventLoginFailed, since).Scan(&count)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// PurgeOlderThan removes events past the retention horizon. Maintenance
// only; never called from a request path.
func (r *SecurityEventRepository) PurgeOlderThan(ctx context.Context, horizon time.Time) (int64, error) {
	query := `DELETE FROM security_events WHERE created_at < $1`

	result, err := r.pool.Exec(ctx, query, horizon)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
