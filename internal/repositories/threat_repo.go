package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sentra-auth/sentra/internal/database"
	"github.com/sentra-auth/sentra/internal/models"
)

// ThreatRepository tracks aggregated malicious patterns per source IP.
// Records are upserted on repeat sightings and closed by mitigation;
// they are never deleted.
type ThreatRepository struct {
	pool *pgxpool.Pool
}

func NewThreatRepository(db *database.DB) *ThreatRepository {
	return &ThreatRepository{pool: db.Pool}
}

const threatColumns = `id, ip_address, threat_type, threat_level, first_seen, last_seen, frequency, mitigated, mitigation_action`

func scanThreatRow(scanner rowScanner) (*models.ThreatRecord, error) {
	var t models.ThreatRecord

	err := scanner.Scan(
		&t.ID, &t.IPAddress, &t.ThreatType, &t.ThreatLevel,
		&t.FirstSeen, &t.LastSeen, &t.Frequency, &t.Mitigated, &t.MitigationAction,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &t, nil
}

// Record creates the threat record on first detection or bumps
// frequency and last_seen on repeat, in one statement. Mitigated
// records stop aggregating.
func (r *ThreatRepository) Record(ctx context.Context, ip, threatType, level string) (*models.ThreatRecord, error) {
	query := `
		INSERT INTO threat_records (id, ip_address, threat_type, threat_level, first_seen, last_seen, frequency, mitigated)
		VALUES ($1, $2, $3, $4, now(), now(), 1, false)
		ON CONFLICT (ip_address, threat_type) WHERE NOT mitigated
		DO UPDATE SET frequency = threat_records.frequency + 1,
		              last_seen = now(),
		              threat_level = EXCLUDED.threat_level
		RETURNING ` + threatColumns

	return scanThreatRow(r.pool.QueryRow(ctx, query, uuid.New().String(), ip, threatType, level))
}

func (r *ThreatRepository) GetByID(ctx context.Context, id string) (*models.ThreatRecord, error) {
	query := `SELECT ` + threatColumns + ` FROM threat_records WHERE id = $1`
	return scanThreatRow(r.pool.QueryRow(ctx, query, id))
}

// HasOpenThreat reports whether any unmitigated record exists for the IP.
func (r *ThreatRepository) HasOpenThreat(ctx context.Context, ip string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM threat_records WHERE ip_address = $1 AND NOT mitigated)`

	var open bool
	err := r.pool.QueryRow(ctx, query, ip).Scan(&open)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return open, nil
}

// Mitigate closes a record with the action taken. The record stays.
func (r *ThreatRepository) Mitigate(ctx context.Context, id, action string) (*models.ThreatRecord, error) {
	query := `
		UPDATE threat_records
		SET mitigated = true, mitigation_action = $2
		WHERE id = $1
		RETURNING ` + threatColumns

	return scanThreatRow(r.pool.QueryRow(ctx, query, id, action))
}

// List returns threat records, most recently seen first.
func (r *ThreatRepository) List(ctx context.Context, includeMitigated bool, limit, offset int) ([]*models.ThreatRecord, error) {
	query := `SELECT ` + threatColumns + ` FROM threat_records`
	if !includeMitigated {
		query += ` WHERE NOT mitigated`
	}
	query += ` ORDER BY last_seen DESC LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query threat records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.ThreatRecord, 0)
	for rows.Next() {
		record, err := scanThreatRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan threat record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating threat records: %w", err)
	}

	return records, nil
}
