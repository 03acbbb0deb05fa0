package repository

import (
	"context"
	"encoding/json"

	"expertpanel-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRepository appends pipeline audit records
type AuditRepository struct {
	db *pgxpool.Pool
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts a record. Records are never updated.
func (r *AuditRepository) Append(ctx context.Context, rec *models.AuditRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_log (
			id, kind, plugin_slugs, query, confidence, latency_ms, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	return r.db.QueryRow(
		ctx, query,
		rec.ID,
		rec.Kind,
		rec.PluginSlugs,
		rec.Query,
		rec.Confidence,
		rec.LatencyMs,
		string(payload),
	).Scan(&rec.CreatedAt)
}

// ListRecent returns the newest records of a kind, newest first
func (r *AuditRepository) ListRecent(ctx context.Context, kind models.AuditKind, limit int) ([]models.AuditRecord, error) {
	query := `
		SELECT id, kind, plugin_slugs, query, confidence, latency_ms, payload, created_at
		FROM audit_log
		WHERE kind = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.AuditRecord{}
	for rows.Next() {
		var rec models.AuditRecord
		var payload []byte
		err := rows.Scan(
			&rec.ID,
			&rec.Kind,
			&rec.PluginSlugs,
			&rec.Query,
			&rec.Confidence,
			&rec.LatencyMs,
			&payload,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &rec.Payload); err != nil {
				return nil, err
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
