package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository writes audit logs to Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs an audit repository.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// EnsureTable creates the audit table when missing.
func (r *Repository) EnsureTable(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS maintops_audit_logs (
	id                    TEXT PRIMARY KEY,
	action                TEXT NOT NULL,
	resource_type         TEXT NOT NULL,
	resource_id           TEXT NOT NULL,
	equipment_instance_id TEXT NOT NULL,
	correlation_id        TEXT NOT NULL DEFAULT '',
	metadata              JSONB,
	payload_digest        TEXT NOT NULL DEFAULT '',
	created_at            TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS maintops_audit_logs_resource_idx
	ON maintops_audit_logs (resource_type, resource_id, created_at);`)
	return err
}

// Log writes an audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	entry.fill(time.Now())

	var metadata any
	if len(entry.Metadata) > 0 {
		metadata = []byte(entry.Metadata)
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO maintops_audit_logs (
	id, action, resource_type, resource_id, equipment_instance_id,
	correlation_id, metadata, payload_digest, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, entry.ID, entry.Action, entry.ResourceType, entry.ResourceID, entry.EquipmentInstanceID,
		entry.CorrelationID, metadata, entry.PayloadDigest, entry.CreatedAt)
	return err
}
