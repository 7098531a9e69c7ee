package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// NOTE: PostgresRepository assumes the following table exists:
//
//	CREATE TABLE audit_events (
//	  id            UUID PRIMARY KEY,
//	  tenant_id     TEXT NOT NULL,
//	  type          TEXT NOT NULL,
//	  actor_user_id TEXT,
//	  actor_role    TEXT,
//	  ip_address    TEXT,
//	  target        TEXT,
//	  message       TEXT,
//	  metadata      JSONB,
//	  created_at    TIMESTAMPTZ NOT NULL
//	);
//
// Grant INSERT only to the API role.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (p *PostgresRepository) Append(ctx context.Context, e Event) error {
	if p.db == nil {
		return fmt.Errorf("db is nil")
	}
	var meta sql.NullString
	if e.Metadata != "" {
		meta = sql.NullString{String: e.Metadata, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, tenant_id, type, actor_user_id, actor_role, ip_address, target, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10)
	`, e.ID, e.TenantID, string(e.Type), e.ActorUserID, e.ActorRole, e.IPAddress, e.Target, e.Message, meta, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
