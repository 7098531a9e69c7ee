package tenant

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Store is the phone-to-tenant lookup table.
type Store interface {
	Lookup(ctx context.Context, phone string) (string, error)
	Upsert(ctx context.Context, phone, tenantID string) error
}

// NOTE: PostgresStore assumes the following table exists:
//
//	CREATE TABLE phone_mappings (
//	  phone_number TEXT PRIMARY KEY,
//	  tenant_id    TEXT NOT NULL,
//	  updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
// phone_number holds the normalized form.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Lookup(ctx context.Context, phone string) (string, error) {
	const q = `
SELECT tenant_id
FROM phone_mappings
WHERE phone_number = $1
LIMIT 1
`
	var tenantID string
	if err := s.db.QueryRowContext(ctx, q, phone).Scan(&tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return tenantID, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, phone, tenantID string) error {
	const q = `
INSERT INTO phone_mappings (phone_number, tenant_id, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (phone_number) DO UPDATE
SET tenant_id = EXCLUDED.tenant_id, updated_at = now()
`
	_, err := s.db.ExecContext(ctx, q, phone, tenantID)
	return err
}
