package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Repository persists call records. Insert is idempotent on VendorCallID:
// a duplicate returns the stored id with inserted=false.
type Repository interface {
	Insert(ctx context.Context, r Record) (id string, inserted bool, err error)
	Get(ctx context.Context, tenantID, id string) (Record, error)
	List(ctx context.Context, tenantID string, limit int) ([]Record, error)
	ListRange(ctx context.Context, tenantID string, from, to time.Time) ([]Record, error)
}

// NOTE: PostgresRepository assumes the following table exists:
//
//	CREATE TABLE call_history (
//	  id               UUID PRIMARY KEY,
//	  tenant_id        TEXT NOT NULL,
//	  vendor_call_id   TEXT NOT NULL UNIQUE,
//	  phone_number     TEXT NOT NULL,
//	  started_at       TIMESTAMPTZ,
//	  ended_at         TIMESTAMPTZ,
//	  duration_seconds INT,
//	  caller           TEXT,
//	  outcome          TEXT NOT NULL,
//	  messages         JSONB NOT NULL DEFAULT '[]',
//	  cost             DOUBLE PRECISION,
//	  created_at       TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX call_history_tenant_created ON call_history (tenant_id, created_at DESC);
type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

func (p *PostgresRepository) Insert(ctx context.Context, r Record) (string, bool, error) {
	if err := validateForInsert(r); err != nil {
		return "", false, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = p.now().UTC()
	}
	msgs, err := json.Marshal(nonNilMessages(r.Messages))
	if err != nil {
		return "", false, fmt.Errorf("encode messages: %w", err)
	}

	const q = `
INSERT INTO call_history (
  id, tenant_id, vendor_call_id, phone_number, started_at, ended_at,
  duration_seconds, caller, outcome, messages, cost, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (vendor_call_id) DO NOTHING
RETURNING id
`
	var id string
	err = p.db.QueryRowContext(ctx, q,
		r.ID,
		r.TenantID,
		r.VendorCallID,
		r.PhoneNumber,
		nullTime(r.StartedAt),
		nullTime(r.EndedAt),
		nullInt(r.DurationSeconds),
		r.Caller,
		r.Outcome,
		msgs,
		nullFloat(r.Cost),
		r.CreatedAt,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("insert call: %w", err)
	}

	const existing = `SELECT id FROM call_history WHERE vendor_call_id = $1`
	if err := p.db.QueryRowContext(ctx, existing, r.VendorCallID).Scan(&id); err != nil {
		return "", false, fmt.Errorf("lookup duplicate call: %w", err)
	}
	return id, false, nil
}

const selectColumns = `
SELECT id, tenant_id, vendor_call_id, phone_number, started_at, ended_at,
       duration_seconds, caller, outcome, messages, cost, created_at
FROM call_history
`

func (p *PostgresRepository) Get(ctx context.Context, tenantID, id string) (Record, error) {
	if tenantID == "" || id == "" {
		return Record{}, ErrInvalidArgument
	}
	q := selectColumns + `WHERE tenant_id = $1 AND id = $2`
	r, err := scanRecord(p.db.QueryRowContext(ctx, q, tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return r, nil
}

func (p *PostgresRepository) List(ctx context.Context, tenantID string, limit int) ([]Record, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	q := selectColumns + `WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`
	return p.query(ctx, q, tenantID, ClampLimit(limit))
}

func (p *PostgresRepository) ListRange(ctx context.Context, tenantID string, from, to time.Time) ([]Record, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	q := selectColumns + `WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3 ORDER BY created_at DESC`
	return p.query(ctx, q, tenantID, from, to)
}

func (p *PostgresRepository) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (Record, error) {
	var (
		r        Record
		started  sql.NullTime
		ended    sql.NullTime
		duration sql.NullInt64
		caller   sql.NullString
		msgs     []byte
		cost     sql.NullFloat64
	)
	if err := s.Scan(
		&r.ID,
		&r.TenantID,
		&r.VendorCallID,
		&r.PhoneNumber,
		&started,
		&ended,
		&duration,
		&caller,
		&r.Outcome,
		&msgs,
		&cost,
		&r.CreatedAt,
	); err != nil {
		return Record{}, err
	}
	if started.Valid {
		t := started.Time
		r.StartedAt = &t
	}
	if ended.Valid {
		t := ended.Time
		r.EndedAt = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		r.DurationSeconds = &d
	}
	if cost.Valid {
		c := cost.Float64
		r.Cost = &c
	}
	r.Caller = caller.String
	r.Messages = []Message{}
	if len(msgs) > 0 {
		if err := json.Unmarshal(msgs, &r.Messages); err != nil {
			return Record{}, fmt.Errorf("decode messages: %w", err)
		}
	}
	return r, nil
}

// ClampLimit applies the list default and ceiling.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func validateForInsert(r Record) error {
	if r.TenantID == "" || r.VendorCallID == "" || r.PhoneNumber == "" {
		return fmt.Errorf("%w: tenant, vendor call id and phone are required", ErrInvalidArgument)
	}
	return nil
}

func nonNilMessages(m []Message) []Message {
	if m == nil {
		return []Message{}
	}
	return m
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
