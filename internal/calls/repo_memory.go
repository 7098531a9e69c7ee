package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a simple in-memory repository for tests and local runs.
// It enforces tenant isolation on reads and vendor call id uniqueness on writes.
type MemoryRepository struct {
	mu       sync.Mutex
	byID     map[string]Record
	byVendor map[string]string
	now      func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:     map[string]Record{},
		byVendor: map[string]string{},
		now:      time.Now,
	}
}

func (m *MemoryRepository) Insert(_ context.Context, r Record) (string, bool, error) {
	if err := validateForInsert(r); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byVendor[r.VendorCallID]; ok {
		return id, false, nil
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now().UTC()
	}
	r.Messages = nonNilMessages(r.Messages)
	m.byID[r.ID] = r
	m.byVendor[r.VendorCallID] = r.ID
	return r.ID, true, nil
}

func (m *MemoryRepository) Get(_ context.Context, tenantID, id string) (Record, error) {
	if tenantID == "" || id == "" {
		return Record{}, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok || r.TenantID != tenantID {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryRepository) List(ctx context.Context, tenantID string, limit int) ([]Record, error) {
	out, err := m.ListRange(ctx, tenantID, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	if limit = ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListRange treats a zero from or to as unbounded.
func (m *MemoryRepository) ListRange(_ context.Context, tenantID string, from, to time.Time) ([]Record, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0)
	for _, r := range m.byID {
		if r.TenantID != tenantID {
			continue
		}
		if !from.IsZero() && r.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !r.CreatedAt.Before(to) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Len counts stored records across tenants.
func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}
