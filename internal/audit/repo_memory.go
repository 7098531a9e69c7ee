package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps events in process. Used by tests and local runs without
// an audit table.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of every event, or only tenantID's when given.
func (r *MemoryRepo) Events(tenantID ...string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		if len(tenantID) > 0 && e.TenantID != tenantID[0] {
			continue
		}
		out = append(out, e)
	}
	return out
}
