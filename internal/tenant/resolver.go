package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultLookupTimeout bounds a single phone lookup.
const DefaultLookupTimeout = 3 * time.Second

// Resolver maps a dialed phone number to the owning tenant.
type Resolver struct {
	store   Store
	timeout time.Duration
	log     *slog.Logger
}

func NewResolver(store Store, timeout time.Duration, log *slog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{store: store, timeout: timeout, log: log.With("component", "tenant_resolver")}
}

// Resolve normalizes phone and performs one lookup. Datastore failures are
// logged and reported as not found; callers never see them.
func (r *Resolver) Resolve(ctx context.Context, phone string) (string, bool) {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tenantID, err := r.store.Lookup(ctx, normalized)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.log.Warn("phone lookup failed", "phone", normalized, "err", err)
		}
		return "", false
	}
	if tenantID == "" {
		return "", false
	}
	return tenantID, true
}

// Map stores or replaces the tenant for phone.
func (r *Resolver) Map(ctx context.Context, phone, tenantID string) error {
	normalized := NormalizePhone(strings.TrimSpace(phone))
	tenantID = strings.TrimSpace(tenantID)
	if normalized == "" || tenantID == "" {
		return fmt.Errorf("%w: phone and tenant are required", ErrInvalidArgument)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.store.Upsert(ctx, normalized, tenantID); err != nil {
		return fmt.Errorf("upsert phone mapping: %w", err)
	}
	return nil
}
