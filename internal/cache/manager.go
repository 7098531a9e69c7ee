package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"restaurant-voice/internal/metrics"
)

// PhoneAssociationTTL is how long a call id stays linked to its dialed number.
const PhoneAssociationTTL = time.Hour

const (
	keyPrefix      = "cache:"
	phoneKeyPrefix = "call_phone:"
	allCategories  = "all"
)

// Options configure a Manager. Remote may be nil.
type Options struct {
	Remote     Store
	DefaultTTL time.Duration
	MaxEntries int
	OpTimeout  time.Duration
	Logger     *slog.Logger
}

// Manager caches knowledge-query results per tenant and keeps the
// call-id to phone association. Every operation tries the remote store
// first and falls back to the in-process store on any remote error. The
// decision is made per call; nothing remembers that the remote was down.
type Manager struct {
	remote    Store
	local     *MemoryStore
	phones    *MemoryStore
	ttl       time.Duration
	opTimeout time.Duration
	log       *slog.Logger
}

func NewManager(o Options) *Manager {
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = 60 * time.Second
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = 1000
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 500 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Manager{
		remote:    o.Remote,
		local:     NewMemoryStore(o.MaxEntries, o.DefaultTTL),
		phones:    NewMemoryStore(o.MaxEntries, PhoneAssociationTTL),
		ttl:       o.DefaultTTL,
		opTimeout: o.OpTimeout,
		log:       o.Logger.With("component", "cache"),
	}
}

// Key builds cache:<tenant>:<category|all>:<query>. The query is used verbatim.
func Key(tenant, query, category string) string {
	if category == "" {
		category = allCategories
	}
	return keyPrefix + tenant + ":" + category + ":" + query
}

func tenantPrefix(tenant, category string) string {
	if category == "" {
		return keyPrefix + tenant + ":"
	}
	return keyPrefix + tenant + ":" + category + ":"
}

// Get returns the cached JSON payload for the key triple.
func (m *Manager) Get(ctx context.Context, tenant, query, category string) (json.RawMessage, bool) {
	b, ok, store := m.get(ctx, m.local, "get", Key(tenant, query, category))
	result := "miss"
	if ok {
		result = "hit"
	}
	metrics.CacheOpsTotal.WithLabelValues("get", store, result).Inc()
	if !ok {
		return nil, false
	}
	return json.RawMessage(b), true
}

// Set stores payload as JSON. ttl <= 0 uses the configured default.
func (m *Manager) Set(ctx context.Context, tenant, query, category string, payload any, ttl time.Duration) {
	b, err := json.Marshal(payload)
	if err != nil {
		m.log.Warn("cache payload not serializable", "tenant", tenant, "err", err)
		return
	}
	if ttl <= 0 {
		ttl = m.ttl
	}
	store := m.set(ctx, m.local, "set", Key(tenant, query, category), b, ttl)
	metrics.CacheOpsTotal.WithLabelValues("set", store, "ok").Inc()
}

// Invalidate drops every entry of tenant in category, or every entry of the
// tenant when category is empty. Phone associations are never touched. The
// in-process store is always swept as well so entries written there during
// a remote outage cannot outlive the invalidation.
func (m *Manager) Invalidate(ctx context.Context, tenant, category string) int {
	prefix := tenantPrefix(tenant, category)
	n := 0
	if m.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, m.opTimeout)
		deleted, err := m.remote.DeletePrefix(rctx, prefix)
		cancel()
		if err != nil {
			m.fallback("invalidate", err)
		}
		n += deleted
	}
	deleted, _ := m.local.DeletePrefix(ctx, prefix)
	n += deleted
	m.log.Debug("cache invalidated", "tenant", tenant, "category", category, "deleted", n)
	return n
}

// StoreCallPhone links a vendor call id to the phone number it dialed.
func (m *Manager) StoreCallPhone(ctx context.Context, callID, phone string) {
	if callID == "" || phone == "" {
		return
	}
	m.set(ctx, m.phones, "store_call_phone", phoneKeyPrefix+callID, []byte(phone), PhoneAssociationTTL)
}

// CallPhone returns the phone stored for callID, if any.
func (m *Manager) CallPhone(ctx context.Context, callID string) (string, bool) {
	if callID == "" {
		return "", false
	}
	b, ok, _ := m.get(ctx, m.phones, "call_phone", phoneKeyPrefix+callID)
	if !ok {
		return "", false
	}
	return string(b), true
}

// Close releases the in-process stores.
func (m *Manager) Close() {
	m.local.Close()
	m.phones.Close()
}

func (m *Manager) get(ctx context.Context, local *MemoryStore, op, key string) ([]byte, bool, string) {
	if m.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, m.opTimeout)
		b, ok, err := m.remote.Get(rctx, key)
		cancel()
		if err == nil {
			return b, ok, m.remote.Name()
		}
		m.fallback(op, err)
	}
	b, ok, _ := local.Get(ctx, key)
	return b, ok, local.Name()
}

func (m *Manager) set(ctx context.Context, local *MemoryStore, op, key string, val []byte, ttl time.Duration) string {
	if m.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, m.opTimeout)
		err := m.remote.Set(rctx, key, val, ttl)
		cancel()
		if err == nil {
			return m.remote.Name()
		}
		m.fallback(op, err)
	}
	_ = local.Set(ctx, key, val, ttl)
	return local.Name()
}

func (m *Manager) fallback(op string, err error) {
	metrics.CacheFallbacksTotal.WithLabelValues(op).Inc()
	m.log.Warn("distributed cache unavailable, using memory", "op", op, "err", err)
}
