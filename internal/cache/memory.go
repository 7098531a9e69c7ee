package cache

import (
	"context"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore is a bounded in-process TTL map. It is always available and
// serves every operation the distributed store cannot.
type MemoryStore struct {
	items *ttlcache.Cache[string, []byte]
}

func NewMemoryStore(maxEntries int, defaultTTL time.Duration) *MemoryStore {
	opts := []ttlcache.Option[string, []byte]{
		ttlcache.WithTTL[string, []byte](defaultTTL),
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	}
	if maxEntries > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, []byte](uint64(maxEntries)))
	}
	items := ttlcache.New[string, []byte](opts...)
	go items.Start()
	return &MemoryStore{items: items}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	item := s.items.Get(key)
	if item == nil || item.IsExpired() {
		return nil, false, nil
	}
	return item.Value(), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	s.items.Set(key, val, ttl)
	return nil
}

// DeletePrefix removes every key starting with prefix.
func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	n := 0
	for _, k := range s.items.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.items.Delete(k)
			n++
		}
	}
	return n, nil
}

// Len counts live entries.
func (s *MemoryStore) Len() int { return s.items.Len() }

// Close stops the background expiry loop.
func (s *MemoryStore) Close() { s.items.Stop() }
