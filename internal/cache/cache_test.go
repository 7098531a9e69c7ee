package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-voice/pkg/logger"
)

// failingStore rejects every call, standing in for an unreachable Redis.
type failingStore struct {
	mu    sync.Mutex
	calls int
}

func (f *failingStore) Name() string { return "failing" }

func (f *failingStore) bump() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("connection refused")
}

func (f *failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, f.bump()
}
func (f *failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return f.bump()
}
func (f *failingStore) DeletePrefix(context.Context, string) (int, error) { return 0, f.bump() }

func newManager(t *testing.T, remote Store) *Manager {
	t.Helper()
	m := NewManager(Options{Remote: remote, DefaultTTL: time.Minute, MaxEntries: 100, Logger: logger.Discard()})
	t.Cleanup(m.Close)
	return m
}

type menuAnswer struct {
	Items []string `json:"items"`
}

func TestKey(t *testing.T) {
	assert.Equal(t, "cache:r1:menu:vegan?", Key("r1", "vegan?", "menu"))
	assert.Equal(t, "cache:r1:all:Vegan", Key("r1", "Vegan", ""))
}

func TestManager_SetGetRoundTrip(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	m.Set(ctx, "r1", "what is vegan", "menu", menuAnswer{Items: []string{"tofu"}}, 0)

	raw, ok := m.Get(ctx, "r1", "what is vegan", "menu")
	require.True(t, ok)
	var got menuAnswer
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, []string{"tofu"}, got.Items)
}

func TestManager_KeysAreCaseSensitive(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	m.Set(ctx, "r1", "Vegan", "menu", "a", 0)
	_, ok := m.Get(ctx, "r1", "vegan", "menu")
	assert.False(t, ok)
}

func TestManager_EntriesExpire(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	m.Set(ctx, "r1", "q", "hours", "9-5", 20*time.Millisecond)
	_, ok := m.Get(ctx, "r1", "q", "hours")
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := m.Get(ctx, "r1", "q", "hours")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestManager_InvalidateIsCategoryScoped(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	m.Set(ctx, "r1", "q1", "menu", "a", 0)
	m.Set(ctx, "r1", "q2", "hours", "b", 0)
	m.Set(ctx, "r2", "q1", "menu", "c", 0)
	m.StoreCallPhone(ctx, "call-1", "+15551234567")

	assert.Equal(t, 1, m.Invalidate(ctx, "r1", "menu"))

	_, ok := m.Get(ctx, "r1", "q1", "menu")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "r1", "q2", "hours")
	assert.True(t, ok)
	_, ok = m.Get(ctx, "r2", "q1", "menu")
	assert.True(t, ok)

	m.Invalidate(ctx, "r1", "")
	_, ok = m.Get(ctx, "r1", "q2", "hours")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "r2", "q1", "menu")
	assert.True(t, ok)

	phone, ok := m.CallPhone(ctx, "call-1")
	assert.True(t, ok)
	assert.Equal(t, "+15551234567", phone)
}

func TestManager_TenantPrefixDoesNotMatchLongerTenant(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	m.Set(ctx, "r1", "q", "menu", "a", 0)
	m.Set(ctx, "r10", "q", "menu", "b", 0)

	m.Invalidate(ctx, "r1", "")
	_, ok := m.Get(ctx, "r10", "q", "menu")
	assert.True(t, ok)
}

func TestManager_FallbackIsTransparent(t *testing.T) {
	remote := &failingStore{}
	m := newManager(t, remote)
	ctx := context.Background()

	m.Set(ctx, "r1", "q", "menu", menuAnswer{Items: []string{"soup"}}, 0)
	raw, ok := m.Get(ctx, "r1", "q", "menu")
	require.True(t, ok)
	assert.JSONEq(t, `{"items":["soup"]}`, string(raw))

	m.StoreCallPhone(ctx, "call-9", "+15550001111")
	phone, ok := m.CallPhone(ctx, "call-9")
	require.True(t, ok)
	assert.Equal(t, "+15550001111", phone)

	m.Invalidate(ctx, "r1", "menu")
	_, ok = m.Get(ctx, "r1", "q", "menu")
	assert.False(t, ok)

	// Every operation retried the remote store first.
	assert.Equal(t, 6, remote.calls)
}

func TestManager_FallbackWithUnreachableRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	m := NewManager(Options{Remote: NewRedisStore(rdb), OpTimeout: 200 * time.Millisecond, Logger: logger.Discard()})
	t.Cleanup(m.Close)
	ctx := context.Background()

	m.Set(ctx, "r1", "q", "", "cached", 0)
	raw, ok := m.Get(ctx, "r1", "q", "")
	require.True(t, ok)
	assert.JSONEq(t, `"cached"`, string(raw))
}

func TestManager_UnserializablePayloadIsDropped(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	m.Set(ctx, "r1", "q", "menu", make(chan int), 0)
	_, ok := m.Get(ctx, "r1", "q", "menu")
	assert.False(t, ok)
}

func TestManager_ConcurrentUse(t *testing.T) {
	m := newManager(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Set(ctx, "r1", "q", "menu", i, 0)
			m.Get(ctx, "r1", "q", "menu")
			m.Invalidate(ctx, "r1", "menu")
		}(i)
	}
	wg.Wait()
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `cache:a\*b\?\[c\]:`, escapeGlob("cache:a*b?[c]:"))
	assert.Equal(t, `x\\y`, escapeGlob(`x\y`))
}

func TestMemoryStore_CapacityBounded(t *testing.T) {
	s := NewMemoryStore(3, time.Minute)
	defer s.Close()
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.Set(ctx, k, []byte(k), 0))
	}
	assert.LessOrEqual(t, s.Len(), 3)
}

// outageStore wraps a MemoryStore and fails while down is set.
type outageStore struct {
	*MemoryStore
	down atomic.Bool
}

func (o *outageStore) Name() string { return "outage" }

func (o *outageStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if o.down.Load() {
		return nil, false, errors.New("connection refused")
	}
	return o.MemoryStore.Get(ctx, key)
}

func (o *outageStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if o.down.Load() {
		return errors.New("connection refused")
	}
	return o.MemoryStore.Set(ctx, key, val, ttl)
}

func (o *outageStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if o.down.Load() {
		return 0, errors.New("connection refused")
	}
	return o.MemoryStore.DeletePrefix(ctx, prefix)
}

func TestManager_RemoteRecoversAfterOutage(t *testing.T) {
	remote := &outageStore{MemoryStore: NewMemoryStore(100, time.Minute)}
	t.Cleanup(remote.Close)
	m := newManager(t, remote)
	ctx := context.Background()

	remote.down.Store(true)
	m.Set(ctx, "r1", "during", "menu", "a", 0)
	assert.Equal(t, 0, remote.Len())

	remote.down.Store(false)
	m.Set(ctx, "r1", "after", "menu", "b", 0)
	assert.Equal(t, 1, remote.Len())
	_, ok, err := remote.MemoryStore.Get(ctx, Key("r1", "after", "menu"))
	require.NoError(t, err)
	assert.True(t, ok)

	raw, ok := m.Get(ctx, "r1", "after", "menu")
	require.True(t, ok)
	assert.JSONEq(t, `"b"`, string(raw))
}
