package retry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cooldowns parks keys for a period after repeated failure.
type Cooldowns interface {
	Start(ctx context.Context, key string, d time.Duration) error
	Active(ctx context.Context, key string) (until time.Time, ok bool)
}

func cooldownKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// MemoryCooldowns keeps cooldowns in process memory.
type MemoryCooldowns struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

// NewMemoryCooldowns returns an empty in-memory gate. A nil clock uses time.Now.
func NewMemoryCooldowns(now func() time.Time) *MemoryCooldowns {
	if now == nil {
		now = time.Now
	}
	return &MemoryCooldowns{until: make(map[string]time.Time), now: now}
}

func (m *MemoryCooldowns) Start(_ context.Context, key string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.until[cooldownKey(key)] = m.now().Add(d)
	return nil
}

func (m *MemoryCooldowns) Active(_ context.Context, key string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := cooldownKey(key)
	until, ok := m.until[k]
	if !ok {
		return time.Time{}, false
	}
	if !m.now().Before(until) {
		delete(m.until, k)
		return time.Time{}, false
	}
	return until, true
}

// RedisCooldowns stores cooldowns as expiring keys so every replica sees them.
type RedisCooldowns struct {
	Client redis.UniversalClient
	Prefix string
}

// NewRedisCooldowns wires the gate to client under "trendwatch:cooldown:".
func NewRedisCooldowns(client redis.UniversalClient) *RedisCooldowns {
	return &RedisCooldowns{Client: client, Prefix: "trendwatch:cooldown:"}
}

func (r *RedisCooldowns) Start(ctx context.Context, key string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return r.Client.Set(ctx, r.Prefix+cooldownKey(key), "1", d).Err()
}

// Active treats a redis error as "not cooling down" so an outage never
// blocks ingestion.
func (r *RedisCooldowns) Active(ctx context.Context, key string) (time.Time, bool) {
	ttl, err := r.Client.PTTL(ctx, r.Prefix+cooldownKey(key)).Result()
	if err != nil || ttl <= 0 {
		return time.Time{}, false
	}
	return time.Now().Add(ttl), true
}
