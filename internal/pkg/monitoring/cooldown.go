package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownStore answers "may this key fire now?" and, when it may, starts a
// new window for it in the same step.
type CooldownStore interface {
	Acquire(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error)
}

type MemoryCooldown struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{expires: map[string]time.Time{}}
}

func (m *MemoryCooldown) Acquire(_ context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, until := range m.expires {
		if !now.Before(until) {
			delete(m.expires, k)
		}
	}
	if _, active := m.expires[key]; active {
		return false, nil
	}
	m.expires[key] = now.Add(window)
	return true, nil
}

// Len reports the number of live windows.
func (m *MemoryCooldown) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.expires)
}

// RedisCooldown keeps windows as keys with a TTL so several instances share
// them and Redis expires them on its own. The clock is Redis', not now.
type RedisCooldown struct {
	client *redis.Client
	prefix string
}

func NewRedisCooldown(client *redis.Client, prefix string) *RedisCooldown {
	if prefix == "" {
		prefix = "monitor:cooldown:"
	}
	return &RedisCooldown{client: client, prefix: prefix}
}

func (r *RedisCooldown) Acquire(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.prefix+key, now.Unix(), window).Result()
}
