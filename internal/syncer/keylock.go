package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyLock marks a key (user) as having a sync in progress. It is injectable
// so that multi-instance deployments can share one marker set; an in-process
// map alone is a correctness bug at scale.
type KeyLock interface {
	// TryAcquire returns false when the key is already held.
	TryAcquire(ctx context.Context, key string) (bool, error)

	// IsHeld reports whether the key is currently held, without acquiring
	// it. Status polls must never contend with real acquisitions.
	IsHeld(ctx context.Context, key string) (bool, error)

	// Release frees the key. Must succeed for keys held by this process.
	Release(ctx context.Context, key string) error
}

// MemoryKeyLock is a process-local KeyLock for tests and single-instance
// deployments.
type MemoryKeyLock struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewMemoryKeyLock creates an empty in-process lock set.
func NewMemoryKeyLock() *MemoryKeyLock {
	return &MemoryKeyLock{held: make(map[string]bool)}
}

func (l *MemoryKeyLock) TryAcquire(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *MemoryKeyLock) IsHeld(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.held[key], nil
}

func (l *MemoryKeyLock) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.held, key)
	return nil
}

// RedisKeyLock is a distributed KeyLock using SET NX with a TTL. The TTL
// bounds how long a marker can outlive a crashed holder.
type RedisKeyLock struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisKeyLock creates a redis-backed lock set.
func NewRedisKeyLock(rdb *redis.Client, ttl time.Duration) *RedisKeyLock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisKeyLock{rdb: rdb, ttl: ttl, prefix: "synclock:"}
}

func (l *RedisKeyLock) TryAcquire(ctx context.Context, key string) (bool, error) {
	return l.rdb.SetNX(ctx, l.prefix+key, 1, l.ttl).Result()
}

func (l *RedisKeyLock) IsHeld(ctx context.Context, key string) (bool, error) {
	n, err := l.rdb.Exists(ctx, l.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *RedisKeyLock) Release(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, l.prefix+key).Err()
}
