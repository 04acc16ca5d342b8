package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"wastechat/chat"
)

// ErrCacheMiss reports a presence entry that is absent or expired.
var ErrCacheMiss = errors.New("presence cache miss")

// PresenceCache shares recent presence answers between bridged sessions so
// that many viewers of one user cost one backend check per TTL.
type PresenceCache interface {
	Get(ctx context.Context, userID int64) (bool, error)
	Set(ctx context.Context, userID int64, active bool, ttl time.Duration) error
}

type presenceEntry struct {
	active  bool
	expires time.Time
}

// MemoryPresence is an in-process PresenceCache.
type MemoryPresence struct {
	mu      sync.Mutex
	entries map[int64]presenceEntry
	now     func() time.Time
}

// NewMemoryPresence returns an empty in-process cache.
func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{
		entries: make(map[int64]presenceEntry),
		now:     time.Now,
	}
}

func (m *MemoryPresence) Get(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[userID]
	if !ok {
		return false, ErrCacheMiss
	}
	if !m.now().Before(entry.expires) {
		delete(m.entries, userID)
		return false, ErrCacheMiss
	}
	return entry.active, nil
}

func (m *MemoryPresence) Set(_ context.Context, userID int64, active bool, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[userID] = presenceEntry{active: active, expires: m.now().Add(ttl)}
	return nil
}

// RedisPresence is a PresenceCache shared by every gateway on one Redis.
type RedisPresence struct {
	client *redis.Client
	prefix string
}

// NewRedisPresence connects to addr and pings it.
func NewRedisPresence(ctx context.Context, addr, password string, db int) (*RedisPresence, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisPresence{client: client, prefix: "wastechat:presence:"}, nil
}

func (r *RedisPresence) key(userID int64) string {
	return r.prefix + strconv.FormatInt(userID, 10)
}

func (r *RedisPresence) Get(ctx context.Context, userID int64) (bool, error) {
	value, err := r.client.Get(ctx, r.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, ErrCacheMiss
	}
	if err != nil {
		return false, fmt.Errorf("get presence: %w", err)
	}
	return value == "1", nil
}

func (r *RedisPresence) Set(ctx context.Context, userID int64, active bool, ttl time.Duration) error {
	value := "0"
	if active {
		value = "1"
	}
	if err := r.client.Set(ctx, r.key(userID), value, ttl).Err(); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (r *RedisPresence) Close() error {
	return r.client.Close()
}

// presenceBackend answers presence checks from the cache when it can.
type presenceBackend struct {
	chat.Backend
	cache  PresenceCache
	ttl    time.Duration
	logger *zap.Logger
}

func (b *presenceBackend) CheckUserActive(ctx context.Context, userID int64) (bool, error) {
	active, err := b.cache.Get(ctx, userID)
	if err == nil {
		return active, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		b.logger.Debug("presence cache read failed", zap.Int64("peer_id", userID), zap.Error(err))
	}

	active, err = b.Backend.CheckUserActive(ctx, userID)
	if err != nil {
		return false, err
	}
	if err := b.cache.Set(ctx, userID, active, b.ttl); err != nil {
		b.logger.Debug("presence cache write failed", zap.Int64("peer_id", userID), zap.Error(err))
	}
	return active, nil
}
