package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotHolder = errors.New("session does not hold the buyer's checkout slot")

// MemoryRegistry keeps one active checkout per buyer inside this process.
type MemoryRegistry struct {
	mu      sync.Mutex
	holders map[string]string
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{holders: make(map[string]string)}
}

func (m *MemoryRegistry) Claim(_ context.Context, buyerID, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if holder, ok := m.holders[buyerID]; ok && holder != sessionID {
		return false, nil
	}
	m.holders[buyerID] = sessionID
	return true, nil
}

func (m *MemoryRegistry) Release(_ context.Context, buyerID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holders[buyerID] != sessionID {
		return ErrNotHolder
	}
	delete(m.holders, buyerID)
	return nil
}

func (m *MemoryRegistry) Holder(_ context.Context, buyerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holders[buyerID], nil
}

// releaseScript deletes the key only while it still names the releasing session.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRegistry shares the one-checkout-per-buyer rule across instances.
// Claims expire after ttl so a crashed instance cannot lock a buyer out.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, ttl: ttl}
}

func (r *RedisRegistry) Claim(ctx context.Context, buyerID, sessionID string) (bool, error) {
	key := claimKey(buyerID)
	ok, err := r.client.SetNX(ctx, key, sessionID, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if ok {
		return true, nil
	}

	holder, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// released between SETNX and GET, try once more
		ok, err = r.client.SetNX(ctx, key, sessionID, r.ttl).Result()
		if err != nil {
			return false, fmt.Errorf("redis setnx failed: %w", err)
		}
		return ok, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}
	return holder == sessionID, nil
}

func (r *RedisRegistry) Release(ctx context.Context, buyerID, sessionID string) error {
	n, err := releaseScript.Run(ctx, r.client, []string{claimKey(buyerID)}, sessionID).Int()
	if err != nil {
		return fmt.Errorf("redis release failed: %w", err)
	}
	if n == 0 {
		return ErrNotHolder
	}
	return nil
}

func (r *RedisRegistry) Holder(ctx context.Context, buyerID string) (string, error) {
	holder, err := r.client.Get(ctx, claimKey(buyerID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return holder, nil
}

func claimKey(buyerID string) string {
	return fmt.Sprintf("checkout:active:%s", buyerID)
}
