package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefix for credentials
	credentialKeyPrefix = "convo:credential:"
	// Timeout for write-through calls made from Set and Clear
	redisWriteTimeout = 5 * time.Second
)

// RedisStore shares the credential through Redis, so several client
// processes of one profile stay logged in or out together.
// Reads are served from the value loaded at open time or last written.
type RedisStore struct {
	client *redis.Client
	key    string
	cache  *MemoryStore
}

// OpenRedisStore loads the credential for profile from Redis.
func OpenRedisStore(ctx context.Context, client *redis.Client, profile string) (*RedisStore, error) {
	s := &RedisStore{
		client: client,
		key:    credentialKeyPrefix + profile,
		cache:  NewMemoryStore(),
	}

	val, err := client.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal([]byte(val), &cred); err != nil {
		return nil, fmt.Errorf("failed to decode credential: %w", err)
	}
	_ = s.cache.Set(cred)
	return s, nil
}

// Get implements Store.
func (s *RedisStore) Get() (Credential, bool) {
	return s.cache.Get()
}

// Set implements Store. The key expires together with the credential.
func (s *RedisStore) Set(cred Credential) error {
	val, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}

	var ttl time.Duration
	if !cred.ExpiresAt.IsZero() {
		ttl = time.Until(cred.ExpiresAt)
		if ttl < time.Second {
			ttl = time.Second
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisWriteTimeout)
	defer cancel()
	if err := s.client.Set(ctx, s.key, val, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return s.cache.Set(cred)
}

// Clear implements Store. The cached credential is dropped even when Redis
// is unreachable.
func (s *RedisStore) Clear() error {
	_ = s.cache.Clear()

	ctx, cancel := context.WithTimeout(context.Background(), redisWriteTimeout)
	defer cancel()
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// NewRedisClient parses url and verifies the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}
