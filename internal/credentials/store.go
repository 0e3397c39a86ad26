// Package credentials provides the credential store capability used by the session gateway.
package credentials

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Common errors for credential store construction.
var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidStoreType = errors.New("invalid store type")
)

// Credential is the opaque auth token held for a user.
type Credential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Valid reports whether the credential is present and not expired at now.
// A zero ExpiresAt never expires.
func (c Credential) Valid(now time.Time) bool {
	if c.Token == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

// Store holds the process-wide credential.
// Get must be a local read; drivers backed by remote storage cache the
// value and write through on Set and Clear.
type Store interface {
	Get() (Credential, bool)
	Set(cred Credential) error
	Clear() error
}

// StoreType represents the type of credential store.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
)

// StoreOption is a functional option for configuring a credential store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	profile     string
	filePath    string
}

// WithRedisClient sets the Redis client for the Redis store.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithProfile namespaces the stored credential, so several accounts can share a backend.
func WithProfile(profile string) StoreOption {
	return func(c *storeConfig) {
		c.profile = profile
	}
}

// WithFilePath sets the path used by the file store.
func WithFilePath(path string) StoreOption {
	return func(c *storeConfig) {
		c.filePath = path
	}
}

// NewStore creates a Store based on the given type.
// The file store requires WithFilePath and the Redis store requires WithRedisClient.
// Persistent stores load the saved credential before returning.
func NewStore(ctx context.Context, storeType StoreType, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{profile: "default"}
	for _, opt := range opts {
		opt(cfg)
	}

	switch storeType {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil

	case StoreTypeFile:
		if cfg.filePath == "" {
			return nil, ErrInvalidConfig
		}
		return OpenFileStore(cfg.filePath)

	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return OpenRedisStore(ctx, cfg.redisClient, cfg.profile)

	default:
		return nil, ErrInvalidStoreType
	}
}
