package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"pomelo/internal/config"
)

// ErrMiss is returned by Store.Get when the key does not exist
var ErrMiss = errors.New("cache: key not found")

// Store key-value cache with TTL, injected into services rather than
// reached for globally
type Store interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Get(ctx context.Context, key string, dest any) error
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// CounterStore counter with atomic increment, used for rate windows.
// The window TTL is applied only when the key is first created, so the
// window does not slide on every hit.
type CounterStore interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCache Redis-backed Store + CounterStore
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a Redis cache client
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

// Set stores a JSON-encoded value with TTL
func (c *RedisCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, expiration).Err()
}

// Get loads a JSON-encoded value; returns ErrMiss when absent
func (c *RedisCache) Get(ctx context.Context, key string, dest any) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// SetNX stores a value only if the key is absent; reports whether it was set
func (c *RedisCache) SetNX(ctx context.Context, key string, value any, expiration time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	return c.client.SetNX(ctx, key, data, expiration).Result()
}

// Delete removes keys
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

// Exists reports whether a key exists
func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	return n > 0, err
}

// IncrWindow atomically increments a windowed counter. EXPIRE NX keeps the
// original window start under concurrent increments.
func (c *RedisCache) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Close closes the connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Client returns the raw client
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// common key prefixes
const (
	ResponseCacheKeyPrefix = "aicache:"
	DebounceKeyPrefix      = "debounce:"
	LastQuestionKeyPrefix  = "lastq:"
	SessionRateKeyPrefix   = "sessrate:"
	TenantRateKeyPrefix    = "tenantrate:"
)

// ResponseCacheKey builds the tenant-scoped AI response cache key
func ResponseCacheKey(tenantID, hash string) string {
	return ResponseCacheKeyPrefix + tenantID + ":" + hash
}

// DebounceKey builds the per-conversation debounce lock key
func DebounceKey(conversationID string) string {
	return DebounceKeyPrefix + conversationID
}

// LastQuestionKey builds the per-conversation key holding the question of
// the most recently served answer, used to attribute a later thanks
func LastQuestionKey(conversationID string) string {
	return LastQuestionKeyPrefix + conversationID
}

// SessionRateKey builds the per-session inbound rate window key
func SessionRateKey(sessionID string) string {
	return SessionRateKeyPrefix + sessionID
}

// TenantRateKey builds the per-tenant provider-call rate window key
func TenantRateKey(tenantID string) string {
	return TenantRateKeyPrefix + tenantID
}
