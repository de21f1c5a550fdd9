package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// URL is a redis:// or rediss:// URL.
	URL string
	// TTL expires written keys. Zero keeps them forever.
	TTL time.Duration
	// Namespace is prepended to every key.
	Namespace string
}

// RedisStore keeps snapshots in Redis so several editor processes share one
// backup.
type RedisStore struct {
	client    redis.UniversalClient
	ttl       time.Duration
	namespace string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("storage: redis URL is required")
	}
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(redisOpts)

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("storage: failed to connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, opts), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, opts RedisOptions) *RedisStore {
	return &RedisStore{client: client, ttl: opts.TTL, namespace: opts.Namespace}
}

func (r *RedisStore) key(key string) string {
	return r.namespace + key
}

// Get returns the value for key.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		if errors.Is(err, redis.ErrClosed) {
			return nil, ErrStorageClosed
		}
		return nil, fmt.Errorf("storage: redis get %q: %w", key, err)
	}
	return data, nil
}

// Put stores value under key with the configured TTL.
func (r *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(key), value, r.ttl).Err(); err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return ErrStorageClosed
		}
		return fmt.Errorf("storage: redis set %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("storage: redis del %q: %w", key, err)
	}
	return nil
}

// Keys scans for keys with the given prefix.
func (r *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.key(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(r.namespace):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("storage: redis scan %q: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

var _ Store = (*RedisStore)(nil)
