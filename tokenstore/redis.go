package tokenstore

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var _ Backend = (*RedisBackend)(nil)

// RedisOptions configures a RedisBackend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Prepended to every key, defaults to "devconsole:"
	TTL      time.Duration // Zero keeps values until they are cleared
}

// RedisBackend shares the credential pair between processes through redis.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisBackend connects to redis and verifies the connection with a ping.
func NewRedisBackend(ctx context.Context, opts RedisOptions) (*RedisBackend, error) {
	if opts.Addr == "" {
		return nil, errors.New("[NewRedisBackend] redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "devconsole:"
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
	}, nil
}

func (r *RedisBackend) key(name string) string {
	return r.prefix + name
}

func (r *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, r.key(key), value, r.ttl).Err()
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
