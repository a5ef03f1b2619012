package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKVPrefix = "appraise:kv:"

// RedisKV stores values as plain Redis strings without expiry.
type RedisKV struct {
	client redis.Cmdable
	prefix string
}

// NewRedisKV connects to addr.
func NewRedisKV(addr, password, prefix string) (*RedisKV, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return NewRedisKVWithClient(client, prefix), nil
}

// NewRedisKVWithClient wraps an existing client.
func NewRedisKVWithClient(client redis.Cmdable, prefix string) *RedisKV {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultRedisKVPrefix
	}
	return &RedisKV{client: client, prefix: prefix}
}

// Ping checks connectivity.
func (r *RedisKV) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return v, err
}

func (r *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, r.prefix+key, value, 0).Err()
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}
