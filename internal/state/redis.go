package state

import (
	"context"
	"time"
)

type redisKV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	StateKey(scope, name string) string
	StateTTL() time.Duration
}

// RedisBackend stores blobs under namespaced redis keys with a sliding TTL.
type RedisBackend struct {
	kv redisKV
}

func NewRedisBackend(kv redisKV) *RedisBackend {
	return &RedisBackend{kv: kv}
}

func (r *RedisBackend) Load(ctx context.Context, scope string, key Key) ([]byte, bool, error) {
	return r.kv.Get(ctx, r.kv.StateKey(scope, string(key)))
}

func (r *RedisBackend) Save(ctx context.Context, scope string, key Key, value []byte) error {
	return r.kv.Set(ctx, r.kv.StateKey(scope, string(key)), value, r.kv.StateTTL())
}

func (r *RedisBackend) Delete(ctx context.Context, scope string, key Key) error {
	return r.kv.Del(ctx, r.kv.StateKey(scope, string(key)))
}
