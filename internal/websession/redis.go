package websession

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisBackend persists session state in Redis, one JSON document per
// session, expiring with the session TTL.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects a backend to the given Redis instance.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "callgate:session:"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) Load(ctx context.Context, id string) (map[string]any, bool, error) {
	raw, err := b.client.Get(ctx, b.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var state map[string]any
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, false, err
	}
	return state, true, nil
}

func (b *RedisBackend) Store(ctx context.Context, id string, state map[string]any, ttl time.Duration) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return b.client.Set(ctx, b.prefix+id, raw, ttl).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	return b.client.Del(ctx, b.prefix+id).Err()
}
