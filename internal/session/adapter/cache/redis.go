package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"teamcards/internal/domain"
)

// Redis stores the cached view under a single key with a TTL, so a host
// that stays offline longer than the TTL starts without a hint.
type Redis struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedis creates a Redis-backed cache. A zero ttl keeps the key forever.
func NewRedis(client redis.UniversalClient, key string, ttl time.Duration) *Redis {
	return &Redis{client: client, key: key, ttl: ttl}
}

func (r *Redis) Load(ctx context.Context) (domain.CachedView, bool, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CachedView{}, false, nil
	}
	if err != nil {
		return domain.CachedView{}, false, fmt.Errorf("redis get: %w", err)
	}

	var v domain.CachedView
	if err := json.Unmarshal(data, &v); err != nil {
		return domain.CachedView{}, false, fmt.Errorf("unmarshal cached view: %w", err)
	}
	return v, true, nil
}

func (r *Redis) Save(ctx context.Context, v domain.CachedView) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cached view: %w", err)
	}
	return r.client.Set(ctx, r.key, data, r.ttl).Err()
}

func (r *Redis) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}
