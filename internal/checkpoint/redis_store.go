package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dnsscanner/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix = "dnsscanner:checkpoint"

	redisOpTimeout = 5 * time.Second
)

// RedisStore keeps one checkpoint per run key, stored at "<prefix>:<key>".
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore returns a store writing below prefix. A ttl of zero keeps
// checkpoints until they are cleared.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisStore) Load(ctx context.Context, key string) (*domain.Checkpoint, error) {
	ctx, cancel := redisTimeoutCtx(ctx)
	defer cancel()

	redisKey := s.redisKey(key)
	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load %s: %w", redisKey, err)
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint: decode %s: %w", redisKey, err)
	}
	return &cp, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, cp domain.Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("checkpoint: encode: %w", err)
	}

	ctx, cancel := redisTimeoutCtx(ctx)
	defer cancel()

	redisKey := s.redisKey(key)
	if err := s.client.Set(ctx, redisKey, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("checkpoint: save %s: %w", redisKey, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	ctx, cancel := redisTimeoutCtx(ctx)
	defer cancel()

	redisKey := s.redisKey(key)
	if err := s.client.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("checkpoint: clear %s: %w", redisKey, err)
	}
	return nil
}

func redisTimeoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, redisOpTimeout)
}
