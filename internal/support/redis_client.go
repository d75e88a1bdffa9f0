package support

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var ErrRedisDisabled = errors.New("support: redis is not configured")

// RedisURL returns the configured Redis URL. REDIS_URL wins over the older
// redisUrl variable; an empty result means Redis is disabled.
func RedisURL() string {
	if url := GetEnv("REDIS_URL", ""); url != "" {
		return url
	}
	return GetEnv("redisUrl", "")
}

// ConnectRedis parses redisURL, connects and pings the server.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, ErrRedisDisabled
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL %q: %w", redisURL, err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
