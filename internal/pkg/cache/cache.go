package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/ReceiptFox/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// SetupCache connects to the Redis compatible cache server. A failed ping is
// only logged; callers degrade to their uncached path.
func SetupCache(ctx context.Context) *redis.Client {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       env.GetEnvInt("CACHE_DB", 0),
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	pong, err := client.Ping(pingCtx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to cache at %s:%s: %v", host, port, err)
	} else {
		log.Infof("[Cache] Connected to cache: %s", pong)
	}
	return client
}

// Set stores a value with the given expiration.
func Set(ctx context.Context, client *redis.Client, key string, value interface{}, expiration time.Duration) error {
	return client.Set(ctx, key, value, expiration).Err()
}

// Get returns redis.Nil when the key does not exist.
func Get(ctx context.Context, client *redis.Client, key string) (string, error) {
	return client.Get(ctx, key).Result()
}

func Delete(ctx context.Context, client *redis.Client, key string) error {
	return client.Del(ctx, key).Err()
}
