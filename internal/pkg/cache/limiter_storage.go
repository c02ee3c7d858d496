package cache

import (
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"
)

// limiterDatabase keeps rate limit counters apart from cached values in DB 0.
const limiterDatabase = 1

// NewLimiterStorage returns a fiber.Storage on the same server as client so
// rate limits hold across instances. Returns nil without a client; the
// limiter then counts in memory.
func NewLimiterStorage(client *redis.Client) fiber.Storage {
	if client == nil {
		return nil
	}
	host := "localhost"
	port := 6379
	opts := client.Options()
	if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: opts.Password,
		Database: limiterDatabase,
		Reset:    false,
	})
}
