package middleware

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"growthos/config"
	"growthos/utils"
)

// WebhookRateLimiter limits deliveries per client IP and endpoint. Limits are shared across
// instances when Redis is enabled.
func WebhookRateLimiter(max int, storage fiber.Storage) fiber.Handler {
	if max <= 0 {
		max = 120
	}
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "webhook:" + c.Path() + ":" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			utils.WebhookRequests.WithLabelValues(c.Path(), "rate_limited").Inc()
			utils.LogEvent("rate_limit_hit", map[string]interface{}{
				"endpoint":   c.Path(),
				"ip":         c.IP(),
				"user_agent": c.Get("User-Agent"),
			})
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success":     false,
				"error":       "Too many requests",
				"retry_after": "1 minute",
			})
		},
		Storage: storage,
	})
}

// RateLimitStorage returns Redis-backed limiter storage, or nil for fiber's in-memory store.
func RateLimitStorage(cfg config.RedisConfig) fiber.Storage {
	if cfg.Enabled {
		return NewRedisStorage(cfg)
	}
	return nil
}

// RedisStorage implements fiber.Storage for Redis
type RedisStorage struct {
	client *redis.Client
}

func NewRedisStorage(cfg config.RedisConfig) *RedisStorage {
	return &RedisStorage{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func (r *RedisStorage) Get(key string) ([]byte, error) {
	val, err := r.client.Get(context.Background(), key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return val, err
}

func (r *RedisStorage) Set(key string, val []byte, exp time.Duration) error {
	return r.client.Set(context.Background(), key, val, exp).Err()
}

func (r *RedisStorage) Delete(key string) error {
	return r.client.Del(context.Background(), key).Err()
}

func (r *RedisStorage) Reset() error {
	return r.client.FlushDB(context.Background()).Err()
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}
