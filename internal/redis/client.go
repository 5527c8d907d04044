package redis

import (
	"context"
	"fmt"

	"sentinal-call/config"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// ConfigFrom extracts the redis settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// NewClient creates a new Redis client instance.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping checks if Redis is available
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}
