package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agistaffers/backoffice/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

var client *redis.Client

// SetupCache initializes the connection to the Redis server
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       env.GetEnvInt("CACHE_DB", 0),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// Test the connection
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to redis at %s:%s: %v", host, port, err)
	} else {
		log.Infof("[Cache] Connected to redis: %s", pong)
	}
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// UseClient replaces the shared client, e.g. with one pointed at miniredis.
func UseClient(c *redis.Client) {
	client = c
}

// SetJSON stores value encoded as JSON.
func SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return GetClient().Set(ctx, key, raw, expiration).Err()
}

// GetJSON decodes the value under key into dest. redis.Nil is returned untouched
// so callers can tell a miss from a failure.
func GetJSON(ctx context.Context, key string, dest interface{}) error {
	raw, err := GetClient().Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func Delete(ctx context.Context, key string) error {
	return GetClient().Del(ctx, key).Err()
}

func Ping(ctx context.Context) error {
	return GetClient().Ping(ctx).Err()
}
