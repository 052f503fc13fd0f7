package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient builds a Redis client from environment variables.
// Reads REDIS_ADDR (default: 127.0.0.1:6379), REDIS_DB (default: 0)
// and REDIS_PASSWORD (optional), and verifies connectivity with a ping
// before returning. The change feed rides on this connection, so a
// server that cannot reach Redis cannot notify kitchens.
func NewRedisClient(ctx context.Context) (*redis.Client, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}

	db := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		parsed, err := strconv.Atoi(dbStr)
		if err != nil {
			log.Printf("NewRedisClient: invalid REDIS_DB value '%s', using default 0", dbStr)
		} else {
			db = parsed
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       db,
		Password: os.Getenv("REDIS_PASSWORD"),
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis at %s: %w", addr, err)
	}

	log.Printf("Connected to Redis at %s (db %d)", addr, db)
	return client, nil
}
