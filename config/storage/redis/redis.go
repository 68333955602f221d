// Package redis provides Redis cache server implimentation logic.
package redis

import (
	"context"
	"fmt"
	"time"

	config "github.com/crabzie/swarm-coordinator/config/utils"

	"github.com/gofiber/storage/redis/v3"
	redigo "github.com/redis/go-redis/v9"
)

// Redis holds the raw client used by the worker registry and the
// key/value storage used for gossip view snapshots, sharing one pool.
type Redis struct {
	Client  redigo.UniversalClient
	Storage *redis.Storage
}

// New creates a new instance of Redis
func New(ctx context.Context, config *config.Redis) (*Redis, error) {
	client := redigo.NewUniversalClient(&redigo.UniversalOptions{
		Addrs:           []string{config.Addr},
		Password:        config.Password,
		DB:              0,
		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 1 * time.Second,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        10,
		MinIdleConns:    2,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, err
	}

	return &Redis{Client: client, Storage: redis.NewFromConnection(client)}, nil
}

// Healthy pings the server
func (r *Redis) Healthy(ctx context.Context) error {
	if err := r.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// Close releases the shared connection pool
func (r *Redis) Close() error {
	return r.Client.Close()
}
