// Package app wires the adapters and services of a swarm process from config.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	postgresConfig "github.com/crabzie/swarm-coordinator/config/storage/postgresql"
	redisConfig "github.com/crabzie/swarm-coordinator/config/storage/redis"
	config "github.com/crabzie/swarm-coordinator/config/utils"
	"github.com/crabzie/swarm-coordinator/internal/adapter/queue/rabbitmq"
	"github.com/crabzie/swarm-coordinator/internal/adapter/storage/postgres"
	redisAdapter "github.com/crabzie/swarm-coordinator/internal/adapter/storage/redis"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Infra holds the connections shared by every component of a process
type Infra struct {
	DB        *postgresConfig.DB
	Cache     *redisConfig.Redis
	Broker    *amqp.Connection
	Repo      *postgres.Repository
	Registry  *redisAdapter.Registry
	Views     *redisAdapter.Views
	Publisher *rabbitmq.Publisher
	log       *zap.Logger
}

// Connect opens Postgres (and migrates it), Redis and RabbitMQ
func Connect(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*Infra, error) {
	in := &Infra{log: log}

	db, err := postgresConfig.New(ctx, cfg.DB, log.Named("DB"))
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	in.DB = db
	log.Info("Successfully connected to the database", zap.String("db", cfg.DB.Connection))
	if err := db.Migrate(); err != nil {
		in.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("Successfully migrated the database")
	in.Repo = postgres.NewRepository(db.Pool, log)

	cache, err := redisConfig.New(ctx, cfg.Redis)
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("cache: %w", err)
	}
	in.Cache = cache
	log.Info("Successfully connected to the cache server", zap.String("address", cfg.Redis.Addr))
	ttl, err := time.ParseDuration(cfg.Redis.HeartbeatTTL)
	if err != nil {
		ttl = redisAdapter.DefaultHeartbeatTTL
	}
	in.Registry = redisAdapter.NewRegistry(cache.Client, ttl, log)
	in.Views = redisAdapter.NewViews(cache.Storage, 0)

	conn, err := rabbitmq.Dial(cfg.AMQP.URL, log)
	if err != nil {
		in.Close()
		return nil, err
	}
	in.Broker = conn
	log.Info("Successfully connected to RabbitMQ")
	if in.Publisher, err = rabbitmq.NewPublisher(conn, cfg.AMQP.EventsExchange, log); err != nil {
		in.Close()
		return nil, fmt.Errorf("event publisher: %w", err)
	}
	return in, nil
}

// Healthy reports the first unreachable backend
func (in *Infra) Healthy(ctx context.Context) error {
	if err := in.DB.Healthy(ctx); err != nil {
		return err
	}
	if err := in.Cache.Healthy(ctx); err != nil {
		return err
	}
	if in.Broker.IsClosed() {
		return errors.New("rabbitmq: connection closed")
	}
	return nil
}

// Close releases every open connection; safe on a partially connected Infra
func (in *Infra) Close() {
	if in.Publisher != nil {
		in.Publisher.Close()
	}
	if in.Broker != nil {
		in.Broker.Close()
	}
	if in.Cache != nil {
		in.Cache.Close()
	}
	if in.DB != nil {
		in.DB.Close()
	}
}
