// Package redis keeps the swarm's worker registry and gossip view snapshots in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

const workerPrefix = "worker:"

// DefaultHeartbeatTTL is how long a worker stays registered without a heartbeat
const DefaultHeartbeatTTL = 30 * time.Second

// Registry stores workers under expiring keys; a worker that stops
// heartbeating drops out of the pool once its key expires.
type Registry struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    *zap.Logger
}

func NewRegistry(client redis.UniversalClient, ttl time.Duration, log *zap.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultHeartbeatTTL
	}
	return &Registry{client: client, ttl: ttl, log: log.Named("registry")}
}

func workerKey(id string) string { return workerPrefix + id }

// RegisterWorker saves the worker state and extends its TTL (heartbeat)
func (r *Registry) RegisterWorker(ctx context.Context, w *domain.Worker) error {
	data, err := codec.Marshal(w)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, workerKey(w.ID), data, r.ttl).Err()
}

// Heartbeat extends the registration of a worker without rewriting it
func (r *Registry) Heartbeat(ctx context.Context, id string) error {
	ok, err := r.client.Expire(ctx, workerKey(id), r.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrWorkerNotFound, id)
	}
	return nil
}

func (r *Registry) GetWorker(ctx context.Context, id string) (*domain.Worker, error) {
	data, err := r.client.Get(ctx, workerKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkerNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var w domain.Worker
	if err := codec.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode worker %s: %w", id, err)
	}
	return &w, nil
}

// GetActiveWorkers scans the registry and returns active workers sorted by id
func (r *Registry) GetActiveWorkers(ctx context.Context) ([]*domain.Worker, error) {
	var workers []*domain.Worker
	iter := r.client.Scan(ctx, 0, workerPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue // Expired between SCAN and GET
		}
		var w domain.Worker
		if err := codec.Unmarshal(data, &w); err != nil {
			r.log.Warn("Skipping undecodable worker entry", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		if w.IsActive() {
			workers = append(workers, &w)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].ID < workers[j].ID })
	return workers, nil
}

// MarkInactive keeps the entry until it expires but removes it from the pool
func (r *Registry) MarkInactive(ctx context.Context, id string) error {
	return r.update(ctx, id, func(w *domain.Worker) { w.Status = domain.WorkerStatusInactive })
}

// update rewrites a worker entry without touching its TTL
func (r *Registry) update(ctx context.Context, id string, fn func(w *domain.Worker)) error {
	w, err := r.GetWorker(ctx, id)
	if err != nil {
		return err
	}
	fn(w)
	data, err := codec.Marshal(w)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, workerKey(id), data, redis.KeepTTL).Err()
}
