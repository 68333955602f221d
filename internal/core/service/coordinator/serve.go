package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	"go.uber.org/zap"
)

// TaskSource delivers submitted tasks to a handler (RabbitMQ)
type TaskSource interface {
	ConsumeTasks(ctx context.Context, handler func(ctx context.Context, task *domain.Task) error) error
}

// Serve coordinates every task src delivers until ctx is done. Each interval
// it enrolls newly heartbeating workers for health monitoring; every third
// one it logs the pool size and health.
func (c *Coordinator) Serve(ctx context.Context, src TaskSource, interval time.Duration) error {
	if err := src.ConsumeTasks(ctx, c.handle); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	count := 0
	for {
		select {
		case <-ctx.Done():
			c.log.Info("Stopping coordinator loop")
			return nil
		case <-ticker.C:
			count++
			c.enroll(ctx)
			if count%3 != 0 {
				continue
			}
			workers, err := c.pool(ctx)
			if err != nil {
				c.log.Warn("heartbeat could not list workers", zap.Error(err))
				continue
			}
			report := c.health.Check(ctx)
			c.log.Info("Coordinator Heartbeat - Active and Monitoring",
				zap.Int("active_workers", len(workers)),
				zap.Float64("health", report.Score),
				zap.Duration("interval", interval))
		}
	}
}

// enroll registers every active worker with the self-healing manager; workers
// join the registry by heartbeat, not only through RegisterNode.
func (c *Coordinator) enroll(ctx context.Context) {
	if c.healing == nil {
		return
	}
	workers, err := c.registry.GetActiveWorkers(ctx)
	if err != nil {
		return
	}
	for _, w := range workers {
		if _, ok := c.healing.Health(w.ID); ok {
			continue
		}
		if err := c.healing.RegisterForMonitoring("worker", w.ID); err != nil {
			c.log.Warn("failed to monitor worker", zap.String("worker_id", w.ID), zap.Error(err))
		}
	}
}

// handle coordinates one delivered task. A failed coordination is final for
// the delivery; only an invalid task or shutdown reports an error.
func (c *Coordinator) handle(ctx context.Context, task *domain.Task) error {
	out, err := c.CoordinateTask(ctx, task)
	if err != nil {
		return err
	}
	if !out.Success && errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return nil
}
